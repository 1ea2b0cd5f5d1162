package completion

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-chatops/internal/config"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

const anthropicVersion = "2023-06-01"

// Anthropic extracts intents through the Anthropic messages API.
type Anthropic struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewAnthropic(cfg config.ProviderConfig, timeout time.Duration) *Anthropic {
	a := &Anthropic{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, model: cfg.Model, client: newHTTPClient(timeout)}
	if a.baseURL == "" {
		a.baseURL = "https://api.anthropic.com"
	}
	if a.model == "" {
		a.model = "claude-3-5-haiku-latest"
	}
	return a
}

func (a *Anthropic) Name() string    { return BackendAnthropic }
func (a *Anthropic) Available() bool { return a.apiKey != "" }

func (a *Anthropic) Extract(ctx context.Context, req Request) (Extraction, error) {
	const op = "completion.Anthropic.Extract"
	if a.apiKey == "" {
		return Extraction{}, utils.NewKindError(utils.ErrUpstreamUnavailable, op, "not configured", nil)
	}
	payload := map[string]any{
		"model":       a.model,
		"max_tokens":  256,
		"temperature": 0.1,
		"system":      systemPrompt,
		"messages": []map[string]string{
			{"role": "user", "content": userPrompt(req)},
		},
	}
	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}
	if err := postJSON(ctx, a.client, op, joinURL(a.baseURL, "/v1/messages"), payload, headers, &out); err != nil {
		return Extraction{}, err
	}
	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	ext, err := ParseExtraction(text.String())
	if err != nil {
		return Extraction{}, err
	}
	ext.Backend = BackendAnthropic
	return ext, nil
}
