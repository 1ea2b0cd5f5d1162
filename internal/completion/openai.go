package completion

import (
	"context"
	"net/http"
	"time"

	"github.com/miradorstack/mirador-chatops/internal/config"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

// OpenAI extracts intents through the chat completions API.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewOpenAI(cfg config.ProviderConfig, timeout time.Duration) *OpenAI {
	o := &OpenAI{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, model: cfg.Model, client: newHTTPClient(timeout)}
	if o.baseURL == "" {
		o.baseURL = "https://api.openai.com"
	}
	if o.model == "" {
		o.model = "gpt-4o-mini"
	}
	return o
}

func (o *OpenAI) Name() string    { return BackendOpenAI }
func (o *OpenAI) Available() bool { return o.apiKey != "" }

func (o *OpenAI) Extract(ctx context.Context, req Request) (Extraction, error) {
	const op = "completion.OpenAI.Extract"
	if o.apiKey == "" {
		return Extraction{}, utils.NewKindError(utils.ErrUpstreamUnavailable, op, "not configured", nil)
	}
	payload := map[string]any{
		"model":       o.model,
		"temperature": 0.1,
		"response_format": map[string]string{
			"type": "json_object",
		},
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt(req)},
		},
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
	if err := postJSON(ctx, o.client, op, joinURL(o.baseURL, "/v1/chat/completions"), payload, headers, &out); err != nil {
		return Extraction{}, err
	}
	if len(out.Choices) == 0 {
		return Extraction{}, utils.NewKindError(utils.ErrValidation, op, "empty choices", nil)
	}
	ext, err := ParseExtraction(out.Choices[0].Message.Content)
	if err != nil {
		return Extraction{}, err
	}
	ext.Backend = BackendOpenAI
	return ext, nil
}
