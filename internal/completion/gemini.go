package completion

import (
	"context"
	"time"

	"google.golang.org/genai"

	"github.com/miradorstack/mirador-chatops/internal/config"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

// Gemini extracts intents through the Google Gemini API.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGemini builds the backend. Without an API key the backend reports itself
// unavailable instead of failing.
func NewGemini(ctx context.Context, cfg config.ProviderConfig, timeout time.Duration) (*Gemini, error) {
	g := &Gemini{model: cfg.Model, timeout: timeout}
	if g.model == "" {
		g.model = "gemini-2.0-flash"
	}
	if cfg.APIKey == "" {
		return g, nil
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, utils.NewAppError("completion.NewGemini", "create client", err)
	}
	g.client = client
	return g, nil
}

func (g *Gemini) Name() string    { return BackendGemini }
func (g *Gemini) Available() bool { return g.client != nil }

func (g *Gemini) Extract(ctx context.Context, req Request) (Extraction, error) {
	const op = "completion.Gemini.Extract"
	if g.client == nil {
		return Extraction{}, utils.NewKindError(utils.ErrUpstreamUnavailable, op, "not configured", nil)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(userPrompt(req)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0.1),
	})
	if err != nil {
		return Extraction{}, utils.NewKindError(utils.ErrUpstreamUnavailable, op, "generate content", err)
	}
	out, err := ParseExtraction(resp.Text())
	if err != nil {
		return Extraction{}, err
	}
	out.Backend = BackendGemini
	return out, nil
}
