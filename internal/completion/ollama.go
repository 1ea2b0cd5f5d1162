package completion

import (
	"context"
	"net/http"
	"time"

	"github.com/miradorstack/mirador-chatops/internal/config"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

// Ollama extracts intents through a local Ollama server.
type Ollama struct {
	baseURL   string
	model     string
	client    *http.Client
	reachable bool
}

// NewOllama builds the backend; Probe decides whether it is available.
func NewOllama(cfg config.ProviderConfig, timeout time.Duration) *Ollama {
	o := &Ollama{baseURL: cfg.BaseURL, model: cfg.Model, client: newHTTPClient(timeout)}
	if o.model == "" {
		o.model = "llama3.2"
	}
	return o
}

// Probe checks that the server answers its model listing endpoint.
func (o *Ollama) Probe(ctx context.Context) bool {
	o.reachable = false
	if o.baseURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(o.baseURL, "/api/tags"), nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	o.reachable = resp.StatusCode == http.StatusOK
	return o.reachable
}

func (o *Ollama) Name() string    { return BackendOllama }
func (o *Ollama) Available() bool { return o.reachable }

func (o *Ollama) Extract(ctx context.Context, req Request) (Extraction, error) {
	const op = "completion.Ollama.Extract"
	if !o.reachable {
		return Extraction{}, utils.NewKindError(utils.ErrUpstreamUnavailable, op, "server not reachable", nil)
	}
	payload := map[string]any{
		"model":  o.model,
		"system": systemPrompt,
		"prompt": userPrompt(req),
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"temperature": 0.1,
		},
	}
	var out struct {
		Response string `json:"response"`
	}
	if err := postJSON(ctx, o.client, op, joinURL(o.baseURL, "/api/generate"), payload, nil, &out); err != nil {
		return Extraction{}, err
	}
	ext, err := ParseExtraction(out.Response)
	if err != nil {
		return Extraction{}, err
	}
	ext.Backend = BackendOllama
	return ext, nil
}
