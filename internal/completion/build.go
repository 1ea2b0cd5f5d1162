package completion

import (
	"context"
	"log/slog"

	"github.com/miradorstack/mirador-chatops/internal/config"
)

// Build constructs every backend from configuration, probing the local ones.
func Build(ctx context.Context, cfg config.CompletionConfig, logger *slog.Logger) ([]Capability, error) {
	if logger == nil {
		logger = slog.Default()
	}
	gemini, err := NewGemini(ctx, cfg.Gemini, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	ollama := NewOllama(cfg.Ollama, cfg.Timeout)
	if ollama.Probe(ctx) {
		logger.Debug("ollama reachable", slog.String("url", cfg.Ollama.BaseURL))
	}
	return []Capability{
		gemini,
		ollama,
		NewAnthropic(cfg.Anthropic, cfg.Timeout),
		NewOpenAI(cfg.OpenAI, cfg.Timeout),
	}, nil
}
