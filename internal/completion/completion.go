// Package completion turns free text into a structured intent extraction using
// an external language-model backend.
package completion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/miradorstack/mirador-chatops/internal/config"
	"github.com/miradorstack/mirador-chatops/internal/models"
)

// Backend names, in auto-selection priority order.
const (
	BackendGemini    = "gemini"
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
)

// Priority is the order auto mode tries backends in.
var Priority = []string{BackendGemini, BackendOllama, BackendAnthropic, BackendOpenAI}

// Request carries the utterance plus the hints offered to the model.
type Request struct {
	Utterance  string
	Services   []string
	LastEntity string
	LastIntent models.IntentType
}

// Extraction is the validated structured output of a backend.
type Extraction struct {
	IntentType  models.IntentType
	ServiceName string
	Timeframe   string
	Focus       models.Focus
	Confidence  float64
	Backend     string
}

// Capability is one completion backend.
type Capability interface {
	Name() string
	Available() bool
	Extract(ctx context.Context, req Request) (Extraction, error)
}

// Select picks the capability for the configured mode. A nil capability with a
// nil error means no backend is usable and callers fall back to rules.
func Select(cfg config.CompletionConfig, caps []Capability, logger *slog.Logger) (Capability, error) {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]Capability, len(caps))
	for _, c := range caps {
		if c != nil {
			byName[c.Name()] = c
		}
	}

	switch cfg.Mode {
	case config.ModeExplicit:
		name := strings.ToLower(cfg.Provider)
		c, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("completion provider %q is not supported", cfg.Provider)
		}
		if !c.Available() {
			return nil, fmt.Errorf("completion provider %q is not configured", name)
		}
		logger.Info("completion backend selected", slog.String("backend", name), slog.String("mode", cfg.Mode))
		return c, nil
	case config.ModeFallback:
		logger.Info("completion disabled, using rules only", slog.String("mode", cfg.Mode))
		return nil, nil
	default:
		for _, name := range Priority {
			if c, ok := byName[name]; ok && c.Available() {
				logger.Info("completion backend selected", slog.String("backend", name), slog.String("mode", config.ModeAuto))
				return c, nil
			}
		}
		logger.Warn("no completion backend available, using rules only")
		return nil, nil
	}
}
