package patterns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-chatops/internal/utils"
)

// Load reads a YAML rule pack from path. Sections missing from the file keep
// the built-in rules; an empty path or a missing file yields the defaults.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var file Table
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rule pack %s: %w", path, err)
	}
	defaults := Default()
	if len(file.Intents) == 0 {
		file.Intents = defaults.Intents
	}
	if len(file.Focus) == 0 {
		file.Focus = defaults.Focus
	}
	if len(file.Timeframes) == 0 {
		file.Timeframes = defaults.Timeframes
	}
	if err := file.Compile(); err != nil {
		return nil, fmt.Errorf("compile rule pack %s: %w", path, err)
	}
	return &file, nil
}

// Holder publishes the active rule table and swaps it on reload.
type Holder struct {
	current atomic.Pointer[Table]
	path    string
	logger  *slog.Logger
}

// NewHolder loads the table at path.
func NewHolder(path string, logger *slog.Logger) (*Holder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	table, err := Load(path)
	if err != nil {
		return nil, err
	}
	h := &Holder{path: path, logger: logger}
	h.current.Store(table)
	return h, nil
}

// Table returns the active table.
func (h *Holder) Table() *Table {
	return h.current.Load()
}

// Reload re-reads the rule pack; on error the previous table stays active.
func (h *Holder) Reload() error {
	table, err := Load(h.path)
	if err != nil {
		return err
	}
	h.current.Store(table)
	return nil
}

// Watch reloads the rule pack whenever its file changes, until ctx is done.
func (h *Holder) Watch(ctx context.Context) error {
	if h.path == "" {
		return nil
	}
	return utils.WatchFile(ctx, h.path, 200*time.Millisecond, h.logger, func() {
		if err := h.Reload(); err != nil {
			h.logger.Warn("rule pack reload failed", slog.String("path", h.path), slog.Any("error", err))
			return
		}
		h.logger.Info("rule pack reloaded", slog.String("path", h.path))
	})
}
