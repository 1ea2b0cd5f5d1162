package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-chatops/internal/models"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

// FileSource reads entities from a YAML document:
//
//	entities:
//	  - id: SERVICE-1
//	    name: ordercontroller
//	    type: SERVICE
//	    aliases: [orders]
type FileSource struct {
	path   string
	logger *slog.Logger
}

type fileDocument struct {
	Entities []models.Entity `yaml:"entities"`
}

// NewFileSource creates a source backed by path.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{path: path, logger: logger}
}

// FetchEntities parses the file on every call.
func (f *FileSource) FetchEntities(ctx context.Context) ([]models.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", f.path, err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", f.path, err)
	}
	return doc.Entities, nil
}

// Watch refreshes holder whenever the file changes, until ctx is done.
func (f *FileSource) Watch(ctx context.Context, holder *Holder) error {
	return utils.WatchFile(ctx, f.path, 200*time.Millisecond, f.logger, func() {
		if _, err := holder.Refresh(ctx); err == nil {
			f.logger.Info("catalog reloaded from file", slog.String("path", f.path))
		}
	})
}
