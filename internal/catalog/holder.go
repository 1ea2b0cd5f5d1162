package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/miradorstack/mirador-chatops/internal/metrics"
	"github.com/miradorstack/mirador-chatops/internal/models"
)

// Source supplies the full entity set on demand.
type Source interface {
	FetchEntities(ctx context.Context) ([]models.Entity, error)
}

// Holder publishes catalog snapshots. Current is lock-free and never observes
// a partially built snapshot.
type Holder struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
	source  Source
	aliases map[string][]string
	group   singleflight.Group
	logger  *slog.Logger
	now     func() time.Time
}

// NewHolder creates a holder seeded with an empty snapshot.
func NewHolder(logger *slog.Logger, source Source, aliases map[string][]string) *Holder {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Holder{source: source, aliases: aliases, logger: logger, now: time.Now}
	h.current.Store(Empty())
	return h
}

// Current returns the published snapshot.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Swap publishes a prebuilt snapshot.
func (h *Holder) Swap(s *Snapshot) {
	if s == nil {
		s = Empty()
	}
	h.current.Store(s)
	metrics.SetCatalogSize(s.Len())
}

// Publish builds a snapshot from entities and swaps it in.
func (h *Holder) Publish(entities []models.Entity) (*Snapshot, error) {
	snap, err := NewSnapshot(entities, h.aliases, h.version.Add(1), h.now())
	if err != nil {
		return nil, err
	}
	h.Swap(snap)
	return snap, nil
}

// Refresh fetches from the source and publishes a new snapshot. Concurrent
// callers share one fetch. On failure the previous snapshot stays live.
func (h *Holder) Refresh(ctx context.Context) (*Snapshot, error) {
	if h.source == nil {
		return h.Current(), fmt.Errorf("catalog source not configured")
	}
	v, err, _ := h.group.Do("refresh", func() (any, error) {
		entities, err := h.source.FetchEntities(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch entities: %w", err)
		}
		return h.Publish(entities)
	})
	metrics.ObserveCatalogRefresh(err)
	if err != nil {
		h.logger.Warn("catalog refresh failed", slog.Any("error", err))
		return h.Current(), err
	}
	snap := v.(*Snapshot)
	h.logger.Debug("catalog refreshed", slog.Int("entities", snap.Len()), slog.Uint64("version", snap.Version()))
	return snap, nil
}

// Run refreshes every interval until ctx is cancelled.
func (h *Holder) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = h.Refresh(ctx)
		}
	}
}
