package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/miradorstack/mirador-chatops/internal/utils"
)

// Provider caches monitoring API responses between catalog refreshes and
// repeated metric queries.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// ErrCacheMiss signals that a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// EntitiesKey names the cached entity listing for a selector.
func EntitiesKey(selector string) string {
	return fmt.Sprintf("monitoring:entities:%s", selector)
}

// MetricsKey names the cached metric bundle of an entity over window.
func MetricsKey(entityID string, window time.Duration) string {
	return fmt.Sprintf("monitoring:metrics:%s:%s", entityID, utils.ShortDuration(window))
}

// NoopProvider disables caching; every read misses.
type NoopProvider struct{}

func (NoopProvider) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoopProvider) Close() error { return nil }
