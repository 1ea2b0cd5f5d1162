package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-chatops/internal/models"
)

type memoryEntry struct {
	ctx      models.ConversationContext
	lastSeen time.Time
}

// MemoryStore keeps contexts in process memory and expires idle sessions.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]*memoryEntry
	maxRecent int
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewMemoryStore creates a store bounding recent entities to maxRecent. A
// non-positive ttl disables expiry.
func NewMemoryStore(logger *slog.Logger, maxRecent int, ttl time.Duration) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		sessions:  make(map[string]*memoryEntry),
		maxRecent: maxRecent,
		ttl:       ttl,
		now:       time.Now,
		logger:    logger,
	}
}

// Get returns the session context, creating an empty one on first access.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (models.ConversationContext, error) {
	if sessionID == "" {
		return models.ConversationContext{}, ErrEmptySession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryLocked(sessionID).ctx.Clone(), nil
}

// Apply merges patch into the stored context under the store lock.
func (s *MemoryStore) Apply(_ context.Context, sessionID string, patch models.ContextPatch) (models.ConversationContext, error) {
	if sessionID == "" {
		return models.ConversationContext{}, ErrEmptySession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.entryLocked(sessionID)
	entry.ctx = ApplyPatch(entry.ctx, patch, s.maxRecent, s.now())
	return entry.ctx.Clone(), nil
}

// Reset forgets the session.
func (s *MemoryStore) Reset(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptySession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than the ttl and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.sessions {
		if entry.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps expired sessions every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("expired idle sessions", slog.Int("count", n))
			}
		}
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) entryLocked(sessionID string) *memoryEntry {
	entry, ok := s.sessions[sessionID]
	if !ok {
		entry = &memoryEntry{ctx: models.ConversationContext{SessionID: sessionID}}
		s.sessions[sessionID] = entry
	}
	entry.lastSeen = s.now()
	return entry
}
