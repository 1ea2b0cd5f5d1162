package conversation

import (
	"context"
	"errors"

	"github.com/miradorstack/mirador-chatops/internal/models"
)

// ErrEmptySession is returned for operations without a session id.
var ErrEmptySession = errors.New("session id is required")

// Store persists per-session conversation context. Apply is atomic: either the
// whole patch is visible to the next Get or none of it is.
type Store interface {
	Get(ctx context.Context, sessionID string) (models.ConversationContext, error)
	Apply(ctx context.Context, sessionID string, patch models.ContextPatch) (models.ConversationContext, error)
	Reset(ctx context.Context, sessionID string) error
	Close() error
}
