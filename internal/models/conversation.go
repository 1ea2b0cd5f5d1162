package models

import "time"

// ConversationContext is the per-session memory carried between turns.
type ConversationContext struct {
	SessionID      string                `json:"session_id"`
	LastEntityID   string                `json:"last_entity_id,omitempty"`
	LastTimeframe  time.Duration         `json:"last_timeframe,omitempty"`
	LastIntent     IntentType            `json:"last_intent,omitempty"`
	RecentEntities []string              `json:"recent_entities,omitempty"`
	Pending        *ClarificationRequest `json:"pending,omitempty"`
	TurnCount      int                   `json:"turn_count"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Clone deep-copies the context so callers cannot mutate stored state.
func (c ConversationContext) Clone() ConversationContext {
	c.RecentEntities = append([]string(nil), c.RecentEntities...)
	c.Pending = c.Pending.Clone()
	return c
}

// ContextPatch lists the field updates computed by one completed turn.
// Nil pointers leave the field unchanged.
type ContextPatch struct {
	EntityID     *string
	Timeframe    *time.Duration
	Intent       *IntentType
	PushEntities []string
	Pending      *ClarificationRequest
	ClearPending bool
}

// Empty reports whether applying the patch would only bump the turn counter.
func (p ContextPatch) Empty() bool {
	return p.EntityID == nil && p.Timeframe == nil && p.Intent == nil &&
		len(p.PushEntities) == 0 && p.Pending == nil && !p.ClearPending
}
