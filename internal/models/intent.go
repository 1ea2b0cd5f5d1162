package models

import "time"

// IntentType enumerates the structured interpretations of an utterance.
type IntentType string

const (
	IntentCheckHealth   IntentType = "check_health"
	IntentCheckProblems IntentType = "check_problems"
	IntentCheckMetrics  IntentType = "check_metrics"
	IntentListServices  IntentType = "list_services"
	IntentHelp          IntentType = "help"
	IntentUnknown       IntentType = "unknown"
)

// IntentTypes lists every valid intent type in declaration order.
var IntentTypes = []IntentType{
	IntentCheckHealth,
	IntentCheckProblems,
	IntentCheckMetrics,
	IntentListServices,
	IntentHelp,
	IntentUnknown,
}

// ParseIntentType validates a raw intent label.
func ParseIntentType(raw string) (IntentType, bool) {
	for _, t := range IntentTypes {
		if string(t) == raw {
			return t, true
		}
	}
	return "", false
}

// NeedsEntity reports whether the intent is scoped to a single entity.
func (t IntentType) NeedsEntity() bool {
	switch t {
	case IntentCheckHealth, IntentCheckProblems, IntentCheckMetrics:
		return true
	}
	return false
}

// NeedsProblems reports whether the intent requires problem records.
func (t IntentType) NeedsProblems() bool {
	return t == IntentCheckHealth || t == IntentCheckProblems
}

// NeedsMetrics reports whether the intent requires a metric bundle.
func (t IntentType) NeedsMetrics() bool {
	return t == IntentCheckHealth || t == IntentCheckMetrics
}

// Focus narrows what the operator cares about.
type Focus string

const (
	FocusNone        Focus = ""
	FocusErrors      Focus = "errors"
	FocusPerformance Focus = "performance"
	FocusProblems    Focus = "problems"
)

// ParseFocus validates a raw focus label; empty is accepted.
func ParseFocus(raw string) (Focus, bool) {
	switch Focus(raw) {
	case FocusNone, FocusErrors, FocusPerformance, FocusProblems:
		return Focus(raw), true
	}
	return "", false
}

// Utterance is one inbound message of a session.
type Utterance struct {
	SessionID string
	Text      string
	Sequence  int
}

// Intent is the structured interpretation of an utterance.
type Intent struct {
	Type       IntentType    `json:"type"`
	Mention    string        `json:"mention,omitempty"`
	EntityID   string        `json:"entity_id,omitempty"`
	Timeframe  time.Duration `json:"timeframe"`
	Focus      Focus         `json:"focus,omitempty"`
	Confidence float64       `json:"confidence"`
	Source     string        `json:"source,omitempty"`
	Inherited  bool          `json:"inherited,omitempty"`
}

// ClarificationReason explains why a clarification was requested.
type ClarificationReason string

const (
	ReasonAmbiguousEntity ClarificationReason = "ambiguous_entity"
	ReasonAmbiguousIntent ClarificationReason = "ambiguous_intent"
	ReasonLowConfidence   ClarificationReason = "low_confidence"
)

// Candidate is one ranked entity option offered to the operator.
type Candidate struct {
	EntityID string  `json:"entity_id"`
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
}

// ClarificationRequest asks the operator to disambiguate.
type ClarificationRequest struct {
	Partial          Intent              `json:"partial"`
	Candidates       []Candidate         `json:"candidates,omitempty"`
	CandidateIntents []IntentType        `json:"candidate_intents,omitempty"`
	Reason           ClarificationReason `json:"reason"`
}

// Clone deep-copies the request.
func (c *ClarificationRequest) Clone() *ClarificationRequest {
	if c == nil {
		return nil
	}
	out := *c
	out.Candidates = append([]Candidate(nil), c.Candidates...)
	out.CandidateIntents = append([]IntentType(nil), c.CandidateIntents...)
	return &out
}

// Resolution is exactly one of Intent or Clarification.
type Resolution struct {
	Intent        *Intent
	Clarification *ClarificationRequest
	// Suggestions carries ranked near-misses when a mention matched nothing.
	Suggestions []Candidate
}
