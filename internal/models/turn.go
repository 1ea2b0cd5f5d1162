package models

import "time"

// TurnResult is the structured outcome of one conversational turn.
type TurnResult struct {
	TurnID        string
	SessionID     string
	Sequence      int
	Intent        *Intent
	Clarification *ClarificationRequest
	Suggestions   []Candidate
	Entity        *Entity
	Correlations  []CorrelationResult
	Skipped       int
	Degraded      bool
	Metrics       *MetricBundle
	Insights      *HealthInsights
	Services      []Entity
	Help          *HelpCatalog
	Duration      time.Duration
}

// HelpCatalog describes what the assistant understands.
type HelpCatalog struct {
	Intents  []IntentType
	Examples map[IntentType][]string
}
