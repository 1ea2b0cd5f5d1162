package models

import (
	"strings"
	"time"
)

// ProblemStatus is the lifecycle state of an upstream problem.
type ProblemStatus string

const (
	StatusOpen     ProblemStatus = "OPEN"
	StatusResolved ProblemStatus = "RESOLVED"
)

// Severity is an ordered impact scale; higher is worse.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityInfo
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityUnknown:  "unknown",
	SeverityInfo:     "info",
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseSeverity maps scale names and monitoring severity levels onto the scale.
func ParseSeverity(raw string) Severity {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CRITICAL", "AVAILABILITY":
		return SeverityCritical
	case "HIGH", "ERROR", "CUSTOM_ALERT":
		return SeverityHigh
	case "MEDIUM", "PERFORMANCE", "RESOURCE_CONTENTION":
		return SeverityMedium
	case "LOW", "MONITORING_UNAVAILABLE":
		return SeverityLow
	case "INFO":
		return SeverityInfo
	}
	return SeverityUnknown
}

// Problem is an incident record supplied by the monitoring collaborator.
type Problem struct {
	ID        string
	DisplayID string
	Title     string
	Status    ProblemStatus
	Severity  Severity
	RootCause EntityRef
	Impacted  []EntityRef
	Affected  []EntityRef
	StartTime time.Time
	EndTime   time.Time
}

// RelevanceKind describes how a problem relates to the target entity.
type RelevanceKind string

const (
	RelevanceRootCause          RelevanceKind = "root_cause"
	RelevanceDirectlyImpacted   RelevanceKind = "directly_impacted"
	RelevanceIndirectlyAffected RelevanceKind = "indirectly_affected"
)

// Category is the operator-facing bucket of a correlated problem.
type Category string

const (
	CategoryCritical  Category = "critical"
	CategoryImportant Category = "important"
	CategoryRelated   Category = "related"
	CategoryResolved  Category = "resolved"
)

// Categories lists buckets in presentation order.
var Categories = []Category{CategoryCritical, CategoryImportant, CategoryRelated, CategoryResolved}

// CorrelationResult is one problem classified against the target entity.
type CorrelationResult struct {
	ProblemID string
	DisplayID string
	Title     string
	Status    ProblemStatus
	Severity  Severity
	Relevance RelevanceKind
	Category  Category
	Degraded  bool
	StartTime time.Time
}
