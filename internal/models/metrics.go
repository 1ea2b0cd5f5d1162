package models

import "time"

// MetricPoint is a single timeseries sample.
type MetricPoint struct {
	Timestamp time.Time
	Value     float64
}

// MetricBundle is the pass-through service metric summary for a window.
// Nil summary fields mean the metric was not reported.
type MetricBundle struct {
	EntityID       string
	Window         time.Duration
	ErrorCount     *float64
	ResponseTimeMS *float64
	RequestCount   *float64
	FailureRatePct *float64
	Series         map[string][]MetricPoint
}

// HealthStatus summarises metric insights.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// MetricSpike is an anomalous sample in a metric series.
type MetricSpike struct {
	Metric    string
	Timestamp time.Time
	Value     float64
	Score     float64
}

// HealthInsights annotates a metric bundle without producing prose.
type HealthInsights struct {
	Status   HealthStatus
	Concerns []string
	Spikes   []MetricSpike
}
