package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels turns that produced an intent or clarification.
	OutcomeSuccess = "success"
	// OutcomeClarification labels turns that ended in a clarification request.
	OutcomeClarification = "clarification"
	// OutcomeError labels failed turns (upstream or internal issues).
	OutcomeError = "error"
)

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_chatops",
			Name:      "turns_total",
			Help:      "Total number of conversational turns handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	turnDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_chatops",
			Name:      "turn_seconds",
			Help:      "Turn latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15},
		},
	)

	clarificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_chatops",
			Name:      "clarifications_total",
			Help:      "Clarification requests emitted, partitioned by reason.",
		},
		[]string{"reason"},
	)

	extractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_chatops",
			Name:      "extractions_total",
			Help:      "Structured extraction attempts, partitioned by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	correlationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_chatops",
			Name:      "correlations_total",
			Help:      "Correlated problems emitted, partitioned by category.",
		},
		[]string{"category"},
	)

	skippedProblemsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_chatops",
			Name:      "skipped_problems_total",
			Help:      "Problem records skipped because they were malformed or inconsistent with the catalog.",
		},
	)

	catalogEntities = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_chatops",
			Name:      "catalog_entities",
			Help:      "Number of entities in the published catalog snapshot.",
		},
	)

	catalogRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_chatops",
			Name:      "catalog_refreshes_total",
			Help:      "Catalog refresh attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches mirador-chatops collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		turnsTotal,
		turnDurationSeconds,
		clarificationsTotal,
		extractionsTotal,
		correlationsTotal,
		skippedProblemsTotal,
		catalogEntities,
		catalogRefreshesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTurn records a turn duration and outcome label.
func ObserveTurn(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeError, OutcomeClarification:
	default:
		outcome = OutcomeSuccess
	}
	turnsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	turnDurationSeconds.Observe(duration.Seconds())
}

// ObserveClarification counts a clarification by reason.
func ObserveClarification(reason string) {
	clarificationsTotal.WithLabelValues(reason).Inc()
}

// ObserveExtraction counts a completion extraction attempt.
func ObserveExtraction(backend, outcome string) {
	extractionsTotal.WithLabelValues(backend, outcome).Inc()
}

// ObserveCorrelation counts an emitted correlation result.
func ObserveCorrelation(category string) {
	correlationsTotal.WithLabelValues(category).Inc()
}

// ObserveSkippedProblems counts records dropped during correlation.
func ObserveSkippedProblems(n int) {
	if n > 0 {
		skippedProblemsTotal.Add(float64(n))
	}
}

// SetCatalogSize publishes the current snapshot size.
func SetCatalogSize(n int) {
	catalogEntities.Set(float64(n))
}

// ObserveCatalogRefresh counts a refresh attempt.
func ObserveCatalogRefresh(err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	catalogRefreshesTotal.WithLabelValues(outcome).Inc()
}
