package extractors

import (
	"fmt"
	"math"
	"sort"

	"github.com/miradorstack/mirador-chatops/internal/models"
)

// Thresholds tune the health annotations attached to a metric bundle.
type Thresholds struct {
	FailureRateCriticalPct float64
	FailureRateWarningPct  float64
	ResponseTimeWarningMS  float64
	ErrorCountConcern      float64
	SpikeZScore            float64
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FailureRateCriticalPct: 5,
		FailureRateWarningPct:  1,
		ResponseTimeWarningMS:  1000,
		ErrorCountConcern:      100,
		SpikeZScore:            2.5,
	}
}

// MetricsAnalyzer annotates metric bundles with health status, concerns and
// spikes. It never produces prose beyond short concern codes.
type MetricsAnalyzer struct {
	thresholds Thresholds
}

// NewMetricsAnalyzer creates an analyzer; zero thresholds fall back to defaults.
func NewMetricsAnalyzer(t Thresholds) *MetricsAnalyzer {
	d := DefaultThresholds()
	if t.FailureRateCriticalPct <= 0 {
		t.FailureRateCriticalPct = d.FailureRateCriticalPct
	}
	if t.FailureRateWarningPct <= 0 {
		t.FailureRateWarningPct = d.FailureRateWarningPct
	}
	if t.ResponseTimeWarningMS <= 0 {
		t.ResponseTimeWarningMS = d.ResponseTimeWarningMS
	}
	if t.ErrorCountConcern <= 0 {
		t.ErrorCountConcern = d.ErrorCountConcern
	}
	if t.SpikeZScore <= 0 {
		t.SpikeZScore = d.SpikeZScore
	}
	return &MetricsAnalyzer{thresholds: t}
}

// Analyze derives insights from bundle. Missing metrics raise no concerns.
func (a *MetricsAnalyzer) Analyze(bundle *models.MetricBundle) models.HealthInsights {
	insights := models.HealthInsights{Status: models.HealthHealthy}
	if bundle == nil {
		return insights
	}
	t := a.thresholds

	if v := bundle.FailureRatePct; v != nil {
		switch {
		case *v > t.FailureRateCriticalPct:
			insights.Status = models.HealthCritical
			insights.Concerns = append(insights.Concerns, fmt.Sprintf("failure_rate_critical:%.2f%%", *v))
		case *v > t.FailureRateWarningPct:
			insights.Status = worst(insights.Status, models.HealthWarning)
			insights.Concerns = append(insights.Concerns, fmt.Sprintf("failure_rate_elevated:%.2f%%", *v))
		}
	}
	if v := bundle.ResponseTimeMS; v != nil && *v > t.ResponseTimeWarningMS {
		insights.Status = worst(insights.Status, models.HealthWarning)
		insights.Concerns = append(insights.Concerns, fmt.Sprintf("response_time_slow:%.0fms", *v))
	}
	if v := bundle.ErrorCount; v != nil && *v > t.ErrorCountConcern {
		insights.Status = worst(insights.Status, models.HealthWarning)
		insights.Concerns = append(insights.Concerns, fmt.Sprintf("error_count_high:%.0f", *v))
	}

	names := make([]string, 0, len(bundle.Series))
	for name := range bundle.Series {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		insights.Spikes = append(insights.Spikes, a.Detect(name, bundle.Series[name], t.SpikeZScore)...)
	}
	return insights
}

// Detect finds samples whose z-score reaches threshold.
func (a *MetricsAnalyzer) Detect(metric string, series []models.MetricPoint, threshold float64) []models.MetricSpike {
	if len(series) == 0 {
		return nil
	}
	if threshold <= 0 {
		threshold = a.thresholds.SpikeZScore
	}

	mean := 0.0
	for _, point := range series {
		mean += point.Value
	}
	mean /= float64(len(series))

	variance := 0.0
	for _, point := range series {
		variance += math.Pow(point.Value-mean, 2)
	}
	variance /= float64(len(series))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return nil
	}

	var spikes []models.MetricSpike
	for _, point := range series {
		score := (point.Value - mean) / stdDev
		if score >= threshold {
			spikes = append(spikes, models.MetricSpike{
				Metric:    metric,
				Timestamp: point.Timestamp,
				Value:     point.Value,
				Score:     score,
			})
		}
	}
	return spikes
}

var healthRank = map[models.HealthStatus]int{
	models.HealthHealthy:  0,
	models.HealthWarning:  1,
	models.HealthCritical: 2,
}

func worst(a, b models.HealthStatus) models.HealthStatus {
	if healthRank[b] > healthRank[a] {
		return b
	}
	return a
}
