package api

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-chatops/internal/models"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

func ptr(v float64) *float64 { return &v }

func TestToTurnPayload(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	res := models.TurnResult{
		TurnID:    "turn-1",
		SessionID: "s1",
		Sequence:  2,
		Intent: &models.Intent{
			Type:       models.IntentCheckHealth,
			Mention:    "checkout",
			EntityID:   "SERVICE-1",
			Timeframe:  24 * time.Hour,
			Focus:      models.FocusErrors,
			Confidence: 0.8,
			Source:     "rules",
		},
		Entity: &models.Entity{ID: "SERVICE-1", Name: "checkout"},
		Correlations: []models.CorrelationResult{{
			ProblemID: "P-1",
			DisplayID: "P-100",
			Title:     "Failure rate increase",
			Status:    models.StatusOpen,
			Severity:  models.SeverityCritical,
			Relevance: models.RelevanceRootCause,
			Category:  models.CategoryCritical,
			StartTime: start,
		}},
		Skipped: 1,
		Metrics: &models.MetricBundle{
			EntityID:       "SERVICE-1",
			Window:         24 * time.Hour,
			ResponseTimeMS: ptr(250),
		},
		Insights: &models.HealthInsights{
			Status:   models.HealthWarning,
			Concerns: []string{"response_time"},
			Spikes:   []models.MetricSpike{{Metric: "response_time", Timestamp: start, Value: 900, Score: 4.2}},
		},
		Duration: 1500 * time.Millisecond,
	}

	got := ToTurnPayload(res)

	wantIntent := &IntentPayload{
		Type:             "check_health",
		Mention:          "checkout",
		EntityID:         "SERVICE-1",
		Timeframe:        "1d",
		TimeframeSeconds: 86400,
		Focus:            "errors",
		Confidence:       0.8,
		Source:           "rules",
	}
	if diff := cmp.Diff(wantIntent, got.Intent); diff != "" {
		t.Fatalf("intent mismatch (-want +got):\n%s", diff)
	}
	wantCorrelation := CorrelationPayload{
		ProblemID: "P-1",
		DisplayID: "P-100",
		Title:     "Failure rate increase",
		Status:    "OPEN",
		Severity:  "critical",
		Relevance: "root_cause",
		Category:  "critical",
		StartTime: "2026-03-01T10:00:00Z",
	}
	if len(got.Correlations) != 1 {
		t.Fatalf("expected one correlation, got %d", len(got.Correlations))
	}
	if diff := cmp.Diff(wantCorrelation, got.Correlations[0]); diff != "" {
		t.Fatalf("correlation mismatch (-want +got):\n%s", diff)
	}
	if got.Skipped != 1 || got.DurationMS != 1500 {
		t.Fatalf("unexpected counters skipped=%d duration=%d", got.Skipped, got.DurationMS)
	}
	if got.Metrics == nil || got.Metrics.Window != "1d" || got.Metrics.ErrorCount != nil || *got.Metrics.ResponseTimeMS != 250 {
		t.Fatalf("unexpected metrics %+v", got.Metrics)
	}
	if got.Insights == nil || got.Insights.Status != "warning" || len(got.Insights.Spikes) != 1 {
		t.Fatalf("unexpected insights %+v", got.Insights)
	}
	if got.Error != nil {
		t.Fatalf("successful turn must not carry an error")
	}
}

func TestToTurnPayloadClarificationAndHelp(t *testing.T) {
	res := models.TurnResult{
		Clarification: &models.ClarificationRequest{
			Partial:    models.Intent{Type: models.IntentCheckProblems, Mention: "order"},
			Candidates: []models.Candidate{{EntityID: "SERVICE-2", Name: "order-service", Score: 0.74}},
			Reason:     models.ReasonAmbiguousEntity,
		},
		Help: &models.HelpCatalog{
			Intents:  []models.IntentType{models.IntentHelp},
			Examples: map[models.IntentType][]string{models.IntentHelp: {"help"}},
		},
	}

	got := ToTurnPayload(res)
	if got.Intent != nil {
		t.Fatalf("clarification turn must not carry an intent")
	}
	if got.Clarification == nil || got.Clarification.Reason != "ambiguous_entity" || got.Clarification.Partial.Mention != "order" {
		t.Fatalf("unexpected clarification %+v", got.Clarification)
	}
	if got.Clarification.Partial.Timeframe != "" {
		t.Fatalf("zero timeframe should be omitted, got %q", got.Clarification.Partial.Timeframe)
	}
	if got.Help == nil || got.Help.Intents[0] != "help" || got.Help.Examples["help"][0] != "help" {
		t.Fatalf("unexpected help %+v", got.Help)
	}
}

func TestStructRoundTrip(t *testing.T) {
	in := TurnPayload{
		TurnID:    "turn-9",
		SessionID: "s1",
		Sequence:  4,
		Intent:    &IntentPayload{Type: "check_metrics", EntityID: "SERVICE-4", Timeframe: "30m", TimeframeSeconds: 1800, Confidence: 0.9},
		Services:  []models.Entity{{ID: "SERVICE-4", Name: "payment-api", Aliases: []string{"payments"}}},
		Error:     &ErrorPayload{Kind: "not_found", Message: "missing"},
	}
	s, err := ToStruct(in)
	if err != nil {
		t.Fatalf("to struct: %v", err)
	}
	if s.Fields["turn_id"].GetStringValue() != "turn-9" {
		t.Fatalf("expected turn_id field in struct, got %v", s.Fields["turn_id"])
	}

	var out TurnPayload
	if err := FromStruct(s, &out); err != nil {
		t.Fatalf("from struct: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFromStructTurnRequest(t *testing.T) {
	valid, err := structpb.NewStruct(map[string]any{"session_id": " s1 ", "text": "help"})
	if err != nil {
		t.Fatalf("new struct: %v", err)
	}
	req, err := FromStructTurnRequest(valid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.SessionID != "s1" || req.Text != "help" {
		t.Fatalf("unexpected request %+v", req)
	}

	missing, _ := structpb.NewStruct(map[string]any{"text": "help"})
	if _, err := FromStructTurnRequest(missing); err == nil {
		t.Fatalf("expected error for missing session id")
	}
	if _, err := FromStructTurnRequest(nil); err == nil {
		t.Fatalf("expected error for nil request")
	}
}

func TestErrorFrom(t *testing.T) {
	if ErrorFrom(nil) != nil {
		t.Fatalf("nil error should map to nil payload")
	}
	kinded := ErrorFrom(utils.NewKindError(utils.ErrUpstreamUnavailable, "monitoring.FetchProblems", "request failed", nil))
	if kinded.Kind != "upstream_unavailable" {
		t.Fatalf("unexpected kind %q", kinded.Kind)
	}
	plain := ErrorFrom(errors.New("boom"))
	if plain.Kind != "internal" || plain.Message != "boom" {
		t.Fatalf("unexpected payload %+v", plain)
	}
}
