package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-chatops/internal/models"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

// TurnRequest is one inbound utterance.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// SessionRequest addresses a session without an utterance.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// ServicesRequest filters the catalog listing.
type ServicesRequest struct {
	Filter string `json:"filter,omitempty"`
}

// TurnPayload is the wire form of a turn result shared by gRPC, HTTP and
// websocket transports.
type TurnPayload struct {
	TurnID        string                `json:"turn_id"`
	SessionID     string                `json:"session_id"`
	Sequence      int                   `json:"sequence"`
	Intent        *IntentPayload        `json:"intent,omitempty"`
	Clarification *ClarificationPayload `json:"clarification,omitempty"`
	Suggestions   []models.Candidate    `json:"suggestions,omitempty"`
	Entity        *models.Entity        `json:"entity,omitempty"`
	Correlations  []CorrelationPayload  `json:"correlations,omitempty"`
	Skipped       int                   `json:"skipped,omitempty"`
	Degraded      bool                  `json:"degraded,omitempty"`
	Metrics       *MetricsPayload       `json:"metrics,omitempty"`
	Insights      *InsightsPayload      `json:"insights,omitempty"`
	Services      []models.Entity       `json:"services,omitempty"`
	Help          *HelpPayload          `json:"help,omitempty"`
	DurationMS    int64                 `json:"duration_ms"`
	Error         *ErrorPayload         `json:"error,omitempty"`
}

// IntentPayload renders an intent with a readable timeframe.
type IntentPayload struct {
	Type             string  `json:"type"`
	Mention          string  `json:"mention,omitempty"`
	EntityID         string  `json:"entity_id,omitempty"`
	Timeframe        string  `json:"timeframe,omitempty"`
	TimeframeSeconds int64   `json:"timeframe_seconds,omitempty"`
	Focus            string  `json:"focus,omitempty"`
	Confidence       float64 `json:"confidence"`
	Source           string  `json:"source,omitempty"`
	Inherited        bool    `json:"inherited,omitempty"`
}

// ClarificationPayload asks the operator to choose.
type ClarificationPayload struct {
	Reason           string             `json:"reason"`
	Partial          IntentPayload      `json:"partial"`
	Candidates       []models.Candidate `json:"candidates,omitempty"`
	CandidateIntents []string           `json:"candidate_intents,omitempty"`
}

// CorrelationPayload is one categorised problem.
type CorrelationPayload struct {
	ProblemID string `json:"problem_id"`
	DisplayID string `json:"display_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Status    string `json:"status"`
	Severity  string `json:"severity"`
	Relevance string `json:"relevance"`
	Category  string `json:"category"`
	Degraded  bool   `json:"degraded,omitempty"`
	StartTime string `json:"start_time,omitempty"`
}

// MetricsPayload carries the pass-through metric summary.
type MetricsPayload struct {
	EntityID       string   `json:"entity_id"`
	Window         string   `json:"window"`
	ErrorCount     *float64 `json:"error_count,omitempty"`
	ResponseTimeMS *float64 `json:"response_time_ms,omitempty"`
	RequestCount   *float64 `json:"request_count,omitempty"`
	FailureRatePct *float64 `json:"failure_rate_pct,omitempty"`
}

// InsightsPayload annotates the metric summary.
type InsightsPayload struct {
	Status   string         `json:"status"`
	Concerns []string       `json:"concerns,omitempty"`
	Spikes   []SpikePayload `json:"spikes,omitempty"`
}

// SpikePayload is an anomalous metric sample.
type SpikePayload struct {
	Metric    string  `json:"metric"`
	Timestamp string  `json:"timestamp,omitempty"`
	Value     float64 `json:"value"`
	Score     float64 `json:"score"`
}

// HelpPayload lists supported intents with example phrasings.
type HelpPayload struct {
	Intents  []string            `json:"intents"`
	Examples map[string][]string `json:"examples,omitempty"`
}

// ErrorPayload reports why a turn failed.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ServicesPayload lists catalog entities.
type ServicesPayload struct {
	Services []models.Entity `json:"services"`
}

// ToTurnPayload converts a domain turn result into its wire representation.
func ToTurnPayload(res models.TurnResult) TurnPayload {
	out := TurnPayload{
		TurnID:      res.TurnID,
		SessionID:   res.SessionID,
		Sequence:    res.Sequence,
		Suggestions: res.Suggestions,
		Entity:      res.Entity,
		Skipped:     res.Skipped,
		Degraded:    res.Degraded,
		Services:    res.Services,
		DurationMS:  res.Duration.Milliseconds(),
	}
	if res.Intent != nil {
		in := toIntentPayload(*res.Intent)
		out.Intent = &in
	}
	if c := res.Clarification; c != nil {
		clar := ClarificationPayload{
			Reason:     string(c.Reason),
			Partial:    toIntentPayload(c.Partial),
			Candidates: c.Candidates,
		}
		for _, t := range c.CandidateIntents {
			clar.CandidateIntents = append(clar.CandidateIntents, string(t))
		}
		out.Clarification = &clar
	}
	for _, r := range res.Correlations {
		out.Correlations = append(out.Correlations, CorrelationPayload{
			ProblemID: r.ProblemID,
			DisplayID: r.DisplayID,
			Title:     r.Title,
			Status:    string(r.Status),
			Severity:  r.Severity.String(),
			Relevance: string(r.Relevance),
			Category:  string(r.Category),
			Degraded:  r.Degraded,
			StartTime: formatTime(r.StartTime),
		})
	}
	if m := res.Metrics; m != nil {
		out.Metrics = &MetricsPayload{
			EntityID:       m.EntityID,
			Window:         utils.ShortDuration(m.Window),
			ErrorCount:     m.ErrorCount,
			ResponseTimeMS: m.ResponseTimeMS,
			RequestCount:   m.RequestCount,
			FailureRatePct: m.FailureRatePct,
		}
	}
	if ins := res.Insights; ins != nil {
		p := &InsightsPayload{Status: string(ins.Status), Concerns: ins.Concerns}
		for _, s := range ins.Spikes {
			p.Spikes = append(p.Spikes, SpikePayload{
				Metric:    s.Metric,
				Timestamp: formatTime(s.Timestamp),
				Value:     s.Value,
				Score:     s.Score,
			})
		}
		out.Insights = p
	}
	if h := res.Help; h != nil {
		p := &HelpPayload{Examples: make(map[string][]string, len(h.Examples))}
		for _, t := range h.Intents {
			p.Intents = append(p.Intents, string(t))
		}
		for t, examples := range h.Examples {
			p.Examples[string(t)] = examples
		}
		out.Help = p
	}
	return out
}

// ErrorFrom describes err for a failed turn payload.
func ErrorFrom(err error) *ErrorPayload {
	if err == nil {
		return nil
	}
	kind := "internal"
	if k := utils.KindOf(err); k != nil {
		kind = strings.ReplaceAll(k.Error(), " ", "_")
	}
	return &ErrorPayload{Kind: kind, Message: err.Error()}
}

func toIntentPayload(in models.Intent) IntentPayload {
	p := IntentPayload{
		Type:       string(in.Type),
		Mention:    in.Mention,
		EntityID:   in.EntityID,
		Focus:      string(in.Focus),
		Confidence: in.Confidence,
		Source:     in.Source,
		Inherited:  in.Inherited,
	}
	if in.Timeframe > 0 {
		p.Timeframe = utils.ShortDuration(in.Timeframe)
		p.TimeframeSeconds = int64(in.Timeframe / time.Second)
	}
	return p
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ToStruct encodes a JSON-tagged value as a protobuf Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode struct: %w", err)
	}
	return out, nil
}

// FromStruct decodes a protobuf Struct into a JSON-tagged value.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// FromStructTurnRequest validates and decodes a turn request.
func FromStructTurnRequest(s *structpb.Struct) (TurnRequest, error) {
	var req TurnRequest
	if err := FromStruct(s, &req); err != nil {
		return TurnRequest{}, err
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return TurnRequest{}, fmt.Errorf("session_id is required")
	}
	return req, nil
}
