package repo

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-chatops/internal/config"
	"github.com/miradorstack/mirador-chatops/internal/models"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

func newMonitoringClient(t *testing.T, cacheStub *stubCache, rt roundTripFunc) *MonitoringClient {
	t.Helper()
	cfg := config.MonitoringClientConfig{
		BaseURL:  "https://tenant.example.com/",
		APIToken: "dt0c01.secret",
		Timeout:  time.Second,
		PageSize: 2,
	}
	var client *MonitoringClient
	if cacheStub == nil {
		client = NewMonitoringClient(cfg, nil, time.Minute, 30*time.Second, nil)
	} else {
		client = NewMonitoringClient(cfg, cacheStub, time.Minute, 30*time.Second, nil)
	}
	client.httpClient = newTestClient(rt)
	return client
}

func TestFetchEntitiesFollowsPagesAndCaches(t *testing.T) {
	hits := 0
	cacheStub := newStubCache()
	client := newMonitoringClient(t, cacheStub, func(req *http.Request) (*http.Response, error) {
		hits++
		if req.URL.Path != "/api/v2/entities" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Api-Token dt0c01.secret" {
			t.Fatalf("unexpected auth header %q", got)
		}
		q := req.URL.Query()
		switch hits {
		case 1:
			if q.Get("entitySelector") != `type("SERVICE")` || q.Get("pageSize") != "2" {
				t.Fatalf("unexpected first page query: %s", req.URL.RawQuery)
			}
			return jsonResponse(t, http.StatusOK, map[string]any{
				"totalCount":  3,
				"nextPageKey": "page-2",
				"entities": []map[string]any{
					{"entityId": "SERVICE-1", "displayName": "payment-api", "type": "SERVICE",
						"properties": map[string]any{"aliases": []string{"payments"}}},
					{"entityId": "SERVICE-2", "displayName": "checkout"},
				},
			}), nil
		case 2:
			if q.Get("nextPageKey") != "page-2" || q.Has("entitySelector") {
				t.Fatalf("follow-up page must carry only the key: %s", req.URL.RawQuery)
			}
			return jsonResponse(t, http.StatusOK, map[string]any{
				"totalCount": 3,
				"entities":   []map[string]any{{"entityId": "SERVICE-3", "displayName": "ledger", "type": "SERVICE"}},
			}), nil
		}
		t.Fatalf("unexpected extra request %d", hits)
		return nil, nil
	})

	ctx := context.Background()
	entities, err := client.FetchEntities(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entities) != 3 {
		t.Fatalf("expected 3 entities, got %+v", entities)
	}
	if entities[0].Aliases[0] != "payments" {
		t.Fatalf("aliases not mapped: %+v", entities[0])
	}
	if entities[1].Type != "SERVICE" {
		t.Fatalf("type not derived from id: %+v", entities[1])
	}

	cached, err := client.FetchEntities(ctx)
	if err != nil {
		t.Fatalf("unexpected cached error: %v", err)
	}
	if hits != 2 {
		t.Fatalf("cache miss triggered network call; hits=%d", hits)
	}
	if len(cached) != 3 || cached[2].Name != "ledger" {
		t.Fatalf("unexpected cached payload: %+v", cached)
	}
}

func TestFetchProblemsMapsRecords(t *testing.T) {
	client := newMonitoringClient(t, nil, func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		if q.Get("from") != "now-2h" {
			t.Fatalf("unexpected window %q", q.Get("from"))
		}
		if q.Get("entitySelector") != `entityId("SERVICE-1")` {
			t.Fatalf("unexpected selector %q", q.Get("entitySelector"))
		}
		if !strings.Contains(q.Get("fields"), "+rootCauseEntity") {
			t.Fatalf("root cause field not requested: %q", q.Get("fields"))
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"problems": []map[string]any{{
				"problemId":       "P-100",
				"displayId":       "P-2401",
				"title":           "Failure rate increase",
				"status":          "CLOSED",
				"severityLevel":   "ERROR",
				"rootCauseEntity": map[string]any{"entityId": map[string]any{"id": "SERVICE-1", "type": "SERVICE"}, "name": "payment-api"},
				"impactedEntities": []map[string]any{
					{"entityId": map[string]any{"id": "SERVICE-2", "type": "SERVICE"}, "name": "checkout"},
				},
				"startTime": 1_700_000_000_000,
				"endTime":   -1,
			}},
		}), nil
	})

	problems, err := client.FetchProblems(context.Background(), "SERVICE-1", 2*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(problems) != 1 {
		t.Fatalf("expected one problem, got %d", len(problems))
	}
	p := problems[0]
	if p.Status != models.StatusResolved || p.Severity != models.SeverityHigh {
		t.Fatalf("unexpected status/severity: %+v", p)
	}
	if p.RootCause.ID != "SERVICE-1" || len(p.Impacted) != 1 || p.Impacted[0].Name != "checkout" {
		t.Fatalf("entity refs not mapped: %+v", p)
	}
	if !p.EndTime.IsZero() || p.StartTime.IsZero() {
		t.Fatalf("unexpected times: %v %v", p.StartTime, p.EndTime)
	}
}

func TestFetchProblemsWithoutEntityIsUnscoped(t *testing.T) {
	client := newMonitoringClient(t, nil, func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Has("entitySelector") {
			t.Fatalf("unexpected selector: %s", req.URL.RawQuery)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{"problems": []any{}}), nil
	})
	if _, err := client.FetchProblems(context.Background(), "", 24*time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetchMetricsBuildsBundle(t *testing.T) {
	hits := 0
	cacheStub := newStubCache()
	client := newMonitoringClient(t, cacheStub, func(req *http.Request) (*http.Response, error) {
		hits++
		q := req.URL.Query()
		if q.Get("resolution") != "Inf" {
			t.Fatalf("unexpected resolution %q", q.Get("resolution"))
		}
		if !strings.Contains(q.Get("metricSelector"), MetricFailureRate) {
			t.Fatalf("failure rate not requested: %q", q.Get("metricSelector"))
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"result": []map[string]any{
				{"metricId": MetricErrorCount, "data": []map[string]any{{"timestamps": []int64{1}, "values": []float64{42}}}},
				{"metricId": MetricResponseTime, "data": []map[string]any{{"timestamps": []int64{1}, "values": []float64{250_000}}}},
				{"metricId": MetricFailureRate, "data": []map[string]any{{"timestamps": []int64{1}, "values": []float64{0.031}}}},
				{"metricId": MetricRequestCount, "data": []map[string]any{{"timestamps": []int64{1}, "values": []any{nil}}}},
			},
		}), nil
	})

	ctx := context.Background()
	bundle, err := client.FetchMetrics(ctx, "SERVICE-1", 2*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.ErrorCount == nil || *bundle.ErrorCount != 42 {
		t.Fatalf("unexpected error count: %+v", bundle.ErrorCount)
	}
	if bundle.ResponseTimeMS == nil || *bundle.ResponseTimeMS != 250 {
		t.Fatalf("unexpected response time: %+v", bundle.ResponseTimeMS)
	}
	if bundle.FailureRatePct == nil || *bundle.FailureRatePct < 3.09 || *bundle.FailureRatePct > 3.11 {
		t.Fatalf("unexpected failure rate: %+v", bundle.FailureRatePct)
	}
	if bundle.RequestCount != nil {
		t.Fatalf("missing metric must stay nil, got %v", *bundle.RequestCount)
	}
	if len(bundle.Series) != 0 {
		t.Fatalf("single samples must not produce series: %+v", bundle.Series)
	}

	if _, err := client.FetchMetrics(ctx, "SERVICE-1", 2*time.Hour); err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected cached metrics, hits=%d", hits)
	}
	if keys := cacheStub.keys(); len(keys) != 1 || keys[0] != "monitoring:metrics:SERVICE-1:2h" {
		t.Fatalf("unexpected cache keys %v", keys)
	}
}

func TestMonitoringErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		rt   roundTripFunc
		kind error
	}{
		{
			name: "transport",
			rt: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
			kind: utils.ErrUpstreamUnavailable,
		},
		{
			name: "status",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(t, http.StatusServiceUnavailable, map[string]any{"error": "down"}), nil
			},
			kind: utils.ErrUpstreamUnavailable,
		},
		{
			name: "decode",
			rt: func(*http.Request) (*http.Response, error) {
				resp := jsonResponse(t, http.StatusOK, nil)
				resp.Body = http.NoBody
				return resp, nil
			},
			kind: utils.ErrValidation,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newMonitoringClient(t, nil, tc.rt)
			_, err := client.FetchProblems(context.Background(), "SERVICE-1", time.Hour)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
		})
	}
}

func TestMonitoringWithoutBaseURL(t *testing.T) {
	client := NewMonitoringClient(config.MonitoringClientConfig{}, nil, 0, 0, nil)
	if _, err := client.FetchEntities(context.Background()); !errors.Is(err, utils.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream unavailable, got %v", err)
	}
	if _, err := client.FetchMetrics(context.Background(), "", time.Hour); err == nil {
		t.Fatalf("expected error")
	}
}
