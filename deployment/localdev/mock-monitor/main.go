// Command mock-monitor serves a small, fixed monitoring v2 API for local runs
// of the chatops server.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

type entity struct {
	EntityID    string         `json:"entityId"`
	DisplayName string         `json:"displayName"`
	Type        string         `json:"type"`
	Properties  map[string]any `json:"properties,omitempty"`
}

type entityStub struct {
	EntityID struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"entityId"`
	Name string `json:"name"`
}

type problem struct {
	ProblemID        string       `json:"problemId"`
	DisplayID        string       `json:"displayId"`
	Title            string       `json:"title"`
	Status           string       `json:"status"`
	SeverityLevel    string       `json:"severityLevel"`
	RootCauseEntity  *entityStub  `json:"rootCauseEntity,omitempty"`
	ImpactedEntities []entityStub `json:"impactedEntities"`
	AffectedEntities []entityStub `json:"affectedEntities"`
	StartTime        int64        `json:"startTime"`
	EndTime          int64        `json:"endTime"`
}

var entities = []entity{
	{EntityID: "SERVICE-1", DisplayName: "checkout", Type: "SERVICE", Properties: map[string]any{"aliases": []string{"checkout-service"}}},
	{EntityID: "SERVICE-2", DisplayName: "order-service", Type: "SERVICE"},
	{EntityID: "SERVICE-3", DisplayName: "order-api", Type: "SERVICE"},
	{EntityID: "SERVICE-4", DisplayName: "payment-api", Type: "SERVICE", Properties: map[string]any{"aliases": []string{"payments"}}},
	{EntityID: "SERVICE-5", DisplayName: "inventory", Type: "SERVICE"},
}

const entitiesPageSize = 3

func stub(id, name string) entityStub {
	var s entityStub
	s.EntityID.ID = id
	s.EntityID.Type = "SERVICE"
	s.Name = name
	return s
}

func problems(now time.Time) []problem {
	payments := stub("SERVICE-4", "payment-api")
	return []problem{
		{
			ProblemID:        "P-1",
			DisplayID:        "P-2401",
			Title:            "Failure rate increase",
			Status:           "OPEN",
			SeverityLevel:    "ERROR",
			RootCauseEntity:  &payments,
			ImpactedEntities: []entityStub{payments, stub("SERVICE-1", "checkout")},
			StartTime:        now.Add(-40 * time.Minute).UnixMilli(),
			EndTime:          -1,
		},
		{
			ProblemID:        "P-2",
			DisplayID:        "P-2402",
			Title:            "Response time degradation",
			Status:           "OPEN",
			SeverityLevel:    "PERFORMANCE",
			ImpactedEntities: []entityStub{stub("SERVICE-2", "order-service")},
			AffectedEntities: []entityStub{stub("SERVICE-1", "checkout")},
			StartTime:        now.Add(-25 * time.Minute).UnixMilli(),
			EndTime:          -1,
		},
		{
			ProblemID:        "P-3",
			DisplayID:        "P-2398",
			Title:            "Process crashed on inventory",
			Status:           "CLOSED",
			SeverityLevel:    "AVAILABILITY",
			ImpactedEntities: []entityStub{stub("SERVICE-5", "inventory")},
			StartTime:        now.Add(-5 * time.Hour).UnixMilli(),
			EndTime:          now.Add(-4 * time.Hour).UnixMilli(),
		},
	}
}

// metricValues per entity: error count, response time (microseconds),
// request count, failure rate (fraction).
var metricValues = map[string][4]float64{
	"SERVICE-1": {12, 180000, 5400, 0.002},
	"SERVICE-2": {3, 1450000, 2100, 0.001},
	"SERVICE-3": {0, 90000, 800, 0},
	"SERVICE-4": {340, 620000, 4100, 0.083},
	"SERVICE-5": {1, 40000, 900, 0.001},
}

var metricOrder = []string{
	"builtin:service.errors.total.count",
	"builtin:service.response.time",
	"builtin:service.requestCount.total",
	"builtin:service.errors.total.rate",
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.String("component", "mock-monitor"))
	addr := os.Getenv("MOCK_MONITOR_ADDR")
	if addr == "" {
		addr = ":8081"
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	api := router.PathPrefix("/api/v2").Subrouter()
	api.HandleFunc("/entities", handleEntities).Methods(http.MethodGet)
	api.HandleFunc("/problems", handleProblems).Methods(http.MethodGet)
	api.HandleFunc("/metrics/query", handleMetrics).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              addr,
		Handler:           logRequests(logger, router),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("listening", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func handleEntities(w http.ResponseWriter, r *http.Request) {
	start := 0
	if key := r.URL.Query().Get("nextPageKey"); key != "" {
		n, err := strconv.Atoi(key)
		if err != nil || n < 0 || n > len(entities) {
			http.Error(w, "invalid nextPageKey", http.StatusBadRequest)
			return
		}
		start = n
	}
	end := min(start+entitiesPageSize, len(entities))
	resp := map[string]any{"totalCount": len(entities), "entities": entities[start:end]}
	if end < len(entities) {
		resp["nextPageKey"] = strconv.Itoa(end)
	}
	writeJSON(w, resp)
}

func handleProblems(w http.ResponseWriter, r *http.Request) {
	all := problems(time.Now())
	id := selectedEntity(r.URL.Query().Get("entitySelector"))
	if id == "" {
		writeJSON(w, map[string]any{"totalCount": len(all), "problems": all})
		return
	}
	var out []problem
	for _, p := range all {
		if touches(p, id) {
			out = append(out, p)
		}
	}
	writeJSON(w, map[string]any{"totalCount": len(out), "problems": out})
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	id := selectedEntity(r.URL.Query().Get("entitySelector"))
	values, ok := metricValues[id]
	if !ok {
		writeJSON(w, map[string]any{"result": []any{}})
		return
	}
	now := time.Now().UnixMilli()
	results := make([]map[string]any, 0, len(metricOrder))
	for i, key := range metricOrder {
		results = append(results, map[string]any{
			"metricId": key,
			"data": []map[string]any{{
				"timestamps": []int64{now},
				"values":     []float64{values[i]},
			}},
		})
	}
	writeJSON(w, map[string]any{"resolution": "Inf", "result": results})
}

// selectedEntity extracts the id from an entityId("...") selector.
func selectedEntity(selector string) string {
	selector = strings.TrimSpace(selector)
	if !strings.HasPrefix(selector, "entityId(") || !strings.HasSuffix(selector, ")") {
		return ""
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(selector, "entityId("), ")")
	return strings.Trim(inner, `"`)
}

func touches(p problem, id string) bool {
	if p.RootCauseEntity != nil && p.RootCauseEntity.EntityID.ID == id {
		return true
	}
	for _, group := range [][]entityStub{p.ImpactedEntities, p.AffectedEntities} {
		for _, e := range group {
			if e.EntityID.ID == id {
				return true
			}
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("duration", time.Since(start)))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
