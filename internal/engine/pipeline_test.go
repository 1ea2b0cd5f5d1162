package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/miradorstack/mirador-chatops/internal/catalog"
	"github.com/miradorstack/mirador-chatops/internal/conversation"
	"github.com/miradorstack/mirador-chatops/internal/intent"
	"github.com/miradorstack/mirador-chatops/internal/models"
	"github.com/miradorstack/mirador-chatops/internal/patterns"
	"github.com/miradorstack/mirador-chatops/internal/resolver"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

type staticCatalog struct{ snap *catalog.Snapshot }

func (s staticCatalog) Current() *catalog.Snapshot { return s.snap }

type fetchCall struct {
	kind     string
	entityID string
	window   time.Duration
}

type fakeMonitor struct {
	mu       sync.Mutex
	calls    []fetchCall
	problems []models.Problem
	bundle   *models.MetricBundle
	err      error
}

func (f *fakeMonitor) FetchProblems(_ context.Context, entityID string, window time.Duration) ([]models.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{"problems", entityID, window})
	return f.problems, f.err
}

func (f *fakeMonitor) FetchMetrics(_ context.Context, entityID string, window time.Duration) (*models.MetricBundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{"metrics", entityID, window})
	if f.bundle == nil {
		return &models.MetricBundle{EntityID: entityID, Window: window}, f.err
	}
	return f.bundle, f.err
}

func (f *fakeMonitor) callsOf(kind string) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchCall
	for _, c := range f.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type testPipeline struct {
	*Pipeline
	store   *conversation.MemoryStore
	monitor *fakeMonitor
}

func newTestPipeline(t *testing.T, monitor *fakeMonitor) testPipeline {
	t.Helper()
	snap, err := catalog.NewSnapshot([]models.Entity{
		{ID: "SERVICE-1", Name: "ordercontroller", Type: "SERVICE"},
		{ID: "SERVICE-2", Name: "order-service", Type: "SERVICE"},
		{ID: "SERVICE-3", Name: "order-api", Type: "SERVICE"},
		{ID: "SERVICE-4", Name: "payment-api", Type: "SERVICE", Aliases: []string{"payments"}},
	}, nil, 1, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	cat := staticCatalog{snap}
	rules, err := patterns.NewHolder("", nil)
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	intents := intent.New(resolver.New(cat, resolver.DefaultConfig()), rules, nil, intent.DefaultConfig(), nil)
	store := conversation.NewMemoryStore(nil, 5, time.Hour)
	if monitor == nil {
		monitor = &fakeMonitor{}
	}
	p := NewPipeline(nil, store, nil, intents, cat, monitor, nil, nil)
	return testPipeline{Pipeline: p, store: store, monitor: monitor}
}

func turn(t *testing.T, p testPipeline, session, text string) models.TurnResult {
	t.Helper()
	res, err := p.HandleTurn(context.Background(), session, text)
	if err != nil {
		t.Fatalf("turn %q: %v", text, err)
	}
	return res
}

func TestHandleTurnCorrelatesAndCommitsContext(t *testing.T) {
	monitor := &fakeMonitor{problems: []models.Problem{
		{ID: "P1", Status: models.StatusOpen, Severity: models.SeverityHigh, RootCause: ref("SERVICE-4", "payment-api")},
		{ID: "P2", Status: models.StatusOpen, Severity: models.SeverityLow, Affected: []models.EntityRef{ref("SERVICE-4", "payment-api")}},
		{ID: "P3", Status: models.StatusOpen, Impacted: []models.EntityRef{ref("SERVICE-99", "ghost")}},
	}}
	p := newTestPipeline(t, monitor)

	res := turn(t, p, "s1", "show problems for payment-api")
	if res.Intent == nil || res.Intent.Type != models.IntentCheckProblems || res.Intent.EntityID != "SERVICE-4" {
		t.Fatalf("unexpected intent %+v", res.Intent)
	}
	if res.TurnID == "" || res.Sequence != 1 {
		t.Fatalf("turn metadata missing: %+v", res)
	}
	if res.Entity == nil || res.Entity.Name != "payment-api" {
		t.Fatalf("entity not attached: %+v", res.Entity)
	}
	ids := make([]string, 0, len(res.Correlations))
	for _, c := range res.Correlations {
		ids = append(ids, c.ProblemID)
	}
	if diff := cmp.Diff([]string{"P1", "P2"}, ids); diff != "" {
		t.Fatalf("correlations mismatch (-want +got):\n%s", diff)
	}
	if res.Skipped != 1 {
		t.Fatalf("expected the dangling record skipped, got %d", res.Skipped)
	}
	if calls := monitor.callsOf("problems"); len(calls) != 1 || calls[0] != (fetchCall{"problems", "SERVICE-4", 2 * time.Hour}) {
		t.Fatalf("unexpected problem fetches %+v", calls)
	}
	if len(monitor.callsOf("metrics")) != 0 {
		t.Fatalf("problem checks must not fetch metrics")
	}

	conv, _ := p.store.Get(context.Background(), "s1")
	want := models.ConversationContext{
		SessionID:      "s1",
		LastEntityID:   "SERVICE-4",
		LastTimeframe:  2 * time.Hour,
		LastIntent:     models.IntentCheckProblems,
		RecentEntities: []string{"SERVICE-4"},
		TurnCount:      1,
	}
	conv.UpdatedAt = time.Time{}
	if diff := cmp.Diff(want, conv); diff != "" {
		t.Fatalf("context mismatch (-want +got):\n%s", diff)
	}
}

func TestFollowUpTurnUsesSessionContext(t *testing.T) {
	p := newTestPipeline(t, nil)
	turn(t, p, "s1", "check payment-api")
	res := turn(t, p, "s1", "what about the last 24 hours")

	if res.Intent == nil || !res.Intent.Inherited || res.Intent.EntityID != "SERVICE-4" {
		t.Fatalf("expected inherited entity, got %+v", res.Intent)
	}
	if res.Intent.Type != models.IntentCheckHealth {
		t.Fatalf("expected inherited intent type, got %s", res.Intent.Type)
	}
	calls := p.monitor.callsOf("problems")
	if len(calls) != 2 || calls[1].window != 24*time.Hour {
		t.Fatalf("unexpected problem fetches %+v", calls)
	}
	if res.Metrics == nil || res.Insights == nil {
		t.Fatalf("health check must carry metrics and insights: %+v", res)
	}

	conv, _ := p.store.Get(context.Background(), "s1")
	if conv.LastTimeframe != 24*time.Hour || conv.TurnCount != 2 {
		t.Fatalf("unexpected context %+v", conv)
	}
}

func TestClarificationIsRecordedAsPending(t *testing.T) {
	p := newTestPipeline(t, nil)
	res := turn(t, p, "s1", "check order-ctrl last 3 days")
	if res.Clarification == nil || res.Clarification.Reason != models.ReasonAmbiguousEntity {
		t.Fatalf("expected clarification, got %+v", res)
	}
	if len(p.monitor.calls) != 0 {
		t.Fatalf("clarification must not reach the monitoring client")
	}
	conv, _ := p.store.Get(context.Background(), "s1")
	if conv.Pending == nil || conv.TurnCount != 1 {
		t.Fatalf("pending clarification not recorded: %+v", conv)
	}

	picked := turn(t, p, "s1", "the first one")
	if picked.Intent == nil || picked.Intent.EntityID != "SERVICE-1" {
		t.Fatalf("expected ordinal pick, got %+v", picked)
	}
	if calls := p.monitor.callsOf("problems"); len(calls) != 1 || calls[0].window != 72*time.Hour {
		t.Fatalf("pick must reuse the pending timeframe: %+v", calls)
	}
	conv, _ = p.store.Get(context.Background(), "s1")
	if conv.Pending != nil {
		t.Fatalf("pending clarification not cleared: %+v", conv.Pending)
	}
}

func TestFetchFailureLeavesContextUntouched(t *testing.T) {
	monitor := &fakeMonitor{err: utils.NewKindError(utils.ErrUpstreamUnavailable, "test", "timeout", context.DeadlineExceeded)}
	p := newTestPipeline(t, monitor)

	res, err := p.HandleTurn(context.Background(), "s1", "problems with payment-api")
	if !errors.Is(err, utils.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if res.Intent == nil || res.Intent.EntityID != "SERVICE-4" {
		t.Fatalf("locally resolved intent should still be returned: %+v", res.Intent)
	}
	conv, _ := p.store.Get(context.Background(), "s1")
	if conv.TurnCount != 0 || conv.LastEntityID != "" || len(conv.RecentEntities) != 0 {
		t.Fatalf("context mutated after failure: %+v", conv)
	}
}

func TestUntypedFetchFailureIsUpstreamUnavailable(t *testing.T) {
	p := newTestPipeline(t, &fakeMonitor{err: errors.New("boom")})
	_, err := p.HandleTurn(context.Background(), "s1", "check payment-api")
	if !errors.Is(err, utils.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream kind, got %v", err)
	}
}

func TestUnknownServiceDegradesToNameMatching(t *testing.T) {
	monitor := &fakeMonitor{problems: []models.Problem{
		{ID: "P1", Status: models.StatusOpen, Title: "Slow responses on billing-gateway"},
		{ID: "P2", Status: models.StatusOpen, Title: "Disk full on db-7"},
	}}
	p := newTestPipeline(t, monitor)

	res := turn(t, p, "s1", "any problems with billing-gateway")
	if res.Intent == nil || res.Intent.EntityID != "" {
		t.Fatalf("expected unresolved intent, got %+v", res.Intent)
	}
	if !res.Degraded || len(res.Correlations) != 1 || res.Correlations[0].ProblemID != "P1" {
		t.Fatalf("expected degraded title match, got %+v", res)
	}
	if calls := monitor.callsOf("problems"); len(calls) != 1 || calls[0].entityID != "" {
		t.Fatalf("unresolved entity must fetch unscoped problems: %+v", calls)
	}
	conv, _ := p.store.Get(context.Background(), "s1")
	if conv.LastEntityID != "" || len(conv.RecentEntities) != 0 {
		t.Fatalf("unresolved names must not enter context: %+v", conv)
	}
}

func TestNonEntityIntents(t *testing.T) {
	p := newTestPipeline(t, nil)

	help := turn(t, p, "s1", "help")
	if help.Help == nil || len(help.Help.Intents) == 0 {
		t.Fatalf("expected help catalog, got %+v", help)
	}
	services := turn(t, p, "s1", "list all services")
	if len(services.Services) != 4 {
		t.Fatalf("expected full catalog, got %+v", services.Services)
	}
	if len(p.monitor.calls) != 0 {
		t.Fatalf("non-entity intents must not fetch data")
	}
	if got := p.Services("ORDER"); len(got) != 3 {
		t.Fatalf("expected 3 order services, got %+v", got)
	}
	if got := p.Services("payments"); len(got) != 1 || got[0].ID != "SERVICE-4" {
		t.Fatalf("alias filter failed: %+v", got)
	}
}

func TestResetClearsSession(t *testing.T) {
	p := newTestPipeline(t, nil)
	turn(t, p, "s1", "check payment-api")
	if err := p.Reset(context.Background(), "s1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	conv, _ := p.store.Get(context.Background(), "s1")
	if conv.TurnCount != 0 || conv.LastEntityID != "" {
		t.Fatalf("context survived reset: %+v", conv)
	}
	if err := p.Reset(context.Background(), " "); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEmptySessionRejected(t *testing.T) {
	p := newTestPipeline(t, nil)
	if _, err := p.HandleTurn(context.Background(), "", "help"); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConcurrentTurnsKeepSessionsIndependent(t *testing.T) {
	p := newTestPipeline(t, nil)
	const perSession = 10
	var wg sync.WaitGroup
	for s := 0; s < 4; s++ {
		session := fmt.Sprintf("s%d", s)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSession; i++ {
				if _, err := p.HandleTurn(context.Background(), session, "check payment-api"); err != nil {
					t.Errorf("%s: %v", session, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for s := 0; s < 4; s++ {
		conv, _ := p.store.Get(context.Background(), fmt.Sprintf("s%d", s))
		if conv.TurnCount != perSession {
			t.Fatalf("session s%d lost turns: %d", s, conv.TurnCount)
		}
	}
}
