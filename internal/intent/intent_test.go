package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/miradorstack/mirador-chatops/internal/catalog"
	"github.com/miradorstack/mirador-chatops/internal/completion"
	"github.com/miradorstack/mirador-chatops/internal/models"
	"github.com/miradorstack/mirador-chatops/internal/patterns"
	"github.com/miradorstack/mirador-chatops/internal/resolver"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

type staticCatalog struct{ snap *catalog.Snapshot }

func (s staticCatalog) Current() *catalog.Snapshot { return s.snap }

type fakeBackend struct {
	out completion.Extraction
	err error
}

func (f *fakeBackend) Name() string    { return "fake" }
func (f *fakeBackend) Available() bool { return true }
func (f *fakeBackend) Extract(ctx context.Context, _ completion.Request) (completion.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return completion.Extraction{}, err
	}
	if f.err != nil {
		return completion.Extraction{}, f.err
	}
	out := f.out
	out.Backend = "fake"
	return out, nil
}

var fixedNow = time.Date(2024, 5, 10, 14, 30, 0, 0, time.UTC)

func newTestResolver(t *testing.T, backend completion.Capability) *Resolver {
	t.Helper()
	snap, err := catalog.NewSnapshot([]models.Entity{
		{ID: "SVC-1", Name: "ordercontroller", Type: "SERVICE"},
		{ID: "SVC-2", Name: "order-service", Type: "SERVICE"},
		{ID: "SVC-3", Name: "order-api", Type: "SERVICE"},
		{ID: "SVC-4", Name: "payment-api", Type: "SERVICE", Aliases: []string{"payments"}},
		{ID: "SVC-5", Name: "error-tracker", Type: "SERVICE"},
	}, nil, 1, fixedNow)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	rules, err := patterns.NewHolder("", nil)
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	r := New(resolver.New(staticCatalog{snap}, resolver.DefaultConfig()), rules, backend, DefaultConfig(), nil)
	r.now = func() time.Time { return fixedNow }
	return r
}

func resolve(t *testing.T, r *Resolver, text string, conv models.ConversationContext) models.Resolution {
	t.Helper()
	res, err := r.Resolve(context.Background(), models.Utterance{SessionID: "s", Text: text}, conv)
	if err != nil {
		t.Fatalf("resolve %q: %v", text, err)
	}
	if (res.Intent == nil) == (res.Clarification == nil) {
		t.Fatalf("resolve %q: expected exactly one of intent or clarification: %+v", text, res)
	}
	return res
}

func TestFollowUpInheritsEntityAndSetsTimeframe(t *testing.T) {
	r := newTestResolver(t, nil)

	first := resolve(t, r, "Check ordercontroller", models.ConversationContext{})
	if first.Intent == nil || first.Intent.EntityID != "SVC-1" || first.Intent.Type != models.IntentCheckHealth {
		t.Fatalf("turn 1: unexpected resolution %+v", first)
	}
	if first.Intent.Timeframe != 2*time.Hour {
		t.Fatalf("turn 1: expected default timeframe, got %v", first.Intent.Timeframe)
	}

	conv := models.ConversationContext{
		LastEntityID:   first.Intent.EntityID,
		LastTimeframe:  first.Intent.Timeframe,
		LastIntent:     first.Intent.Type,
		RecentEntities: []string{"SVC-1"},
	}
	second := resolve(t, r, "what about last week", conv)
	if second.Intent == nil {
		t.Fatalf("turn 2: expected intent, got %+v", second.Clarification)
	}
	if second.Intent.EntityID != "SVC-1" || !second.Intent.Inherited {
		t.Fatalf("turn 2: expected inherited SVC-1, got %+v", second.Intent)
	}
	if second.Intent.Timeframe != 7*24*time.Hour {
		t.Fatalf("turn 2: expected 7 days, got %v", second.Intent.Timeframe)
	}
	if second.Intent.Type != models.IntentCheckHealth {
		t.Fatalf("turn 2: expected inherited intent type, got %s", second.Intent.Type)
	}
}

func TestTimeframeInheritedWhenAbsent(t *testing.T) {
	r := newTestResolver(t, nil)
	res := resolve(t, r, "any problems with payment-api", models.ConversationContext{LastTimeframe: 24 * time.Hour})
	if res.Intent == nil || res.Intent.Timeframe != 24*time.Hour || res.Intent.Type != models.IntentCheckProblems {
		t.Fatalf("unexpected resolution %+v", res.Intent)
	}
	if res.Intent.EntityID != "SVC-4" {
		t.Fatalf("expected payment-api, got %q", res.Intent.EntityID)
	}
}

func TestAliasMention(t *testing.T) {
	r := newTestResolver(t, nil)
	res := resolve(t, r, "how are payments doing today", models.ConversationContext{})
	if res.Intent == nil || res.Intent.EntityID != "SVC-4" {
		t.Fatalf("expected payment-api via alias, got %+v", res)
	}
	if res.Intent.Timeframe != 14*time.Hour+30*time.Minute {
		t.Fatalf("expected since-midnight timeframe, got %v", res.Intent.Timeframe)
	}
}

func TestAmbiguousEntityThenOrdinalPick(t *testing.T) {
	r := newTestResolver(t, nil)
	res := resolve(t, r, "check order-ctrl last 3 days", models.ConversationContext{})
	if res.Clarification == nil || res.Clarification.Reason != models.ReasonAmbiguousEntity {
		t.Fatalf("expected ambiguous entity clarification, got %+v", res)
	}
	got := map[string]bool{}
	for _, c := range res.Clarification.Candidates {
		got[c.EntityID] = true
	}
	if res.Clarification.Candidates[0].EntityID != "SVC-1" || !got["SVC-2"] || !got["SVC-3"] {
		t.Fatalf("unexpected candidates %+v", res.Clarification.Candidates)
	}
	if res.Clarification.Partial.Timeframe != 72*time.Hour {
		t.Fatalf("partial intent lost its timeframe: %+v", res.Clarification.Partial)
	}

	conv := models.ConversationContext{Pending: res.Clarification}
	picked := resolve(t, r, "the first one", conv)
	if picked.Intent == nil || picked.Intent.EntityID != "SVC-1" {
		t.Fatalf("expected ordercontroller, got %+v", picked)
	}
	if picked.Intent.Type != models.IntentCheckHealth || picked.Intent.Timeframe != 72*time.Hour {
		t.Fatalf("pick must inherit the pending intent: %+v", picked.Intent)
	}

	second := resolve(t, r, "2nd", conv)
	if second.Intent == nil || second.Intent.EntityID != res.Clarification.Candidates[1].EntityID {
		t.Fatalf("expected second candidate, got %+v", second)
	}
}

func TestOrdinalAgainstRecentEntities(t *testing.T) {
	r := newTestResolver(t, nil)
	conv := models.ConversationContext{RecentEntities: []string{"SVC-4", "SVC-1"}}
	res := resolve(t, r, "show metrics for the last one", conv)
	if res.Intent == nil || res.Intent.EntityID != "SVC-1" || res.Intent.Type != models.IntentCheckMetrics {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestOrdinalOutOfRangeAsksAgain(t *testing.T) {
	r := newTestResolver(t, nil)
	conv := models.ConversationContext{RecentEntities: []string{"SVC-4"}}
	res := resolve(t, r, "#3", conv)
	if res.Clarification == nil || res.Clarification.Reason != models.ReasonAmbiguousEntity {
		t.Fatalf("expected clarification, got %+v", res)
	}
	if len(res.Clarification.Candidates) != 1 || res.Clarification.Candidates[0].EntityID != "SVC-4" {
		t.Fatalf("unexpected candidates %+v", res.Clarification.Candidates)
	}
}

func TestBareMentionResolvesPendingClarification(t *testing.T) {
	r := newTestResolver(t, nil)
	pending := &models.ClarificationRequest{
		Partial: models.Intent{Type: models.IntentCheckMetrics, Timeframe: 24 * time.Hour},
		Reason:  models.ReasonAmbiguousEntity,
	}
	res := resolve(t, r, "order-api", models.ConversationContext{Pending: pending})
	if res.Intent == nil {
		t.Fatalf("expected intent, got %+v", res.Clarification)
	}
	want := models.Intent{
		Type:       models.IntentCheckMetrics,
		Mention:    "order-api",
		EntityID:   "SVC-3",
		Timeframe:  24 * time.Hour,
		Confidence: 0.5,
		Source:     SourceRules,
	}
	if diff := cmp.Diff(want, *res.Intent); diff != "" {
		t.Fatalf("intent mismatch (-want +got):\n%s", diff)
	}
}

func TestMultipleMentionsAskWhichService(t *testing.T) {
	r := newTestResolver(t, nil)
	res := resolve(t, r, "compare payment-api and ordercontroller", models.ConversationContext{})
	if res.Clarification == nil || res.Clarification.Reason != models.ReasonAmbiguousIntent {
		t.Fatalf("expected ambiguous intent clarification, got %+v", res)
	}
	ids := []string{res.Clarification.Candidates[0].EntityID, res.Clarification.Candidates[1].EntityID}
	if diff := cmp.Diff([]string{"SVC-4", "SVC-1"}, ids); diff != "" {
		t.Fatalf("candidate order mismatch (-want +got):\n%s", diff)
	}
}

func TestLooselyNamedSecondServiceAsksWhichService(t *testing.T) {
	r := newTestResolver(t, nil)
	for _, text := range []string{"check order-service and paymentapi", "compare order-service with paymnt"} {
		res := resolve(t, r, text, models.ConversationContext{})
		if res.Clarification == nil || res.Clarification.Reason != models.ReasonAmbiguousIntent {
			t.Fatalf("%q: expected ambiguous intent clarification, got %+v", text, res)
		}
		var ids []string
		for _, c := range res.Clarification.Candidates {
			ids = append(ids, c.EntityID)
		}
		if diff := cmp.Diff([]string{"SVC-2", "SVC-4"}, ids); diff != "" {
			t.Fatalf("%q: candidate mismatch (-want +got):\n%s", text, diff)
		}
	}
}

func TestLeftoverWordsAsMentions(t *testing.T) {
	followUp := models.ConversationContext{
		LastEntityID:   "SVC-1",
		LastIntent:     models.IntentCheckProblems,
		LastTimeframe:  2 * time.Hour,
		RecentEntities: []string{"SVC-1"},
	}
	cases := []struct {
		name      string
		text      string
		conv      models.ConversationContext
		wantType  models.IntentType
		wantID    string
		inherited bool
	}{
		{"service noun is part of the name", "how is order service doing", models.ConversationContext{}, models.IntentCheckHealth, "SVC-2", false},
		{"follow-up words name no service", "what about the error rate", followUp, models.IntentCheckProblems, "SVC-1", true},
		{"follow-up names another service", "what about paymentapi", followUp, models.IntentCheckProblems, "SVC-4", false},
	}
	r := newTestResolver(t, nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := resolve(t, r, tc.text, tc.conv)
			if res.Intent == nil {
				t.Fatalf("expected intent, got clarification %+v", res.Clarification)
			}
			if res.Intent.Type != tc.wantType || res.Intent.EntityID != tc.wantID || res.Intent.Inherited != tc.inherited {
				t.Fatalf("got type=%s entity=%q inherited=%v, want %s %q %v",
					res.Intent.Type, res.Intent.EntityID, res.Intent.Inherited, tc.wantType, tc.wantID, tc.inherited)
			}
		})
	}
}

type countingCatalog struct {
	snap  *catalog.Snapshot
	calls int
}

func (c *countingCatalog) Current() *catalog.Snapshot {
	c.calls++
	return c.snap
}

func TestResolveReadsCatalogOnce(t *testing.T) {
	base := newTestResolver(t, nil)
	counting := &countingCatalog{snap: base.entities.Snapshot()}
	r := New(resolver.New(counting, resolver.DefaultConfig()), base.rules, nil, DefaultConfig(), nil)
	r.now = base.now

	recent := models.ConversationContext{LastEntityID: "SVC-1", LastIntent: models.IntentCheckHealth, RecentEntities: []string{"SVC-1", "SVC-4"}}
	cases := []struct {
		text string
		conv models.ConversationContext
	}{
		{"check zzzzqqq", models.ConversationContext{}},
		{"#2", recent},
		{"check order-service and paymentapi", models.ConversationContext{}},
		{"what about the error rate", recent},
		{"ordercontroller", models.ConversationContext{}},
	}
	for _, tc := range cases {
		counting.calls = 0
		resolve(t, r, tc.text, tc.conv)
		if counting.calls != 1 {
			t.Fatalf("%q: catalog read %d times in one turn", tc.text, counting.calls)
		}
	}
}

func TestMissingEntityOffersRecent(t *testing.T) {
	r := newTestResolver(t, nil)
	res := resolve(t, r, "any problems?", models.ConversationContext{RecentEntities: []string{"SVC-3", "GONE", "SVC-1"}})
	if res.Clarification == nil || res.Clarification.Reason != models.ReasonAmbiguousEntity {
		t.Fatalf("expected clarification, got %+v", res)
	}
	if len(res.Clarification.Candidates) != 2 || res.Clarification.Candidates[0].EntityID != "SVC-3" {
		t.Fatalf("expected live recent entities only, got %+v", res.Clarification.Candidates)
	}
	if res.Clarification.Partial.Type != models.IntentCheckProblems {
		t.Fatalf("partial intent type lost: %+v", res.Clarification.Partial)
	}
}

func TestStaleLastEntityIsNotInherited(t *testing.T) {
	r := newTestResolver(t, nil)
	res := resolve(t, r, "and the metrics?", models.ConversationContext{LastEntityID: "GONE", LastIntent: models.IntentCheckHealth})
	if res.Clarification == nil {
		t.Fatalf("a removed entity must not be inherited: %+v", res.Intent)
	}
}

func TestUnmatchedNameDegrades(t *testing.T) {
	r := newTestResolver(t, nil)
	res := resolve(t, r, "check zzzzqqq", models.ConversationContext{})
	if res.Intent == nil {
		t.Fatalf("expected degraded intent, got %+v", res.Clarification)
	}
	if res.Intent.EntityID != "" || res.Intent.Mention != "zzzzqqq" {
		t.Fatalf("unexpected intent %+v", res.Intent)
	}
	if res.Intent.Confidence >= 0.75 {
		t.Fatalf("unmatched names must lower confidence: %v", res.Intent.Confidence)
	}
}

func TestEmptyAndUnintelligibleAreUnknown(t *testing.T) {
	r := newTestResolver(t, nil)
	for _, text := range []string{"", "   ", "...", "hello there"} {
		res := resolve(t, r, text, models.ConversationContext{})
		if res.Intent == nil || res.Intent.Type != models.IntentUnknown || res.Intent.Confidence != 0 {
			t.Fatalf("%q: expected unknown with zero confidence, got %+v", text, res)
		}
	}
}

func TestServiceNameWordsDoNotTriggerRules(t *testing.T) {
	r := newTestResolver(t, nil)
	res := resolve(t, r, "check error-tracker", models.ConversationContext{})
	if res.Intent == nil || res.Intent.Type != models.IntentCheckHealth || res.Intent.Focus != models.FocusNone {
		t.Fatalf("unexpected resolution %+v", res.Intent)
	}
	if res.Intent.EntityID != "SVC-5" {
		t.Fatalf("expected error-tracker, got %q", res.Intent.EntityID)
	}
}

func TestNonEntityIntents(t *testing.T) {
	r := newTestResolver(t, nil)
	if res := resolve(t, r, "help", models.ConversationContext{}); res.Intent == nil || res.Intent.Type != models.IntentHelp {
		t.Fatalf("expected help, got %+v", res)
	}
	if res := resolve(t, r, "list services", models.ConversationContext{}); res.Intent == nil || res.Intent.Type != models.IntentListServices {
		t.Fatalf("expected list_services, got %+v", res)
	}
}

func TestCompletionOutputUsedWhenValid(t *testing.T) {
	backend := &fakeBackend{out: completion.Extraction{
		IntentType:  models.IntentCheckProblems,
		ServiceName: "payment api",
		Timeframe:   "last week",
		Focus:       models.FocusErrors,
		Confidence:  0.9,
	}}
	r := newTestResolver(t, backend)
	res := resolve(t, r, "is anything wrong with the payment api lately", models.ConversationContext{})
	if res.Intent == nil {
		t.Fatalf("expected intent, got %+v", res.Clarification)
	}
	if res.Intent.Source != "fake" || res.Intent.EntityID != "SVC-4" || res.Intent.Timeframe != 7*24*time.Hour || res.Intent.Focus != models.FocusErrors {
		t.Fatalf("unexpected intent %+v", res.Intent)
	}
}

func TestCompletionFailureFallsBackToRules(t *testing.T) {
	cases := map[string]*fakeBackend{
		"invalid":     {err: utils.NewKindError(utils.ErrValidation, "t", "bad json", nil)},
		"unavailable": {err: utils.NewKindError(utils.ErrUpstreamUnavailable, "t", "down", nil)},
		"timeframe":   {out: completion.Extraction{IntentType: models.IntentHelp, Timeframe: "fortnight-ish", Confidence: 1}},
	}
	for name, backend := range cases {
		r := newTestResolver(t, backend)
		res := resolve(t, r, "check ordercontroller", models.ConversationContext{})
		if res.Intent == nil || res.Intent.Source != SourceRules || res.Intent.EntityID != "SVC-1" {
			t.Fatalf("%s: expected rule-table intent, got %+v", name, res)
		}
	}
}

func TestLowCompletionConfidenceClarifies(t *testing.T) {
	backend := &fakeBackend{out: completion.Extraction{
		IntentType:  models.IntentCheckMetrics,
		ServiceName: "ordercontroller",
		Confidence:  0.3,
	}}
	r := newTestResolver(t, backend)
	res := resolve(t, r, "ordercontroller numbers?", models.ConversationContext{})
	if res.Clarification == nil || res.Clarification.Reason != models.ReasonLowConfidence {
		t.Fatalf("expected low confidence clarification, got %+v", res)
	}
	if len(res.Clarification.Candidates) != 1 || res.Clarification.Candidates[0].EntityID != "SVC-1" {
		t.Fatalf("unexpected candidates %+v", res.Clarification.Candidates)
	}
	if res.Clarification.CandidateIntents[0] != models.IntentCheckMetrics {
		t.Fatalf("unexpected candidate intents %+v", res.Clarification.CandidateIntents)
	}
}

func TestCanceledContextAbortsResolution(t *testing.T) {
	r := newTestResolver(t, &fakeBackend{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Resolve(ctx, models.Utterance{Text: "check ordercontroller"}, models.ConversationContext{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestResolvedEntityIsAlwaysLive(t *testing.T) {
	r := newTestResolver(t, nil)
	snap := r.entities.Snapshot()
	inputs := []string{"check order", "orders?", "check payment", "problems in api", "what about err", "#1", "that one"}
	conv := models.ConversationContext{RecentEntities: []string{"SVC-2"}, LastEntityID: "SVC-2"}
	for _, text := range inputs {
		res := resolve(t, r, text, conv)
		if res.Intent != nil && res.Intent.EntityID != "" && !snap.Contains(res.Intent.EntityID) {
			t.Fatalf("%q resolved to unknown entity %q", text, res.Intent.EntityID)
		}
	}
}

func TestHelpCatalogExamplesResolveToTheirIntent(t *testing.T) {
	r := newTestResolver(t, nil)
	for intentType, examples := range Help().Examples {
		for _, text := range examples {
			res := resolve(t, r, text, models.ConversationContext{})
			var got models.IntentType
			if res.Intent != nil {
				got = res.Intent.Type
			} else {
				got = res.Clarification.Partial.Type
			}
			if got != intentType {
				t.Errorf("%q: got %s, want %s", text, got, intentType)
			}
		}
	}
}
