// Package intent turns an utterance plus conversation context into a
// structured intent or a clarification request.
package intent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-chatops/internal/catalog"
	"github.com/miradorstack/mirador-chatops/internal/completion"
	"github.com/miradorstack/mirador-chatops/internal/metrics"
	"github.com/miradorstack/mirador-chatops/internal/models"
	"github.com/miradorstack/mirador-chatops/internal/patterns"
	"github.com/miradorstack/mirador-chatops/internal/resolver"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

// SourceRules labels intents produced by the rule table.
const SourceRules = "rules"

const (
	bareMentionStrength = 0.5
	inheritedFactor     = 0.9
	noMatchFactor       = 0.6
)

// RuleSource publishes the active rule table.
type RuleSource interface {
	Table() *patterns.Table
}

// Config tunes confidence gating and timeframe defaults.
type Config struct {
	ConfidenceFloor  float64
	DefaultTimeframe time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{ConfidenceFloor: 0.4, DefaultTimeframe: 2 * time.Hour}
}

// Resolver combines completion output, the rule table and the entity resolver.
type Resolver struct {
	entities *resolver.Resolver
	rules    RuleSource
	backend  completion.Capability
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New builds an intent resolver. backend may be nil, in which case only the
// rule table is used.
func New(entities *resolver.Resolver, rules RuleSource, backend completion.Capability, cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTimeframe <= 0 {
		cfg.DefaultTimeframe = DefaultConfig().DefaultTimeframe
	}
	return &Resolver{
		entities: entities,
		rules:    rules,
		backend:  backend,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// draft is an extraction before entity resolution and confidence gating.
type draft struct {
	intentType   models.IntentType
	mention      string
	timeframe    time.Duration
	hasTimeframe bool
	focus        models.Focus
	strength     float64
	source       string
	bare         bool
}

// Resolve interprets one utterance. Only context cancellation is returned as an
// error; ambiguity and unmatched names are conversational outcomes.
func (r *Resolver) Resolve(ctx context.Context, utt models.Utterance, conv models.ConversationContext) (models.Resolution, error) {
	text := strings.TrimSpace(utt.Text)
	now := r.now()
	table := r.rules.Table()
	snap := r.entities.Snapshot()

	if text == "" {
		return r.unknown(conv, draft{source: SourceRules}), nil
	}

	mentions := r.entities.MentionsIn(snap, text)
	mentions = append(mentions, r.residualEntities(snap, table, stripMentions(text, mentions), mentions)...)
	if len(mentions) > 1 {
		d := r.ruleDraft(table, stripMentions(text, mentions), conv, now)
		if d.intentType != "" && !d.intentType.NeedsEntity() {
			return r.gate(snap, models.Intent{
				Type:       d.intentType,
				Timeframe:  r.timeframe(d, conv),
				Focus:      d.focus,
				Source:     d.source,
				Confidence: clamp(d.strength),
			}, nil), nil
		}
		d.mention = mentions[0].Text
		return r.ambiguousMentions(conv, d, mentions), nil
	}

	// Positional back-references bypass extraction entirely.
	if len(mentions) == 0 {
		if index, ok := patterns.Ordinal(text); ok {
			if res, handled := r.resolveOrdinal(snap, table, text, index, conv, now); handled {
				return res, nil
			}
		}
	}

	d, err := r.extract(ctx, snap, table, text, mentions, conv, now)
	if err != nil {
		return models.Resolution{}, err
	}
	if d.intentType == models.IntentUnknown {
		return r.unknown(conv, d), nil
	}
	if len(mentions) == 1 {
		d.mention = mentions[0].Text
	}
	if d.bare && conv.Pending != nil {
		d.intentType = firstNonEmpty(conv.Pending.Partial.Type, d.intentType)
		if !d.hasTimeframe && conv.Pending.Partial.Timeframe > 0 {
			d.timeframe, d.hasTimeframe = conv.Pending.Partial.Timeframe, true
		}
	}

	in := models.Intent{
		Type:      d.intentType,
		Mention:   d.mention,
		Timeframe: r.timeframe(d, conv),
		Focus:     d.focus,
		Source:    d.source,
	}

	if !in.Type.NeedsEntity() {
		in.Confidence = clamp(d.strength)
		return r.gate(snap, in, nil), nil
	}

	factor := 1.0
	var suggestions []models.Candidate
	switch {
	case d.mention != "":
		result := r.entities.ResolveIn(snap, d.mention)
		switch result.Outcome {
		case resolver.OutcomeResolved:
			in.EntityID = result.Best.Entity.ID
			factor = result.Best.Score
		case resolver.OutcomeAmbiguous:
			in.Confidence = clamp(d.strength * result.Best.Score)
			return r.clarify(in, resolver.ToCandidates(result.Candidates), nil, models.ReasonAmbiguousEntity), nil
		default:
			factor = noMatchFactor
			suggestions = resolver.ToCandidates(r.entities.SuggestIn(snap, d.mention))
		}
	case conv.LastEntityID != "" && snap.Contains(conv.LastEntityID):
		in.EntityID = conv.LastEntityID
		in.Inherited = true
		factor = inheritedFactor
	default:
		in.Confidence = clamp(d.strength)
		return r.clarify(in, recentCandidates(snap, conv.RecentEntities), nil, models.ReasonAmbiguousEntity), nil
	}

	in.Confidence = clamp(d.strength * factor)
	return r.gate(snap, in, suggestions), nil
}

// extract prefers the completion backend and falls back to the rule table on
// any backend failure or invalid output.
func (r *Resolver) extract(ctx context.Context, snap *catalog.Snapshot, table *patterns.Table, text string, mentions []resolver.Mention, conv models.ConversationContext, now time.Time) (draft, error) {
	if r.backend != nil && r.backend.Available() {
		d, err := r.complete(ctx, snap, table, text, conv, now)
		if err == nil {
			return d, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return draft{}, ctxErr
		}
		outcome := "unavailable"
		if errors.Is(err, utils.ErrValidation) {
			outcome = "invalid"
		}
		metrics.ObserveExtraction(r.backend.Name(), outcome)
		r.logger.Debug("completion extraction discarded, using rules",
			slog.String("backend", r.backend.Name()), slog.String("outcome", outcome), slog.Any("error", err))
	}

	stripped := stripMentions(text, mentions)
	d := r.ruleDraft(table, stripped, conv, now)
	if d.intentType != "" {
		if d.intentType.NeedsEntity() && len(mentions) == 0 {
			d.mention = r.leftoverMention(snap, table, stripped, conv)
		}
		return d, nil
	}
	switch {
	case len(mentions) == 1:
		d.intentType, d.strength, d.bare = models.IntentCheckHealth, bareMentionStrength, true
	case conv.Pending != nil:
		if residual := table.Residual(text); residual != "" {
			d.intentType, d.strength, d.bare, d.mention = models.IntentCheckHealth, bareMentionStrength, true, residual
		}
	default:
		// A lone word that names an entity closely enough still counts as a mention.
		if residual := table.Residual(text); residual != "" && r.entities.ResolveIn(snap, residual).Outcome != resolver.OutcomeNoMatch {
			d.intentType, d.strength, d.bare, d.mention = models.IntentCheckHealth, bareMentionStrength, true, residual
		}
	}
	if d.intentType == "" {
		d.intentType = models.IntentUnknown
	}
	return d, nil
}

func (r *Resolver) complete(ctx context.Context, snap *catalog.Snapshot, table *patterns.Table, text string, conv models.ConversationContext, now time.Time) (draft, error) {
	req := completion.Request{Utterance: text, LastIntent: conv.LastIntent}
	snap.Each(func(_ int, e models.Entity) {
		req.Services = append(req.Services, e.Name)
	})
	if e, ok := snap.Get(conv.LastEntityID); ok {
		req.LastEntity = e.Name
	}

	ext, err := r.backend.Extract(ctx, req)
	if err != nil {
		return draft{}, err
	}
	timeframe, ok, err := table.NormalizePhrase(ext.Timeframe, now, r.cfg.DefaultTimeframe)
	if err != nil {
		return draft{}, utils.NewKindError(utils.ErrValidation, "intent.complete", "timeframe", err)
	}
	metrics.ObserveExtraction(ext.Backend, "ok")
	return draft{
		intentType:   ext.IntentType,
		mention:      ext.ServiceName,
		timeframe:    timeframe,
		hasTimeframe: ok,
		focus:        ext.Focus,
		strength:     ext.Confidence,
		source:       ext.Backend,
	}, nil
}

// ruleDraft applies the ordered rule tables. intentType is empty when no
// intent rule matched.
func (r *Resolver) ruleDraft(table *patterns.Table, text string, conv models.ConversationContext, now time.Time) draft {
	d := draft{source: SourceRules, focus: table.MatchFocus(text)}
	d.timeframe, _, d.hasTimeframe = table.Timeframe(text, now, r.cfg.DefaultTimeframe)
	rule, ok := table.MatchIntent(text)
	if !ok {
		return d
	}
	d.intentType, d.strength = rule.Intent, rule.Strength
	if rule.Intent == patterns.IntentFollowUp {
		d.intentType = conv.LastIntent
		if d.intentType == "" || d.intentType == models.IntentUnknown {
			d.intentType = models.IntentCheckHealth
		}
	}
	return d
}

func (r *Resolver) resolveOrdinal(snap *catalog.Snapshot, table *patterns.Table, text string, index int, conv models.ConversationContext, now time.Time) (models.Resolution, bool) {
	var pool []models.Candidate
	partial := models.Intent{}
	if conv.Pending != nil && len(conv.Pending.Candidates) > 0 {
		pool = conv.Pending.Candidates
		partial = conv.Pending.Partial
	} else if len(conv.RecentEntities) > 0 {
		pool = recentCandidates(snap, conv.RecentEntities)
	}
	if len(pool) == 0 {
		return models.Resolution{}, false
	}
	if index == patterns.OrdinalLast {
		index = len(pool) - 1
	}
	d := r.ruleDraft(table, text, conv, now)
	if index < 0 || index >= len(pool) || !snap.Contains(pool[index].EntityID) {
		in := models.Intent{Type: firstNonEmpty(partial.Type, d.intentType, models.IntentCheckHealth), Source: SourceRules}
		in.Timeframe = r.timeframe(d, conv)
		return r.clarify(in, livePool(snap, pool), nil, models.ReasonAmbiguousEntity), true
	}

	picked := pool[index]
	in := models.Intent{
		Type:       firstNonEmpty(d.intentType, partial.Type, models.IntentCheckHealth),
		Mention:    picked.Name,
		EntityID:   picked.EntityID,
		Focus:      d.focus,
		Source:     SourceRules,
		Confidence: 1,
	}
	if in.Focus == models.FocusNone {
		in.Focus = partial.Focus
	}
	if !d.hasTimeframe && partial.Timeframe > 0 {
		d.timeframe, d.hasTimeframe = partial.Timeframe, true
	}
	in.Timeframe = r.timeframe(d, conv)
	return r.gate(snap, in, nil), true
}

// residualEntities resolves the words left once verbatim mentions are removed,
// first as a phrase and then word by word. Only unambiguous resolutions to
// entities not already in known are returned.
func (r *Resolver) residualEntities(snap *catalog.Snapshot, table *patterns.Table, stripped string, known []resolver.Mention) []resolver.Mention {
	seen := make(map[string]struct{}, len(known))
	for _, m := range known {
		seen[m.Entity.ID] = struct{}{}
	}
	var out []resolver.Mention
	add := func(text string) bool {
		res := r.entities.ResolveIn(snap, text)
		if res.Outcome != resolver.OutcomeResolved {
			return false
		}
		if _, dup := seen[res.Best.Entity.ID]; !dup {
			seen[res.Best.Entity.ID] = struct{}{}
			out = append(out, resolver.Mention{Entity: res.Best.Entity, Text: text, Offset: -1})
		}
		return true
	}

	residual := table.Residual(stripped)
	if residual == "" {
		return nil
	}
	if phrase := table.ResidualPhrase(stripped); phrase != residual && add(phrase) {
		return out
	}
	if add(residual) {
		return out
	}
	if words := strings.Fields(residual); len(words) > 1 {
		for _, w := range words {
			add(w)
		}
	}
	return out
}

// leftoverMention returns the leftover words as a mention. With a live entity
// to inherit, words that do not name an entity confidently are dropped.
func (r *Resolver) leftoverMention(snap *catalog.Snapshot, table *patterns.Table, stripped string, conv models.ConversationContext) string {
	residual := table.Residual(stripped)
	if residual == "" || conv.LastEntityID == "" || !snap.Contains(conv.LastEntityID) {
		return residual
	}
	res := r.entities.ResolveIn(snap, residual)
	if res.Outcome == resolver.OutcomeNoMatch || res.Best.Score < r.entities.Config().MinConfidence {
		return ""
	}
	return residual
}

func (r *Resolver) ambiguousMentions(conv models.ConversationContext, d draft, mentions []resolver.Mention) models.Resolution {
	in := models.Intent{
		Type:       firstNonEmpty(d.intentType, models.IntentCheckHealth),
		Mention:    d.mention,
		Timeframe:  r.timeframe(d, conv),
		Focus:      d.focus,
		Source:     d.source,
		Confidence: clamp(d.strength),
	}
	candidates := make([]models.Candidate, 0, len(mentions))
	for _, m := range mentions {
		candidates = append(candidates, models.Candidate{EntityID: m.Entity.ID, Name: m.Entity.Name, Score: 1})
	}
	return r.clarify(in, candidates, nil, models.ReasonAmbiguousIntent)
}

// gate turns a finished intent into a clarification when its confidence is
// under the floor.
func (r *Resolver) gate(snap *catalog.Snapshot, in models.Intent, suggestions []models.Candidate) models.Resolution {
	if in.Confidence >= r.cfg.ConfidenceFloor {
		return models.Resolution{Intent: &in, Suggestions: suggestions}
	}
	candidates := suggestions
	if e, ok := snap.Get(in.EntityID); ok {
		candidates = []models.Candidate{{EntityID: e.ID, Name: e.Name, Score: in.Confidence}}
	}
	var intents []models.IntentType
	if in.Type.NeedsEntity() {
		intents = alternatives(in.Type)
	}
	res := r.clarify(in, candidates, intents, models.ReasonLowConfidence)
	res.Suggestions = suggestions
	return res
}

func (r *Resolver) clarify(partial models.Intent, candidates []models.Candidate, intents []models.IntentType, reason models.ClarificationReason) models.Resolution {
	return models.Resolution{Clarification: &models.ClarificationRequest{
		Partial:          partial,
		Candidates:       candidates,
		CandidateIntents: intents,
		Reason:           reason,
	}}
}

func (r *Resolver) unknown(conv models.ConversationContext, d draft) models.Resolution {
	in := models.Intent{
		Type:      models.IntentUnknown,
		Mention:   d.mention,
		Timeframe: r.timeframe(d, conv),
		Focus:     d.focus,
		Source:    d.source,
	}
	return models.Resolution{Intent: &in}
}

// timeframe applies explicit, then inherited, then default precedence.
func (r *Resolver) timeframe(d draft, conv models.ConversationContext) time.Duration {
	switch {
	case d.hasTimeframe && d.timeframe > 0:
		return d.timeframe
	case conv.LastTimeframe > 0:
		return conv.LastTimeframe
	default:
		return r.cfg.DefaultTimeframe
	}
}

func alternatives(t models.IntentType) []models.IntentType {
	out := []models.IntentType{t}
	for _, alt := range []models.IntentType{models.IntentCheckHealth, models.IntentCheckProblems, models.IntentCheckMetrics} {
		if alt != t {
			out = append(out, alt)
		}
	}
	return out
}

func firstNonEmpty(types ...models.IntentType) models.IntentType {
	for _, t := range types {
		if t != "" && t != models.IntentUnknown {
			return t
		}
	}
	return models.IntentUnknown
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
