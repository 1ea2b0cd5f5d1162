package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-chatops/internal/catalog"
	"github.com/miradorstack/mirador-chatops/internal/conversation"
	"github.com/miradorstack/mirador-chatops/internal/extractors"
	"github.com/miradorstack/mirador-chatops/internal/intent"
	"github.com/miradorstack/mirador-chatops/internal/metrics"
	"github.com/miradorstack/mirador-chatops/internal/models"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

// MonitoringClient defines the monitoring collaborator behaviour used by the pipeline.
type MonitoringClient interface {
	FetchProblems(ctx context.Context, entityID string, window time.Duration) ([]models.Problem, error)
	FetchMetrics(ctx context.Context, entityID string, window time.Duration) (*models.MetricBundle, error)
}

// IntentResolver interprets one utterance against the session context.
type IntentResolver interface {
	Resolve(ctx context.Context, utt models.Utterance, conv models.ConversationContext) (models.Resolution, error)
}

// CatalogProvider exposes the published catalog snapshot.
type CatalogProvider interface {
	Current() *catalog.Snapshot
}

// Pipeline orchestrates one conversational turn: resolve, fetch, correlate,
// then commit the context patch.
type Pipeline struct {
	logger   *slog.Logger
	store    conversation.Store
	locks    *conversation.SessionLocks
	intents  IntentResolver
	catalog  CatalogProvider
	monitor  MonitoringClient
	filter   *CorrelationFilter
	analyzer *extractors.MetricsAnalyzer
	tracer   trace.Tracer
	now      func() time.Time
}

// NewPipeline constructs a turn pipeline.
func NewPipeline(
	logger *slog.Logger,
	store conversation.Store,
	locks *conversation.SessionLocks,
	intents IntentResolver,
	catalogProvider CatalogProvider,
	monitor MonitoringClient,
	filter *CorrelationFilter,
	analyzer *extractors.MetricsAnalyzer,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = conversation.NewSessionLocks()
	}
	if filter == nil {
		filter = NewCorrelationFilter(logger, models.SeverityHigh)
	}
	if analyzer == nil {
		analyzer = extractors.NewMetricsAnalyzer(extractors.DefaultThresholds())
	}

	return &Pipeline{
		logger:   logger,
		store:    store,
		locks:    locks,
		intents:  intents,
		catalog:  catalogProvider,
		monitor:  monitor,
		filter:   filter,
		analyzer: analyzer,
		tracer:   otel.Tracer("github.com/miradorstack/mirador-chatops/internal/engine"),
		now:      time.Now,
	}
}

// HandleTurn processes one utterance for sessionID. Turns of the same session
// run one at a time. When the monitoring fetch fails the partially populated
// result is returned with the error and the session context is left untouched.
func (p *Pipeline) HandleTurn(ctx context.Context, sessionID, text string) (models.TurnResult, error) {
	const op = "pipeline.HandleTurn"
	start := p.now()
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return models.TurnResult{}, utils.NewKindError(utils.ErrValidation, op, "session id is required", conversation.ErrEmptySession)
	}
	if p.store == nil || p.intents == nil {
		return models.TurnResult{}, utils.NewAppError(op, "pipeline not configured", nil)
	}

	ctx, span := p.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	unlock, err := p.locks.Lock(ctx, sessionID)
	if err != nil {
		return models.TurnResult{}, p.fail(span, start, err)
	}
	defer unlock()

	conv, err := p.store.Get(ctx, sessionID)
	if err != nil {
		return models.TurnResult{}, p.fail(span, start, utils.NewAppError(op, "load context", err))
	}

	result := models.TurnResult{
		TurnID:    uuid.NewString(),
		SessionID: sessionID,
		Sequence:  conv.TurnCount + 1,
	}
	utt := models.Utterance{SessionID: sessionID, Text: text, Sequence: result.Sequence}

	res, err := p.intents.Resolve(ctx, utt, conv)
	if err != nil {
		return result, p.fail(span, start, err)
	}
	result.Suggestions = res.Suggestions

	if res.Clarification != nil {
		result.Clarification = res.Clarification
		span.SetAttributes(attribute.String("clarification.reason", string(res.Clarification.Reason)))
		metrics.ObserveClarification(string(res.Clarification.Reason))
		if _, err := p.store.Apply(ctx, sessionID, models.ContextPatch{Pending: res.Clarification}); err != nil {
			return result, p.fail(span, start, utils.NewAppError(op, "apply context", err))
		}
		p.finish(&result, start, metrics.OutcomeClarification)
		return result, nil
	}

	in := res.Intent
	result.Intent = in
	span.SetAttributes(
		attribute.String("intent.type", string(in.Type)),
		attribute.String("entity.id", in.EntityID),
		attribute.Float64("intent.confidence", in.Confidence),
	)

	patch, err := p.execute(ctx, in, &result)
	if err != nil {
		p.logger.Warn("turn failed",
			slog.String("session", sessionID),
			slog.String("intent", string(in.Type)),
			slog.Any("error", err))
		return result, p.fail(span, start, err)
	}

	if _, err := p.store.Apply(ctx, sessionID, patch); err != nil {
		return result, p.fail(span, start, utils.NewAppError(op, "apply context", err))
	}
	p.finish(&result, start, metrics.OutcomeSuccess)
	return result, nil
}

// execute runs the data step for a resolved intent and returns the context
// patch to commit. Nothing is persisted here.
func (p *Pipeline) execute(ctx context.Context, in *models.Intent, result *models.TurnResult) (models.ContextPatch, error) {
	var patch models.ContextPatch
	switch in.Type {
	case models.IntentUnknown:
		return patch, nil
	case models.IntentHelp:
		result.Help = intent.Help()
	case models.IntentListServices:
		result.Services = p.Services(in.Mention)
	default:
		if err := p.inspect(ctx, in, result); err != nil {
			return patch, err
		}
		if in.EntityID != "" {
			id := in.EntityID
			patch.EntityID = &id
			patch.PushEntities = []string{id}
		}
		tf := in.Timeframe
		patch.Timeframe = &tf
	}
	t := in.Type
	patch.Intent = &t
	patch.ClearPending = true
	return patch, nil
}

// inspect fetches problems and metrics for an entity-scoped intent.
func (p *Pipeline) inspect(ctx context.Context, in *models.Intent, result *models.TurnResult) error {
	const op = "pipeline.inspect"
	snap := p.snapshot()
	target := Target{EntityID: in.EntityID}
	if entity, ok := snap.Get(in.EntityID); ok && in.EntityID != "" {
		result.Entity = &entity
		target.Names = append([]string{entity.Name}, entity.Aliases...)
	} else {
		target.EntityID = ""
		target.Names = []string{in.Mention}
		result.Degraded = true
	}

	if p.monitor == nil {
		return utils.NewKindError(utils.ErrUpstreamUnavailable, op, "monitoring client not configured", nil)
	}

	var (
		problems []models.Problem
		bundle   *models.MetricBundle
	)
	g, gctx := errgroup.WithContext(ctx)
	if in.Type.NeedsProblems() {
		g.Go(func() error {
			var err error
			problems, err = p.monitor.FetchProblems(gctx, target.EntityID, in.Timeframe)
			return err
		})
	}
	if in.Type.NeedsMetrics() && target.EntityID != "" {
		g.Go(func() error {
			var err error
			bundle, err = p.monitor.FetchMetrics(gctx, target.EntityID, in.Timeframe)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if utils.KindOf(err) == nil {
			err = utils.NewKindError(utils.ErrUpstreamUnavailable, op, "monitoring fetch failed", err)
		}
		return err
	}

	if in.Type.NeedsProblems() {
		report := p.filter.Correlate(problems, target, snap)
		result.Correlations = report.Results
		result.Skipped = report.Skipped
		result.Degraded = report.Degraded
		for _, r := range report.Results {
			metrics.ObserveCorrelation(string(r.Category))
		}
		metrics.ObserveSkippedProblems(report.Skipped)
	}
	if bundle != nil {
		insights := p.analyzer.Analyze(bundle)
		result.Metrics = bundle
		result.Insights = &insights
	}
	return nil
}

// Services lists catalog entities whose name or alias contains filter,
// case-insensitively. An empty filter lists everything.
func (p *Pipeline) Services(filter string) []models.Entity {
	entities := p.snapshot().Entities()
	needle := strings.ToLower(strings.TrimSpace(filter))
	if needle == "" {
		return entities
	}
	out := make([]models.Entity, 0, len(entities))
	for _, e := range entities {
		if matchesFilter(e, needle) {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the session context.
func (p *Pipeline) Reset(ctx context.Context, sessionID string) error {
	const op = "pipeline.Reset"
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return utils.NewKindError(utils.ErrValidation, op, "session id is required", conversation.ErrEmptySession)
	}
	unlock, err := p.locks.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()
	if err := p.store.Reset(ctx, sessionID); err != nil {
		return utils.NewAppError(op, "reset context", err)
	}
	p.logger.Debug("session reset", slog.String("session", sessionID))
	return nil
}

func (p *Pipeline) snapshot() *catalog.Snapshot {
	if p.catalog == nil {
		return catalog.Empty()
	}
	if snap := p.catalog.Current(); snap != nil {
		return snap
	}
	return catalog.Empty()
}

func (p *Pipeline) finish(result *models.TurnResult, start time.Time, outcome string) {
	result.Duration = p.now().Sub(start)
	metrics.ObserveTurn(result.Duration, outcome)
}

func (p *Pipeline) fail(span trace.Span, start time.Time, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.ObserveTurn(p.now().Sub(start), metrics.OutcomeError)
	return err
}

func matchesFilter(e models.Entity, needle string) bool {
	if strings.Contains(strings.ToLower(e.Name), needle) {
		return true
	}
	for _, alias := range e.Aliases {
		if strings.Contains(strings.ToLower(alias), needle) {
			return true
		}
	}
	return false
}
