package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/mirador-chatops/internal/cache"
	"github.com/miradorstack/mirador-chatops/internal/config"
	"github.com/miradorstack/mirador-chatops/internal/models"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

const (
	entitiesPath = "/api/v2/entities"
	problemsPath = "/api/v2/problems"
	metricsPath  = "/api/v2/metrics/query"

	problemFields = "+impactedEntities,+affectedEntities,+rootCauseEntity"
	maxPages      = 200
)

// Service metric keys requested for every metric bundle.
const (
	MetricErrorCount   = "builtin:service.errors.total.count"
	MetricResponseTime = "builtin:service.response.time"
	MetricRequestCount = "builtin:service.requestCount.total"
	MetricFailureRate  = "builtin:service.errors.total.rate"
)

var metricKeys = []string{MetricErrorCount, MetricResponseTime, MetricRequestCount, MetricFailureRate}

// Series names used in MetricBundle.Series.
var seriesNames = map[string]string{
	MetricErrorCount:   "errors",
	MetricResponseTime: "response_time",
	MetricRequestCount: "requests",
	MetricFailureRate:  "failure_rate",
}

// MonitoringClient wraps the monitoring platform v2 REST API for entities,
// problems and service metrics.
type MonitoringClient struct {
	baseURL        string
	token          string
	entitySelector string
	pageSize       int
	httpClient     *http.Client
	cache          cache.Provider
	catalogTTL     time.Duration
	metricsTTL     time.Duration
	logger         *slog.Logger
	tracer         trace.Tracer
}

// NewMonitoringClient constructs a client targeting the configured monitoring tenant.
func NewMonitoringClient(cfg config.MonitoringClientConfig, cacheProvider cache.Provider, catalogTTL, metricsTTL time.Duration, logger *slog.Logger) *MonitoringClient {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}
	selector := cfg.EntitySelector
	if selector == "" {
		selector = `type("SERVICE")`
	}
	if catalogTTL < 0 {
		catalogTTL = 0
	}
	if metricsTTL < 0 {
		metricsTTL = 0
	}
	return &MonitoringClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		token:          cfg.APIToken,
		entitySelector: selector,
		pageSize:       pageSize,
		httpClient:     &http.Client{Timeout: timeout},
		cache:          cacheProvider,
		catalogTTL:     catalogTTL,
		metricsTTL:     metricsTTL,
		logger:         logger,
		tracer:         otel.Tracer("github.com/miradorstack/mirador-chatops/internal/repo"),
	}
}

type entityIDDTO struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type entityStubDTO struct {
	EntityID entityIDDTO `json:"entityId"`
	Name     string      `json:"name"`
}

type entityDTO struct {
	EntityID    string                     `json:"entityId"`
	DisplayName string                     `json:"displayName"`
	Type        string                     `json:"type"`
	Properties  map[string]json.RawMessage `json:"properties"`
}

type entitiesPage struct {
	TotalCount  int         `json:"totalCount"`
	NextPageKey string      `json:"nextPageKey"`
	Entities    []entityDTO `json:"entities"`
}

type problemDTO struct {
	ProblemID        string          `json:"problemId"`
	DisplayID        string          `json:"displayId"`
	Title            string          `json:"title"`
	Status           string          `json:"status"`
	SeverityLevel    string          `json:"severityLevel"`
	RootCauseEntity  *entityStubDTO  `json:"rootCauseEntity"`
	ImpactedEntities []entityStubDTO `json:"impactedEntities"`
	AffectedEntities []entityStubDTO `json:"affectedEntities"`
	StartTime        int64           `json:"startTime"`
	EndTime          int64           `json:"endTime"`
}

type problemsPage struct {
	TotalCount  int          `json:"totalCount"`
	NextPageKey string       `json:"nextPageKey"`
	Problems    []problemDTO `json:"problems"`
}

type metricsResponse struct {
	Result []struct {
		MetricID string `json:"metricId"`
		Data     []struct {
			Timestamps []int64    `json:"timestamps"`
			Values     []*float64 `json:"values"`
		} `json:"data"`
	} `json:"result"`
}

// FetchEntities pages through the entity listing and returns every entity
// matching the configured selector.
func (c *MonitoringClient) FetchEntities(ctx context.Context) ([]models.Entity, error) {
	const op = "monitoring.FetchEntities"
	if err := c.ready(op); err != nil {
		return nil, err
	}
	ctx, span := c.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("monitoring.selector", c.entitySelector)))
	defer span.End()

	cacheKey := cache.EntitiesKey(c.entitySelector)
	if c.catalogTTL > 0 {
		if data, err := c.cache.Get(ctx, cacheKey); err == nil {
			var cached []models.Entity
			if err := json.Unmarshal(data, &cached); err == nil {
				span.SetAttributes(attribute.Bool("cache.hit", true))
				return cached, nil
			}
		}
	}

	query := url.Values{}
	query.Set("entitySelector", c.entitySelector)
	query.Set("pageSize", strconv.Itoa(c.pageSize))
	query.Set("fields", "+properties")

	var entities []models.Entity
	seen := map[string]struct{}{}
	for page := 0; ; page++ {
		if page >= maxPages {
			return nil, fail(span, utils.NewKindError(utils.ErrValidation, op, "entity listing exceeded page limit", nil))
		}
		var resp entitiesPage
		if err := c.getJSON(ctx, op, entitiesPath, query, &resp); err != nil {
			return nil, fail(span, err)
		}
		for _, dto := range resp.Entities {
			entities = append(entities, dto.toModel())
		}
		if resp.NextPageKey == "" {
			break
		}
		if _, dup := seen[resp.NextPageKey]; dup {
			return nil, fail(span, utils.NewKindError(utils.ErrValidation, op, "entity listing repeated a page key", nil))
		}
		seen[resp.NextPageKey] = struct{}{}
		// Follow-up pages carry only the page key.
		query = url.Values{"nextPageKey": {resp.NextPageKey}}
	}

	span.SetAttributes(attribute.Int("monitoring.entities", len(entities)))
	c.logger.Debug("fetched entities", slog.Int("count", len(entities)))

	if c.catalogTTL > 0 && len(entities) > 0 {
		if payload, err := json.Marshal(entities); err == nil {
			_ = c.cache.Set(ctx, cacheKey, payload, c.catalogTTL)
		}
	}
	return entities, nil
}

// FetchProblems lists problems that started within window. An empty entityID
// returns the unscoped listing.
func (c *MonitoringClient) FetchProblems(ctx context.Context, entityID string, window time.Duration) ([]models.Problem, error) {
	const op = "monitoring.FetchProblems"
	if err := c.ready(op); err != nil {
		return nil, err
	}
	ctx, span := c.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("entity.id", entityID),
		attribute.String("monitoring.from", utils.RelativeWindow(window)),
	))
	defer span.End()

	query := url.Values{}
	query.Set("from", utils.RelativeWindow(window))
	query.Set("fields", problemFields)
	query.Set("pageSize", strconv.Itoa(c.pageSize))
	if entityID != "" {
		query.Set("entitySelector", fmt.Sprintf("entityId(%q)", entityID))
	}

	var problems []models.Problem
	for page := 0; ; page++ {
		if page >= maxPages {
			return nil, fail(span, utils.NewKindError(utils.ErrValidation, op, "problem listing exceeded page limit", nil))
		}
		var resp problemsPage
		if err := c.getJSON(ctx, op, problemsPath, query, &resp); err != nil {
			return nil, fail(span, err)
		}
		for _, dto := range resp.Problems {
			problems = append(problems, dto.toModel())
		}
		if resp.NextPageKey == "" {
			break
		}
		query = url.Values{"nextPageKey": {resp.NextPageKey}}
	}

	span.SetAttributes(attribute.Int("monitoring.problems", len(problems)))
	return problems, nil
}

// FetchMetrics returns the service metric summary for entityID over window.
func (c *MonitoringClient) FetchMetrics(ctx context.Context, entityID string, window time.Duration) (*models.MetricBundle, error) {
	const op = "monitoring.FetchMetrics"
	if err := c.ready(op); err != nil {
		return nil, err
	}
	if entityID == "" {
		return nil, utils.NewKindError(utils.ErrValidation, op, "entity id is required", nil)
	}
	ctx, span := c.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("entity.id", entityID)))
	defer span.End()

	cacheKey := cache.MetricsKey(entityID, window)
	if c.metricsTTL > 0 {
		if data, err := c.cache.Get(ctx, cacheKey); err == nil {
			var cached models.MetricBundle
			if err := json.Unmarshal(data, &cached); err == nil {
				span.SetAttributes(attribute.Bool("cache.hit", true))
				return &cached, nil
			}
		}
	}

	query := url.Values{}
	query.Set("metricSelector", strings.Join(metricKeys, ","))
	query.Set("resolution", "Inf")
	query.Set("from", utils.RelativeWindow(window))
	query.Set("entitySelector", fmt.Sprintf("entityId(%q)", entityID))

	var resp metricsResponse
	if err := c.getJSON(ctx, op, metricsPath, query, &resp); err != nil {
		return nil, fail(span, err)
	}
	bundle := resp.toBundle(entityID, window)

	if c.metricsTTL > 0 {
		if payload, err := json.Marshal(bundle); err == nil {
			_ = c.cache.Set(ctx, cacheKey, payload, c.metricsTTL)
		}
	}
	return bundle, nil
}

func (c *MonitoringClient) ready(op string) error {
	if c == nil {
		return utils.NewKindError(utils.ErrUpstreamUnavailable, op, "monitoring client not initialised", nil)
	}
	if c.baseURL == "" {
		return utils.NewKindError(utils.ErrUpstreamUnavailable, op, "monitoring base URL not configured", nil)
	}
	return nil
}

func (c *MonitoringClient) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *MonitoringClient) getJSON(ctx context.Context, op, p string, query url.Values, out any) error {
	endpoint := c.resolvePath(p)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return utils.NewKindError(utils.ErrValidation, op, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Api-Token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.NewKindError(utils.ErrUpstreamUnavailable, op, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return utils.NewKindError(utils.ErrUpstreamUnavailable, op,
			fmt.Sprintf("monitoring returned %s", resp.Status),
			fmt.Errorf("%s", strings.TrimSpace(string(snippet))))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return utils.NewKindError(utils.ErrValidation, op, "decode response", err)
	}
	return nil
}

func (d entityDTO) toModel() models.Entity {
	e := models.Entity{ID: d.EntityID, Name: d.DisplayName, Type: d.Type}
	if raw, ok := d.Properties["aliases"]; ok {
		var aliases []string
		if err := json.Unmarshal(raw, &aliases); err == nil {
			e.Aliases = aliases
		}
	}
	if e.Type == "" {
		e.Type = entityTypeOf(e.ID)
	}
	return e
}

func (d problemDTO) toModel() models.Problem {
	p := models.Problem{
		ID:        d.ProblemID,
		DisplayID: d.DisplayID,
		Title:     d.Title,
		Status:    parseStatus(d.Status),
		Severity:  models.ParseSeverity(d.SeverityLevel),
		StartTime: utils.FromUnixMillis(d.StartTime),
		EndTime:   utils.FromUnixMillis(d.EndTime),
	}
	if d.RootCauseEntity != nil {
		p.RootCause = d.RootCauseEntity.toRef()
	}
	p.Impacted = toRefs(d.ImpactedEntities)
	p.Affected = toRefs(d.AffectedEntities)
	return p
}

func (s entityStubDTO) toRef() models.EntityRef {
	return models.EntityRef{ID: s.EntityID.ID, Name: s.Name}
}

func toRefs(in []entityStubDTO) []models.EntityRef {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.EntityRef, 0, len(in))
	for _, s := range in {
		out = append(out, s.toRef())
	}
	return out
}

func parseStatus(raw string) models.ProblemStatus {
	switch strings.ToUpper(raw) {
	case "CLOSED", "RESOLVED":
		return models.StatusResolved
	}
	return models.StatusOpen
}

// toBundle folds the query result into summary values. Counts are summed and
// the remaining metrics averaged when more than one sample comes back.
func (r metricsResponse) toBundle(entityID string, window time.Duration) *models.MetricBundle {
	bundle := &models.MetricBundle{EntityID: entityID, Window: window}
	for _, result := range r.Result {
		var (
			points []models.MetricPoint
			sum    float64
			n      int
		)
		for _, data := range result.Data {
			for i, v := range data.Values {
				if v == nil {
					continue
				}
				sum += *v
				n++
				var ts time.Time
				if i < len(data.Timestamps) {
					ts = utils.FromUnixMillis(data.Timestamps[i])
				}
				points = append(points, models.MetricPoint{Timestamp: ts, Value: *v})
			}
		}
		if n == 0 {
			continue
		}
		avg := sum / float64(n)
		switch result.MetricID {
		case MetricErrorCount:
			bundle.ErrorCount = &sum
		case MetricRequestCount:
			bundle.RequestCount = &sum
		case MetricResponseTime:
			// Reported in microseconds.
			ms := avg / 1000
			bundle.ResponseTimeMS = &ms
		case MetricFailureRate:
			pct := avg * 100
			bundle.FailureRatePct = &pct
		default:
			continue
		}
		if len(points) > 1 {
			if bundle.Series == nil {
				bundle.Series = make(map[string][]models.MetricPoint)
			}
			bundle.Series[seriesNames[result.MetricID]] = points
		}
	}
	return bundle
}

func entityTypeOf(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return ""
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
