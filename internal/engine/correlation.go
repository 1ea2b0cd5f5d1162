package engine

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-chatops/internal/catalog"
	"github.com/miradorstack/mirador-chatops/internal/models"
)

// Target identifies what problems are correlated against. An empty EntityID
// switches the filter to degraded text matching over Names.
type Target struct {
	EntityID string
	Names    []string
}

// CorrelationReport is the ordered, categorised outcome of one correlation.
type CorrelationReport struct {
	Results  []models.CorrelationResult
	Skipped  int
	Degraded bool
}

// CorrelationFilter classifies problem records by their causal relationship to
// a target entity.
type CorrelationFilter struct {
	logger       *slog.Logger
	highSeverity models.Severity
}

// NewCorrelationFilter constructs a filter. Impacted problems at or above
// highSeverity are critical.
func NewCorrelationFilter(logger *slog.Logger, highSeverity models.Severity) *CorrelationFilter {
	if logger == nil {
		logger = slog.Default()
	}
	if highSeverity == models.SeverityUnknown {
		highSeverity = models.SeverityHigh
	}
	return &CorrelationFilter{logger: logger, highSeverity: highSeverity}
}

// Correlate classifies problems against target. Records that contradict snap
// are skipped and counted; the rest are returned in category order. The
// output depends only on the inputs.
func (f *CorrelationFilter) Correlate(problems []models.Problem, target Target, snap *catalog.Snapshot) CorrelationReport {
	report := CorrelationReport{Degraded: target.EntityID == ""}
	names := foldNames(target.Names)
	seen := make(map[string]struct{}, len(problems))

	for _, p := range problems {
		if reason := inconsistency(p, seen, snap); reason != "" {
			report.Skipped++
			f.logger.Debug("problem skipped", slog.String("problem", p.ID), slog.String("reason", reason))
			continue
		}
		seen[p.ID] = struct{}{}

		var kind models.RelevanceKind
		if report.Degraded {
			kind = relevanceByName(p, names)
		} else {
			kind = relevanceByID(p, target.EntityID)
		}
		if kind == "" {
			continue
		}
		report.Results = append(report.Results, models.CorrelationResult{
			ProblemID: p.ID,
			DisplayID: p.DisplayID,
			Title:     p.Title,
			Status:    p.Status,
			Severity:  p.Severity,
			Relevance: kind,
			Category:  Categorize(kind, p.Severity, p.Status, f.highSeverity),
			Degraded:  report.Degraded,
			StartTime: p.StartTime,
		})
	}

	sortResults(report.Results)
	return report
}

// Categorize maps relevance, severity and status to a category. Resolved
// problems always land in the resolved bucket.
func Categorize(kind models.RelevanceKind, severity models.Severity, status models.ProblemStatus, high models.Severity) models.Category {
	if status == models.StatusResolved {
		return models.CategoryResolved
	}
	switch kind {
	case models.RelevanceRootCause:
		return models.CategoryCritical
	case models.RelevanceDirectlyImpacted:
		if severity >= high {
			return models.CategoryCritical
		}
		return models.CategoryImportant
	default:
		return models.CategoryRelated
	}
}

func relevanceByID(p models.Problem, entityID string) models.RelevanceKind {
	if p.RootCause.ID == entityID {
		return models.RelevanceRootCause
	}
	if containsRef(p.Impacted, func(r models.EntityRef) bool { return r.ID == entityID }) {
		return models.RelevanceDirectlyImpacted
	}
	if containsRef(p.Affected, func(r models.EntityRef) bool { return r.ID == entityID }) {
		return models.RelevanceIndirectlyAffected
	}
	return ""
}

// relevanceByName applies the same precedence to display names; a match on
// the title alone counts as indirectly affected.
func relevanceByName(p models.Problem, names []string) models.RelevanceKind {
	if len(names) == 0 {
		return ""
	}
	byName := func(r models.EntityRef) bool { return mentionsAny(r.Name, names) }
	switch {
	case byName(p.RootCause):
		return models.RelevanceRootCause
	case containsRef(p.Impacted, byName):
		return models.RelevanceDirectlyImpacted
	case containsRef(p.Affected, byName), mentionsAny(p.Title, names):
		return models.RelevanceIndirectlyAffected
	}
	return ""
}

// inconsistency reports why a record cannot be trusted, or "" if it can. A
// record is inconsistent when it has no id, repeats an id, or references an
// entity of a catalogued type that the snapshot does not contain.
func inconsistency(p models.Problem, seen map[string]struct{}, snap *catalog.Snapshot) string {
	if p.ID == "" {
		return "missing id"
	}
	if _, dup := seen[p.ID]; dup {
		return "duplicate id"
	}
	if snap == nil || snap.Len() == 0 {
		return ""
	}
	refs := make([]models.EntityRef, 0, 1+len(p.Impacted)+len(p.Affected))
	refs = append(refs, p.RootCause)
	refs = append(refs, p.Impacted...)
	refs = append(refs, p.Affected...)
	for _, r := range refs {
		if r.ID == "" || snap.Contains(r.ID) {
			continue
		}
		if snap.HasType(entityTypeOf(r.ID)) {
			return "unknown entity " + r.ID
		}
	}
	return ""
}

// entityTypeOf extracts the type prefix of ids shaped like SERVICE-1A2B.
func entityTypeOf(id string) string {
	i := strings.IndexByte(id, '-')
	if i <= 0 {
		return ""
	}
	return strings.ToUpper(id[:i])
}

func containsRef(refs []models.EntityRef, match func(models.EntityRef) bool) bool {
	for _, r := range refs {
		if match(r) {
			return true
		}
	}
	return false
}

func foldNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if len(n) >= 2 {
			out = append(out, n)
		}
	}
	return out
}

func mentionsAny(text string, names []string) bool {
	if text == "" {
		return false
	}
	text = strings.ToLower(text)
	for _, n := range names {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

var categoryRank = func() map[models.Category]int {
	rank := make(map[models.Category]int, len(models.Categories))
	for i, c := range models.Categories {
		rank[c] = i
	}
	return rank
}()

// sortResults orders by category, open before resolved, severity descending,
// then problem id.
func sortResults(results []models.CorrelationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if categoryRank[a.Category] != categoryRank[b.Category] {
			return categoryRank[a.Category] < categoryRank[b.Category]
		}
		aOpen, bOpen := a.Status != models.StatusResolved, b.Status != models.StatusResolved
		if aOpen != bOpen {
			return aOpen
		}
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		return a.ProblemID < b.ProblemID
	})
}
