package resolver

import (
	"sort"
	"strings"

	"github.com/miradorstack/mirador-chatops/internal/catalog"
	"github.com/miradorstack/mirador-chatops/internal/models"
)

// Tier identifies which matching strategy produced a candidate.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierAlias
	TierSubstring
	TierFuzzy
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierAlias:
		return "alias"
	case TierSubstring:
		return "substring"
	case TierFuzzy:
		return "fuzzy"
	}
	return "none"
}

// Outcome is the shape of a resolution.
type Outcome int

const (
	OutcomeNoMatch Outcome = iota
	OutcomeResolved
	OutcomeAmbiguous
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeAmbiguous:
		return "ambiguous"
	}
	return "no_match"
}

const (
	aliasScore     = 0.95
	substringFloor = 0.6
	minSubstring   = 3
)

// Config tunes ranking and the ambiguity decision.
type Config struct {
	AmbiguityMargin float64
	MinConfidence   float64
	FuzzyMinScore   float64
	TopK            int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{AmbiguityMargin: 0.2, MinConfidence: 0.7, FuzzyMinScore: 0.5, TopK: 5}
}

// Match is one ranked candidate.
type Match struct {
	Entity  models.Entity
	Score   float64
	Tier    Tier
	Matched string
	pos     int
}

// Result is the outcome of resolving one mention.
type Result struct {
	Outcome    Outcome
	Tier       Tier
	Best       Match
	Candidates []Match
}

// ToCandidates converts ranked matches into clarification candidates.
func ToCandidates(matches []Match) []models.Candidate {
	out := make([]models.Candidate, 0, len(matches))
	for _, m := range matches {
		out = append(out, models.Candidate{EntityID: m.Entity.ID, Name: m.Entity.Name, Score: m.Score})
	}
	return out
}

// SnapshotProvider exposes the currently published catalog.
type SnapshotProvider interface {
	Current() *catalog.Snapshot
}

// Resolver maps free text onto catalog entities.
type Resolver struct {
	catalog SnapshotProvider
	cfg     Config
}

// New creates a resolver reading from provider.
func New(provider SnapshotProvider, cfg Config) *Resolver {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	return &Resolver{catalog: provider, cfg: cfg}
}

// Config returns the active tuning.
func (r *Resolver) Config() Config {
	return r.cfg
}

// Snapshot returns the catalog snapshot the resolver currently reads.
func (r *Resolver) Snapshot() *catalog.Snapshot {
	if r.catalog == nil {
		return catalog.Empty()
	}
	return r.catalog.Current()
}

// Resolve resolves text against the current snapshot.
func (r *Resolver) Resolve(text string) Result {
	return r.ResolveIn(r.Snapshot(), text)
}

// ResolveIn evaluates the tiers in order against snap; the first non-empty tier wins.
func (r *Resolver) ResolveIn(snap *catalog.Snapshot, text string) Result {
	folded := fold(text)
	normalized := normalize(text)
	if normalized == "" || snap.Len() == 0 {
		return Result{Outcome: OutcomeNoMatch}
	}

	tiers := []struct {
		tier  Tier
		score func(e models.Entity) (float64, string)
	}{
		{TierExact, func(e models.Entity) (float64, string) {
			if equalKey(folded, normalized, e.Name) {
				return 1, e.Name
			}
			return 0, ""
		}},
		{TierAlias, func(e models.Entity) (float64, string) {
			for _, alias := range e.Aliases {
				if equalKey(folded, normalized, alias) {
					return aliasScore, alias
				}
			}
			return 0, ""
		}},
		{TierSubstring, func(e models.Entity) (float64, string) {
			return bestKey(e, func(key string) float64 { return containment(normalized, normalize(key)) })
		}},
		{TierFuzzy, func(e models.Entity) (float64, string) {
			score, key := bestKey(e, func(key string) float64 { return similarity(normalized, normalize(key)) })
			if score < r.cfg.FuzzyMinScore {
				return 0, ""
			}
			return score, key
		}},
	}

	for _, t := range tiers {
		var matches []Match
		snap.Each(func(pos int, e models.Entity) {
			if score, key := t.score(e); score > 0 {
				matches = append(matches, Match{Entity: e, Score: score, Tier: t.tier, Matched: key, pos: pos})
			}
		})
		if len(matches) == 0 {
			continue
		}
		return r.decide(t.tier, matches)
	}
	return Result{Outcome: OutcomeNoMatch}
}

// Suggest returns up to TopK entities closest to text regardless of the fuzzy floor.
func (r *Resolver) Suggest(text string) []Match {
	return r.SuggestIn(r.Snapshot(), text)
}

// SuggestIn is Suggest evaluated against snap.
func (r *Resolver) SuggestIn(snap *catalog.Snapshot, text string) []Match {
	normalized := normalize(text)
	if normalized == "" {
		return nil
	}
	var matches []Match
	snap.Each(func(pos int, e models.Entity) {
		score, key := bestKey(e, func(k string) float64 { return similarity(normalized, normalize(k)) })
		if score > 0 {
			matches = append(matches, Match{Entity: e, Score: score, Tier: TierFuzzy, Matched: key, pos: pos})
		}
	})
	rank(matches)
	return cloneTop(matches, r.cfg.TopK)
}

func (r *Resolver) decide(tier Tier, matches []Match) Result {
	rank(matches)
	res := Result{Tier: tier, Best: matches[0]}
	res.Best.Entity = res.Best.Entity.Clone()
	if len(matches) > 1 || tier == TierFuzzy {
		res.Candidates = cloneTop(matches, r.cfg.TopK)
	}
	if ambiguous(matches, r.cfg) {
		res.Outcome = OutcomeAmbiguous
		if res.Candidates == nil {
			res.Candidates = cloneTop(matches, r.cfg.TopK)
		}
		return res
	}
	res.Outcome = OutcomeResolved
	return res
}

// ambiguous holds iff the top two scores differ by less than the margin or the
// best score is under the confidence floor. matches must be ranked.
func ambiguous(matches []Match, cfg Config) bool {
	if len(matches) == 0 {
		return false
	}
	if matches[0].Score < cfg.MinConfidence {
		return true
	}
	return len(matches) > 1 && matches[0].Score-matches[1].Score < cfg.AmbiguityMargin
}

// rank orders by score descending, then catalog insertion order.
func rank(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].pos < matches[j].pos
	})
}

func cloneTop(matches []Match, k int) []Match {
	if len(matches) > k {
		matches = matches[:k]
	}
	out := make([]Match, len(matches))
	for i, m := range matches {
		m.Entity = m.Entity.Clone()
		out[i] = m
	}
	return out
}

func equalKey(folded, normalized, key string) bool {
	if key == "" {
		return false
	}
	return folded == fold(key) || normalized == normalize(key)
}

func bestKey(e models.Entity, score func(string) float64) (float64, string) {
	best, bestKey := score(e.Name), e.Name
	for _, alias := range e.Aliases {
		if s := score(alias); s > best {
			best, bestKey = s, alias
		}
	}
	if best <= 0 {
		return 0, ""
	}
	return best, bestKey
}

// containment scores mention/key containment by the length ratio of the shorter
// to the longer string, lifted above substringFloor.
func containment(mention, key string) float64 {
	if key == "" || mention == key {
		return 0
	}
	shorter, longer := mention, key
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) < minSubstring || !strings.Contains(longer, shorter) {
		return 0
	}
	ratio := float64(len(shorter)) / float64(len(longer))
	return substringFloor + (1-substringFloor)*ratio
}
