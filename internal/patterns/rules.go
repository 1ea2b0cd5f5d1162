package patterns

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/mirador-chatops/internal/models"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

// IntentFollowUp marks rules whose match reuses the previous turn's intent type.
const IntentFollowUp models.IntentType = "follow_up"

// Timeframe rule kinds.
const (
	KindFixed          = "fixed"
	KindCount          = "count"
	KindSinceMidnight  = "since_midnight"
	KindSinceYesterday = "since_yesterday"
	KindDefault        = "default"
)

// Rule maps a text pattern to an intent type with a pattern strength in [0,1].
type Rule struct {
	ID       string            `yaml:"id"`
	Pattern  string            `yaml:"pattern"`
	Intent   models.IntentType `yaml:"intent"`
	Strength float64           `yaml:"strength"`

	re *regexp.Regexp
}

// Match reports whether the rule matches text.
func (r Rule) Match(text string) bool {
	return r.re != nil && r.re.MatchString(text)
}

// FocusRule maps a text pattern to a focus.
type FocusRule struct {
	ID      string       `yaml:"id"`
	Pattern string       `yaml:"pattern"`
	Focus   models.Focus `yaml:"focus"`

	re *regexp.Regexp
}

// PhraseRule maps a time phrase to a concrete duration.
type PhraseRule struct {
	ID       string        `yaml:"id"`
	Pattern  string        `yaml:"pattern"`
	Kind     string        `yaml:"kind"`
	Duration time.Duration `yaml:"duration"`

	re *regexp.Regexp
}

// Table is the ordered, declarative fallback parser. Evaluation short-circuits
// on the first matching rule of each list.
type Table struct {
	Intents    []Rule       `yaml:"intents"`
	Focus      []FocusRule  `yaml:"focus"`
	Timeframes []PhraseRule `yaml:"timeframes"`
}

// Compile validates and compiles every pattern. Patterns are case-insensitive.
func (t *Table) Compile() error {
	for i := range t.Intents {
		r := &t.Intents[i]
		if r.Intent != IntentFollowUp {
			if _, ok := models.ParseIntentType(string(r.Intent)); !ok {
				return fmt.Errorf("intent rule %s: unknown intent %q", r.ID, r.Intent)
			}
		}
		if r.Strength <= 0 || r.Strength > 1 {
			return fmt.Errorf("intent rule %s: strength %v outside (0,1]", r.ID, r.Strength)
		}
		re, err := compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("intent rule %s: %w", r.ID, err)
		}
		r.re = re
	}
	for i := range t.Focus {
		r := &t.Focus[i]
		if _, ok := models.ParseFocus(string(r.Focus)); !ok || r.Focus == models.FocusNone {
			return fmt.Errorf("focus rule %s: unknown focus %q", r.ID, r.Focus)
		}
		re, err := compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("focus rule %s: %w", r.ID, err)
		}
		r.re = re
	}
	for i := range t.Timeframes {
		r := &t.Timeframes[i]
		switch r.Kind {
		case KindFixed:
			if r.Duration <= 0 {
				return fmt.Errorf("timeframe rule %s: fixed rules need a positive duration", r.ID)
			}
		case KindCount, KindSinceMidnight, KindSinceYesterday, KindDefault:
		default:
			return fmt.Errorf("timeframe rule %s: unknown kind %q", r.ID, r.Kind)
		}
		re, err := compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("timeframe rule %s: %w", r.ID, err)
		}
		if r.Kind == KindCount && re.NumSubexp() < 2 {
			return fmt.Errorf("timeframe rule %s: count rules need (number)(unit) groups", r.ID)
		}
		r.re = re
	}
	return nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	return regexp.Compile("(?i)" + pattern)
}

// MatchIntent returns the first intent rule matching text.
func (t *Table) MatchIntent(text string) (Rule, bool) {
	for _, r := range t.Intents {
		if r.Match(text) {
			return r, true
		}
	}
	return Rule{}, false
}

// MatchFocus returns the focus of the first matching focus rule.
func (t *Table) MatchFocus(text string) models.Focus {
	for _, r := range t.Focus {
		if r.re != nil && r.re.MatchString(text) {
			return r.Focus
		}
	}
	return models.FocusNone
}

// Timeframe resolves the first time phrase in text. ok is false when text
// names no timeframe.
func (t *Table) Timeframe(text string, now time.Time, fallback time.Duration) (d time.Duration, phrase string, ok bool) {
	for _, r := range t.Timeframes {
		if r.re == nil {
			continue
		}
		groups := r.re.FindStringSubmatch(text)
		if groups == nil {
			continue
		}
		switch r.Kind {
		case KindFixed:
			return r.Duration, groups[0], true
		case KindDefault:
			return fallback, groups[0], true
		case KindSinceMidnight:
			return utils.SinceMidnight(now), groups[0], true
		case KindSinceYesterday:
			return utils.SinceMidnight(now) + 24*time.Hour, groups[0], true
		case KindCount:
			n, err := strconv.Atoi(groups[1])
			unit, known := unitDuration(groups[2])
			if err != nil || n <= 0 || !known {
				continue
			}
			return time.Duration(n) * unit, groups[0], true
		}
	}
	return 0, "", false
}

// NormalizePhrase converts a timeframe phrase from a structured extraction
// into a duration. Empty input means no timeframe was given.
func (t *Table) NormalizePhrase(phrase string, now time.Time, fallback time.Duration) (time.Duration, bool, error) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return 0, false, nil
	}
	if d, _, ok := t.Timeframe(phrase, now, fallback); ok {
		return d, true, nil
	}
	if d, err := time.ParseDuration(phrase); err == nil && d > 0 {
		return d, true, nil
	}
	return 0, false, fmt.Errorf("unrecognised timeframe %q", phrase)
}

func unitDuration(unit string) (time.Duration, bool) {
	switch strings.ToLower(unit) {
	case "m", "min", "mins", "minute", "minutes":
		return time.Minute, true
	case "h", "hr", "hrs", "hour", "hours":
		return time.Hour, true
	case "d", "day", "days":
		return 24 * time.Hour, true
	case "w", "wk", "wks", "week", "weeks":
		return 7 * 24 * time.Hour, true
	}
	return 0, false
}
