package patterns

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	stopwords = map[string]struct{}{}
	// entityNouns often belong to a service name ("order service") and are
	// dropped only by Residual.
	entityNouns = map[string]struct{}{}
)

func init() {
	for _, w := range strings.Fields(`service services svc app application`) {
		entityNouns[w] = struct{}{}
	}
	for _, w := range strings.Fields(`a an the of for on in at to with from by about over
		is are was were be been am do does did can could would should will shall may might
		me my we our us you your it its this that these those there their them they i
		what whats which who how hows why when where any anything some all
		and or but also then just please pls thanks thank hey hi hello ok
		show tell give get see check look looking into going on happening doing
		status health healthy
		last past previous this since minutes minute hours hour days day weeks week
		now currently right up has have had`) {
		stopwords[w] = struct{}{}
	}
}

// Residual removes every rule match and filler word from text and returns the
// remaining words, which are treated as a candidate service mention.
func (t *Table) Residual(text string) string {
	return t.residual(text, false)
}

// ResidualPhrase is Residual keeping words such as "service" that may be part
// of a name. It is empty when nothing but those words remains.
func (t *Table) ResidualPhrase(text string) string {
	if t.residual(text, false) == "" {
		return ""
	}
	return t.residual(text, true)
}

func (t *Table) residual(text string, keepNouns bool) string {
	rest := strings.ToLower(text)
	for _, r := range t.Timeframes {
		rest = blank(r.re, rest)
	}
	for _, r := range t.Intents {
		rest = blank(r.re, rest)
	}
	for _, r := range t.Focus {
		rest = blank(r.re, rest)
	}
	words := strings.FieldsFunc(rest, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' || r == ':')
	})
	kept := words[:0]
	for _, w := range words {
		w = strings.Trim(w, "-_.:")
		if w == "" {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, noun := entityNouns[w]; noun && !keepNouns {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func blank(re *regexp.Regexp, s string) string {
	if re == nil {
		return s
	}
	return re.ReplaceAllString(s, " ")
}

// OrdinalLast indexes the last element of a candidate list.
const OrdinalLast = -1

var ordinalRules = []struct {
	re    *regexp.Regexp
	index int
}{
	{regexp.MustCompile(`(?i)\b(first|1st)\b`), 0},
	{regexp.MustCompile(`(?i)\b(second|2nd)\b`), 1},
	{regexp.MustCompile(`(?i)\b(third|3rd)\b`), 2},
	{regexp.MustCompile(`(?i)\b(fourth|4th)\b`), 3},
	{regexp.MustCompile(`(?i)\b(fifth|5th)\b`), 4},
	{regexp.MustCompile(`(?i)\b(the\s+)?last\s+one\b`), OrdinalLast},
	{regexp.MustCompile(`(?i)\b(that|this|the same)\s+(one|service)\b`), 0},
}

var (
	hashOrdinal = regexp.MustCompile(`#\s*(\d+)\b`)
	bareOrdinal = regexp.MustCompile(`^\s*(?:number\s+)?(\d+)\s*[.!?]?\s*$`)
)

// Ordinal detects a positional back-reference such as "the first one",
// "that one", "#2" or a bare "2". Indexes are zero-based.
func Ordinal(text string) (int, bool) {
	for _, re := range []*regexp.Regexp{hashOrdinal, bareOrdinal} {
		if m := re.FindStringSubmatch(text); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil && n > 0 {
				return n - 1, true
			}
		}
	}
	for _, r := range ordinalRules {
		if r.re.MatchString(text) {
			return r.index, true
		}
	}
	return 0, false
}
