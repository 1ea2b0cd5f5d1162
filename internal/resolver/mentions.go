package resolver

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/miradorstack/mirador-chatops/internal/catalog"
	"github.com/miradorstack/mirador-chatops/internal/models"
)

const minMentionKey = 2

type span struct {
	start, end int
	pos        int
	key        string
}

// Mention is an entity named in an utterance. Offset is -1 when the entity
// was resolved from leftover words rather than found verbatim.
type Mention struct {
	Entity models.Entity
	Text   string
	Offset int
}

// Mentions returns the distinct entities whose name or alias appears as a whole
// word sequence in text, in order of first appearance. Overlapping hits keep
// the longest key, so "order-service" does not also report an "order" alias.
func (r *Resolver) Mentions(text string) []Mention {
	return r.MentionsIn(r.Snapshot(), text)
}

// MentionsIn is Mentions evaluated against snap.
func (r *Resolver) MentionsIn(snap *catalog.Snapshot, text string) []Mention {
	haystack := strings.ToLower(text)
	if strings.TrimSpace(haystack) == "" || snap.Len() == 0 {
		return nil
	}

	var spans []span
	snap.Each(func(pos int, e models.Entity) {
		keys := append([]string{e.Name}, e.Aliases...)
		for _, key := range keys {
			needle := strings.ToLower(strings.TrimSpace(key))
			if utf8.RuneCountInString(needle) < minMentionKey {
				continue
			}
			for offset := 0; offset < len(haystack); {
				i := strings.Index(haystack[offset:], needle)
				if i < 0 {
					break
				}
				start := offset + i
				end := start + len(needle)
				if wordBoundary(haystack, start, end) {
					spans = append(spans, span{start: start, end: end, pos: pos, key: key})
				}
				offset = start + 1
			}
		}
	})
	if len(spans) == 0 {
		return nil
	}

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		if spans[i].end != spans[j].end {
			return spans[i].end > spans[j].end
		}
		return spans[i].pos < spans[j].pos
	})

	var kept []span
	for _, s := range spans {
		overlapped := false
		for _, k := range kept {
			if s.start < k.end && k.start < s.end {
				overlapped = true
				break
			}
		}
		if !overlapped {
			kept = append(kept, s)
		}
	}

	seen := make(map[int]struct{}, len(kept))
	entities := snap.Entities()
	out := make([]Mention, 0, len(kept))
	source := text
	if len(source) != len(haystack) {
		source = haystack
	}
	for _, k := range kept {
		if _, dup := seen[k.pos]; dup {
			continue
		}
		seen[k.pos] = struct{}{}
		out = append(out, Mention{Entity: entities[k.pos], Text: source[k.start:k.end], Offset: k.start})
	}
	return out
}

func wordBoundary(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_'
}
