package intent

import (
	"strings"

	"github.com/miradorstack/mirador-chatops/internal/catalog"
	"github.com/miradorstack/mirador-chatops/internal/models"
	"github.com/miradorstack/mirador-chatops/internal/resolver"
)

// stripMentions blanks the verbatim entity names out of text so intent and
// timeframe rules never fire on words inside a service name.
func stripMentions(text string, mentions []resolver.Mention) string {
	if len(mentions) == 0 {
		return text
	}
	buf := []byte(strings.ToLower(text))
	for _, m := range mentions {
		end := m.Offset + len(m.Text)
		if m.Offset < 0 || end > len(buf) {
			continue
		}
		for i := m.Offset; i < end; i++ {
			buf[i] = ' '
		}
	}
	return string(buf)
}

// recentCandidates lists the live recent entities, most recent first.
func recentCandidates(snap *catalog.Snapshot, ids []string) []models.Candidate {
	out := make([]models.Candidate, 0, len(ids))
	for _, id := range ids {
		if e, ok := snap.Get(id); ok {
			out = append(out, models.Candidate{EntityID: e.ID, Name: e.Name, Score: 1})
		}
	}
	return out
}

func livePool(snap *catalog.Snapshot, pool []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, 0, len(pool))
	for _, c := range pool {
		if snap.Contains(c.EntityID) {
			out = append(out, c)
		}
	}
	return out
}
