package conversation

import (
	"time"

	"github.com/miradorstack/mirador-chatops/internal/models"
)

// ApplyPatch returns ctx with patch applied. Fields present in the patch
// overwrite the stored values; PushEntities is ordered most-recent-first and is
// front-inserted with de-duplication, truncating the list to maxRecent.
func ApplyPatch(ctx models.ConversationContext, patch models.ContextPatch, maxRecent int, now time.Time) models.ConversationContext {
	next := ctx.Clone()
	if patch.EntityID != nil {
		next.LastEntityID = *patch.EntityID
	}
	if patch.Timeframe != nil {
		next.LastTimeframe = *patch.Timeframe
	}
	if patch.Intent != nil {
		next.LastIntent = *patch.Intent
	}
	for i := len(patch.PushEntities) - 1; i >= 0; i-- {
		next.RecentEntities = pushFront(next.RecentEntities, patch.PushEntities[i])
	}
	if maxRecent > 0 && len(next.RecentEntities) > maxRecent {
		next.RecentEntities = next.RecentEntities[:maxRecent]
	}
	if patch.ClearPending {
		next.Pending = nil
	}
	if patch.Pending != nil {
		next.Pending = patch.Pending.Clone()
	}
	next.TurnCount++
	next.UpdatedAt = now
	return next
}

func pushFront(list []string, id string) []string {
	if id == "" {
		return list
	}
	out := make([]string, 0, len(list)+1)
	out = append(out, id)
	for _, existing := range list {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
