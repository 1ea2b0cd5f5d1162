package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/miradorstack/mirador-chatops/internal/api"
	"github.com/miradorstack/mirador-chatops/internal/models"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeTurn prints a turn payload as plain text, or as JSON when asJSON is set.
func writeTurn(w io.Writer, p api.TurnPayload, asJSON bool) error {
	if asJSON {
		return writeJSON(w, p)
	}
	switch {
	case p.Error != nil:
		fmt.Fprintf(w, "error (%s): %s\n", p.Error.Kind, p.Error.Message)
		if p.Intent != nil {
			fmt.Fprintf(w, "  understood: %s\n", describeIntent(*p.Intent, p.Entity))
		}
	case p.Clarification != nil:
		writeClarification(w, *p.Clarification)
	case p.Help != nil:
		writeHelp(w, *p.Help)
	case p.Intent != nil && p.Intent.Type == string(models.IntentListServices):
		writeServices(w, p.Services)
	case p.Intent == nil || p.Intent.Type == string(models.IntentUnknown):
		fmt.Fprintln(w, "I did not understand that. Type \"help\" to see what I can answer.")
		writeSuggestions(w, p.Suggestions)
	default:
		fmt.Fprintln(w, describeIntent(*p.Intent, p.Entity))
		if p.Degraded {
			fmt.Fprintln(w, "  (service not in catalog; matched problems by name only)")
		}
		writeCorrelations(w, p.Correlations, p.Skipped)
		writeMetrics(w, p.Metrics, p.Insights)
		writeSuggestions(w, p.Suggestions)
	}
	return nil
}

func describeIntent(in api.IntentPayload, entity *models.Entity) string {
	target := in.Mention
	if entity != nil {
		target = entity.Name
	}
	var b strings.Builder
	b.WriteString(strings.ReplaceAll(in.Type, "_", " "))
	if target != "" {
		fmt.Fprintf(&b, " for %s", target)
	}
	if in.Timeframe != "" {
		fmt.Fprintf(&b, " over the last %s", in.Timeframe)
	}
	if in.Focus != "" {
		fmt.Fprintf(&b, " (focus: %s)", in.Focus)
	}
	return b.String()
}

func writeClarification(w io.Writer, c api.ClarificationPayload) {
	switch c.Reason {
	case string(models.ReasonAmbiguousIntent):
		fmt.Fprintln(w, "Did you want to:")
		for i, t := range c.CandidateIntents {
			fmt.Fprintf(w, "  %d. %s\n", i+1, strings.ReplaceAll(t, "_", " "))
		}
	default:
		fmt.Fprintln(w, "Which service do you mean?")
		if len(c.Candidates) == 0 {
			return
		}
		for i, cand := range c.Candidates {
			fmt.Fprintf(w, "  %d. %s (%.2f)\n", i+1, cand.Name, cand.Score)
		}
	}
	fmt.Fprintln(w, "Reply with a number or a name.")
}

func writeHelp(w io.Writer, h api.HelpPayload) {
	fmt.Fprintln(w, "I can answer:")
	for _, t := range h.Intents {
		fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(t, "_", " "))
		for _, ex := range h.Examples[t] {
			fmt.Fprintf(w, "    e.g. %q\n", ex)
		}
	}
}

func writeServices(w io.Writer, services []models.Entity) {
	if len(services) == 0 {
		fmt.Fprintln(w, "No services found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tALIASES")
	for _, s := range services {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Name, strings.Join(s.Aliases, ", "))
	}
	_ = tw.Flush()
}

func writeSuggestions(w io.Writer, suggestions []models.Candidate) {
	if len(suggestions) == 0 {
		return
	}
	names := make([]string, 0, len(suggestions))
	for _, s := range suggestions {
		names = append(names, s.Name)
	}
	fmt.Fprintf(w, "  did you mean: %s\n", strings.Join(names, ", "))
}

func writeCorrelations(w io.Writer, results []api.CorrelationPayload, skipped int) {
	if len(results) == 0 {
		fmt.Fprintln(w, "  no problems in this window")
	}
	grouped := make(map[string][]api.CorrelationPayload)
	for _, r := range results {
		grouped[r.Category] = append(grouped[r.Category], r)
	}
	for _, cat := range models.Categories {
		group := grouped[string(cat)]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(w, "  %s (%d)\n", strings.ToUpper(string(cat)), len(group))
		for _, r := range group {
			id := r.DisplayID
			if id == "" {
				id = r.ProblemID
			}
			fmt.Fprintf(w, "    %s  %s  [%s, %s]\n", id, r.Title, r.Severity, strings.ReplaceAll(r.Relevance, "_", " "))
		}
	}
	if skipped > 0 {
		fmt.Fprintf(w, "  (%d malformed problems skipped)\n", skipped)
	}
}

func writeMetrics(w io.Writer, m *api.MetricsPayload, insights *api.InsightsPayload) {
	if m == nil {
		return
	}
	fmt.Fprintf(w, "  metrics over %s:\n", m.Window)
	rows := map[string]*float64{
		"errors":           m.ErrorCount,
		"response time ms": m.ResponseTimeMS,
		"requests":         m.RequestCount,
		"failure rate %":   m.FailureRatePct,
	}
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := rows[k]; v != nil {
			fmt.Fprintf(w, "    %-18s %.2f\n", k, *v)
		} else {
			fmt.Fprintf(w, "    %-18s n/a\n", k)
		}
	}
	if insights == nil {
		return
	}
	fmt.Fprintf(w, "  status: %s\n", insights.Status)
	for _, c := range insights.Concerns {
		fmt.Fprintf(w, "    concern: %s\n", c)
	}
	for _, s := range insights.Spikes {
		fmt.Fprintf(w, "    spike: %s=%.2f at %s (z=%.1f)\n", s.Metric, s.Value, s.Timestamp, s.Score)
	}
}
