package patterns

import (
	"time"

	"github.com/miradorstack/mirador-chatops/internal/models"
)

// Default returns the built-in rule table, compiled.
func Default() *Table {
	t := &Table{
		Intents: []Rule{
			{ID: "help", Intent: models.IntentHelp, Strength: 0.95,
				Pattern: `^\s*(help|commands|\?)\s*[?!.]*\s*$|\b(what can you do|how do i use|show( me)? (the )?commands)\b`},
			{ID: "list-services", Intent: models.IntentListServices, Strength: 0.9,
				Pattern: `\b(list|show( me)?|what|which|available|all)(\s+(the|all|of|our|my|available|monitored))*\s+services\b|\bwhat do we (have|monitor)\b`},
			{ID: "follow-up", Intent: IntentFollowUp, Strength: 0.75,
				Pattern: `^\s*(and|also|what about|how about)\b`},
			{ID: "metrics", Intent: models.IntentCheckMetrics, Strength: 0.85,
				Pattern: `\b(metrics?|performance|perf|stats|statistics|kpis?|latency|response times?|throughput|request (count|rate)|cpu|memory|how fast|slow(ness)?)\b`},
			{ID: "problems", Intent: models.IntentCheckProblems, Strength: 0.85,
				Pattern: `\b(problems?|issues?|incidents?|alerts?|errors?|failing|failures?|broken|down|outages?|wrong|root cause|troubleshoot|diagnose|debug|anomal(y|ies))\b`},
			{ID: "health", Intent: models.IntentCheckHealth, Strength: 0.75,
				Pattern: `\b(health|healthy|status|check|how('s|\s+is|\s+are)|what'?s\s+(up|going on)|going on|happening|look(ing)?\s+(at|into)|investigate|doing|ok(ay)?)\b`},
		},
		Focus: []FocusRule{
			{ID: "errors", Focus: models.FocusErrors,
				Pattern: `\b(errors?|exceptions?|failures?|failing|failure rate|5\d\d)\b`},
			{ID: "performance", Focus: models.FocusPerformance,
				Pattern: `\b(slow(ness)?|latency|performance|perf|response times?|throughput|fast)\b`},
			{ID: "problems", Focus: models.FocusProblems,
				Pattern: `\b(problems?|issues?|incidents?|alerts?|outages?)\b`},
		},
		Timeframes: []PhraseRule{
			{ID: "count", Kind: KindCount,
				Pattern: `\b(?:(?:last|past|previous)\s+)?(\d+)\s*(m|mins?|minutes?|h|hrs?|hours?|d|days?|w|wks?|weeks?)\b`},
			{ID: "last-hour", Kind: KindFixed, Duration: time.Hour,
				Pattern: `\b(last|past|previous)\s+hour\b`},
			{ID: "last-day", Kind: KindFixed, Duration: 24 * time.Hour,
				Pattern: `\b(last|past|previous)\s+day\b`},
			{ID: "week", Kind: KindFixed, Duration: 7 * 24 * time.Hour,
				Pattern: `\b(last|past|this|previous)\s+week\b`},
			{ID: "month", Kind: KindFixed, Duration: 30 * 24 * time.Hour,
				Pattern: `\b(last|past|this|previous)\s+month\b`},
			{ID: "today", Kind: KindSinceMidnight, Pattern: `\btoday\b`},
			{ID: "yesterday", Kind: KindSinceYesterday, Pattern: `\byesterday\b`},
			{ID: "recent", Kind: KindDefault, Pattern: `\b(recent|recently|lately|right now|currently)\b`},
		},
	}
	if err := t.Compile(); err != nil {
		panic("patterns: built-in table does not compile: " + err.Error())
	}
	return t
}
