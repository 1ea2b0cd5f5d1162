package completion

import (
	"fmt"
	"strings"
)

const maxServiceHints = 50

const systemPrompt = `You classify operator questions for a monitoring chat assistant.
Reply with a single JSON object and nothing else:
{"intent_type": "...", "service_name": "...", "timeframe": "...", "focus": "...", "confidence": 0.0}

intent_type is one of:
- check_health: overall state of one service
- check_problems: open or recent problems, errors, incidents for one service
- check_metrics: error counts, response time, request volume, failure rate for one service
- list_services: which services are monitored
- help: what the assistant can do
- unknown: anything else

service_name is the service exactly as the operator wrote it, or "" if none.
timeframe is a Go duration such as "30m", "2h", "168h", a phrase such as "last week" or "today", or "" if none.
focus is one of "errors", "performance", "problems" or "".
confidence is your certainty between 0 and 1.`

func userPrompt(req Request) string {
	var b strings.Builder
	if len(req.Services) > 0 {
		hints := req.Services
		if len(hints) > maxServiceHints {
			hints = hints[:maxServiceHints]
		}
		fmt.Fprintf(&b, "Known services: %s\n", strings.Join(hints, ", "))
	}
	if req.LastEntity != "" {
		fmt.Fprintf(&b, "Previously discussed service: %s\n", req.LastEntity)
	}
	if req.LastIntent != "" {
		fmt.Fprintf(&b, "Previous intent: %s\n", req.LastIntent)
	}
	fmt.Fprintf(&b, "Operator query: %s", req.Utterance)
	return b.String()
}
