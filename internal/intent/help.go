package intent

import "github.com/miradorstack/mirador-chatops/internal/models"

// Help returns the fixed description of what the assistant understands.
func Help() *models.HelpCatalog {
	return &models.HelpCatalog{
		Intents: []models.IntentType{
			models.IntentCheckHealth,
			models.IntentCheckProblems,
			models.IntentCheckMetrics,
			models.IntentListServices,
			models.IntentHelp,
		},
		Examples: map[models.IntentType][]string{
			models.IntentCheckHealth:   {"check ordercontroller", "how is payment-api doing today?"},
			models.IntentCheckProblems: {"any problems with checkout in the last 2h?", "show incidents for cart yesterday"},
			models.IntentCheckMetrics:  {"response time of frontend this week", "request rate for payment-api last 30m"},
			models.IntentListServices:  {"list services", "which services are monitored?"},
			models.IntentHelp:          {"help", "what can you do?"},
		},
	}
}
