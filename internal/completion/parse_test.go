package completion

import (
	"errors"
	"testing"

	"github.com/miradorstack/mirador-chatops/internal/models"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

func TestParseExtractionAcceptsFencedOutput(t *testing.T) {
	raw := "```json\n{\"intent_type\": \"check_problems\", \"service_name\": \"checkout\", \"timeframe\": \"last week\", \"focus\": \"errors\", \"confidence\": 0.9}\n```"
	got, err := ParseExtraction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.IntentType != models.IntentCheckProblems || got.ServiceName != "checkout" || got.Timeframe != "last week" || got.Focus != models.FocusErrors || got.Confidence != 0.9 {
		t.Fatalf("unexpected extraction: %+v", got)
	}
}

func TestParseExtractionSkipsSurroundingProse(t *testing.T) {
	raw := `Sure! Here it is: {"intent_type":"help","service_name":"a}b","confidence":1} hope that helps {"x":1}`
	got, err := ParseExtraction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.IntentType != models.IntentHelp || got.ServiceName != "a}b" {
		t.Fatalf("unexpected extraction: %+v", got)
	}
}

func TestParseExtractionRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no json":          "I think they want health",
		"unbalanced":       `{"intent_type": "help"`,
		"missing intent":   `{"confidence": 0.5}`,
		"unknown intent":   `{"intent_type": "dance", "confidence": 0.5}`,
		"missing conf":     `{"intent_type": "help"}`,
		"conf above one":   `{"intent_type": "help", "confidence": 1.5}`,
		"unknown focus":    `{"intent_type": "help", "confidence": 0.5, "focus": "vibes"}`,
		"wrong field type": `{"intent_type": 3, "confidence": 0.5}`,
	}
	for name, raw := range cases {
		_, err := ParseExtraction(raw)
		if !errors.Is(err, utils.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
}
