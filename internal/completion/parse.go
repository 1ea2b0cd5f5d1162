package completion

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-chatops/internal/models"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

type wireExtraction struct {
	IntentType  *string  `json:"intent_type"`
	ServiceName *string  `json:"service_name"`
	Timeframe   *string  `json:"timeframe"`
	Focus       *string  `json:"focus"`
	Confidence  *float64 `json:"confidence"`
}

// ParseExtraction validates raw model output. Code fences and prose around the
// first JSON object are tolerated; anything else is a validation error.
func ParseExtraction(raw string) (Extraction, error) {
	const op = "completion.ParseExtraction"
	body, ok := firstJSONObject(stripFences(raw))
	if !ok {
		return Extraction{}, utils.NewKindError(utils.ErrValidation, op, "no JSON object in output", nil)
	}
	var wire wireExtraction
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return Extraction{}, utils.NewKindError(utils.ErrValidation, op, "malformed JSON", err)
	}
	if wire.IntentType == nil {
		return Extraction{}, utils.NewKindError(utils.ErrValidation, op, "intent_type missing", nil)
	}
	intent, ok := models.ParseIntentType(strings.TrimSpace(*wire.IntentType))
	if !ok {
		return Extraction{}, utils.NewKindError(utils.ErrValidation, op, fmt.Sprintf("intent_type %q not recognised", *wire.IntentType), nil)
	}
	if wire.Confidence == nil || *wire.Confidence < 0 || *wire.Confidence > 1 {
		return Extraction{}, utils.NewKindError(utils.ErrValidation, op, "confidence missing or outside [0,1]", nil)
	}
	out := Extraction{IntentType: intent, Confidence: *wire.Confidence}
	if wire.Focus != nil {
		focus, ok := models.ParseFocus(strings.ToLower(strings.TrimSpace(*wire.Focus)))
		if !ok {
			return Extraction{}, utils.NewKindError(utils.ErrValidation, op, fmt.Sprintf("focus %q not recognised", *wire.Focus), nil)
		}
		out.Focus = focus
	}
	if wire.ServiceName != nil {
		out.ServiceName = strings.TrimSpace(*wire.ServiceName)
	}
	if wire.Timeframe != nil {
		out.Timeframe = strings.TrimSpace(*wire.Timeframe)
	}
	return out, nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

// firstJSONObject returns the first balanced {...} span, honouring strings.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
