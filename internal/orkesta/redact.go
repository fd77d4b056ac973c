package orkesta

import (
	"encoding/json"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// sensitiveKeys lists payload field names whose values must never reach the
// logs verbatim: raw card data, credentials and bearer material.
var sensitiveKeys = map[string]struct{}{
	"number":        {},
	"card_number":   {},
	"cvv":           {},
	"cvc":           {},
	"client_secret": {},
	"access_token":  {},
	"authorization": {},
}

// RedactJSON returns a copy of raw with sensitive fields replaced by a
// placeholder, recursively across nested objects and arrays. Non-JSON input
// is replaced wholesale rather than logged as-is.
func RedactJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return json.RawMessage(`"[unparseable]"`)
	}
	out, err := json.Marshal(redactValue(value))
	if err != nil {
		return json.RawMessage(`"[unparseable]"`)
	}
	return out
}

func redactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		for key, nested := range typed {
			if _, sensitive := sensitiveKeys[strings.ToLower(key)]; sensitive {
				typed[key] = redactedPlaceholder
				continue
			}
			typed[key] = redactValue(nested)
		}
		return typed
	case []any:
		for i, nested := range typed {
			typed[i] = redactValue(nested)
		}
		return typed
	default:
		return value
	}
}
