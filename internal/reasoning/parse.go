package reasoning

import (
	"encoding/json"
	"strings"
)

// decodeModelJSON unmarshals a model response that should be a JSON object,
// tolerating markdown code fences and leading prose before the first brace.
func decodeModelJSON(text string, v any) error {
	return json.Unmarshal([]byte(extractJSON(text)), v)
}

func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		return strings.TrimSpace(text)
	}
	if i := strings.IndexAny(text, "{["); i > 0 {
		text = text[i:]
	}
	return text
}
