package llm

import (
	"encoding/json"
	"strings"
)

// FlattenContent converts a raw completion-API content value into plain
// text. Providers return content as a plain string, an array of typed
// parts, or a structured object; all textual fragments (under "text" or
// "content" keys, at any level) are concatenated. Non-textual fragments
// contribute nothing. Unrecognized shapes yield "".
func FlattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return flattenValue(v)
}

func flattenValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		var b strings.Builder
		for _, part := range t {
			b.WriteString(flattenValue(part))
		}
		return b.String()
	case map[string]any:
		if text, ok := t["text"]; ok {
			return flattenValue(text)
		}
		if content, ok := t["content"]; ok {
			return flattenValue(content)
		}
		return ""
	default:
		return ""
	}
}
