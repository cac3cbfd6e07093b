// Package extract recovers a JSON object from free-form model output.
//
// Gemini in JSON mode usually returns plain JSON, but models still wrap
// payloads in markdown fences or prose often enough that every response
// goes through the same recovery ladder.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// FromText attempts, in order: a fenced code block, the whole text as
// JSON, and the substring from the first '{' to the last '}'. It never
// fails; when nothing parses the original text is preserved under
// "raw_text" so content-shape problems stay visible to the caller.
func FromText(text string) map[string]any {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		if obj, ok := tryParse(m[1]); ok {
			return obj
		}
	}

	if obj, ok := tryParse(text); ok {
		return obj
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		if obj, ok := tryParse(text[start : end+1]); ok {
			return obj
		}
	}

	return map[string]any{"raw_text": text}
}

func tryParse(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}
