package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// stripFences removes markdown code fences that models wrap JSON output in.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	endIdx := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	return strings.Join(lines[1:endIdx], "\n")
}

// DecodeJSON parses a model response into v, tolerating markdown code fences
// and leading prose before the first brace or bracket.
func DecodeJSON(text string, v any) error {
	text = stripFences(text)
	if text == "" {
		return fmt.Errorf("empty response")
	}

	// Some models preface the JSON with a sentence. Trim to the first
	// opening brace or bracket.
	if i := strings.IndexAny(text, "{["); i > 0 {
		text = text[i:]
	}

	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("parsing model response: %w", err)
	}
	return nil
}
