package generation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// fencePattern matches markdown code fences with an optional language tag.
var fencePattern = regexp.MustCompile("(?s)```(\\w*)\\s*\\n(.+?)\\n?```")

// ExtractJSON returns the first JSON object or array found in a model response.
// Fenced ```json blocks are preferred over bare JSON embedded in prose.
func ExtractJSON(response string) (string, error) {
	for _, m := range fencePattern.FindAllStringSubmatch(response, -1) {
		lang := strings.ToLower(m[1])
		if lang != "" && lang != "json" {
			continue
		}
		body := strings.TrimSpace(m[2])
		if json.Valid([]byte(body)) && (strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[")) {
			return body, nil
		}
	}

	for _, span := range balancedSpans(response) {
		candidate := response[span[0]:span[1]]
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: no JSON object or array in model output", ErrInvalidResponse)
}

// DecodeJSON extracts JSON from response and unmarshals it into out.
func DecodeJSON(response string, out any) error {
	raw, err := ExtractJSON(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// balancedSpans returns the [start, end) offsets of every balanced bracket
// expression in s, ordered by start, in a single pass. String literals are
// skipped; JSON strings cannot hold a raw newline, so one ends a string that
// was opened by stray prose.
func balancedSpans(s string) [][2]int {
	var spans [][2]int
	var open []int
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case len(open) == 0:
			if c == '{' || c == '[' {
				open = append(open, i)
			}
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case inString && c == '\n':
			inString = false
		case c == '"':
			inString = !inString
		case inString:
		case c == '{' || c == '[':
			open = append(open, i)
		case c == '}' || c == ']':
			spans = append(spans, [2]int{open[len(open)-1], i + 1})
			open = open[:len(open)-1]
		}
	}
	slices.SortFunc(spans, func(a, b [2]int) int { return a[0] - b[0] })
	return spans
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
