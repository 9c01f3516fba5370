package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSONObject returns the first balanced {...} span of text.
func ExtractJSONObject(text string) (string, bool) {
	return extractBalanced(stripFences(text), '{', '}')
}

// ExtractJSONArray returns the first balanced [...] span of text.
func ExtractJSONArray(text string) (string, bool) {
	return extractBalanced(stripFences(text), '[', ']')
}

// DecodeObject unmarshals the first JSON object found in text into dst.
func DecodeObject(text string, dst any) error {
	return decodeFirst(text, '{', '}', dst)
}

// DecodeArray unmarshals the first JSON array found in text into dst.
func DecodeArray(text string, dst any) error {
	return decodeFirst(text, '[', ']', dst)
}

func decodeFirst(text string, open, close byte, dst any) error {
	body := stripFences(text)
	var lastErr error
	for offset := 0; offset < len(body); {
		idx := strings.IndexByte(body[offset:], open)
		if idx < 0 {
			break
		}
		start := offset + idx
		span, ok := extractBalanced(body[start:], open, close)
		if !ok {
			break
		}
		err := json.Unmarshal([]byte(span), dst)
		if err == nil {
			return nil
		}
		lastErr = err
		offset = start + 1
	}
	if lastErr != nil {
		return fmt.Errorf("%w: %v", ErrParse, lastErr)
	}
	return fmt.Errorf("%w: no %c...%c block in response", ErrParse, open, close)
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```JSON", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// extractBalanced scans from the first open bracket and returns the span up
// to its matching close, ignoring brackets inside string literals.
func extractBalanced(text string, open, close byte) (string, bool) {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
