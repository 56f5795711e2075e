package llm

import (
	"regexp"
	"strings"
)

// Pre-compiled regex patterns for JSON extraction from LLM responses.
var (
	// jsonBlockPattern matches JSON inside markdown code blocks: ```json { ... } ```
	jsonBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	// jsonObjectPattern matches any JSON object (greedy fallback).
	jsonObjectPattern = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON extracts a JSON object from an LLM response string.
// It handles markdown code blocks, JavaScript-style comments, and
// trailing commas, which models produce often enough to matter.
func ExtractJSON(content string) string {
	var raw string
	if matches := jsonBlockPattern.FindStringSubmatch(content); len(matches) > 1 {
		raw = matches[1]
	} else if match := jsonObjectPattern.FindString(content); match != "" {
		raw = match
	}
	if raw == "" {
		return ""
	}
	return cleanJSON(raw)
}

// cleanJSON removes JavaScript-style comments and trailing commas.
func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		cleaned = append(cleaned, stripLineComment(line))
	}
	result := strings.Join(cleaned, "\n")
	return trailingCommaPattern.ReplaceAllString(result, "$1")
}

// stripLineComment removes a // comment from a JSON line, respecting
// string values so URLs survive.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}

	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}

// CompletePartial closes an incomplete JSON object prefix so it can be
// unmarshaled while the model is still generating. It trims leading
// non-JSON text, balances braces and brackets, terminates an open
// string, and drops a dangling key or comma. Returns "" when the input
// holds no object start.
func CompletePartial(partial string) string {
	start := strings.IndexByte(partial, '{')
	if start < 0 {
		return ""
	}
	s := partial[start:]

	var stack []byte
	inString := false
	escaped := false
	lastComplete := 0 // index just past the last structurally complete token

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
				lastComplete = i + 1
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, ch)
			lastComplete = i + 1
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			lastComplete = i + 1
		case ',', ':':
			// Token boundary; the preceding value is complete.
		default:
			if !isSpace(ch) {
				// Bare literal (number, true, false, null) in progress.
				lastComplete = i + 1
			}
		}
	}

	if inString {
		// Terminate the open string and keep it as a value.
		s += `"`
		lastComplete = len(s)
	}

	s = s[:lastComplete]
	// Drop a dangling key (`"key"` with no value) or separator.
	s = strings.TrimRight(s, " \t\n\r")
	s = strings.TrimSuffix(s, ",")
	if strings.HasSuffix(s, ":") {
		trimmed := strings.TrimRight(strings.TrimSuffix(s, ":"), " \t\n\r")
		if strings.HasSuffix(trimmed, `"`) {
			if open := openingQuote(trimmed, len(trimmed)-1); open >= 0 {
				trimmed = strings.TrimRight(trimmed[:open], " \t\n\r")
			}
		}
		s = strings.TrimSuffix(trimmed, ",")
	}
	// A trailing string preceded by '{' or ',' is a key with no value yet.
	if strings.HasSuffix(s, `"`) {
		if open := openingQuote(s, len(s)-1); open >= 0 {
			prefix := strings.TrimRight(s[:open], " \t\n\r")
			if strings.HasSuffix(prefix, "{") || strings.HasSuffix(prefix, ",") {
				s = strings.TrimSuffix(prefix, ",")
			}
		}
	}

	// Re-balance after trimming.
	stack = stack[:0]
	inString = false
	escaped = false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, ch)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// openingQuote finds the opening quote of the string that closes at end,
// walking backward and accounting for escapes. Returns -1 if not found.
func openingQuote(s string, end int) int {
	for i := end - 1; i >= 0; i-- {
		if s[i] != '"' {
			continue
		}
		// Count preceding backslashes; an even count means unescaped.
		backslashes := 0
		for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
			backslashes++
		}
		if backslashes%2 == 0 {
			return i
		}
	}
	return -1
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}
