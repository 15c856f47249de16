package analysis

import (
	"encoding/json"
	"strings"
)

// scanDelimited reads the bracketed block whose opening bracket sits at
// s[start]. Brackets inside double quoted strings are ignored and a
// backslash escapes the next byte within a string. It returns the body
// between the outer brackets and the index just past the closing bracket.
// ok is false when the block never closes or a closer does not match its
// opener, which is how a truncated list looks.
func scanDelimited(s string, start int) (body string, end int, ok bool) {
	if start >= len(s) || (s[start] != '[' && s[start] != '{') {
		return "", start, false
	}

	var closers []byte
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '[':
			closers = append(closers, ']')
		case '{':
			closers = append(closers, '}')
		case ']', '}':
			if closers[len(closers)-1] != c {
				return "", i, false
			}
			closers = closers[:len(closers)-1]
			if len(closers) == 0 {
				return s[start+1 : i], i + 1, true
			}
		}
	}
	return "", len(s), false
}

// splitTopLevel splits s on sep where sep is outside strings and nested
// brackets.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	inString := false
	last := 0

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}

// cutTopLevel is strings.Cut restricted to the first sep outside strings
func cutTopLevel(s string, sep byte) (before, after string, found bool) {
	parts := splitTopLevel(s, sep)
	if len(parts) == 1 {
		return s, "", false
	}
	return parts[0], s[len(parts[0])+1:], true
}

// scanString reads a JSON string literal starting at s[start] and returns
// its decoded value. ok is false for an unterminated literal.
func scanString(s string, start int) (value string, end int, ok bool) {
	if start >= len(s) || s[start] != '"' {
		return "", start, false
	}
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return unquoteLoose(s[start : i+1]), i + 1, true
		}
	}
	return "", len(s), false
}

// unquoteLoose trims s and decodes it when it is a valid JSON string
// literal. Anything else just loses its surrounding quotes.
func unquoteLoose(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		var decoded string
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			return strings.TrimSpace(decoded)
		}
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return strings.TrimSpace(strings.Trim(s, `"`))
}

// stripQuotes removes every double quote and trims the result
func stripQuotes(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
}
