package llm

import "strings"

// ExtractObject returns the first balanced {...} substring of s. Braces inside
// JSON string literals are ignored.
func ExtractObject(s string) (string, error) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end := ObjectEnd(s, start); end > 0 {
			return s[start:end], nil
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", ErrNoJSONObject
}

// ObjectEnd scans from s[start] == '{' and returns the index just past the
// matching closing brace, or -1 if the object is unbalanced.
func ObjectEnd(s string, start int) int {
	if start < 0 || start >= len(s) || s[start] != '{' {
		return -1
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}
