package tool

import (
	"encoding/json"
	"strings"

	"github.com/Strob0t/taskrunner/internal/domain/llm"
)

const callPrefix = "use_tool("

// Detect finds the first well-formed use_tool("<name>", {<json>}) call in text.
// Calls whose name or argument object cannot be parsed are skipped, so a
// syntactically invalid call yields (nil, false) rather than an error.
func Detect(text string) (*Call, bool) {
	for offset := 0; ; {
		idx := strings.Index(text[offset:], callPrefix)
		if idx < 0 {
			return nil, false
		}
		pos := offset + idx + len(callPrefix)
		if call, ok := parseCall(text, pos); ok {
			return call, true
		}
		offset = pos
	}
}

func parseCall(s string, pos int) (*Call, bool) {
	pos = skipSpace(s, pos)
	if pos >= len(s) || s[pos] != '"' {
		return nil, false
	}
	nameEnd := stringEnd(s, pos)
	if nameEnd < 0 {
		return nil, false
	}
	var name string
	if err := json.Unmarshal([]byte(s[pos:nameEnd]), &name); err != nil || name == "" {
		return nil, false
	}

	pos = skipSpace(s, nameEnd)
	if pos >= len(s) || s[pos] != ',' {
		return nil, false
	}
	pos = skipSpace(s, pos+1)

	objEnd := llm.ObjectEnd(s, pos)
	if objEnd < 0 {
		return nil, false
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(s[pos:objEnd]), &args); err != nil {
		return nil, false
	}

	pos = skipSpace(s, objEnd)
	if pos >= len(s) || s[pos] != ')' {
		return nil, false
	}

	return &Call{Name: name, Arguments: args}, true
}

// stringEnd returns the index just past the JSON string literal starting at s[pos].
func stringEnd(s string, pos int) int {
	escaped := false
	for i := pos + 1; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == '"':
			return i + 1
		}
	}
	return -1
}

func skipSpace(s string, pos int) int {
	for pos < len(s) && (s[pos] == ' ' || s[pos] == '\t' || s[pos] == '\n' || s[pos] == '\r') {
		pos++
	}
	return pos
}
