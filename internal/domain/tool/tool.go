// Package tool defines the fixed catalog of side-effecting operations the
// model may invoke, and detection of embedded tool calls in model output.
package tool

// Category groups tools by the kind of side effect they have.
type Category string

const (
	CategoryFile    Category = "file"
	CategoryShell   Category = "shell"
	CategoryNetwork Category = "network"
	CategorySearch  Category = "search"
)

// Tool names in the catalog.
const (
	ReadFile       = "read_file"
	WriteFile      = "write_file"
	ListDirectory  = "list_directory"
	ExecuteCommand = "execute_command"
	HTTPRequest    = "http_request"
	WebSearch      = "web_search"
)

// Definition describes one tool and the JSON Schema of its arguments.
type Definition struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Parameters  string   `json:"parameters"`
	Category    Category `json:"category"`
}

// Call is a detected tool invocation.
type Call struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Result is the outcome of executing a Call.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

// Ok builds a successful result.
func Ok(output string) Result {
	return Result{Success: true, Output: output}
}

// Fail builds a failed result.
func Fail(msg string) Result {
	return Result{Success: false, Error: msg}
}

// String returns the argument as a string, or "" when missing or mistyped.
func (c *Call) String(key string) string {
	s, _ := c.Arguments[key].(string)
	return s
}

// Int returns the argument as an int, or def when missing or mistyped.
func (c *Call) Int(key string, def int) int {
	switch v := c.Arguments[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// StringMap returns an object argument whose values are strings.
// Non-string values are skipped.
func (c *Call) StringMap(key string) map[string]string {
	raw, ok := c.Arguments[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
