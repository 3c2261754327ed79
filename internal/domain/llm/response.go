// Package llm defines the strict response contract expected from every model
// provider, plus the extraction and healing passes applied to raw output.
package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Strob0t/taskrunner/internal/domain"
)

// ResponseShape restates the strict JSON object every provider must return.
const ResponseShape = `{"thought": string, "command": string, "args": string[], "finished": boolean}`

// ErrNoJSONObject is returned when raw output contains no balanced {...} object.
var ErrNoJSONObject = errors.New("no JSON object found in response")

// ModelResponse is the healed, typed form of a provider response.
type ModelResponse struct {
	Thought  string   `json:"thought"`
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	Finished bool     `json:"finished"`
}

// HasCommand reports whether the response names a command to run.
func (r *ModelResponse) HasCommand() bool {
	return strings.TrimSpace(r.Command) != ""
}

// CommandLine joins command and args with single spaces. Args are not quoted,
// so the line may use shell constructs such as pipes and &&.
func (r *ModelResponse) CommandLine() string {
	parts := make([]string, 0, len(r.Args)+1)
	parts = append(parts, strings.TrimSpace(r.Command))
	parts = append(parts, r.Args...)
	return strings.Join(parts, " ")
}

// Parse extracts the first balanced JSON object from raw, decodes it and heals
// missing or mistyped fields. Errors wrap domain.ErrModelResponse.
func Parse(raw string) (*ModelResponse, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty response", domain.ErrModelResponse)
	}

	obj, err := ExtractObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrModelResponse, err)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %w", domain.ErrModelResponse, err)
	}

	resp := Normalize(fields)
	return &resp, nil
}

// Normalize applies the field-level fallback rules:
//   - thought, command: missing or non-string -> ""
//   - args: missing, non-array, or any non-string element -> []
//   - finished: missing or non-boolean -> false
func Normalize(fields map[string]any) ModelResponse {
	resp := ModelResponse{Args: []string{}}

	if v, ok := fields["thought"].(string); ok {
		resp.Thought = v
	}
	if v, ok := fields["command"].(string); ok {
		resp.Command = v
	}
	if v, ok := fields["finished"].(bool); ok {
		resp.Finished = v
	}
	if raw, ok := fields["args"].([]any); ok {
		args := make([]string, 0, len(raw))
		for _, a := range raw {
			s, isStr := a.(string)
			if !isStr {
				args = nil
				break
			}
			args = append(args, s)
		}
		if args != nil {
			resp.Args = args
		}
	}

	return resp
}
