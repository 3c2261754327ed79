package messagequeue

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var compiled = mustCompile()

func mustCompile() map[string]*jsonschema.Schema {
	out := make(map[string]*jsonschema.Schema, len(subjectSchemas))
	for subject, src := range subjectSchemas {
		out[subject] = jsonschema.MustCompileString("queue://"+subject+".json", src)
	}
	return out
}

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects only need to be valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	sch, ok := compiled[subject]
	if !ok {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode %s: %w", subject, err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}
