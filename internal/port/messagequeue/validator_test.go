package messagequeue

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    string
		wantErr string
	}{
		{"execute ok", SubjectTaskExecute, `{"task_id":"t1"}`, ""},
		{"execute with requester", SubjectTaskExecute, `{"task_id":"t1","requested_by":"api"}`, ""},
		{"execute missing id", SubjectTaskExecute, `{}`, "schema validation failed"},
		{"execute empty id", SubjectTaskExecute, `{"task_id":""}`, "schema validation failed"},
		{"created ok", SubjectTaskCreated, `{"task_id":"t1","project_id":"p1","title":"Fix"}`, ""},
		{"created missing project", SubjectTaskCreated, `{"task_id":"t1"}`, "schema validation failed"},
		{"cancel ok", SubjectTaskCancel, `{"task_id":"t1","reason":"user"}`, ""},
		{"cancel wrong type", SubjectTaskCancel, `{"task_id":42}`, "schema validation failed"},
		{"unknown subject", "unknown.subject", `{"foo":"bar"}`, ""},
		{"invalid json", SubjectTaskExecute, `{not valid json`, "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.subject, []byte(tt.data))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
