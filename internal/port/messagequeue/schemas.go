package messagequeue

// TaskExecutePayload is the schema for tasks.execute messages.
type TaskExecutePayload struct {
	TaskID      string `json:"task_id"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// TaskCreatedPayload is the schema for tasks.created messages.
type TaskCreatedPayload struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title,omitempty"`
}

// TaskCancelPayload is the schema for tasks.cancel messages.
type TaskCancelPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

var subjectSchemas = map[string]string{
	SubjectTaskExecute: `{
		"type": "object",
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"requested_by": {"type": "string"}
		},
		"required": ["task_id"]
	}`,
	SubjectTaskCreated: `{
		"type": "object",
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"project_id": {"type": "string", "minLength": 1},
			"title": {"type": "string"}
		},
		"required": ["task_id", "project_id"]
	}`,
	SubjectTaskCancel: `{
		"type": "object",
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"reason": {"type": "string"}
		},
		"required": ["task_id"]
	}`,
}
