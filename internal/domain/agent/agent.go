// Package agent defines the Agent domain entity.
package agent

import (
	"strconv"
	"time"
)

// Config keys understood by the model router.
const (
	ConfigProvider    = "provider"
	ConfigModel       = "model"
	ConfigTemperature = "temperature"
	ConfigMaxTokens   = "max_tokens"
)

// Agent represents an AI developer assigned to tasks.
type Agent struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"project_id"`
	Name      string            `json:"name"`
	Email     string            `json:"email,omitempty"`
	Config    map[string]string `json:"config"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ModelConfig is the parsed model selection from an agent's config.
// Zero values mean "use the provider default".
type ModelConfig struct {
	Provider    string
	Model       string
	Temperature *float64
	MaxTokens   int
}

// ModelConfig parses the model-related keys of the agent config. Malformed
// numeric values are ignored.
func (a *Agent) ModelConfig() ModelConfig {
	mc := ModelConfig{
		Provider: a.Config[ConfigProvider],
		Model:    a.Config[ConfigModel],
	}
	if v, ok := a.Config[ConfigTemperature]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			mc.Temperature = &f
		}
	}
	if v, ok := a.Config[ConfigMaxTokens]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			mc.MaxTokens = n
		}
	}
	return mc
}

// CommitEmail returns the agent's commit email, deriving one from the id when unset.
func (a *Agent) CommitEmail() string {
	if a.Email != "" {
		return a.Email
	}
	return a.ID + "@agents.taskrunner.local"
}
