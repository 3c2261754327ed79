package llmapi

import (
	"context"
	"strings"
	"time"

	"github.com/Strob0t/taskrunner/internal/port/llm"
	"github.com/Strob0t/taskrunner/internal/resilience"
)

const anthropicVersion = "2023-06-01"

// Anthropic calls the Messages API. It has no JSON response mode, so the
// prompt alone carries the output contract.
type Anthropic struct {
	http   httpClient
	apiKey string
}

// NewAnthropic creates an Anthropic client.
func NewAnthropic(baseURL, apiKey string, timeout time.Duration) *Anthropic {
	return &Anthropic{
		http:   newHTTPClient("anthropic", strings.TrimRight(baseURL, "/"), timeout),
		apiKey: apiKey,
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Anthropic) SetBreaker(b *resilience.Breaker) { c.http.breaker = b }

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Call implements llm.Provider.
func (c *Anthropic) Call(ctx context.Context, prompt, model string, opts llm.CallOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	req := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      opts.System,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}

	var resp anthropicResponse
	if err := c.http.postJSON(ctx, "/messages", headers, req, &resp); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
