package llmapi

import (
	"context"
	"strings"
	"time"

	"github.com/Strob0t/taskrunner/internal/port/llm"
	"github.com/Strob0t/taskrunner/internal/resilience"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint. It backs
// the openai, ollama and litellm providers.
type OpenAI struct {
	http   httpClient
	apiKey string
	// jsonMode is false for backends that reject response_format.
	jsonMode bool
}

// NewOpenAI creates an OpenAI-compatible client.
func NewOpenAI(name, baseURL, apiKey string, timeout time.Duration) *OpenAI {
	return &OpenAI{
		http:     newHTTPClient(name, strings.TrimRight(baseURL, "/"), timeout),
		apiKey:   apiKey,
		jsonMode: true,
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *OpenAI) SetBreaker(b *resilience.Breaker) { c.http.breaker = b }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Call implements llm.Provider.
func (c *OpenAI) Call(ctx context.Context, prompt, model string, opts llm.CallOptions) (string, error) {
	req := chatRequest{
		Model:       model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.System != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: opts.System})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: prompt})
	if opts.JSONMode && c.jsonMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	var resp chatResponse
	if err := c.http.postJSON(ctx, "/chat/completions", headers, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
