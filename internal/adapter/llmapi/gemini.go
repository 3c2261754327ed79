package llmapi

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/Strob0t/taskrunner/internal/port/llm"
	"github.com/Strob0t/taskrunner/internal/resilience"
)

// Gemini calls the generateContent endpoint of the Generative Language API.
type Gemini struct {
	http   httpClient
	apiKey string
}

// NewGemini creates a Gemini client.
func NewGemini(baseURL, apiKey string, timeout time.Duration) *Gemini {
	return &Gemini{
		http:   newHTTPClient("gemini", strings.TrimRight(baseURL, "/"), timeout),
		apiKey: apiKey,
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Gemini) SetBreaker(b *resilience.Breaker) { c.http.breaker = b }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Call implements llm.Provider.
func (c *Gemini) Call(ctx context.Context, prompt, model string, opts llm.CallOptions) (string, error) {
	req := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxTokens,
		},
	}
	if opts.System != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: opts.System}}}
	}
	if opts.JSONMode {
		req.GenerationConfig.ResponseMimeType = "application/json"
	}

	headers := map[string]string{"x-goog-api-key": c.apiKey}
	path := "/models/" + url.PathEscape(model) + ":generateContent"

	var resp geminiResponse
	if err := c.http.postJSON(ctx, path, headers, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}
