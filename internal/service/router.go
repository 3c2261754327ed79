package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	tel "github.com/Strob0t/taskrunner/internal/adapter/otel"
	"github.com/Strob0t/taskrunner/internal/config"
	"github.com/Strob0t/taskrunner/internal/domain"
	"github.com/Strob0t/taskrunner/internal/domain/agent"
	dllm "github.com/Strob0t/taskrunner/internal/domain/llm"
	"github.com/Strob0t/taskrunner/internal/port/llm"
)

// systemInstruction is sent alongside every prompt to providers that accept one.
const systemInstruction = "You are an autonomous software engineer. Reply with a single JSON object only."

// providerEntry is one row of the provider table.
type providerEntry struct {
	name     string
	defaults config.Provider
	call     llm.Provider
}

// route is a resolved provider/model/options triple for one generation.
type route struct {
	entry providerEntry
	model string
	opts  llm.CallOptions
}

// ModelRouter dispatches prompts to providers through a lookup table and
// turns raw replies into healed ModelResponses, retrying bad output.
type ModelRouter struct {
	providers       map[string]providerEntry
	defaultProvider string
	maxAttempts     int
	metrics         *tel.Metrics
}

// NewModelRouter builds the provider table from the configured provider
// defaults and the adapters that implement them.
func NewModelRouter(cfg config.LLM, adapters map[string]llm.Provider, metrics *tel.Metrics) *ModelRouter {
	table := make(map[string]providerEntry, len(adapters))
	for name, call := range adapters {
		table[name] = providerEntry{name: name, defaults: cfg.Providers[name], call: call}
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 3
	}
	return &ModelRouter{
		providers:       table,
		defaultProvider: cfg.DefaultProvider,
		maxAttempts:     attempts,
		metrics:         metrics,
	}
}

// Providers returns the names in the provider table, sorted.
func (r *ModelRouter) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// resolve picks provider, model and options from the agent config, falling
// back to provider defaults. MaxTokens is capped at the provider ceiling.
func (r *ModelRouter) resolve(mc agent.ModelConfig) (route, error) {
	name := mc.Provider
	if name == "" {
		name = r.defaultProvider
	}
	entry, ok := r.providers[name]
	if !ok {
		return route{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedProvider, name)
	}

	model := mc.Model
	if model == "" {
		model = entry.defaults.DefaultModel
	}
	if len(entry.defaults.Models) > 0 && !slices.Contains(entry.defaults.Models, model) && model != entry.defaults.DefaultModel {
		slog.Warn("model not in provider family, passing through", "provider", name, "model", model)
	}

	maxTokens := mc.MaxTokens
	ceiling := entry.defaults.MaxTokens
	if maxTokens == 0 || (ceiling > 0 && maxTokens > ceiling) {
		maxTokens = ceiling
	}

	return route{
		entry: entry,
		model: model,
		opts: llm.CallOptions{
			Temperature: mc.Temperature,
			MaxTokens:   maxTokens,
			JSONMode:    true,
			System:      systemInstruction,
		},
	}, nil
}

// Generate sends prompt to the agent's provider and returns the healed
// response. Transport errors, missing JSON objects and undecodable JSON are
// retried up to the attempt budget; each retry restates the prior error and
// the required shape. Exhausting the budget returns an error wrapping
// domain.ErrModelResponse.
func (r *ModelRouter) Generate(ctx context.Context, mc agent.ModelConfig, prompt string) (*dllm.ModelResponse, error) {
	rt, err := r.resolve(mc)
	if err != nil {
		return nil, err
	}

	current := prompt
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			r.metrics.Retry(ctx, rt.entry.name)
			current = retryPrompt(prompt, lastErr)
		}

		resp, err := r.attempt(ctx, rt, current, attempt)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("model call cancelled: %w", ctx.Err())
		}
		lastErr = err
		slog.WarnContext(ctx, "model attempt failed",
			"provider", rt.entry.name,
			"model", rt.model,
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"error", err,
		)
	}
	return nil, fmt.Errorf("%w: %d attempts exhausted: %w", domain.ErrModelResponse, r.maxAttempts, lastErr)
}

func (r *ModelRouter) attempt(ctx context.Context, rt route, prompt string, n int) (*dllm.ModelResponse, error) {
	ctx, span := tel.StartModelCallSpan(ctx, rt.entry.name, rt.model, n)
	raw, err := rt.entry.call.Call(ctx, prompt, rt.model, rt.opts)
	if err != nil {
		err = fmt.Errorf("provider %s: %w", rt.entry.name, err)
		tel.EndSpan(span, err)
		return nil, err
	}
	resp, err := dllm.Parse(raw)
	tel.EndSpan(span, err)
	return resp, err
}

func retryPrompt(prompt string, prior error) string {
	return prompt + "\n\nYour previous reply could not be used: " + prior.Error() +
		"\nRespond with ONLY a JSON object of exactly this shape, no prose or markdown:\n" + dllm.ResponseShape
}

// sessionReleaser is implemented by providers that keep per-execution state.
type sessionReleaser interface {
	Release(executionID string)
}

// Release drops any provider state bound to a finished execution.
func (r *ModelRouter) Release(executionID string) {
	for _, e := range r.providers {
		if rel, ok := e.call.(sessionReleaser); ok {
			rel.Release(executionID)
		}
	}
}
