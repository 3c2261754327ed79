package llmapi

import (
	"log/slog"
	"time"

	"github.com/Strob0t/taskrunner/internal/config"
	"github.com/Strob0t/taskrunner/internal/port/llm"
	"github.com/Strob0t/taskrunner/internal/resilience"
)

// Build creates a provider adapter for every configured provider whose name
// maps to a known API family. Unknown names are skipped with a warning.
func Build(cfg config.LLM, breakers *resilience.Set) map[string]llm.Provider {
	out := make(map[string]llm.Provider, len(cfg.Providers))
	for name, p := range cfg.Providers {
		prov := build(name, p, cfg.Timeout, breakers)
		if prov == nil {
			slog.Warn("skipping provider with unknown API family", "provider", name)
			continue
		}
		out[name] = prov
	}
	return out
}

func build(name string, p config.Provider, timeout time.Duration, breakers *resilience.Set) llm.Provider {
	switch name {
	case "openai", "litellm":
		c := NewOpenAI(name, p.BaseURL, p.APIKey, timeout)
		c.SetBreaker(breakers.For(name))
		return c
	case "ollama":
		c := NewOpenAI(name, p.BaseURL, p.APIKey, timeout)
		c.jsonMode = false
		c.SetBreaker(breakers.For(name))
		return c
	case "anthropic":
		c := NewAnthropic(p.BaseURL, p.APIKey, timeout)
		c.SetBreaker(breakers.For(name))
		return c
	case "gemini":
		c := NewGemini(p.BaseURL, p.APIKey, timeout)
		c.SetBreaker(breakers.For(name))
		return c
	case "mock":
		return NewMock(nil)
	}
	if p.BaseURL != "" {
		// Custom entries with an endpoint are assumed OpenAI-compatible.
		c := NewOpenAI(name, p.BaseURL, p.APIKey, timeout)
		c.SetBreaker(breakers.For(name))
		return c
	}
	return nil
}
