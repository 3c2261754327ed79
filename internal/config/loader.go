package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "taskrunner.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("TASKRUNNER_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist. Provider entries present in the
// file are merged over the built-in table field by field.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator supplied
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	defaults := cfg.LLM.Providers
	cfg.LLM.Providers = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.LLM.Providers = mergeProviders(defaults, cfg.LLM.Providers)

	return nil
}

func mergeProviders(base, override map[string]Provider) map[string]Provider {
	out := make(map[string]Provider, len(base)+len(override))
	for name, p := range base {
		out[name] = p
	}
	for name, o := range override {
		p := out[name]
		if o.BaseURL != "" {
			p.BaseURL = o.BaseURL
		}
		if o.APIKey != "" {
			p.APIKey = o.APIKey
		}
		if o.DefaultModel != "" {
			p.DefaultModel = o.DefaultModel
		}
		if o.MaxTokens > 0 {
			p.MaxTokens = o.MaxTokens
		}
		if len(o.Models) > 0 {
			p.Models = o.Models
		}
		out[name] = p
	}
	return out
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TASKRUNNER_PORT")
	setString(&cfg.Server.CORSOrigin, "TASKRUNNER_CORS_ORIGIN")
	setFloat64(&cfg.Server.SubmitRate, "TASKRUNNER_SUBMIT_RATE")
	setInt(&cfg.Server.SubmitBurst, "TASKRUNNER_SUBMIT_BURST")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TASKRUNNER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TASKRUNNER_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TASKRUNNER_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TASKRUNNER_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TASKRUNNER_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "TASKRUNNER_NATS_STREAM")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setBool(&cfg.Redis.Enabled, "TASKRUNNER_REDIS_ENABLED")
	setString(&cfg.Logging.Level, "TASKRUNNER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TASKRUNNER_LOG_SERVICE")
	setString(&cfg.Logging.Format, "TASKRUNNER_LOG_FORMAT")
	setBool(&cfg.Logging.Async, "TASKRUNNER_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "TASKRUNNER_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TASKRUNNER_BREAKER_TIMEOUT")

	// Sandbox
	setString(&cfg.Sandbox.Binary, "TASKRUNNER_SANDBOX_BINARY")
	setString(&cfg.Sandbox.WorkDir, "TASKRUNNER_SANDBOX_WORKDIR")
	setString(&cfg.Sandbox.Network, "TASKRUNNER_SANDBOX_NETWORK")
	setInt(&cfg.Sandbox.MemoryMB, "TASKRUNNER_SANDBOX_MEMORY_MB")
	setDuration(&cfg.Sandbox.PullTimeout, "TASKRUNNER_SANDBOX_PULL_TIMEOUT")
	setDuration(&cfg.Sandbox.CommandTimeout, "TASKRUNNER_SANDBOX_COMMAND_TIMEOUT")

	// Orchestrator
	setInt(&cfg.Orchestrator.MaxIterations, "TASKRUNNER_MAX_ITERATIONS")
	setString(&cfg.Orchestrator.OnIterationCap, "TASKRUNNER_ON_ITERATION_CAP")
	setInt(&cfg.Orchestrator.MaxParallel, "TASKRUNNER_MAX_PARALLEL")
	setString(&cfg.Orchestrator.CommitName, "TASKRUNNER_COMMIT_NAME")
	setDuration(&cfg.Orchestrator.TeardownTimeout, "TASKRUNNER_TEARDOWN_TIMEOUT")
	setDuration(&cfg.Orchestrator.ExecTimeout, "TASKRUNNER_EXEC_TIMEOUT")

	// Memory
	setInt(&cfg.Memory.MaxTurns, "TASKRUNNER_MEMORY_MAX_TURNS")
	setInt(&cfg.Memory.KeepFirst, "TASKRUNNER_MEMORY_KEEP_FIRST")
	setInt(&cfg.Memory.KeepLast, "TASKRUNNER_MEMORY_KEEP_LAST")

	// LLM
	setInt(&cfg.LLM.MaxAttempts, "TASKRUNNER_LLM_MAX_ATTEMPTS")
	setDuration(&cfg.LLM.Timeout, "TASKRUNNER_LLM_TIMEOUT")
	setString(&cfg.LLM.DefaultProvider, "TASKRUNNER_LLM_DEFAULT_PROVIDER")
	setProviderKey(cfg, "openai", "OPENAI_API_KEY", "OPENAI_BASE_URL")
	setProviderKey(cfg, "anthropic", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL")
	setProviderKey(cfg, "gemini", "GEMINI_API_KEY", "GEMINI_BASE_URL")
	setProviderKey(cfg, "ollama", "", "OLLAMA_URL")
	setProviderKey(cfg, "litellm", "LITELLM_MASTER_KEY", "LITELLM_URL")

	// Tools
	setDuration(&cfg.Tools.HTTPTimeout, "TASKRUNNER_TOOLS_HTTP_TIMEOUT")
	setInt(&cfg.Tools.OutputLimit, "TASKRUNNER_TOOLS_OUTPUT_LIMIT")
	setString(&cfg.Tools.SearchURL, "TASKRUNNER_SEARCH_URL")
	setString(&cfg.Tools.SearchAPIKey, "TASKRUNNER_SEARCH_API_KEY")
	setDuration(&cfg.Tools.SearchCacheTTL, "TASKRUNNER_SEARCH_CACHE_TTL")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "TASKRUNNER_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "TASKRUNNER_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "TASKRUNNER_CACHE_L2_TTL")

	// Telemetry
	setBool(&cfg.Telemetry.Enabled, "TASKRUNNER_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
	setFloat64(&cfg.Telemetry.SampleRate, "TASKRUNNER_OTEL_SAMPLE_RATE")

	setString(&cfg.Secrets.TokenKey, "TASKRUNNER_TOKEN_KEY")

	setBool(&cfg.MCP.Enabled, "TASKRUNNER_MCP_ENABLED")
	setString(&cfg.MCP.Port, "TASKRUNNER_MCP_PORT")
	setString(&cfg.MCP.APIKey, "TASKRUNNER_MCP_API_KEY")
}

// validate checks that required fields are set and bounds make sense.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.SubmitRate < 0 || (cfg.Server.SubmitRate > 0 && cfg.Server.SubmitBurst < 1) {
		return errors.New("server.submit_burst must be >= 1 when server.submit_rate is set")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Sandbox.WorkDir == "" {
		return errors.New("sandbox.work_dir is required")
	}
	if cfg.Orchestrator.MaxIterations < 1 {
		return errors.New("orchestrator.max_iterations must be >= 1")
	}
	switch cfg.Orchestrator.OnIterationCap {
	case CapPolicyComplete, CapPolicyFail:
	default:
		return fmt.Errorf("orchestrator.on_iteration_cap must be %q or %q", CapPolicyComplete, CapPolicyFail)
	}
	if cfg.Orchestrator.MaxParallel < 1 {
		return errors.New("orchestrator.max_parallel must be >= 1")
	}
	if cfg.Memory.KeepFirst < 0 || cfg.Memory.KeepLast < 0 {
		return errors.New("memory.keep_first and memory.keep_last must be >= 0")
	}
	if cfg.Memory.MaxTurns < cfg.Memory.KeepFirst+cfg.Memory.KeepLast {
		return errors.New("memory.max_turns must be >= keep_first + keep_last")
	}
	if cfg.LLM.MaxAttempts < 1 {
		return errors.New("llm.max_attempts must be >= 1")
	}
	if cfg.LLM.DefaultProvider == "" {
		return errors.New("llm.default_provider is required")
	}
	switch cfg.Logging.Format {
	case "auto", "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not one of auto, json, text", cfg.Logging.Format)
	}
	if cfg.Redis.Enabled && cfg.Redis.URL == "" {
		return errors.New("redis.url is required when redis is enabled")
	}
	return nil
}

func setProviderKey(cfg *Config, name, keyEnv, urlEnv string) {
	p := cfg.LLM.Providers[name]
	if keyEnv != "" {
		setString(&p.APIKey, keyEnv)
	}
	setString(&p.BaseURL, urlEnv)
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]Provider{}
	}
	cfg.LLM.Providers[name] = p
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
