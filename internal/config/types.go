package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that reads and writes as a Go duration string ("250ms", "2m").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		// bare numbers are nanoseconds, like time.Duration itself
		*d = Duration(time.Duration(v))
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RetryConfig shapes the backoff between task attempts.
type RetryConfig struct {
	InitialInterval Duration `json:"initial_interval" validate:"gte=0"`
	MaxInterval     Duration `json:"max_interval" validate:"gte=0"`
	MaxElapsedTime  Duration `json:"max_elapsed_time" validate:"gte=0"`
	Multiplier      float64  `json:"multiplier" validate:"omitempty,gte=1"`
}

// BreakerConfig configures the per-action circuit breakers.
type BreakerConfig struct {
	ConsecutiveFailures uint32   `json:"consecutive_failures"`
	OpenTimeout         Duration `json:"open_timeout" validate:"gte=0"`
	HalfOpenRequests    uint32   `json:"half_open_requests"`
}

// EngineConfig tunes the workflow engine.
type EngineConfig struct {
	ConcurrencyLimit int           `json:"concurrency_limit" validate:"gte=0"` // 0 = unbounded rounds
	BlockingWorkers  int           `json:"blocking_workers" validate:"gte=1"`
	StrictPreflight  bool          `json:"strict_preflight"`
	Retry            RetryConfig   `json:"retry"`
	Breakers         BreakerConfig `json:"breakers"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" validate:"oneof=debug info warn warning error"`
	Format string `json:"format" validate:"oneof=text json"`
}

// HistoryConfig controls the SQLite run history.
type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path" validate:"required_if=Enabled true"`
	RetentionDays int    `json:"retention_days" validate:"gte=0"` // 0 keeps runs forever
}

// TracingConfig controls the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"service_name" validate:"required_if=Enabled true"`
	Endpoint    string `json:"endpoint,omitempty" validate:"omitempty,hostname_port"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// ProviderConfig defines a transport layer (CLI command, args, base settings).
// Providers are separate from agents -- multiple agents can share one provider.
type ProviderConfig struct {
	Command string   `json:"command" validate:"required"`                   // CLI binary name
	Args    []string `json:"args,omitempty"`                                // Default args appended to every invocation
	Type    string   `json:"type" validate:"required,oneof=claude command"` // Adapter registered in backend.Registry
}

// AgentConfig defines a role that uses a specific provider and model.
type AgentConfig struct {
	Provider     string   `json:"provider" validate:"required"` // Key into Providers map
	Model        string   `json:"model,omitempty"`              // Model override
	SystemPrompt string   `json:"system_prompt,omitempty"`      // Role-specific system prompt
	Tools        []string `json:"tools,omitempty"`              // Allowed tools for this role
}

// TaskflowConfig is the top-level configuration.
type TaskflowConfig struct {
	Engine    EngineConfig              `json:"engine"`
	Log       LogConfig                 `json:"log"`
	History   HistoryConfig             `json:"history"`
	Tracing   TracingConfig             `json:"tracing"`
	Providers map[string]ProviderConfig `json:"providers" validate:"dive"`
	Agents    map[string]AgentConfig    `json:"agents" validate:"dive"`
}
