package config

import "time"

// DefaultConfig returns the default configuration with built-in providers and agents.
func DefaultConfig() *TaskflowConfig {
	return &TaskflowConfig{
		Engine: EngineConfig{
			BlockingWorkers: 4,
			Retry: RetryConfig{
				InitialInterval: Duration(100 * time.Millisecond),
				MaxInterval:     Duration(10 * time.Second),
				MaxElapsedTime:  Duration(2 * time.Minute),
				Multiplier:      2,
			},
			Breakers: BreakerConfig{
				ConsecutiveFailures: 5,
				OpenTimeout:         Duration(30 * time.Second),
				HalfOpenRequests:    3,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    ".taskflow/history.db",
		},
		Tracing: TracingConfig{
			ServiceName: "taskflow",
		},
		Providers: map[string]ProviderConfig{
			"claude": {
				Command: "claude",
				Type:    "claude",
			},
		},
		Agents: map[string]AgentConfig{
			"planner": {
				Provider:     "claude",
				SystemPrompt: "You break work into small, ordered steps.",
			},
			"writer": {
				Provider:     "claude",
				SystemPrompt: "You write clear, concise prose from the notes you are given.",
			},
			"reviewer": {
				Provider:     "claude",
				SystemPrompt: "You review output for correctness and point out concrete problems.",
			},
		},
	}
}
