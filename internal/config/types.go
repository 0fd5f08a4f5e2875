package config

import (
	"fmt"
	"time"
)

// RegistryConfig locates the task registry document.
type RegistryConfig struct {
	Path    string `json:"path" yaml:"path" toml:"path"`          // Registry file
	Backend string `json:"backend" yaml:"backend" toml:"backend"` // "json" or "sqlite"
}

// WorkspaceConfig locates the per-task workspaces.
type WorkspaceConfig struct {
	Root string `json:"root" yaml:"root" toml:"root"`
}

// DispatchConfig tunes the worker dispatcher.
type DispatchConfig struct {
	Assignee         string            `json:"assignee" yaml:"assignee" toml:"assignee"`                         // Name recorded on claimed tasks
	Objective        string            `json:"objective,omitempty" yaml:"objective,omitempty" toml:"objective,omitempty"` // Only dispatch this objective
	Concurrency      int               `json:"concurrency" yaml:"concurrency" toml:"concurrency"`
	PollInterval     Duration          `json:"poll_interval" yaml:"poll_interval" toml:"poll_interval"`
	Command          []string          `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"` // Worker command, run once per task
	Env              map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`             // Extra worker environment
	MaxRetries       int               `json:"max_retries" yaml:"max_retries" toml:"max_retries"`                   // Store retries per operation
	RetryInterval    Duration          `json:"retry_interval" yaml:"retry_interval" toml:"retry_interval"`
	RetryMaxInterval Duration          `json:"retry_max_interval" yaml:"retry_max_interval" toml:"retry_max_interval"`
	BreakerThreshold int               `json:"breaker_threshold" yaml:"breaker_threshold" toml:"breaker_threshold"` // Consecutive failures that open an objective's breaker
	BreakerTimeout   Duration          `json:"breaker_timeout" yaml:"breaker_timeout" toml:"breaker_timeout"`
}

// Config is the top-level configuration.
type Config struct {
	Registry  RegistryConfig  `json:"registry" yaml:"registry" toml:"registry"`
	Workspace WorkspaceConfig `json:"workspace" yaml:"workspace" toml:"workspace"`
	Dispatch  DispatchConfig  `json:"dispatch" yaml:"dispatch" toml:"dispatch"`
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if c.Registry.Path == "" {
		return fmt.Errorf("registry.path is required")
	}
	switch c.Registry.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("registry.backend must be json or sqlite, got %q", c.Registry.Backend)
	}
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root is required")
	}
	if c.Dispatch.Concurrency < 1 {
		return fmt.Errorf("dispatch.concurrency must be at least 1, got %d", c.Dispatch.Concurrency)
	}
	if c.Dispatch.PollInterval <= 0 {
		return fmt.Errorf("dispatch.poll_interval must be positive")
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch.max_retries must not be negative")
	}
	if c.Dispatch.BreakerThreshold < 1 {
		return fmt.Errorf("dispatch.breaker_threshold must be at least 1, got %d", c.Dispatch.BreakerThreshold)
	}
	return nil
}

// Duration is a time.Duration written as a string such as "2s" in every format.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}
