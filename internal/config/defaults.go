package config

import (
	"path/filepath"
	"time"
)

// Dir is the conventional configuration and state directory name.
const Dir = ".taskregistry"

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Registry: RegistryConfig{
			Path:    filepath.Join(Dir, "registry.json"),
			Backend: "json",
		},
		Workspace: WorkspaceConfig{
			Root: filepath.Join(Dir, "workspaces"),
		},
		Dispatch: DispatchConfig{
			Assignee:         "dispatcher",
			Concurrency:      2,
			PollInterval:     Duration(2 * time.Second),
			Env:              map[string]string{},
			MaxRetries:       5,
			RetryInterval:    Duration(100 * time.Millisecond),
			RetryMaxInterval: Duration(5 * time.Second),
			BreakerThreshold: 3,
			BreakerTimeout:   Duration(30 * time.Second),
		},
	}
}
