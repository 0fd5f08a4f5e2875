package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Extensions tried, in order, when looking for a config file in a directory.
var Extensions = []string{".json", ".yaml", ".yml", ".toml"}

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// The format follows the file extension. Missing files are not errors;
// malformed files return an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Project config has the highest precedence
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.taskregistry/config.{json,yaml,yml,toml}
// Project: .taskregistry/config.{json,yaml,yml,toml} (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	return Load(Find(filepath.Join(homeDir, Dir)), Find(Dir))
}

// Find returns the first config.<ext> present in dir, or "" if none is.
func Find(dir string) string {
	for _, ext := range Extensions {
		path := filepath.Join(dir, "config"+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// mergeConfigFile decodes the file at path over base. Keys absent from the
// file keep their current value; env entries are merged per key.
// Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Missing file is not an error
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}

	merged := *base
	merged.Dispatch.Env = copyEnv(base.Dispatch.Env)
	if err := decode(path, data, &merged); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	// Decoders may replace the map instead of filling it
	for key, value := range base.Dispatch.Env {
		if _, ok := merged.Dispatch.Env[key]; !ok {
			if merged.Dispatch.Env == nil {
				merged.Dispatch.Env = map[string]string{}
			}
			merged.Dispatch.Env[key] = value
		}
	}

	*base = merged
	return nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch format(path) {
	case "yaml":
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		return yaml.Unmarshal(data, cfg)
	case "toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return json.Unmarshal(data, cfg)
	}
}

// format maps a file extension to "json", "yaml" or "toml". Unknown
// extensions are treated as JSON.
func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

func copyEnv(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
