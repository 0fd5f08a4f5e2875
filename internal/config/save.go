package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Save persists the configuration in the format matching the file extension.
// Creates parent directories if they don't exist.
func Save(cfg *Config, path string) error {
	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

func encode(path string, cfg *Config) ([]byte, error) {
	switch format(path) {
	case "yaml":
		return yaml.Marshal(cfg)
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
}
