package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// WorkerPoolConfig is the static worker registration file loaded at startup.
// Format predates the rest of the config surface and is still parsed with
// yaml.v2 for compatibility with existing deployment files.
type WorkerPoolConfig struct {
	Workers []WorkerEntry `yaml:"workers"`
}

// WorkerEntry registers one CV worker endpoint.
type WorkerEntry struct {
	ID           string `yaml:"id"`
	Endpoint     string `yaml:"endpoint"`
	ModelVersion string `yaml:"model_version"`
	MaxQueue     int    `yaml:"max_queue"`
}

// LoadWorkerPool reads the worker registration file.
func LoadWorkerPool(path string) (*WorkerPoolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read worker pool config: %w", err)
	}

	var cfg WorkerPoolConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse worker pool YAML: %w", err)
	}

	seen := make(map[string]bool, len(cfg.Workers))
	for _, w := range cfg.Workers {
		if w.ID == "" {
			return nil, fmt.Errorf("worker entry missing id")
		}
		if w.Endpoint == "" {
			return nil, fmt.Errorf("worker %s missing endpoint", w.ID)
		}
		if seen[w.ID] {
			return nil, fmt.Errorf("duplicate worker id %s", w.ID)
		}
		seen[w.ID] = true
	}
	return &cfg, nil
}

// SaveWorkerPool writes the worker registration file.
func SaveWorkerPool(cfg *WorkerPoolConfig, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal worker pool config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write worker pool config: %w", err)
	}
	return nil
}
