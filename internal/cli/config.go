package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the optional yaml config file. Flags given explicitly on the
// command line win over file values.
type Config struct {
	APIURL    string `yaml:"api_url"`
	BatchSize int    `yaml:"batch_size"`
	AuditDir  string `yaml:"audit_dir"`
}

// LoadConfig reads and parses a yaml config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.BatchSize < 0 {
		return cfg, fmt.Errorf("config %s: batch_size must be positive, got %d", path, cfg.BatchSize)
	}
	return cfg, nil
}
