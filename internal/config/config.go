package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DBSource   string `yaml:"db_source"`
	Port       string `yaml:"port"`
	Env        string `yaml:"environment"`
	RootEntity string `yaml:"root_entity"`
}

// Load reads an optional YAML file named by CONFIG_FILE, then lets
// environment variables override it. DB_SOURCE is required one way or
// the other.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if v := os.Getenv("DB_SOURCE"); v != "" {
		cfg.DBSource = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("ROOT_ENTITY"); v != "" {
		cfg.RootEntity = v
	}

	if cfg.DBSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.RootEntity == "" {
		cfg.RootEntity = "system"
	}
	return cfg, nil
}
