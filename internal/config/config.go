package config

import (
	"fmt"
	"os"
	"path/filepath"

	yaml "gopkg.in/yaml.v2"
)

// SourceConfig describes one upstream account to pull from.
type SourceConfig struct {
	ID      string `yaml:"id"`
	Type    string `yaml:"type"` // "email" or "activity"
	BaseURL string `yaml:"base_url"`
	// Secret blob names in the secret backend: the OAuth client config and
	// the token set (mirrors the client-secret / token split of the
	// upstream OAuth consent flow).
	ClientSecret string `yaml:"client_secret"`
	TokenSecret  string `yaml:"token_secret"`
	// LookbackDays bounds the first extraction when no watermark exists.
	LookbackDays int `yaml:"lookback_days"`
	PageSize     int `yaml:"page_size"`
}

type StorageConfig struct {
	Type   string `yaml:"type"` // "sqlite" or "postgres"
	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
}

type SecretsConfig struct {
	Backend string `yaml:"backend"` // "gcp" or "dir"
	GCP     struct {
		Project string `yaml:"project"`
	} `yaml:"gcp"`
	Dir struct {
		Path string `yaml:"path"`
	} `yaml:"dir"`
}

type RetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

type Config struct {
	Sources []SourceConfig `yaml:"sources"`
	Storage StorageConfig  `yaml:"storage"`
	Secrets SecretsConfig  `yaml:"secrets"`
	Retry   RetryConfig    `yaml:"retry"`
	// BatchSize bounds a single warehouse write; oversized batches are
	// chunked by the loader.
	BatchSize int `yaml:"batch_size"`
	// LeaseTTLMinutes is how long a per-source run lease is held before a
	// stale one can be stolen.
	LeaseTTLMinutes int `yaml:"lease_ttl_minutes"`
}

// Load reads and unmarshals the configuration file located at the given path.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Basic validation
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("at least one source must be defined")
	}

	seen := make(map[string]bool, len(cfg.Sources))
	for i, s := range cfg.Sources {
		if s.ID == "" {
			return nil, fmt.Errorf("source at index %d is missing id", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate source id %q", s.ID)
		}
		seen[s.ID] = true

		switch s.Type {
		case "email", "activity":
		default:
			return nil, fmt.Errorf("source %q has unsupported type %q", s.ID, s.Type)
		}
		if s.BaseURL == "" {
			return nil, fmt.Errorf("source %q is missing base_url", s.ID)
		}
		if s.ClientSecret == "" || s.TokenSecret == "" {
			return nil, fmt.Errorf("source %q must name both client_secret and token_secret", s.ID)
		}

		if s.LookbackDays <= 0 {
			cfg.Sources[i].LookbackDays = 5
		}
		if s.PageSize <= 0 {
			cfg.Sources[i].PageSize = 100
		}
	}

	// Validate storage configuration
	switch cfg.Storage.Type {
	case "sqlite":
		if cfg.Storage.SQLite.Path == "" {
			return nil, fmt.Errorf("storage.sqlite.path is required when storage type is sqlite")
		}
	case "postgres":
		if cfg.Storage.Postgres.DSN == "" {
			return nil, fmt.Errorf("storage.postgres.dsn is required when storage type is postgres")
		}
		// DSNs usually carry the password from the environment.
		cfg.Storage.Postgres.DSN = os.ExpandEnv(cfg.Storage.Postgres.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	// Validate secrets configuration
	switch cfg.Secrets.Backend {
	case "gcp":
		if cfg.Secrets.GCP.Project == "" {
			cfg.Secrets.GCP.Project = os.Getenv("PROJECT_ID")
		}
		if cfg.Secrets.GCP.Project == "" {
			return nil, fmt.Errorf("secrets.gcp.project (or PROJECT_ID) is required when secrets backend is gcp")
		}
	case "dir":
		if cfg.Secrets.Dir.Path == "" {
			return nil, fmt.Errorf("secrets.dir.path is required when secrets backend is dir")
		}
	default:
		return nil, fmt.Errorf("unsupported secrets backend: %s", cfg.Secrets.Backend)
	}

	// Default retry values if not set
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = 3
	}
	if cfg.Retry.DelayMS == 0 {
		cfg.Retry.DelayMS = 1500
	}

	// Apply default batch size if not specified.
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 500
	}

	if cfg.LeaseTTLMinutes <= 0 {
		cfg.LeaseTTLMinutes = 30
	}

	return &cfg, nil
}
