package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
)

// cronParser matches cmd/redilockd's scheduler parser, for consistent
// validation at load time.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Load reads and parses a configuration file. Supports YAML and TOML
// based on file extension. Environment variables in the form ${VAR} or
// ${VAR:-default} are substituted after unmarshalling in node.id, each
// store's address, password and key_prefix, and each job's name and key.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".toml":
		parser = toml.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	expandEnvInConfig(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func expandEnvInConfig(cfg *Config) {
	cfg.Node.ID = expandEnv(cfg.Node.ID)
	for i := range cfg.Stores {
		cfg.Stores[i].Address = expandEnv(cfg.Stores[i].Address)
		cfg.Stores[i].Password = expandEnv(cfg.Stores[i].Password)
		cfg.Stores[i].KeyPrefix = expandEnv(cfg.Stores[i].KeyPrefix)
	}
	for i := range cfg.Jobs {
		cfg.Jobs[i].Name = expandEnv(cfg.Jobs[i].Name)
		cfg.Jobs[i].Key = expandEnv(cfg.Jobs[i].Key)
	}
}

// expandEnv expands environment variables in a string. Supports ${VAR}
// and ${VAR:-default} syntax.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		if idx := strings.Index(key, ":-"); idx != -1 {
			varName := key[:idx]
			defaultVal := key[idx+2:]
			if val := os.Getenv(varName); val != "" {
				return val
			}
			return defaultVal
		}
		return os.Getenv(key)
	})
}

func validate(cfg *Config) error {
	if len(cfg.Stores) == 0 {
		return fmt.Errorf("at least one store is required")
	}
	for i, s := range cfg.Stores {
		if s.Address == "" {
			return fmt.Errorf("stores[%d].address is required", i)
		}
		if s.DB < 0 || s.DB > 15 {
			return fmt.Errorf("stores[%d].db must be between 0 and 15, got %d", i, s.DB)
		}
	}

	if cfg.Node.GracePeriod < 0 {
		return fmt.Errorf("node.grace_period must be non-negative, got %v", cfg.Node.GracePeriod)
	}

	if cfg.Locking.ClockDriftFactor < 0 || cfg.Locking.ClockDriftFactor >= 1 {
		return fmt.Errorf("locking.clock_drift_factor must be in [0, 1), got %v", cfg.Locking.ClockDriftFactor)
	}
	if cfg.Locking.Quorum < 0 || cfg.Locking.Quorum > len(cfg.Stores) {
		return fmt.Errorf("locking.quorum must be between 0 and len(stores)=%d, got %d", len(cfg.Stores), cfg.Locking.Quorum)
	}

	seen := make(map[string]int)
	for i, job := range cfg.Jobs {
		if job.Name == "" {
			return fmt.Errorf("jobs[%d].name is required", i)
		}
		if prev, exists := seen[job.Name]; exists {
			return fmt.Errorf("jobs[%d].name %q is a duplicate of jobs[%d]", i, job.Name, prev)
		}
		seen[job.Name] = i
		if job.Schedule == "" {
			return fmt.Errorf("jobs[%d].schedule is required", i)
		}
		if _, err := cronParser.Parse(job.Schedule); err != nil {
			return fmt.Errorf("jobs[%d].schedule %q is invalid: %w", i, job.Schedule, err)
		}
		if job.Key == "" {
			return fmt.Errorf("jobs[%d].key is required", i)
		}
		if job.TTL < 0 {
			return fmt.Errorf("jobs[%d].ttl must be non-negative, got %v", i, job.TTL)
		}
		switch job.Strategy {
		case "", "single", "redlock":
		default:
			return fmt.Errorf("jobs[%d].strategy %q must be \"single\" or \"redlock\"", i, job.Strategy)
		}
	}

	return nil
}
