package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Load reads and parses configuration from a file, layering it over
// Defaults(). A missing file is not an error: the defaults are returned, so
// conductor works out of the box.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath == "" {
		configPath = DiscoverConfigPath()
	}
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %q: %w", configPath, err)
	}

	expanded := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", configPath, err)
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config %q: %w", configPath, err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $CONDUCTOR_CONFIG, ~/.config/conductor/config.yaml,
// ./conductor.yaml.
func DiscoverConfigPath() string {
	if p := os.Getenv("CONDUCTOR_CONFIG"); p != "" {
		return p
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "conductor", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if _, err := os.Stat("conductor.yaml"); err == nil {
		return "conductor.yaml"
	}
	return ""
}

// applyDefaults fills zero-valued fields a partial config file left unset.
func applyDefaults(cfg *Config) {
	def := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = def.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = def.Service.LogLevel
	}
	if cfg.Service.ReapInterval <= 0 {
		cfg.Service.ReapInterval = def.Service.ReapInterval
	}
	if cfg.Service.SystemPrompt == "" {
		cfg.Service.SystemPrompt = def.Service.SystemPrompt
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = def.Ledger.Path
	}
	if cfg.Ledger.LockDir == "" {
		cfg.Ledger.LockDir = filepath.Join(filepath.Dir(cfg.Ledger.Path), "locks")
	}
	if cfg.Guard.StaleAfter <= 0 {
		cfg.Guard.StaleAfter = def.Guard.StaleAfter
	}
	if cfg.Guard.DedupeWindow <= 0 {
		cfg.Guard.DedupeWindow = def.Guard.DedupeWindow
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = def.API.Listen
	}
	if len(cfg.Backends) == 0 {
		cfg.Backends = def.Backends
	}
}

// Validate rejects configurations the dispatcher cannot run with.
func Validate(cfg *Config) error {
	if cfg.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required")
	}
	if cfg.Guard.StaleAfter <= 0 {
		return fmt.Errorf("guard.stale_after must be positive")
	}
	if cfg.Guard.DedupeWindow <= 0 {
		return fmt.Errorf("guard.dedupe_window must be positive")
	}
	for kind, b := range cfg.Backends {
		if len(b.Command) == 0 {
			return fmt.Errorf("backends.%s.command is required", kind)
		}
		if b.ModelFlag == "" && b.DefaultModel != "" {
			return fmt.Errorf("backends.%s sets default_model without model_flag", kind)
		}
	}
	return nil
}

var envVarRe = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarRe.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarRe.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}
