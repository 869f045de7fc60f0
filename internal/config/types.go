package config

import "time"

// Config represents the complete conductor configuration.
type Config struct {
	Service  ServiceConfig          `yaml:"service"`
	Ledger   LedgerConfig           `yaml:"ledger"`
	Guard    GuardConfig            `yaml:"guard"`
	API      APIConfig              `yaml:"api,omitempty"`
	Backends map[string]BackendConf `yaml:"backends"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name         string        `yaml:"name"`
	LogLevel     string        `yaml:"log_level"`
	SystemPrompt string        `yaml:"system_prompt,omitempty"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// LedgerConfig defines task ledger storage settings.
type LedgerConfig struct {
	Path    string `yaml:"path"`
	LockDir string `yaml:"lock_dir"`
}

// GuardConfig defines admission-control policy. The durations are policy
// constants, not derived from any measured signal, so they stay configurable.
type GuardConfig struct {
	// StaleAfter is how long a running task may live before the next
	// admission attempt for its project reclaims it as failed.
	StaleAfter time.Duration `yaml:"stale_after"`
	// DedupeWindow is the trailing interval during which a dispatch with an
	// identical content fingerprint is suppressed.
	DedupeWindow time.Duration `yaml:"dedupe_window"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// BackendConf describes one external agent CLI: how to invoke it, how the
// prompt is delivered, and which models it accepts. Injected explicitly;
// nothing reads backend templates from ambient globals.
type BackendConf struct {
	Title        string   `yaml:"title"`
	Command      []string `yaml:"command"`
	UsesStdin    bool     `yaml:"uses_stdin"`
	ModelFlag    string   `yaml:"model_flag,omitempty"`
	AddDirFlag   string   `yaml:"add_dir_flag,omitempty"`
	ResumeFlag   string   `yaml:"resume_flag,omitempty"`
	DefaultModel string   `yaml:"default_model,omitempty"`
	Models       []string `yaml:"models,omitempty"`
}

// Defaults returns a Config with the stock backends and policy windows.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:         "conductor",
			LogLevel:     "info",
			ReapInterval: 60 * time.Second,
			SystemPrompt: "Write clean, scalable, modular, efficient code. " +
				"Follow single responsibility principle. Do not repeat yourself. " +
				"Use consistent naming conventions. No unnecessary comments.",
		},
		Ledger: LedgerConfig{
			Path:    "./data/ledger.db",
			LockDir: "./data/locks",
		},
		Guard: GuardConfig{
			StaleAfter:   10 * time.Minute,
			DedupeWindow: 5 * time.Minute,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8377",
		},
		Backends: map[string]BackendConf{
			"claude": {
				Title: "Claude Code",
				Command: []string{
					"claude", "-p", "--permission-mode", "bypassPermissions",
					"--output-format", "stream-json", "--include-partial-messages",
					"--verbose", "--max-turns", "50",
				},
				UsesStdin:    true,
				ModelFlag:    "--model",
				AddDirFlag:   "--add-dir",
				ResumeFlag:   "--resume",
				DefaultModel: "sonnet",
				Models:       []string{"opus", "sonnet"},
			},
			"gemini": {
				Title:        "Gemini CLI",
				Command:      []string{"gemini", "--output-format", "stream-json", "--approval-mode", "yolo"},
				UsesStdin:    true,
				ModelFlag:    "-m",
				DefaultModel: "gemini-3-pro-preview",
				Models:       []string{"gemini-2.5-flash", "gemini-2.5-pro", "gemini-3-pro-preview"},
			},
			"codex": {
				Title:        "OpenAI Codex",
				Command:      []string{"codex", "exec", "--json", "--full-auto"},
				UsesStdin:    false,
				ModelFlag:    "--model",
				DefaultModel: "gpt-5-codex",
				Models:       []string{"gpt-5-codex", "gpt-5.2-codex"},
			},
		},
	}
}
