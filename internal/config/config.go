package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigDir  = ".outputguard"
	DefaultConfigFile = "config.yaml"
	DefaultPolicyFile = "policy.yaml"
	DefaultPacksDir   = "packs"
	DefaultLogFile    = "audit.jsonl"

	// EnvHome overrides the config directory.
	EnvHome = "OUTPUTGUARD_HOME"
)

type Config struct {
	ConfigDir  string `yaml:"-"`
	ConfigPath string `yaml:"-"`
	PolicyPath string `yaml:"-"`
	PacksDir   string `yaml:"-"`
	LogPath    string `yaml:"-"`

	Governance GovernanceConfig `yaml:"governance"`
	LLM        LLMConfig        `yaml:"llm"`
	Log        LogConfig        `yaml:"log"`
}

// GovernanceConfig controls validation and the repair loop.
type GovernanceConfig struct {
	// MaxRetries bounds the repair rounds. Default: 2.
	MaxRetries int `yaml:"max_retries"`
	// JSONOnly is the default for requests that don't say. Default: false.
	JSONOnly bool `yaml:"json_only"`
}

// LLMConfig points the repair command at an OpenAI-compatible endpoint.
// The key itself never lives in the file, only the variable that holds it.
type LLMConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout"`
}

// LogConfig controls operational and audit logging.
type LogConfig struct {
	// Level is a zerolog level name. Default: "info".
	Level string `yaml:"level"`
	// Audit enables the JSONL audit log. Default: true.
	Audit bool `yaml:"audit"`
	// MaxBytes is the audit log rotation threshold. Default: 10 MiB.
	MaxBytes int64 `yaml:"max_bytes"`
}

// Options are the path overrides from the command line.
type Options struct {
	ConfigDir  string
	ConfigPath string
	PolicyPath string
	LogPath    string
}

// Default returns the built-in settings without any paths.
func Default() *Config {
	return &Config{
		Governance: GovernanceConfig{
			MaxRetries: 2,
		},
		LLM: LLMConfig{
			Model:             "gpt-4o-mini",
			APIKeyEnv:         "OPENAI_API_KEY",
			RequestsPerMinute: 30,
			Timeout:           60 * time.Second,
		},
		Log: LogConfig{
			Level:    "info",
			Audit:    true,
			MaxBytes: 10 << 20,
		},
	}
}

// Load resolves the config directory (creating it 0700), then reads
// config.yaml over the defaults. A missing file is not an error.
func Load(opts Options) (*Config, error) {
	configDir, err := resolveDir(opts.ConfigDir)
	if err != nil {
		return nil, err
	}
	if err := ensureDir(configDir); err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.ConfigDir = configDir
	cfg.ConfigPath = pick(opts.ConfigPath, filepath.Join(configDir, DefaultConfigFile))
	cfg.PolicyPath = pick(opts.PolicyPath, filepath.Join(configDir, DefaultPolicyFile))
	cfg.PacksDir = filepath.Join(configDir, DefaultPacksDir)
	cfg.LogPath = pick(opts.LogPath, filepath.Join(configDir, DefaultLogFile))

	data, err := os.ReadFile(cfg.ConfigPath)
	switch {
	case os.IsNotExist(err):
		return cfg, nil
	case err != nil:
		return nil, err
	}

	// Fields absent from the file keep their defaults.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", cfg.ConfigPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfg.ConfigPath, err)
	}
	return cfg, nil
}

// Validate rejects settings the rest of the program cannot honour.
func (c *Config) Validate() error {
	if c.Governance.MaxRetries < 0 {
		return fmt.Errorf("governance.max_retries must not be negative")
	}
	if c.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.requests_per_minute must not be negative")
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("llm.timeout must not be negative")
	}
	if c.Log.MaxBytes < 0 {
		return fmt.Errorf("log.max_bytes must not be negative")
	}
	return nil
}

// APIKey reads the key from the configured environment variable.
func (c *Config) APIKey() string {
	if c.LLM.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.LLM.APIKeyEnv)
}

func resolveDir(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if env := os.Getenv(EnvHome); env != "" {
		return env, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, DefaultConfigDir), nil
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

func ensureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0700)
	}
	return nil
}
