package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Backend  Backend  `yaml:"backend"`
	Analysis Analysis `yaml:"analysis"`
	Health   Health   `yaml:"health"`
	Cache    Cache    `yaml:"cache"`
	Server   Server   `yaml:"server"`
	Output   Output   `yaml:"output"`
	Logging  Logging  `yaml:"logging"`
}

type Backend struct {
	Provider        string        `yaml:"provider"`
	Model           string        `yaml:"model"`
	OllamaURL       string        `yaml:"ollama_url"`
	OpenAIModel     string        `yaml:"openai_model"`
	OpenAIBaseURL   string        `yaml:"openai_base_url"`
	APIKeyEnv       string        `yaml:"api_key_env"`
	AnthropicModel  string        `yaml:"anthropic_model"`
	AnthropicKeyEnv string        `yaml:"anthropic_key_env"`
	MaxTokens       int           `yaml:"max_tokens"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
}

type Analysis struct {
	FallbackEnabled bool `yaml:"fallback_enabled"`
	MaxPromptChars  int  `yaml:"max_prompt_chars"`
}

type Health struct {
	WindowSize       int           `yaml:"window_size"`
	LatencyThreshold time.Duration `yaml:"latency_threshold"`
	ProbeSchedule    string        `yaml:"probe_schedule"`
}

type Cache struct {
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
	Persist    bool          `yaml:"persist"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ConfigDir returns the XDG config directory for reqlens.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "reqlens")
}

// DataDir returns the XDG data directory for reqlens.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "reqlens")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/reqlens/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'reqlens init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config is invalid: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Backend: Backend{
			Provider:        "ollama",
			Model:           "qwen2.5:7b",
			OllamaURL:       "http://localhost:11434",
			OpenAIModel:     "gpt-4o-mini",
			OpenAIBaseURL:   "https://api.openai.com/v1",
			APIKeyEnv:       "OPENAI_API_KEY",
			AnthropicModel:  "claude-sonnet-4-5-20250929",
			AnthropicKeyEnv: "ANTHROPIC_API_KEY",
			MaxTokens:       1500,
			CallTimeout:     120 * time.Second,
		},
		Analysis: Analysis{
			FallbackEnabled: true,
			MaxPromptChars:  12000,
		},
		Health: Health{
			WindowSize:       10,
			LatencyThreshold: 30 * time.Second,
			ProbeSchedule:    "@every 5m",
		},
		Cache: Cache{
			MaxEntries: 1000,
			TTL:        7 * 24 * time.Hour,
			Persist:    true,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "info", Format: "text", Output: "stderr"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch strings.ToLower(c.Backend.Provider) {
	case "ollama", "openai", "anthropic", "none":
	default:
		errs = append(errs, fmt.Errorf("backend.provider: unknown provider %q", c.Backend.Provider))
	}
	if c.Backend.MaxTokens <= 0 {
		errs = append(errs, errors.New("backend.max_tokens must be positive"))
	}
	if c.Backend.CallTimeout <= 0 {
		errs = append(errs, errors.New("backend.call_timeout must be positive"))
	}
	if c.Health.WindowSize < 1 {
		errs = append(errs, errors.New("health.window_size must be at least 1"))
	}
	if c.Health.LatencyThreshold <= 0 {
		errs = append(errs, errors.New("health.latency_threshold must be positive"))
	}
	if c.Cache.MaxEntries < 0 || c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache.max_entries and cache.ttl must not be negative"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if f := c.Logging.Format; f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("logging.format: expected text or json, got %q", f))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from REQLENS_* environment variables and
// validates the result.
func (c *Config) ApplyEnv() error {
	envOverride(&c.Backend.Provider, "REQLENS_PROVIDER")
	envOverride(&c.Backend.Model, "REQLENS_MODEL")
	envOverride(&c.Backend.OllamaURL, "REQLENS_OLLAMA_URL")
	envOverride(&c.Output.DataDir, "REQLENS_DATA_DIR")
	envOverride(&c.Logging.Level, "REQLENS_LOG_LEVEL")
	if err := envOverrideDuration(&c.Backend.CallTimeout, "REQLENS_CALL_TIMEOUT"); err != nil {
		return err
	}
	if err := envOverrideInt(&c.Server.Port, "REQLENS_PORT"); err != nil {
		return err
	}
	envOverrideBool(&c.Analysis.FallbackEnabled, "REQLENS_FALLBACK")
	return c.validate()
}

func envOverride(field *string, key string) {
	if val := os.Getenv(key); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, key string) error {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, val, err)
		}
		*field = n
	}
	return nil
}

func envOverrideDuration(field *time.Duration, key string) error {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, val, err)
		}
		*field = d
	}
	return nil
}

func envOverrideBool(field *bool, key string) {
	if val := os.Getenv(key); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath returns the SQLite database location inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "reqlens.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
