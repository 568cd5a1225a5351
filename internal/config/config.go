// Package config provides configuration management for toolbag. Values come from built-in defaults, an optional
// YAML file, and the environment, in increasing order of precedence; command line flags are applied last by the
// CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for toolbag
type Config struct {
	// Root is the working directory every tool is confined to
	Root string `yaml:"root"`
	// ExcludedNames are skipped when listing and searching, in addition to the built-in exclusions
	ExcludedNames []string `yaml:"excluded_names"`
	LogLevel      string   `yaml:"log_level"`

	// Authentication. Read from the environment only, never from the config file
	AnthropicAPIKey string `yaml:"-"`
	GitHubToken     string `yaml:"-"`

	AI        AIConfig        `yaml:"ai"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Fetch     FetchConfig     `yaml:"fetch"`
}

// AIConfig configures the model driver
type AIConfig struct {
	Model            string  `yaml:"model"`
	MaxTokens        int64   `yaml:"max_tokens"`
	Temperature      float64 `yaml:"temperature"`
	MaxIterations    int     `yaml:"max_iterations"`
	SystemPromptFile string  `yaml:"system_prompt_file"`
	// ConversationsDir holds in-flight conversations so that interrupted runs can resume. Empty disables resuming
	ConversationsDir string `yaml:"conversations_dir"`
	// TokenLimit is the context size above which the conversation is summarized
	TokenLimit int64 `yaml:"token_limit"`
}

// TelemetryConfig configures OpenTelemetry tracing
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// FetchConfig configures the fetch_html tool
type FetchConfig struct {
	TimeoutSeconds int   `yaml:"timeout_seconds"`
	MaxBytes       int64 `yaml:"max_bytes"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Root:     ".",
		LogLevel: "info",
		AI: AIConfig{
			Model:         "claude-sonnet-4-0",
			MaxTokens:     16000,
			Temperature:   0.25,
			MaxIterations: 50,
			TokenLimit:    100000,
		},
		Fetch: FetchConfig{
			TimeoutSeconds: 60,
			MaxBytes:       2 << 20,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path if path is not empty, and the environment
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		if err := c.LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := c.ApplyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadFile overlays the values set in a YAML file
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}
	return nil
}

// ApplyEnv overlays the values set in the environment, as read by getenv
func (c *Config) ApplyEnv(getenv func(string) string) error {
	loadFromEnv(getenv, &c.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	loadFromEnv(getenv, &c.GitHubToken, "GITHUB_TOKEN")
	loadFromEnv(getenv, &c.Root, "TOOLBAG_ROOT")
	loadFromEnv(getenv, &c.AI.Model, "TOOLBAG_MODEL")
	loadFromEnv(getenv, &c.AI.ConversationsDir, "TOOLBAG_CONVERSATIONS_DIR")
	loadFromEnv(getenv, &c.LogLevel, "TOOLBAG_LOG_LEVEL")
	loadFromEnv(getenv, &c.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	return errors.Join(
		parseFromEnv(getenv, &c.AI.MaxIterations, "TOOLBAG_MAX_ITERATIONS", strconv.Atoi),
		parseFromEnv(getenv, &c.AI.MaxTokens, "TOOLBAG_MAX_TOKENS", parseInt64),
		parseFromEnv(getenv, &c.Telemetry.Enabled, "TOOLBAG_TELEMETRY", strconv.ParseBool),
	)
}

func loadFromEnv(getenv func(string) string, dest *string, key string) {
	if v := getenv(key); v != "" {
		*dest = v
	}
}

func parseFromEnv[T any](getenv func(string) string, dest *T, key string, parseFn func(string) (T, error)) error {
	str := getenv(key)
	if str == "" {
		return nil // Leave default value
	}
	v, err := parseFn(str)
	if err != nil {
		return fmt.Errorf("failed to parse environment variable '%s' value '%s' as '%T': %w", key, str, *dest, err)
	}
	*dest = v
	return nil
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// Validate checks that the values every command relies on are usable
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Root) == "" {
		errs = append(errs, errors.New("root must not be empty"))
	}
	if c.AI.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("ai.max_tokens must be positive, got %d", c.AI.MaxTokens))
	}
	if c.AI.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("ai.max_iterations must be positive, got %d", c.AI.MaxIterations))
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 1 {
		errs = append(errs, fmt.Errorf("ai.temperature must be between 0 and 1, got %g", c.AI.Temperature))
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("fetch.timeout_seconds must be positive, got %d", c.Fetch.TimeoutSeconds))
	}
	if c.Fetch.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("fetch.max_bytes must be positive, got %d", c.Fetch.MaxBytes))
	}
	return errors.Join(errs...)
}

// ValidateRun additionally checks what driving the model requires
func (c Config) ValidateRun() error {
	if c.AnthropicAPIKey == "" {
		return errors.Join(c.Validate(), errors.New("missing required environment variable: ANTHROPIC_API_KEY"))
	}
	return c.Validate()
}
