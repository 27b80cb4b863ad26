// Package config loads AIdent settings from an optional YAML or TOML file,
// an optional .env file and the process environment, in increasing priority.
//
// The model API key, model name and system instructions are required; Load
// reports every missing one at once.
//
//	server:
//	  addr: ":8100"
//	model:
//	  provider: "googleai"   # googleai, openai
//	  api_key: "${GOOGLE_API_KEY}"
//	  name: "gemini-2.0-flash"
//	  system_instructions: "You are a helpful assistant."
//	  timeout: "60s"
//	database:
//	  path: "aident.db"      # empty keeps conversations in memory only
//	session:
//	  ttl: "12h"
//	logging:
//	  level: "info"
//	  format: "json"         # json, console
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Model    ModelConfig    `yaml:"model" toml:"model"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

type ModelConfig struct {
	Provider           string `yaml:"provider" toml:"provider"`
	APIKey             string `yaml:"api_key" toml:"api_key"`
	Name               string `yaml:"name" toml:"name"`
	BaseURL            string `yaml:"base_url" toml:"base_url"`
	SystemInstructions string `yaml:"system_instructions" toml:"system_instructions"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

type SessionConfig struct {
	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Environment variables. The first three keep the names the project has always used.
const (
	EnvAPIKey             = "GOOGLE_API_KEY"
	EnvModel              = "GEMINI_MODEL"
	EnvSystemInstructions = "CUSTOM_INSTRUCTIONS"
	EnvAddr               = "AIDENT_ADDR"
	EnvProvider           = "AIDENT_PROVIDER"
	EnvBaseURL            = "AIDENT_BASE_URL"
	EnvDatabasePath       = "AIDENT_DATABASE_PATH"
	EnvLogLevel           = "AIDENT_LOG_LEVEL"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8100"},
		Model: ModelConfig{
			Provider:   "googleai",
			TimeoutRaw: "60s",
		},
		Session: SessionConfig{TTLRaw: "12h"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration. path and envFile may be empty; a missing
// envFile is not an error.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading env file: %w", err)
		}
	}
	cfg.applyEnv()

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	expanded := expandEnvVars(string(data))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, c); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or "" when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyEnv() {
	overrides := []struct {
		name   string
		target *string
	}{
		{EnvAPIKey, &c.Model.APIKey},
		{EnvModel, &c.Model.Name},
		{EnvSystemInstructions, &c.Model.SystemInstructions},
		{EnvAddr, &c.Server.Addr},
		{EnvProvider, &c.Model.Provider},
		{EnvBaseURL, &c.Model.BaseURL},
		{EnvDatabasePath, &c.Database.Path},
		{EnvLogLevel, &c.Logging.Level},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			*o.target = v
		}
	}
}

func (c *Config) parseDurations() error {
	var err error

	if c.Model.TimeoutRaw != "" {
		c.Model.Timeout, err = time.ParseDuration(c.Model.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing model.timeout %q: %w", c.Model.TimeoutRaw, err)
		}
	}

	if c.Session.TTLRaw != "" {
		c.Session.TTL, err = time.ParseDuration(c.Session.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing session.ttl %q: %w", c.Session.TTLRaw, err)
		}
	}

	return nil
}

// Validate reports every problem found, combined into one error.
func (c *Config) Validate() error {
	var err error

	if c.Model.APIKey == "" {
		err = multierr.Append(err, fmt.Errorf("model.api_key is required (set %s)", EnvAPIKey))
	}
	if c.Model.Name == "" {
		err = multierr.Append(err, fmt.Errorf("model.name is required (set %s)", EnvModel))
	}
	if c.Model.SystemInstructions == "" {
		err = multierr.Append(err, fmt.Errorf("model.system_instructions is required (set %s)", EnvSystemInstructions))
	}

	switch c.Model.Provider {
	case "googleai", "openai":
	default:
		err = multierr.Append(err, fmt.Errorf("model.provider %q is not supported (googleai, openai)", c.Model.Provider))
	}

	if c.Server.Addr == "" {
		err = multierr.Append(err, fmt.Errorf("server.addr is required"))
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		err = multierr.Append(err, fmt.Errorf("logging.format %q is not supported (json, console)", c.Logging.Format))
	}

	return err
}
