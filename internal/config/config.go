// Package config provides Viper-based configuration loading for the combat tracker.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig holds PostgreSQL connection settings for the postgres
// settings backend.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// File, when set, receives log output instead of stderr. The terminal
	// front end owns the screen, so interactive runs log to a file.
	File string `mapstructure:"file"`
}

// SettingsConfig selects where the tracker persists its panel state.
type SettingsConfig struct {
	// Backend is "file", "sqlite" or "postgres".
	Backend string `mapstructure:"backend"`
	// Path is the YAML file (file backend) or database file (sqlite backend).
	Path string `mapstructure:"path"`
	// Key is the settings key the panel state is stored under.
	Key string `mapstructure:"key"`
}

// ResolverConfig selects and tunes the combat resolver.
type ResolverConfig struct {
	// Kind is "auto", "script" or "claude".
	Kind string `mapstructure:"kind"`
	// Script is the Lua file defining take_turn (script resolver).
	Script string `mapstructure:"script"`
	// InstructionLimit caps Lua opcodes per script call; 0 uses the default.
	InstructionLimit int `mapstructure:"instruction_limit"`
	// Model is the Anthropic model name (claude resolver).
	Model string `mapstructure:"model"`
	// APIKey overrides ANTHROPIC_API_KEY when set.
	APIKey string `mapstructure:"api_key"`
	// MaxTokens caps each model response.
	MaxTokens int `mapstructure:"max_tokens"`
	// MaxRounds bounds how many rounds a resolver may play.
	MaxRounds int `mapstructure:"max_rounds"`
	// Seed makes dice deterministic when non-zero.
	Seed uint64 `mapstructure:"seed"`
	// SoftTimeout re-enables the resolve control while a run keeps going.
	SoftTimeout time.Duration `mapstructure:"soft_timeout"`
	// HardTimeout detaches the run entirely.
	HardTimeout time.Duration `mapstructure:"hard_timeout"`
	// ApplyBudget bounds each phase of applying a final result.
	ApplyBudget time.Duration `mapstructure:"apply_budget"`
}

// TracingConfig holds OpenTelemetry export settings. Tracing is disabled
// when Endpoint is empty.
type TracingConfig struct {
	// Endpoint is the OTLP/HTTP collector URL, e.g. http://localhost:4318.
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Config is the top-level application configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Settings SettingsConfig `mapstructure:"settings"`
	Database DatabaseConfig `mapstructure:"database"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateSettings(c.Settings); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Settings.Backend == "postgres" {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateResolver(c.Resolver); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Tracing.Endpoint != "" && c.Tracing.ServiceName == "" {
		errs = append(errs, "tracing.service_name must not be empty when tracing.endpoint is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSettings(s SettingsConfig) error {
	var errs []string
	switch s.Backend {
	case "file", "sqlite":
		if s.Path == "" {
			errs = append(errs, fmt.Sprintf("settings.path must not be empty for the %s backend", s.Backend))
		}
	case "postgres":
	default:
		errs = append(errs, fmt.Sprintf("settings.backend must be one of [file, sqlite, postgres], got %q", s.Backend))
	}
	if strings.TrimSpace(s.Key) == "" {
		errs = append(errs, "settings.key must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateResolver(r ResolverConfig) error {
	var errs []string
	switch r.Kind {
	case "auto":
	case "script":
		if r.Script == "" {
			errs = append(errs, "resolver.script must not be empty for the script resolver")
		}
	case "claude":
		if r.Model == "" {
			errs = append(errs, "resolver.model must not be empty for the claude resolver")
		}
		if r.MaxTokens < 1 {
			errs = append(errs, fmt.Sprintf("resolver.max_tokens must be >= 1, got %d", r.MaxTokens))
		}
	default:
		errs = append(errs, fmt.Sprintf("resolver.kind must be one of [auto, script, claude], got %q", r.Kind))
	}
	if r.InstructionLimit < 0 {
		errs = append(errs, fmt.Sprintf("resolver.instruction_limit must not be negative, got %d", r.InstructionLimit))
	}
	if r.MaxRounds < 1 {
		errs = append(errs, fmt.Sprintf("resolver.max_rounds must be >= 1, got %d", r.MaxRounds))
	}
	if r.SoftTimeout < 0 || r.HardTimeout < 0 {
		errs = append(errs, "resolver timeouts must not be negative")
	}
	if r.SoftTimeout > 0 && r.HardTimeout > 0 && r.SoftTimeout > r.HardTimeout {
		errs = append(errs, "resolver.soft_timeout must not exceed resolver.hard_timeout")
	}
	if r.ApplyBudget <= 0 {
		errs = append(errs, fmt.Sprintf("resolver.apply_budget must be positive, got %s", r.ApplyBudget))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path loads defaults and
// environment overrides only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with DMSCREEN_ prefix
	v.SetEnvPrefix("DMSCREEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults registers the default value of every key. AutomaticEnv only
// consults keys viper already knows, so every key has a default.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	v.SetDefault("settings.backend", "file")
	v.SetDefault("settings.path", "dmscreen-settings.yaml")
	v.SetDefault("settings.key", "combat_tracker_state")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "dmscreen")
	v.SetDefault("database.password", "dmscreen")
	v.SetDefault("database.name", "dmscreen")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("resolver.kind", "auto")
	v.SetDefault("resolver.script", "")
	v.SetDefault("resolver.instruction_limit", 0)
	v.SetDefault("resolver.model", "claude-sonnet-4-5")
	v.SetDefault("resolver.api_key", "")
	v.SetDefault("resolver.max_tokens", 2048)
	v.SetDefault("resolver.max_rounds", 10)
	v.SetDefault("resolver.seed", 0)
	v.SetDefault("resolver.soft_timeout", "2m")
	v.SetDefault("resolver.hard_timeout", "5m")
	v.SetDefault("resolver.apply_budget", "2s")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "dmscreen")
}
