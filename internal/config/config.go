// Package config loads repoql settings from defaults, an optional config
// file, REPOQL_ prefixed environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/store"
)

// EnvPrefix prefixes every environment variable: REPOQL_DATABASE_DSN sets
// database.dsn.
const EnvPrefix = "REPOQL"

// Keys that may be bound to flags.
const (
	KeyDriver    = "database.driver"
	KeyDSN       = "database.dsn"
	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"
	KeyContracts = "contracts"
)

// Config is the resolved configuration.
type Config struct {
	Database  Database `mapstructure:"database"`
	Log       Log      `mapstructure:"log"`
	Contracts string   `mapstructure:"contracts"` // directory of the CUE contract package
}

// Database selects the store.
type Database struct {
	Driver string `mapstructure:"driver"` // "sqlite3" | "pgx"
	DSN    string `mapstructure:"dsn"`
}

// Log configures the structured logger.
type Log struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // text | json
}

// New returns a viper instance with defaults and environment lookup set up.
// Flags are bound to it with BindPFlag before Load is called.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyDriver, string(ir.DialectSQLite))
	v.SetDefault(KeyDSN, ":memory:")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyContracts, "contracts")

	// Every key has a default, so AutomaticEnv resolves all of them on
	// Unmarshal.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and unmarshals the result.
//
// An explicit file must exist. Without one, repoql.yaml (or .json, .toml)
// in the working directory is read when present.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("repoql")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the driver and the log settings.
func (c *Config) Validate() error {
	if !ir.ValidDialects[ir.Dialect(c.Database.Driver)] {
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn: must not be empty")
	}
	if _, err := c.level(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Store returns the store configuration.
func (c *Config) Store() store.Config {
	return store.Config{Driver: ir.Dialect(c.Database.Driver), DSN: c.Database.DSN}
}

// Logger builds the structured logger writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := c.level()
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (c *Config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
