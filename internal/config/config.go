// Package config loads barterex configuration from defaults, an optional YAML
// file and BARTEREX_* environment variables, in increasing precedence.
package config

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. BARTEREX_SERVER_PORT.
const EnvPrefix = "BARTEREX"

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host" json:"host"`
	Port            int           `mapstructure:"port" yaml:"port" json:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects and tunes the backing database.
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver" yaml:"driver" json:"driver"`
	DSN             string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns" yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime" json:"conn_max_lifetime"` // seconds
	Isolation       string `mapstructure:"isolation" yaml:"isolation" json:"isolation"`
	LogLevel        string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
}

// IsolationLevel maps the configured isolation name to a sql level.
func (d DatabaseConfig) IsolationLevel() (sql.IsolationLevel, error) {
	switch strings.ToLower(d.Isolation) {
	case "", "default":
		return sql.LevelDefault, nil
	case "read_committed":
		return sql.LevelReadCommitted, nil
	case "repeatable_read":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	}
	return sql.LevelDefault, fmt.Errorf("unknown isolation level %q%s", d.Isolation,
		suggest(d.Isolation, "default", "read_committed", "repeatable_read", "serializable"))
}

// KafkaConfig controls fill event publishing.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers" json:"brokers"`
	Topic        string        `mapstructure:"topic" yaml:"topic" json:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"`
}

// ExchangeConfig holds matching defaults.
type ExchangeConfig struct {
	DefaultWorld string        `mapstructure:"default_world" yaml:"default_world" json:"default_world"`
	TxTimeout    time.Duration `mapstructure:"tx_timeout" yaml:"tx_timeout" json:"tx_timeout"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Traces  bool `mapstructure:"traces" yaml:"traces" json:"traces"`
	Metrics bool `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
}

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server" json:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database" json:"database"`
	Kafka     KafkaConfig     `mapstructure:"kafka" yaml:"kafka" json:"kafka"`
	Log       LogConfig       `mapstructure:"log" yaml:"log" json:"log"`
	Exchange  ExchangeConfig  `mapstructure:"exchange" yaml:"exchange" json:"exchange"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "barterex.db")
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.conn_max_lifetime", 0)
	v.SetDefault("database.isolation", "default")
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "barterex.fills")
	v.SetDefault("kafka.write_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("exchange.default_world", "world")
	v.SetDefault("exchange.tx_timeout", 5*time.Second)

	v.SetDefault("telemetry.traces", false)
	v.SetDefault("telemetry.metrics", false)
}

// LoadConfig loads the application configuration. When paths are given the
// first one is read and must exist; otherwise config.yaml is looked up in
// the usual places and may be absent.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if len(paths) > 0 && paths[0] != "" {
		v.SetConfigFile(paths[0])
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/barterex")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	// comma separated lists from the environment arrive as one element
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q%s", c.Database.Driver,
			suggest(c.Database.Driver, DriverSQLite, DriverPostgres))
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}
	if _, err := c.Database.IsolationLevel(); err != nil {
		return err
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka enabled without brokers")
		}
		if c.Kafka.Topic == "" {
			return errors.New("kafka enabled without topic")
		}
	}
	if c.Exchange.DefaultWorld == "" {
		return errors.New("exchange default_world is required")
	}
	return nil
}

// suggest names the closest known value when a typo is likely.
func suggest(got string, known ...string) string {
	got = strings.ToLower(got)
	best, bestDist := "", 3
	for _, k := range known {
		if d := levenshtein.ComputeDistance(got, k); d < bestDist {
			best, bestDist = k, d
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf(", did you mean %q?", best)
}

// WriteYAML writes the effective configuration in the format LoadConfig reads.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
