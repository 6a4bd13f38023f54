// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Backend, Postgres, Kafka, Redis, Search, Audit, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Search   SearchConfig   `yaml:"search"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// BackendConfig locates the CASFOS REST backend whose records the directory
// serves.
type BackendConfig struct {
	Scheme      string        `yaml:"scheme"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	UploadsPath string        `yaml:"uploadsPath"`
	Timeout     time.Duration `yaml:"timeout"`
}

// BaseURL composes scheme://host:port. A zero port leaves the port out.
func (b BackendConfig) BaseURL() string {
	scheme := b.Scheme
	if scheme == "" {
		scheme = "http"
	}
	if b.Port == 0 {
		return fmt.Sprintf("%s://%s", scheme, b.Host)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// UploadsURL is the base under which photo and document basenames are served.
func (b BackendConfig) UploadsURL() string {
	path := b.UploadsPath
	if path == "" {
		path = "/uploads"
	}
	return strings.TrimRight(b.BaseURL(), "/") + "/" + strings.Trim(path, "/")
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ReviewEvents  string `yaml:"reviewEvents"`
	FilterEvents  string `yaml:"filterEvents"`
	RecordChanges string `yaml:"recordChanges"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// SearchConfig controls the filter engine, live search and detail views.
type SearchConfig struct {
	DebounceDelay  time.Duration `yaml:"debounceDelay"`
	DetailMaxDepth int           `yaml:"detailMaxDepth"`
	SortLocale     string        `yaml:"sortLocale"`
	DefaultMode    string        `yaml:"defaultMode"`
}

// AuditConfig controls the audit service's persistence cadence.
type AuditConfig struct {
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Backend.Host == "" {
		errs = append(errs, errors.New("backend.host is required"))
	}
	switch c.Search.DefaultMode {
	case "local", "remote":
	default:
		errs = append(errs, fmt.Errorf("search.defaultMode must be local or remote, got %q", c.Search.DefaultMode))
	}
	if c.Search.DebounceDelay < 0 {
		errs = append(errs, errors.New("search.debounceDelay must not be negative"))
	}
	if c.Search.DetailMaxDepth < 1 {
		errs = append(errs, errors.New("search.detailMaxDepth must be at least 1"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Backend: BackendConfig{
			Scheme:      "http",
			Host:        "localhost",
			Port:        3001,
			UploadsPath: "/uploads",
			Timeout:     10 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "casfos",
			User:            "casfos",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "casfos-registry",
			Topics: KafkaTopics{
				ReviewEvents:  "registry.review-events",
				FilterEvents:  "registry.filter-events",
				RecordChanges: "registry.record-changes",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Search: SearchConfig{
			DebounceDelay:  300 * time.Millisecond,
			DetailMaxDepth: 10,
			SortLocale:     "en",
			DefaultMode:    "remote",
		},
		Audit: AuditConfig{
			SnapshotInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// envOverrides maps CASFOS_* variables onto config fields. CASFOS_API_*
// compose the records backend URL.
var envOverrides = []struct {
	name  string
	apply func(c *Config, v string) error
}{
	{"CASFOS_SERVER_PORT", func(c *Config, v string) error { return setInt(&c.Server.Port, v) }},
	{"CASFOS_API_SCHEME", func(c *Config, v string) error { c.Backend.Scheme = v; return nil }},
	{"CASFOS_API_HOST", func(c *Config, v string) error { c.Backend.Host = v; return nil }},
	{"CASFOS_API_PORT", func(c *Config, v string) error { return setInt(&c.Backend.Port, v) }},
	{"CASFOS_POSTGRES_HOST", func(c *Config, v string) error { c.Postgres.Host = v; return nil }},
	{"CASFOS_POSTGRES_PORT", func(c *Config, v string) error { return setInt(&c.Postgres.Port, v) }},
	{"CASFOS_POSTGRES_DATABASE", func(c *Config, v string) error { c.Postgres.Database = v; return nil }},
	{"CASFOS_POSTGRES_USER", func(c *Config, v string) error { c.Postgres.User = v; return nil }},
	{"CASFOS_POSTGRES_PASSWORD", func(c *Config, v string) error { c.Postgres.Password = v; return nil }},
	{"CASFOS_POSTGRES_SSLMODE", func(c *Config, v string) error { c.Postgres.SSLMode = v; return nil }},
	{"CASFOS_KAFKA_BROKERS", func(c *Config, v string) error { c.Kafka.Brokers = splitList(v); return nil }},
	{"CASFOS_REDIS_ADDR", func(c *Config, v string) error { c.Redis.Addr = v; return nil }},
	{"CASFOS_REDIS_PASSWORD", func(c *Config, v string) error { c.Redis.Password = v; return nil }},
	{"CASFOS_SEARCH_MODE", func(c *Config, v string) error { c.Search.DefaultMode = v; return nil }},
	{"CASFOS_SEARCH_DEBOUNCE", func(c *Config, v string) error { return setDuration(&c.Search.DebounceDelay, v) }},
	{"CASFOS_LOGGING_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"CASFOS_LOGGING_FORMAT", func(c *Config, v string) error { c.Logging.Format = v; return nil }},
}

func applyEnvOverrides(cfg *Config) error {
	var errs []error
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.name, err))
		}
	}
	return errors.Join(errs...)
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("want an integer, got %q", v)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("want a duration such as 300ms, got %q", v)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
