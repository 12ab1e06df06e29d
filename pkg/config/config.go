// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Redis, Postgres, Kafka, Search, Indexer, etc.).
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

// Partial-match strategies accepted by SearchConfig.MatchStrategy.
const (
	MatchPrefix    = "prefix"
	MatchSubstring = "substring"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Search   SearchConfig   `yaml:"search"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Breaker  BreakerConfig  `yaml:"breaker"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MaxBodyBytes    int64         `yaml:"maxBodyBytes"`
}

// RedisConfig holds connection parameters for the cache that stores the index.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"poolSize"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for the posts table
// read by the rebuild command.
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
	PostEvents    string `yaml:"postEvents"`
	IndexComplete string `yaml:"indexComplete"`
}

// SearchConfig controls the full-text engine: key namespace, segmentation
// dictionaries, partial matching and result limits.
type SearchConfig struct {
	KeyPrefix        string        `yaml:"keyPrefix"`
	PartialMatch     bool          `yaml:"partialMatch"`
	MatchStrategy    string        `yaml:"matchStrategy"`
	MaxResults       int           `yaml:"maxResults"`
	DefaultLimit     int           `yaml:"defaultLimit"`
	DictPaths        []string      `yaml:"dictPaths"`
	ConflictRetries  int           `yaml:"conflictRetries"`
	OperationTimeout time.Duration `yaml:"operationTimeout"`
}

// IndexerConfig controls the event-driven sync worker and the rebuild command.
type IndexerConfig struct {
	RetryAttempts     int           `yaml:"retryAttempts"`
	RetryInitialDelay time.Duration `yaml:"retryInitialDelay"`
	RetryMaxDelay     time.Duration `yaml:"retryMaxDelay"`
	RebuildWorkers    int           `yaml:"rebuildWorkers"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// BreakerConfig controls the circuit breaker guarding searches against an
// unreachable index store. A zero FailureThreshold disables the breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values, or an error if the result does not validate.
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
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return defaultConfig()
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Search.KeyPrefix == "" {
		errs = append(errs, errors.New("search.keyPrefix cannot be empty"))
	}
	if c.Search.MaxResults <= 0 {
		errs = append(errs, errors.New("search.maxResults must be positive"))
	}
	if c.Search.DefaultLimit <= 0 || c.Search.DefaultLimit > c.Search.MaxResults {
		errs = append(errs, errors.New("search.defaultLimit must be in (0, maxResults]"))
	}
	switch c.Search.MatchStrategy {
	case MatchPrefix, MatchSubstring:
	default:
		errs = append(errs, fmt.Errorf("search.matchStrategy %q is not one of %q, %q",
			c.Search.MatchStrategy, MatchPrefix, MatchSubstring))
	}
	if c.Search.ConflictRetries < 0 {
		errs = append(errs, errors.New("search.conflictRetries cannot be negative"))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, errors.New("redis.db cannot be negative"))
	}
	if c.Breaker.FailureThreshold < 0 {
		errs = append(errs, errors.New("breaker.failureThreshold cannot be negative"))
	}
	if c.Indexer.RebuildWorkers <= 0 {
		errs = append(errs, errors.New("indexer.rebuildWorkers must be positive"))
	}
	return errors.Join(errs...)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    4 << 20,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "notebook",
			User:            "notebook",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "notesearch-indexer",
			Topics: KafkaTopics{
				PostEvents:    "post-events",
				IndexComplete: "index.complete",
			},
		},
		Search: SearchConfig{
			KeyPrefix:        "fts:",
			PartialMatch:     true,
			MatchStrategy:    MatchPrefix,
			MaxResults:       300,
			DefaultLimit:     50,
			ConflictRetries:  8,
			OperationTimeout: 5 * time.Second,
		},
		Indexer: IndexerConfig{
			RetryAttempts:     5,
			RetryInitialDelay: 200 * time.Millisecond,
			RetryMaxDelay:     10 * time.Second,
			RebuildWorkers:    4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     10 * time.Second,
		},
	}
}

// applyEnvOverrides reads NS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("NS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("NS_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("NS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("NS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("NS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("NS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("NS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("NS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("NS_SEARCH_KEY_PREFIX"); v != "" {
		cfg.Search.KeyPrefix = v
	}
	if v := os.Getenv("NS_SEARCH_PARTIAL_MATCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Search.PartialMatch = b
		}
	}
	if v := os.Getenv("NS_SEARCH_MATCH_STRATEGY"); v != "" {
		cfg.Search.MatchStrategy = v
	}
	if v := os.Getenv("NS_SEARCH_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.MaxResults = n
		}
	}
	if v := os.Getenv("NS_SEARCH_DICT_PATHS"); v != "" {
		cfg.Search.DictPaths = strings.Split(v, ",")
	}
	if v := os.Getenv("NS_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
	if v := os.Getenv("NS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
