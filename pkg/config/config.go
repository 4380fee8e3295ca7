// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Indexer, Kafka, Redis, Postgres, Logging, Metrics, Experiment).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

// Config is the top-level application configuration.
type Config struct {
	Indexer    IndexerConfig    `yaml:"indexer"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Experiment ExperimentConfig `yaml:"experiment"`
}

// IndexerConfig controls the index layout, write buffer and external sort.
type IndexerConfig struct {
	DataDir string `yaml:"dataDir"`
	// Mode is "tiered" or "bulk".
	Mode             string `yaml:"mode"`
	BlockCapacity    int    `yaml:"blockCapacity"`
	MaxTermLength    int    `yaml:"maxTermLength"`
	PostingSpillCap  int    `yaml:"postingSpillCap"`
	SegmentMaxSize   int64  `yaml:"segmentMaxSize"`
	MaxTempFiles     int    `yaml:"maxTempFiles"`
	MinRunPairs      int    `yaml:"minRunPairs"`
	TempDir          string `yaml:"tempDir"`
	QueryParallelism int    `yaml:"queryParallelism"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
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

// KafkaConfig holds Kafka broker and topic settings for review ingestion.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	Topic         string        `yaml:"topic"`
	BatchSize     int           `yaml:"batchSize"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
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

// ExperimentConfig drives cmd/experiment.
type ExperimentConfig struct {
	Name        string   `yaml:"name"`
	Input       string   `yaml:"input"`
	InsertInput string   `yaml:"insertInput"`
	Queries     []string `yaml:"queries"`
	Deletes     []uint32 `yaml:"deletes"`
	MergeAfter  bool     `yaml:"mergeAfter"`
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
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Indexer: IndexerConfig{
			DataDir:          "./data/index",
			Mode:             "tiered",
			BlockCapacity:    8,
			MaxTermLength:    127,
			PostingSpillCap:  1024,
			SegmentMaxSize:   64 << 20,
			MaxTempFiles:     1024,
			MinRunPairs:      4096,
			QueryParallelism: 8,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "reviewindex",
			User:            "reviewindex",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "review-indexer",
			Topic:         "review-events",
			BatchSize:     500,
			BatchTimeout:  2 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
		Experiment: ExperimentConfig{
			Name:       "default",
			MergeAfter: true,
		},
	}
}

// Validate rejects settings the index cannot run with.
func (c *Config) Validate() error {
	ix := c.Indexer
	var problems []string
	if ix.DataDir == "" {
		problems = append(problems, "indexer.dataDir is empty")
	}
	if ix.Mode != "tiered" && ix.Mode != "bulk" {
		problems = append(problems, fmt.Sprintf("indexer.mode %q is neither tiered nor bulk", ix.Mode))
	}
	if ix.BlockCapacity < 1 {
		problems = append(problems, "indexer.blockCapacity must be at least 1")
	}
	if ix.MaxTermLength < 1 || ix.MaxTermLength > 255 {
		problems = append(problems, "indexer.maxTermLength must be within [1, 255]")
	}
	if ix.PostingSpillCap < 1 {
		problems = append(problems, "indexer.postingSpillCap must be positive")
	}
	if ix.SegmentMaxSize < 1 {
		problems = append(problems, "indexer.segmentMaxSize must be positive")
	}
	if ix.MaxTempFiles < 1 {
		problems = append(problems, "indexer.maxTempFiles must be positive")
	}
	if ix.MinRunPairs < 1 {
		problems = append(problems, "indexer.minRunPairs must be positive")
	}
	if ix.QueryParallelism < 1 {
		problems = append(problems, "indexer.queryParallelism must be positive")
	}
	if c.Kafka.BatchSize < 1 {
		problems = append(problems, "kafka.batchSize must be positive")
	}
	if len(problems) > 0 {
		return apperrors.New(apperrors.ErrInvalidInput, "config.Validate", strings.Join(problems, "; "))
	}
	return nil
}

// applyEnvOverrides reads RI_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RI_DATA_DIR"); v != "" {
		cfg.Indexer.DataDir = v
	}
	if v := os.Getenv("RI_MODE"); v != "" {
		cfg.Indexer.Mode = v
	}
	if v := os.Getenv("RI_TEMP_DIR"); v != "" {
		cfg.Indexer.TempDir = v
	}
	envInt("RI_BLOCK_CAPACITY", &cfg.Indexer.BlockCapacity)
	envInt("RI_MAX_TERM_LENGTH", &cfg.Indexer.MaxTermLength)
	envInt("RI_POSTING_SPILL_CAP", &cfg.Indexer.PostingSpillCap)
	envInt("RI_MAX_TEMP_FILES", &cfg.Indexer.MaxTempFiles)
	envInt("RI_MIN_RUN_PAIRS", &cfg.Indexer.MinRunPairs)
	envInt("RI_QUERY_PARALLELISM", &cfg.Indexer.QueryParallelism)
	if v := os.Getenv("RI_SEGMENT_MAX_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Indexer.SegmentMaxSize = n
		}
	}
	if v := os.Getenv("RI_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
		cfg.Postgres.Enabled = true
	}
	envInt("RI_POSTGRES_PORT", &cfg.Postgres.Port)
	if v := os.Getenv("RI_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("RI_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("RI_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("RI_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("RI_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RI_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	envInt("RI_KAFKA_BATCH_SIZE", &cfg.Kafka.BatchSize)
	if v := os.Getenv("RI_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("RI_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RI_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RI_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("RI_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	envInt("RI_METRICS_PORT", &cfg.Metrics.Port)
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
