// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Indexer, Search, etc.).
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings. RateLimitRPS of 0 disables
// per-client rate limiting; an empty CORSOrigins disables CORS headers.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RateLimitRPS    float64       `yaml:"rateLimitRPS"`
	RateLimitBurst  int           `yaml:"rateLimitBurst"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
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

// KafkaConfig holds Kafka broker and topic settings. Compression is one of
// "", "gzip", "snappy", "lz4" or "zstd".
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Compression   string      `yaml:"compression"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentIngest string `yaml:"documentIngest"`
	IndexComplete  string `yaml:"indexComplete"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexerConfig controls the shard layout and the indexing engine's memory
// threshold and flush interval. Indexer and searcher must agree on DataDir
// and NumShards.
type IndexerConfig struct {
	DataDir        string        `yaml:"dataDir"`
	NumShards      int           `yaml:"numShards"`
	SegmentMaxSize int64         `yaml:"segmentMaxSize"`
	FlushInterval  time.Duration `yaml:"flushInterval"`
}

// SearchConfig controls query execution limits, timeouts, and scoring.
type SearchConfig struct {
	MaxResults           int           `yaml:"maxResults"`
	DefaultLimit         int           `yaml:"defaultLimit"`
	TimeoutPerShard      time.Duration `yaml:"timeoutPerShard"`
	MaxConcurrentQueries int           `yaml:"maxConcurrentQueries"`
	// TieBreaker weighs the non-maximum clause scores of a document.
	// 0 scores by the best clause alone; 1 sums every matching clause.
	TieBreaker float64       `yaml:"tieBreaker"`
	Fields     []FieldConfig `yaml:"fields"`
}

// FieldConfig names a field that bare query terms are expanded to and the
// boost applied to matches in it.
type FieldConfig struct {
	Name  string  `yaml:"name"`
	Boost float64 `yaml:"boost"`
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
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Indexer.NumShards <= 0 {
		errs = append(errs, fmt.Errorf("indexer.numShards must be positive, got %d", c.Indexer.NumShards))
	}
	if c.Indexer.DataDir == "" {
		errs = append(errs, errors.New("indexer.dataDir is required"))
	}
	switch c.Kafka.Compression {
	case "", "gzip", "snappy", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("kafka.compression %q is not supported", c.Kafka.Compression))
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("server.rateLimitRPS must not be negative, got %v", c.Server.RateLimitRPS))
	}
	tie := c.Search.TieBreaker
	if math.IsNaN(tie) || math.IsInf(tie, 0) || tie < 0 {
		errs = append(errs, fmt.Errorf("search.tieBreaker must be a non-negative number, got %v", tie))
	}
	if len(c.Search.Fields) == 0 {
		errs = append(errs, errors.New("search.fields must name at least one field"))
	}
	for _, f := range c.Search.Fields {
		if f.Name == "" || f.Boost <= 0 {
			errs = append(errs, fmt.Errorf("search field %q needs a name and a positive boost", f.Name))
		}
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxResults < c.Search.DefaultLimit {
		errs = append(errs, fmt.Errorf("search limits invalid: defaultLimit=%d maxResults=%d", c.Search.DefaultLimit, c.Search.MaxResults))
	}
	return errors.Join(errs...)
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    50,
			RateLimitBurst:  100,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "searchplatform",
			User:            "searchplatform",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "dismax-search",
			Compression:   "lz4",
			Topics: KafkaTopics{
				DocumentIngest: "document-ingest",
				IndexComplete:  "index.complete",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Indexer: IndexerConfig{
			DataDir:        "data/index",
			NumShards:      4,
			SegmentMaxSize: 32 << 20,
			FlushInterval:  10 * time.Second,
		},
		Search: SearchConfig{
			MaxResults:           100,
			DefaultLimit:         10,
			TimeoutPerShard:      2 * time.Second,
			MaxConcurrentQueries: 64,
			TieBreaker:           0.1,
			Fields: []FieldConfig{
				{Name: "title", Boost: 2},
				{Name: "body", Boost: 1},
			},
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

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_SERVER_RATE_LIMIT_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.RateLimitRPS = rps
		}
	}
	if v := os.Getenv("SP_SERVER_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SP_INDEXER_DATA_DIR"); v != "" {
		cfg.Indexer.DataDir = v
	}
	if v := os.Getenv("SP_INDEXER_NUM_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexer.NumShards = n
		}
	}
	if v := os.Getenv("SP_SEARCH_TIE_BREAKER"); v != "" {
		if tie, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.TieBreaker = tie
		}
	}
	if v := os.Getenv("SP_SEARCH_FIELDS"); v != "" {
		if fields, err := ParseFields(v); err == nil {
			cfg.Search.Fields = fields
		}
	}
	if v := os.Getenv("SP_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}

// ParseFields parses a comma separated field list such as "title^2,body".
// A field without a boost gets 1.
func ParseFields(s string) ([]FieldConfig, error) {
	var fields []FieldConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, boostStr, hasBoost := strings.Cut(part, "^")
		f := FieldConfig{Name: name, Boost: 1}
		if hasBoost {
			boost, err := strconv.ParseFloat(boostStr, 64)
			if err != nil || boost <= 0 {
				return nil, fmt.Errorf("invalid boost in %q", part)
			}
			f.Boost = boost
		}
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return nil, errors.New("empty field list")
	}
	return fields, nil
}
