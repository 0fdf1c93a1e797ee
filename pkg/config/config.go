// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Crawler, Indexer, Search, Pipeline, Scheduler, Redis, Kafka, etc.).
//
// A Config is built once at startup and handed to constructors by value or
// pointer; nothing in the module reads configuration from package state.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Search    SearchConfig    `yaml:"search"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit float64 `yaml:"rateLimit" validate:"gte=0"`
	RateBurst int     `yaml:"rateBurst" validate:"gte=0"`
}

// CrawlerConfig bounds a crawl run and tunes its politeness and retry policy.
type CrawlerConfig struct {
	Seeds              []string      `yaml:"seeds" validate:"dive,url"`
	MaxPages           int           `yaml:"maxPages" validate:"min=1"`
	MaxDepth           int           `yaml:"maxDepth" validate:"min=0"`
	Workers            int           `yaml:"workers" validate:"min=1,max=64"`
	PerHostConcurrency int           `yaml:"perHostConcurrency" validate:"min=1"`
	PolitenessDelay    time.Duration `yaml:"politenessDelay" validate:"min=0"`
	RequestTimeout     time.Duration `yaml:"requestTimeout" validate:"min=0"`
	MaxRetries         int           `yaml:"maxRetries" validate:"min=0,max=10"`
	RetryBaseDelay     time.Duration `yaml:"retryBaseDelay" validate:"min=0"`
	RetryMaxDelay      time.Duration `yaml:"retryMaxDelay" validate:"min=0"`
	RetryMultiplier    float64       `yaml:"retryMultiplier" validate:"gte=1"`
	RetryJitter        float64       `yaml:"retryJitter" validate:"gte=0,lte=1"`
	UserAgent          string        `yaml:"userAgent" validate:"required"`
	SameSiteOnly       bool          `yaml:"sameSiteOnly"`
	AllowedHosts       []string      `yaml:"allowedHosts"`
	IncludePatterns    []string      `yaml:"includePatterns"`
	RespectRobots      bool          `yaml:"respectRobots"`
	MaxBodyBytes       int64         `yaml:"maxBodyBytes" validate:"min=1024"`
}

// IndexerConfig locates the persisted index and corpus log and controls
// normalization.
type IndexerConfig struct {
	DataDir     string `yaml:"dataDir" validate:"required"`
	IndexFile   string `yaml:"indexFile" validate:"required"`
	CorpusFile  string `yaml:"corpusFile" validate:"required"`
	Stemming    bool   `yaml:"stemming"`
	Compression string `yaml:"compression" validate:"oneof=zstd none"`
}

// IndexPath returns the absolute location of the persisted index.
func (c IndexerConfig) IndexPath() string {
	return filepath.Join(c.DataDir, c.IndexFile)
}

// CorpusPath returns the location of the JSON Lines crawl log.
func (c IndexerConfig) CorpusPath() string {
	return filepath.Join(c.DataDir, c.CorpusFile)
}

// SearchConfig holds BM25 constants and result windowing limits.
type SearchConfig struct {
	K1                 float64       `yaml:"k1" validate:"gte=0"`
	B                  float64       `yaml:"b" validate:"gte=0,lte=1"`
	TopK               int           `yaml:"topK" validate:"min=1"`
	PageSize           int           `yaml:"pageSize" validate:"min=1"`
	MaxPageSize        int           `yaml:"maxPageSize" validate:"min=1,gtefield=PageSize"`
	ReloadPollInterval time.Duration `yaml:"reloadPollInterval" validate:"min=0"`
}

// PipelineConfig controls how a run turns crawl output into an index.
type PipelineConfig struct {
	// AccumulateCorpus builds from the whole corpus log instead of only the
	// documents fetched by the current run.
	AccumulateCorpus bool `yaml:"accumulateCorpus"`
	// WarmupQueries are executed against the fresh index after a build.
	WarmupQueries []string `yaml:"warmupQueries"`
}

// SchedulerConfig controls periodic re-crawls.
type SchedulerConfig struct {
	Interval      time.Duration `yaml:"interval" validate:"min=0"`
	CheckInterval time.Duration `yaml:"checkInterval" validate:"min=0"`
	RunTimeout    time.Duration `yaml:"runTimeout" validate:"min=0"`
	StatusFile    string        `yaml:"statusFile"`
	Store         string        `yaml:"store" validate:"oneof=file postgres"`
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

// KafkaConfig holds Kafka broker and topic settings. Brokers left empty
// disables event publishing.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// Enabled reports whether any brokers are configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexComplete string `yaml:"indexComplete"`
	SearchEvents  string `yaml:"searchEvents"`
}

// RedisConfig holds Redis connection and caching parameters. An empty Addr
// disables the query cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
	// OpTimeout bounds each cache round trip so a slow Redis cannot stall
	// searches.
	OpTimeout time.Duration `yaml:"opTimeout" validate:"gte=0"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result.
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

// Default returns the built-in configuration without reading files or the
// environment.
func Default() *Config {
	return defaultConfig()
}

// Validate checks field constraints declared in struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Scheduler.Store == "file" && c.Scheduler.StatusFile == "" {
		return errors.New("invalid config: scheduler.statusFile required for file store")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       20,
			RateBurst:       40,
		},
		Crawler: CrawlerConfig{
			Seeds:              []string{"https://pureportal.coventry.ac.uk/en/organisations/ihw-centre-for-health-and-life-sciences-chls/publications/"},
			MaxPages:           300,
			MaxDepth:           3,
			Workers:            4,
			PerHostConcurrency: 2,
			PolitenessDelay:    1200 * time.Millisecond,
			RequestTimeout:     15 * time.Second,
			MaxRetries:         3,
			RetryBaseDelay:     500 * time.Millisecond,
			RetryMaxDelay:      10 * time.Second,
			RetryMultiplier:    2.0,
			RetryJitter:        0.2,
			UserAgent:          "research-search-bot/1.0 (+https://github.com/Adithya-Monish-Kumar-K/research-search)",
			SameSiteOnly:       true,
			RespectRobots:      true,
			MaxBodyBytes:       5 << 20,
		},
		Indexer: IndexerConfig{
			DataDir:     "data",
			IndexFile:   "index.bm25",
			CorpusFile:  "corpus.jsonl",
			Stemming:    true,
			Compression: "zstd",
		},
		Search: SearchConfig{
			K1:                 1.5,
			B:                  0.75,
			TopK:               100,
			PageSize:           10,
			MaxPageSize:        50,
			ReloadPollInterval: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval:      7 * 24 * time.Hour,
			CheckInterval: time.Hour,
			RunTimeout:    2 * time.Hour,
			StatusFile:    "data/crawl_status.json",
			Store:         "file",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "researchsearch",
			User:            "researchsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "research-search-searcher",
			Topics: KafkaTopics{
				IndexComplete: "index.complete",
				SearchEvents:  "search.events",
			},
		},
		Redis: RedisConfig{
			PoolSize:  10,
			CacheTTL:  5 * time.Minute,
			OpTimeout: 100 * time.Millisecond,
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

// applyEnvOverrides reads RS_* environment variables and overrides the
// corresponding config fields. Malformed numeric values are ignored.
func applyEnvOverrides(cfg *Config) {
	setInt("RS_SERVER_PORT", &cfg.Server.Port)
	setList("RS_CRAWLER_SEEDS", &cfg.Crawler.Seeds)
	setInt("RS_CRAWLER_MAX_PAGES", &cfg.Crawler.MaxPages)
	setInt("RS_CRAWLER_MAX_DEPTH", &cfg.Crawler.MaxDepth)
	setInt("RS_CRAWLER_WORKERS", &cfg.Crawler.Workers)
	setInt("RS_CRAWLER_MAX_RETRIES", &cfg.Crawler.MaxRetries)
	setDuration("RS_CRAWLER_POLITENESS_DELAY", &cfg.Crawler.PolitenessDelay)
	setDuration("RS_CRAWLER_RETRY_BASE_DELAY", &cfg.Crawler.RetryBaseDelay)
	setString("RS_CRAWLER_USER_AGENT", &cfg.Crawler.UserAgent)
	setString("RS_INDEXER_DATA_DIR", &cfg.Indexer.DataDir)
	setBool("RS_INDEXER_STEMMING", &cfg.Indexer.Stemming)
	setFloat("RS_SEARCH_K1", &cfg.Search.K1)
	setFloat("RS_SEARCH_B", &cfg.Search.B)
	setInt("RS_SEARCH_TOP_K", &cfg.Search.TopK)
	setInt("RS_SEARCH_PAGE_SIZE", &cfg.Search.PageSize)
	setDuration("RS_SCHEDULER_INTERVAL", &cfg.Scheduler.Interval)
	setString("RS_SCHEDULER_STORE", &cfg.Scheduler.Store)
	setString("RS_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("RS_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("RS_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("RS_POSTGRES_USER", &cfg.Postgres.User)
	setString("RS_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("RS_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	setList("RS_KAFKA_BROKERS", &cfg.Kafka.Brokers)
	setString("RS_REDIS_ADDR", &cfg.Redis.Addr)
	setString("RS_REDIS_PASSWORD", &cfg.Redis.Password)
	setString("RS_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("RS_LOGGING_FORMAT", &cfg.Logging.Format)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(key string, dst *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
