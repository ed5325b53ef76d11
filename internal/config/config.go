package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "CODELENS"

const (
	VectorBackendPgvector = "pgvector"
	VectorBackendQdrant   = "qdrant"

	FileStorePostgres = "postgres"
	FileStoreS3       = "s3"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL      string `envconfig:"DATABASE_URL" required:"true"`
	DatabaseMaxConns int32  `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMinConns int32  `envconfig:"DATABASE_MIN_CONNS" default:"0"`

	DatabaseMaxConnLifetime time.Duration `envconfig:"DATABASE_MAX_CONN_LIFETIME" default:"1h"`
	DatabaseConnectTimeout  time.Duration `envconfig:"DATABASE_CONNECT_TIMEOUT" default:"30s"`

	// APIKeys guard the HTTP API. An empty list disables auth.
	APIKeys []string `envconfig:"API_KEYS"`

	EmbeddingAPIKey            string `envconfig:"EMBEDDING_API_KEY"`
	EmbeddingBaseURL           string `envconfig:"EMBEDDING_BASE_URL"`
	EmbeddingModel             string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions        int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	EmbeddingRequestsPerMinute int    `envconfig:"EMBEDDING_REQUESTS_PER_MINUTE" default:"3000"`
	EmbeddingTokensPerMinute   int    `envconfig:"EMBEDDING_TOKENS_PER_MINUTE" default:"1000000"`
	EmbeddingBatchTokens       int    `envconfig:"EMBEDDING_BATCH_TOKENS" default:"8000"`
	EmbeddingMaxRetries        int    `envconfig:"EMBEDDING_MAX_RETRIES" default:"3"`
	TokenEstimator             string `envconfig:"TOKEN_ESTIMATOR" default:"heuristic"`

	ChunkMaxSize int `envconfig:"CHUNK_MAX_SIZE" default:"1000"`
	ChunkMinSize int `envconfig:"CHUNK_MIN_SIZE" default:"50"`

	VectorBackend    string `envconfig:"VECTOR_BACKEND" default:"pgvector"`
	QdrantHost       string `envconfig:"QDRANT_HOST" default:"localhost"`
	QdrantPort       int    `envconfig:"QDRANT_PORT" default:"6334"`
	QdrantAPIKey     string `envconfig:"QDRANT_API_KEY"`
	QdrantUseTLS     bool   `envconfig:"QDRANT_USE_TLS" default:"false"`
	QdrantCollection string `envconfig:"QDRANT_COLLECTION" default:"code_chunks"`

	FileStore   string `envconfig:"FILE_STORE" default:"postgres"`
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"codelens-files"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	WorkerPollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"5s"`
	CacheMaxEntries    int           `envconfig:"CACHE_MAX_ENTRIES" default:"100"`
	CacheTTL           time.Duration `envconfig:"CACHE_TTL" default:"5m"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate checks the enumerated settings and the S3 requirements.
func (c *Config) Validate() error {
	c.VectorBackend = strings.ToLower(strings.TrimSpace(c.VectorBackend))
	c.FileStore = strings.ToLower(strings.TrimSpace(c.FileStore))

	switch c.VectorBackend {
	case VectorBackendPgvector, VectorBackendQdrant:
	default:
		return fmt.Errorf("invalid %s_VECTOR_BACKEND %q (expected pgvector or qdrant)", envPrefix, c.VectorBackend)
	}

	switch c.FileStore {
	case FileStorePostgres:
	case FileStoreS3:
		if !c.HasS3() {
			return fmt.Errorf("%s_FILE_STORE=s3 requires S3_ENDPOINT, S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY", envPrefix)
		}
	default:
		return fmt.Errorf("invalid %s_FILE_STORE %q (expected postgres or s3)", envPrefix, c.FileStore)
	}

	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("%s_EMBEDDING_DIMENSIONS must be positive", envPrefix)
	}
	if c.ChunkMinSize < 0 || c.ChunkMaxSize <= c.ChunkMinSize {
		return fmt.Errorf("%s_CHUNK_MAX_SIZE must be greater than CHUNK_MIN_SIZE", envPrefix)
	}

	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasEmbeddingProvider() bool {
	return c.EmbeddingAPIKey != "" || c.EmbeddingBaseURL != ""
}

func (c *Config) HasAuth() bool {
	for _, k := range c.APIKeys {
		if strings.TrimSpace(k) != "" {
			return true
		}
	}
	return false
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}

// TracesSampleRate samples every transaction in development and one in ten
// elsewhere.
func (c *Config) TracesSampleRate() float64 {
	if c.Environment == "development" {
		return 1.0
	}
	return 0.1
}
