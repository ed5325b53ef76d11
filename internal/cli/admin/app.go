package admin

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/codelens/internal/chunker"
	"github.com/cloo-solutions/codelens/internal/config"
	"github.com/cloo-solutions/codelens/internal/database"
	"github.com/cloo-solutions/codelens/internal/embedding"
	"github.com/cloo-solutions/codelens/internal/openai"
	"github.com/cloo-solutions/codelens/internal/repository"
	"github.com/cloo-solutions/codelens/internal/service"
	"github.com/cloo-solutions/codelens/internal/storage"
	"github.com/cloo-solutions/codelens/internal/vector/qdrant"
)

// app holds the wired pipeline shared by serve, index and query.
type app struct {
	cfg  *config.Config
	pool *pgxpool.Pool

	jobRepo   *repository.IndexJobRepository
	index     service.VectorIndex
	files     service.CodebaseFileStore
	embedder  *embedding.Batcher
	cache     *service.ContextCache
	codebases *service.CodebaseService
	indexing  *service.IndexingService
	jobs      *service.IndexJobService
	retrieval *service.RetrievalService
	assembler *service.ContextAssembler

	closers []func()
}

type appOptions struct {
	migrate bool
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := database.NewPool(ctx, database.Config{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DatabaseMaxConns,
		MinConns:        cfg.DatabaseMinConns,
		MaxConnLifetime: cfg.DatabaseMaxConnLifetime,
		ConnectTimeout:  cfg.DatabaseConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	pool, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, pool: pool}
	a.closers = append(a.closers, pool.Close)
	log.Println("connected to database")

	if opts.migrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	index, err := a.vectorIndex()
	if err != nil {
		return err
	}
	a.index = index

	files, err := a.fileStore(ctx)
	if err != nil {
		return err
	}
	a.files = files

	estimator, err := embedding.NewEstimator(cfg.TokenEstimator)
	if err != nil {
		return fmt.Errorf("failed to create token estimator: %w", err)
	}
	if !cfg.HasEmbeddingProvider() {
		log.Println("embedding provider not configured; searches fall back to full-text matching")
	}
	provider := openai.NewClient(openai.Config{
		APIKey:              cfg.EmbeddingAPIKey,
		BaseURL:             cfg.EmbeddingBaseURL,
		EmbeddingModel:      cfg.EmbeddingModel,
		EmbeddingDimensions: cfg.EmbeddingDimensions,
	})
	batchCfg := embedding.DefaultConfig()
	batchCfg.RequestsPerMinute = cfg.EmbeddingRequestsPerMinute
	batchCfg.TokensPerMinute = cfg.EmbeddingTokensPerMinute
	batchCfg.MaxTokensPerBatch = cfg.EmbeddingBatchTokens
	batchCfg.MaxRetries = cfg.EmbeddingMaxRetries
	batchCfg.Estimator = estimator
	a.embedder = embedding.NewBatcher(provider, batchCfg)

	ch := chunker.New(chunker.Config{MaxChunkSize: cfg.ChunkMaxSize, MinChunkSize: cfg.ChunkMinSize})
	a.cache = service.NewContextCache(cfg.CacheMaxEntries, cfg.CacheTTL)

	codebaseRepo := repository.NewCodebaseRepository(a.pool)
	a.jobRepo = repository.NewIndexJobRepository(a.pool)

	a.codebases = service.NewCodebaseService(codebaseRepo, a.index, a.cache)
	a.indexing = service.NewIndexingService(codebaseRepo, a.files, ch, a.embedder, a.index, a.cache)
	a.jobs = service.NewIndexJobService(repository.NewTxRunner(a.pool), a.jobRepo)
	var queryEmbedder service.QueryEmbedder
	if cfg.HasEmbeddingProvider() {
		queryEmbedder = a.embedder
	}
	a.retrieval = service.NewRetrievalService(queryEmbedder, a.index, codebaseRepo)
	a.assembler = service.NewContextAssembler(a.files, a.cache)
	return nil
}

func (a *app) vectorIndex() (service.VectorIndex, error) {
	if a.cfg.VectorBackend != config.VectorBackendQdrant {
		log.Println("vector backend: pgvector")
		return repository.NewChunkVectorRepository(a.pool), nil
	}

	ix, err := qdrant.New(qdrant.Config{
		Host:       a.cfg.QdrantHost,
		Port:       a.cfg.QdrantPort,
		APIKey:     a.cfg.QdrantAPIKey,
		UseTLS:     a.cfg.QdrantUseTLS,
		Collection: a.cfg.QdrantCollection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := ix.Close(); err != nil {
			log.Printf("qdrant close failed: %v", err)
		}
	})
	log.Printf("vector backend: qdrant %s:%d/%s", a.cfg.QdrantHost, a.cfg.QdrantPort, a.cfg.QdrantCollection)
	return ix, nil
}

func (a *app) fileStore(ctx context.Context) (service.CodebaseFileStore, error) {
	if a.cfg.FileStore != config.FileStoreS3 {
		return repository.NewCodebaseFileRepository(a.pool), nil
	}

	client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        a.cfg.S3Endpoint,
		Region:          a.cfg.S3Region,
		AccessKeyID:     a.cfg.S3AccessKey,
		SecretAccessKey: a.cfg.S3SecretKey,
		Bucket:          a.cfg.S3Bucket,
		UsePathStyle:    a.cfg.S3Endpoint != "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
	}
	log.Printf("S3 bucket '%s' ready", a.cfg.S3Bucket)
	return client, nil
}

// Close releases backends in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
