// Package testutil starts the backing services used by integration tests.
// Every container is removed when the test that started it finishes.
package testutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cloo-solutions/codelens/internal/database"
)

const (
	pgImage     = "pgvector/pgvector:0.8.1-pg18"
	s3Image     = "rustfs/rustfs:latest"
	qdrantImage = "qdrant/qdrant:v1.16.2"

	pgCredential = "codelens"

	ObjectStoreAccessKey = "rustfsadmin"
	ObjectStoreSecretKey = "rustfsadmin"
)

// run starts req, schedules its removal and returns host and the mapped port.
func run(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest, port string) (string, string) {
	t.Helper()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start %s: %v", req.Image, err)
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		t.Fatalf("%s host: %v", req.Image, err)
	}
	mapped, err := ctr.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("%s port %s: %v", req.Image, port, err)
	}
	return host, mapped.Port()
}

// Postgres is a pgvector-enabled database.
type Postgres struct {
	Host string
	Port string
}

func NewPostgresContainer(ctx context.Context, t *testing.T) *Postgres {
	host, port := run(ctx, t, testcontainers.ContainerRequest{
		Image:        pgImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     pgCredential,
			"POSTGRES_PASSWORD": pgCredential,
			"POSTGRES_DB":       pgCredential,
		},
		// the image restarts postgres once after initdb
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	}, "5432/tcp")
	return &Postgres{Host: host, Port: port}
}

func (p *Postgres) ConnectionString() string {
	return fmt.Sprintf("postgres://%[1]s:%[1]s@%s:%s/%[1]s?sslmode=disable", pgCredential, p.Host, p.Port)
}

// NewTestPool connects to p and applies the migrations in migrationsDir
// through golang-migrate, the same path the migrate command takes.
func NewTestPool(ctx context.Context, t *testing.T, p *Postgres, migrationsDir string) *pgxpool.Pool {
	t.Helper()

	if err := migrateUp(p.ConnectionString(), migrationsDir); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:            p.ConnectionString(),
		MaxConns:       8,
		ConnectTimeout: 15 * time.Second,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func migrateUp(url, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return err
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+abs, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// TruncateAll empties every codelens table.
func TruncateAll(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `TRUNCATE index_jobs, code_chunks, codebase_files, codebases CASCADE`)
	if err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

// ObjectStore is an S3-compatible RustFS server.
type ObjectStore struct {
	Host string
	Port string
}

func NewRustFSContainer(ctx context.Context, t *testing.T) *ObjectStore {
	host, port := run(ctx, t, testcontainers.ContainerRequest{
		Image:        s3Image,
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": ObjectStoreAccessKey,
			"RUSTFS_SECRET_KEY": ObjectStoreSecretKey,
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	}, "9000/tcp")
	return &ObjectStore{Host: host, Port: port}
}

func (o *ObjectStore) Endpoint() string {
	return "http://" + o.Host + ":" + o.Port
}

// Qdrant exposes the gRPC port only.
type Qdrant struct {
	Host string
	Port int
}

func NewQdrantContainer(ctx context.Context, t *testing.T) *Qdrant {
	host, port := run(ctx, t, testcontainers.ContainerRequest{
		Image:        qdrantImage,
		ExposedPorts: []string{"6334/tcp"},
		WaitingFor:   wait.ForListeningPort("6334/tcp").WithStartupTimeout(time.Minute),
	}, "6334/tcp")

	p, err := strconv.Atoi(port)
	if err != nil {
		t.Fatalf("qdrant port %q: %v", port, err)
	}
	return &Qdrant{Host: host, Port: p}
}
