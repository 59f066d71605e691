// Package testutil provides shared testing utilities for the medq project.
//
// It contains the reusable pieces the integration and unit tests lean on: a
// pgvector-enabled PostgreSQL container, mock Genkit model and embedder
// implementations, and a discard logger.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sathlab/medq/db"
)

// TestDBContainer wraps a PostgreSQL test container with a connection pool.
//
// The container runs the pgvector image and has the full medq schema applied,
// so tests can exercise the corpus and session stores against the real thing.
type TestDBContainer struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB starts a PostgreSQL container with the pgvector extension and
// runs the embedded migrations against it.
//
// Returns the container wrapper and a cleanup function that must be called
// (usually deferred) to terminate the container.
//
// Example:
//
//	func TestMyFeature(t *testing.T) {
//	    db, cleanup := testutil.SetupTestDB(t)
//	    defer cleanup()
//
//	    var count int
//	    err := db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM documents").Scan(&count)
//	}
func SetupTestDB(t *testing.T) (*TestDBContainer, func()) {
	t.Helper()

	container, cleanup, err := SetupTestDBForMain()
	if err != nil {
		t.Fatalf("setting up test database: %v", err)
	}
	return container, cleanup
}

// SetupTestDBForMain is the TestMain-friendly variant of [SetupTestDB]: it
// returns an error instead of failing a *testing.T, so a package can start
// one shared container for all of its integration tests.
//
//	func TestMain(m *testing.M) {
//	    var err error
//	    sharedDB, dbCleanup, err = testutil.SetupTestDBForMain()
//	    if err != nil {
//	        log.Fatalf("starting test database: %v", err)
//	    }
//	    code := m.Run()
//	    dbCleanup()
//	    os.Exit(code)
//	}
func SetupTestDBForMain() (*TestDBContainer, func(), error) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("medq_test"),
		postgres.WithUsername("medq_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("starting PostgreSQL container: %w", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, nil, fmt.Errorf("getting connection string: %w", err)
	}

	// Apply the same embedded migrations production runs, so the test schema
	// can never drift from the shipped one.
	if err := db.Migrate(connStr); err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	container := &TestDBContainer{
		Container: pgContainer,
		Pool:      pool,
		ConnStr:   connStr,
	}

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(context.Background())
	}

	return container, cleanup, nil
}

// CleanTables truncates all medq tables for test isolation. Call it at the
// start of each test that shares a container via [SetupTestDBForMain].
func CleanTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, err := pool.Exec(context.Background(),
		`TRUNCATE documents, messages, sessions CASCADE`)
	if err != nil {
		t.Fatalf("truncating tables: %v", err)
	}
}
