package postgres

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rhuss/alpha/pkg/storage"
	"github.com/rhuss/alpha/pkg/storage/storagetest"
)

func init() {
	// Prefer a podman socket when no Docker host is configured.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			if sock := strings.TrimSpace(string(out)); sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
			}
		}
	}
	if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
	}
}

// startPostgres launches one container for the whole test and returns its
// connection string. The test is skipped when no container runtime works.
func startPostgres(t *testing.T) string {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}

	ctx := context.Background()
	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("alpha_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}
	return dsn
}

func TestConformance(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := New(ctx, Config{DSN: dsn, MaxConns: 5, MigrateOnStart: true})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		// Each subtest starts from empty tables.
		if _, err := s.pool.Exec(ctx, "TRUNCATE conversations CASCADE"); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	s, err := New(ctx, Config{DSN: dsn, MigrateOnStart: true})
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	defer s.Close()

	if err := s.migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatal(err)
	}
	want, err := pendingMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if n != len(want) {
		t.Errorf("schema_migrations has %d rows, want %d", n, len(want))
	}
}

func TestPendingMigrationsSorted(t *testing.T) {
	migrations, err := pendingMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(migrations) == 0 {
		t.Fatal("no embedded migrations")
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i-1].version >= migrations[i].version {
			t.Errorf("migrations out of order: %v", migrations)
		}
	}
}

func TestNewInvalidDSN(t *testing.T) {
	if _, err := New(context.Background(), Config{DSN: "://bad"}); err == nil {
		t.Error("expected error for invalid DSN")
	}
}

func TestIsDuplicateKey(t *testing.T) {
	if isDuplicateKey(nil) {
		t.Error("nil is not a duplicate key error")
	}
}
