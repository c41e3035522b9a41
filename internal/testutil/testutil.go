// Package testutil provides shared helpers for integration tests that
// need a live Redis or PostgreSQL instance. Tests are skipped when the
// backing service is unavailable unless TEST_REQUIRE_BACKENDS is set,
// in which case absence is a failure (for CI).
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx database/sql driver
	"github.com/redis/go-redis/v9"

	"github.com/nagare-ml/nagare/internal/migrate"
)

func requireBackends() bool {
	return os.Getenv("TEST_REQUIRE_BACKENDS") != ""
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// GetTestRedisAddr returns the Redis address for testing and whether
// Redis answers at that address. REDIS_ADDR overrides the default.
func GetTestRedisAddr(t testing.TB) (string, bool) {
	t.Helper()

	addr := getEnvOrDefault("REDIS_ADDR", "localhost:6379")

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() {
		if err := client.Close(); err != nil {
			t.Logf("warning: failed to close redis client: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Logf("Redis not available at %s: %v", addr, err)
		return addr, false
	}
	return addr, true
}

// SetupTestRedis creates a Redis client on a non-default DB index and
// flushes that DB both before handing it out and on cleanup. Tests are
// skipped when Redis is not reachable.
func SetupTestRedis(t testing.TB) *redis.Client {
	t.Helper()

	addr, ok := GetTestRedisAddr(t)
	if !ok {
		if requireBackends() {
			t.Fatal("Redis not available for testing")
		}
		t.Skip("Redis not available for testing")
	}

	dbIndex := 1
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			dbIndex = i
		} else {
			t.Logf("Invalid TEST_REDIS_DB=%q, using DB %d", v, dbIndex)
		}
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: dbIndex})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush test redis db: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.FlushDB(ctx).Err(); err != nil {
			t.Logf("warning: failed to flush test redis db: %v", err)
		}
		if err := client.Close(); err != nil {
			t.Logf("warning: failed to close redis client: %v", err)
		}
	})
	return client
}

// TestDBConfig holds connection settings for the test database.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig reads test database settings from the environment
// with local-development defaults.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "5432"),
		User:     getEnvOrDefault("TEST_DB_USER", "postgres"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "postgres"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "nagare_test"),
	}
}

func (c TestDBConfig) dsn() string {
	hostPort := net.JoinHostPort(c.Host, c.Port)
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		c.User, c.Password, hostPort, c.DBName)
}

// SetupTestDB opens the test database, runs migrations, truncates the
// tables they create, and registers cleanup. Tests are skipped when the
// database is not reachable.
func SetupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	cfg := DefaultTestDBConfig()
	db, err := sql.Open("pgx", cfg.dsn())
	if err != nil {
		skipOrFail(t, "Test database not available:", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		closeQuietly(t, db)
		skipOrFail(t, "Test database not available:", err)
		return nil
	}

	if err := migrate.Run(context.Background(), db); err != nil {
		closeQuietly(t, db)
		t.Fatalf("migrate test db: %v", err)
	}
	if _, err := db.Exec("TRUNCATE results"); err != nil {
		closeQuietly(t, db)
		t.Fatalf("truncate test db: %v", err)
	}

	t.Cleanup(func() { closeQuietly(t, db) })
	return db
}

func skipOrFail(t testing.TB, args ...any) {
	t.Helper()
	if requireBackends() {
		t.Fatal(args...)
	}
	t.Skip(args...)
}

func closeQuietly(t testing.TB, db *sql.DB) {
	if err := db.Close(); err != nil {
		t.Logf("warning: failed to close test db: %v", err)
	}
}
