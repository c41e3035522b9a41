package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx stdlib driver
	"github.com/redis/go-redis/v9"

	"github.com/nagare-ml/nagare/config"
	"github.com/nagare-ml/nagare/internal/data"
	"github.com/nagare-ml/nagare/internal/migrate"
)

// ConnectRedis establishes a connection to the Redis record store backend.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel support flexible.
func ConnectRedis(cfg config.RedisConfig, logger *slog.Logger) (redis.UniversalClient, error) {
	dataCfg := data.RedisConfig{
		Addr:     strings.TrimSpace(cfg.URI),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.UseSentinel {
		dataCfg.SentinelAddrs = normalizeAddrs(cfg.SentinelNodes)
		dataCfg.MasterName = cfg.SentinelMasterName
		if len(dataCfg.SentinelAddrs) == 0 {
			return nil, errors.New("redis sentinel configuration requires at least one sentinel node")
		}
	} else if dataCfg.Addr == "" {
		return nil, errors.New("redis configuration requires an address")
	}

	client := data.NewRedisClient(dataCfg)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis: %w", pingErr)
	}

	if logger != nil {
		addrDesc := dataCfg.Addr
		if cfg.UseSentinel {
			addrDesc = "sentinel:" + cfg.SentinelMasterName
		}
		logger.Info("redis connected", "addr", addrDesc)
	}

	return client, nil
}

// ConnectDB establishes a connection to the PostgreSQL result archive.
// The archive is optional: when it is disabled in config, (nil, nil) is
// returned and callers run without history endpoints or archiving.
func ConnectDB(cfg config.DBConfig, logger *slog.Logger) (*sql.DB, error) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("result archive disabled")
		}
		return nil, nil
	}

	// Build DSN using url.URL to safely handle special characters in credentials
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	q := u.Query()
	q.Set("sslmode", cfg.SSLMode)
	u.RawQuery = q.Encode()

	db, err := sql.Open("pgx", u.String())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close database connection: %w", closeErr))
		}
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	if logger != nil {
		logger.Info("database connected",
			"host", cfg.Host,
			"port", cfg.Port,
			"database", cfg.Name,
		)
	}

	return db, nil
}

func normalizeAddrs(raw []string) []string {
	result := make([]string, 0, len(raw))
	for _, addr := range raw {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// RunMigrations applies pending archive schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if db == nil {
		return nil
	}
	if err := migrate.Run(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}

	return nil
}
