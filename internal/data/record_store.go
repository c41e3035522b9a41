package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// casMaxRetries bounds how many times an optimistic Update transaction is
// retried when a concurrent writer touches the key mid-transaction.
const casMaxRetries = 5

// ErrUpdateContention is returned when an Update keeps losing the
// optimistic-locking race beyond casMaxRetries attempts.
var ErrUpdateContention = errors.New("record update contention: retries exhausted")

// RedisRecordStore implements the RecordStore interface on Redis. Every
// value carries a TTL; Redis expiry is the only reclamation mechanism.
type RedisRecordStore struct {
	client redis.UniversalClient
}

// NewRedisRecordStore creates a RedisRecordStore with the given client.
func NewRedisRecordStore(client redis.UniversalClient) *RedisRecordStore {
	return &RedisRecordStore{client: client}
}

// Put writes a value with the given TTL, replacing any existing value.
func (r *RedisRecordStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get retrieves a value by key. An absent or expired key returns (nil, nil).
func (r *RedisRecordStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}
	result, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // key doesn't exist
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return result, nil
}

// Exists checks whether a live value is stored under the key.
func (r *RedisRecordStore) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}
	result, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return result > 0, nil
}

// Update performs an atomic read-modify-write on a key using WATCH-based
// optimistic locking. fn sees the current value (nil when absent) and
// returns the value to write; the write is applied with the given TTL,
// which restarts the key's expiry clock. When a concurrent writer
// modifies the key between the read and the write, the whole cycle is
// retried with the fresh value.
func (r *RedisRecordStore) Update(
	ctx context.Context,
	key string,
	ttl time.Duration,
	fn func(old []byte) ([]byte, error),
) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	txn := func(tx *redis.Tx) error {
		old, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				return fmt.Errorf("redis get: %w", err)
			}
			old = nil
		}

		next, err := fn(old)
		if err != nil {
			return err
		}

		// EXEC fails with redis.TxFailedErr if the watched key changed.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < casMaxRetries; attempt++ {
		err := r.client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrUpdateContention
}

// Health checks the health of the Redis connection.
func (r *RedisRecordStore) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// RedisConfig holds configuration for the Redis connection.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	SentinelAddrs []string
	MasterName    string
}

// NewRedisClient creates a Redis client from the given configuration.
// When MasterName is set a sentinel-backed failover client is returned.
func NewRedisClient(cfg RedisConfig) redis.UniversalClient {
	if cfg.MasterName != "" {
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
		})
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
