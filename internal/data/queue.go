package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nagare-ml/nagare/internal/core"
	"github.com/nagare-ml/nagare/internal/domain/model"
)

// queueBlockTimeout bounds a single blocking pop so Dequeue can notice
// context cancellation between attempts.
const queueBlockTimeout = 5 * time.Second

// Consumer liveness is a leased key refreshed well inside its TTL, so a
// consumer only reads as dead after missing several refreshes in a row.
const (
	consumerLeaseTTL  = 90 * time.Second
	heartbeatInterval = 15 * time.Second
)

// ErrMalformedTask is returned when a queue entry cannot be decoded. The
// entry is removed from the in-flight list before the error is returned
// so it is not redelivered forever.
var ErrMalformedTask = errors.New("malformed task payload")

// RedisTaskQueue implements the TaskQueue interface as a Redis reliable
// queue. Each consumer instance BLMOVEs dequeued entries onto its own
// processing list and registers itself under a leased liveness key.
// Tasks are only ever recovered from the processing list of a consumer
// whose lease has lapsed, so two live workers never hold the same entry.
type RedisTaskQueue struct {
	client     redis.UniversalClient
	consumerID string
	ready      string
	registry   string
	processing string
	alive      string
}

// NewRedisTaskQueue creates a task queue consumer for one domain. Every
// instance gets a fresh consumer id and with it its own processing list.
func NewRedisTaskQueue(client redis.UniversalClient, domain model.Domain) *RedisTaskQueue {
	ready := domain.QueueName()
	id := uuid.NewString()
	return &RedisTaskQueue{
		client:     client,
		consumerID: id,
		ready:      ready,
		registry:   ready + ":consumers",
		processing: processingKey(ready, id),
		alive:      aliveKey(ready, id),
	}
}

func processingKey(ready, consumerID string) string {
	return ready + ":processing:" + consumerID
}

func aliveKey(ready, consumerID string) string {
	return ready + ":alive:" + consumerID
}

// touchLiveness registers the consumer and renews its lease.
func (q *RedisTaskQueue) touchLiveness(ctx context.Context) error {
	pipe := q.client.Pipeline()
	pipe.SAdd(ctx, q.registry, q.consumerID)
	pipe.Set(ctx, q.alive, "1", consumerLeaseTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("renew consumer lease: %w", err)
	}
	return nil
}

// Enqueue pushes a task onto the ready list.
func (q *RedisTaskQueue) Enqueue(ctx context.Context, task *model.Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.client.LPush(ctx, q.ready, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Dequeue blocks until a task is available or the context is done. The
// returned delivery stays on this consumer's processing list until Ack
// or Nack is called, so a worker crash cannot lose it.
func (q *RedisTaskQueue) Dequeue(ctx context.Context) (*core.Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := q.touchLiveness(ctx); err != nil {
			return nil, err
		}

		payload, err := q.client.BLMove(ctx, q.ready, q.processing, "RIGHT", "LEFT", queueBlockTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // timed out empty, poll again
			}
			return nil, fmt.Errorf("redis blmove: %w", err)
		}

		var task model.Task
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			// Drop the poison entry rather than redeliver it forever.
			_ = q.client.LRem(ctx, q.processing, 1, payload).Err()
			return nil, fmt.Errorf("%w: %v", ErrMalformedTask, err)
		}

		return &core.Delivery{Task: task, Receipt: payload}, nil
	}
}

// Ack removes an in-flight task from this consumer's processing list.
func (q *RedisTaskQueue) Ack(ctx context.Context, receipt string) error {
	if receipt == "" {
		return errors.New("receipt cannot be empty")
	}
	if err := q.client.LRem(ctx, q.processing, 1, receipt).Err(); err != nil {
		return fmt.Errorf("redis lrem: %w", err)
	}
	return nil
}

// Nack returns an in-flight task to the back of the ready list. The
// push happens before the processing-list removal, so a crash between
// the two duplicates the entry instead of losing it.
func (q *RedisTaskQueue) Nack(ctx context.Context, receipt string) error {
	if receipt == "" {
		return errors.New("receipt cannot be empty")
	}
	if err := q.client.LPush(ctx, q.ready, receipt).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	if err := q.client.LRem(ctx, q.processing, 1, receipt).Err(); err != nil {
		return fmt.Errorf("redis lrem: %w", err)
	}
	return nil
}

// RunHeartbeat renews this consumer's liveness lease until the context
// is cancelled. It must run alongside the consuming loop: a long
// inference call would otherwise outlive the lease and its in-flight
// task could be recovered out from under the worker.
func (q *RedisTaskQueue) RunHeartbeat(ctx context.Context) error {
	if err := q.touchLiveness(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// A failed renewal is retried on the next tick; the lease
			// TTL tolerates several misses.
			_ = q.touchLiveness(ctx)
		}
	}
}

// RequeueOrphans recovers tasks stranded on the processing lists of
// consumers whose liveness lease has lapsed, moving them back onto the
// ready list. Live consumers, this one included, are never touched, so
// recovery is safe to run while other workers are mid-task.
func (q *RedisTaskQueue) RequeueOrphans(ctx context.Context) (int, error) {
	if err := q.touchLiveness(ctx); err != nil {
		return 0, err
	}

	ids, err := q.client.SMembers(ctx, q.registry).Result()
	if err != nil {
		return 0, fmt.Errorf("redis smembers: %w", err)
	}

	moved := 0
	for _, id := range ids {
		if id == q.consumerID {
			continue
		}
		live, err := q.client.Exists(ctx, aliveKey(q.ready, id)).Result()
		if err != nil {
			return moved, fmt.Errorf("redis exists: %w", err)
		}
		if live > 0 {
			continue
		}

		n, err := q.drainProcessing(ctx, processingKey(q.ready, id))
		moved += n
		if err != nil {
			return moved, err
		}
		if err := q.client.SRem(ctx, q.registry, id).Err(); err != nil {
			return moved, fmt.Errorf("redis srem: %w", err)
		}
	}
	return moved, nil
}

func (q *RedisTaskQueue) drainProcessing(ctx context.Context, list string) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, list, q.ready, "RIGHT", "RIGHT").Err()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return moved, nil
			}
			return moved, fmt.Errorf("redis lmove: %w", err)
		}
		moved++
	}
}

var _ core.TaskQueue = (*RedisTaskQueue)(nil)
