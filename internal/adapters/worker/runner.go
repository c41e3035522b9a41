// Package worker provides the queue-consuming worker loop that drives
// dequeued tasks through the job lifecycle.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nagare-ml/nagare/internal/core"
	"github.com/nagare-ml/nagare/internal/data"
	"github.com/nagare-ml/nagare/internal/domain/model"
	apperrors "github.com/nagare-ml/nagare/internal/errors"
	"github.com/nagare-ml/nagare/internal/observability/metrics"
	"github.com/nagare-ml/nagare/internal/observability/statsd"
	"github.com/nagare-ml/nagare/internal/service"
)

const (
	// storeRetryDelay spaces out the redelivery of a task whose record
	// store write failed.
	storeRetryDelay = 5 * time.Second
	// orphanSweepInterval is how often tasks stranded by dead consumers
	// are recovered while the runner is up.
	orphanSweepInterval = time.Minute
)

// RunnerOptions configures a worker runner for one domain.
type RunnerOptions struct {
	Lifecycle *service.LifecycleService // Required: record transitions
	Queue     core.TaskQueue            // Required: source of tasks
	Engine    core.Engine               // Required: inference collaborator
	Domain    model.Domain              // Required: domain this runner serves

	// Archive receives completed results, best effort. Optional.
	Archive core.ResultArchive

	Concurrency int // worker goroutines; defaults to 1
	Logger      *slog.Logger
	Metrics     statsd.Sink
}

// Runner consumes one domain's queue and executes tasks. Each worker
// goroutine processes one task at a time; no failure escapes the loop —
// every dequeued task ends in a persisted terminal record or an
// acknowledge of an already terminal one.
type Runner struct {
	lifecycle  *service.LifecycleService
	queue      core.TaskQueue
	engine     core.Engine
	archive    core.ResultArchive
	domain     model.Domain
	workers    int
	retryDelay time.Duration
	logger     *slog.Logger
	metrics    statsd.Sink
}

// NewRunner creates a new worker runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Lifecycle == nil {
		return nil, errors.New("LifecycleService is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("TaskQueue is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("Engine is required")
	}
	if !opts.Domain.Valid() {
		return nil, fmt.Errorf("invalid domain %q", opts.Domain)
	}

	workers := opts.Concurrency
	if workers < 1 {
		workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		lifecycle:  opts.Lifecycle,
		queue:      opts.Queue,
		engine:     opts.Engine,
		archive:    opts.Archive,
		domain:     opts.Domain,
		workers:    workers,
		retryDelay: storeRetryDelay,
		logger:     logger.With("component", "worker", "domain", string(opts.Domain)),
		metrics:    opts.Metrics,
	}, nil
}

// Domain returns the job domain this runner serves.
func (r *Runner) Domain() model.Domain {
	return r.domain
}

// Run recovers orphaned in-flight tasks, then consumes the queue until
// the context is cancelled. Alongside the worker goroutines it keeps the
// consumer's liveness heartbeat going and periodically sweeps for tasks
// stranded by consumers that have since died. Returns nil on graceful
// shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting worker runner", "workers", r.workers)

	recovered, err := r.queue.RequeueOrphans(ctx)
	if err != nil {
		return fmt.Errorf("requeue orphans: %w", err)
	}
	if recovered > 0 {
		r.logger.InfoContext(ctx, "requeued orphaned tasks", "count", recovered)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.queue.RunHeartbeat(ctx) })
	g.Go(func() error { return r.sweepOrphans(ctx) })
	for range r.workers {
		g.Go(func() error { return r.workerLoop(ctx) })
	}
	return g.Wait()
}

// sweepOrphans periodically recovers tasks left behind by dead
// consumers, so a stranded task does not wait for the next deploy.
func (r *Runner) sweepOrphans(ctx context.Context) error {
	ticker := time.NewTicker(orphanSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			recovered, err := r.queue.RequeueOrphans(ctx)
			if err != nil {
				if isContextCancellation(err) || ctx.Err() != nil {
					return nil
				}
				r.logger.ErrorContext(ctx, "orphan sweep failed", "error", err)
				continue
			}
			if recovered > 0 {
				r.logger.InfoContext(ctx, "requeued orphaned tasks", "count", recovered)
			}
		}
	}
}

func (r *Runner) workerLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		delivery, err := r.queue.Dequeue(ctx)
		switch {
		case err == nil:
			r.processTask(ctx, delivery)
		case isContextCancellation(err) || ctx.Err() != nil:
			return nil
		case errors.Is(err, data.ErrMalformedTask):
			// Already removed from the queue; nothing to transition.
			r.logger.ErrorContext(ctx, "dropped malformed task", "error", err)
		default:
			return fmt.Errorf("dequeue: %w", err)
		}
	}
	return nil
}

// processTask drives a single delivery through the lifecycle. The task
// is acknowledged on every outcome that must not be redelivered; it is
// deliberately left unacknowledged when the record store was
// unreachable, so redelivery can retry.
func (r *Runner) processTask(ctx context.Context, delivery *core.Delivery) {
	task := delivery.Task
	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			Domain:     string(r.domain),
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	rec, err := r.lifecycle.Transition(ctx, task.Domain, task.RequestID,
		model.StatusWorking, model.TransitionPayload{})
	if err != nil {
		switch {
		case apperrors.IsConflict(err) && rec != nil && rec.Status.Terminal():
			// Redelivery of finished work: skip inference, drop the task.
			r.logger.InfoContext(ctx, "skipping redelivered terminal task",
				"request_id", task.RequestID, "status", string(rec.Status))
			r.ack(ctx, delivery)
			emit("working", metrics.ResultNoop, nil)
		case apperrors.IsCorruptRecord(err):
			// The stored record is garbage; retrying cannot help.
			r.logger.ErrorContext(ctx, "corrupt record, dropping task",
				"request_id", task.RequestID, "error", err)
			r.ack(ctx, delivery)
			emit("working", metrics.ResultError, err)
		default:
			// Store unreachable: hand the task back after a pause.
			r.logger.ErrorContext(ctx, "transition to working failed",
				"request_id", task.RequestID, "error", err)
			r.retryLater(ctx, delivery)
			emit("working", metrics.ResultError, err)
		}
		return
	}

	if err := task.Validate(); err != nil {
		r.logger.InfoContext(ctx, "rejecting invalid task",
			"request_id", task.RequestID, "error", err)
		r.failTask(ctx, delivery, model.FailureInvalidInput)
		emit("error", metrics.ResultError, err)
		return
	}

	result, err := r.invoke(ctx, &task)
	if err != nil {
		kind := model.ClassifyFailure(err)
		r.logger.ErrorContext(ctx, "inference failed",
			"request_id", task.RequestID, "kind", string(kind), "error", err)
		r.failTask(ctx, delivery, kind)
		emit("error", metrics.ResultError, err)
		return
	}

	if _, err := r.lifecycle.Transition(ctx, task.Domain, task.RequestID,
		model.StatusDone, model.TransitionPayload{Result: result}); err != nil {
		r.settleTransitionFailure(ctx, delivery, err)
		emit("done", metrics.ResultError, err)
		return
	}

	r.archiveResult(ctx, &task, result)
	r.ack(ctx, delivery)
	r.logger.InfoContext(ctx, "task completed", "request_id", task.RequestID)
	emit("done", metrics.ResultSuccess, nil)
}

func (r *Runner) invoke(ctx context.Context, task *model.Task) (string, error) {
	switch task.Domain {
	case model.DomainSummarize:
		return r.engine.Summarize(ctx, task.Text, task.Params)
	case model.DomainTranscription:
		return r.engine.Transcribe(ctx, task.FilePath, task.Params)
	default:
		return "", fmt.Errorf("no engine operation for domain %q", task.Domain)
	}
}

// failTask persists a classified error record and acknowledges the task.
func (r *Runner) failTask(ctx context.Context, delivery *core.Delivery, kind model.FailureKind) {
	task := delivery.Task
	if _, err := r.lifecycle.Transition(ctx, task.Domain, task.RequestID,
		model.StatusError, model.TransitionPayload{ErrorKind: kind}); err != nil {
		r.settleTransitionFailure(ctx, delivery, err)
		return
	}
	r.ack(ctx, delivery)
}

// settleTransitionFailure decides what to do with a task whose terminal
// transition failed. A terminal conflict means another worker got there
// first, which is a safe acknowledge; anything else puts the task back
// for redelivery after a pause.
func (r *Runner) settleTransitionFailure(ctx context.Context, delivery *core.Delivery, err error) {
	if apperrors.IsConflict(err) {
		r.ack(ctx, delivery)
		return
	}
	r.logger.ErrorContext(ctx, "terminal transition failed",
		"request_id", delivery.Task.RequestID, "error", err)
	r.retryLater(ctx, delivery)
}

// retryLater returns a task to the queue after a pause, so a transient
// store failure is retried without waiting for this consumer to die. A
// failed requeue leaves the task in flight for orphan recovery.
func (r *Runner) retryLater(ctx context.Context, delivery *core.Delivery) {
	select {
	case <-time.After(r.retryDelay):
	case <-ctx.Done():
	}
	if err := r.queue.Nack(ctx, delivery.Receipt); err != nil {
		r.logger.ErrorContext(ctx, "requeue failed",
			"request_id", delivery.Task.RequestID, "error", err)
	}
}

func (r *Runner) archiveResult(ctx context.Context, task *model.Task, result string) {
	if r.archive == nil {
		return
	}
	entry := core.ArchiveEntry{
		RequestID: task.RequestID,
		Domain:    string(task.Domain),
		Result:    result,
	}
	if err := r.archive.Upsert(ctx, entry); err != nil {
		// Archive rows are a convenience; the record store stays authoritative.
		r.logger.ErrorContext(ctx, "archive result failed",
			"request_id", task.RequestID, "error", err)
	}
}

func (r *Runner) ack(ctx context.Context, delivery *core.Delivery) {
	if err := r.queue.Ack(ctx, delivery.Receipt); err != nil {
		r.logger.ErrorContext(ctx, "ack failed",
			"request_id", delivery.Task.RequestID, "error", err)
	}
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
