package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nagare-ml/nagare/config"
	"github.com/nagare-ml/nagare/internal/core"
	"github.com/nagare-ml/nagare/internal/domain/model"
	"github.com/nagare-ml/nagare/internal/observability/metrics"
	"github.com/nagare-ml/nagare/internal/observability/statsd"
)

// SweeperServiceOptions groups dependencies for SweeperService.
type SweeperServiceOptions struct {
	Artifacts core.ArtifactStore   // Required: upload artifact store
	Store     core.RecordStore     // Required: record store for liveness checks
	Config    config.SweeperConfig // Required: sweep interval
	Logger    *slog.Logger         // Optional: structured logger
	Metrics   statsd.Sink          // Optional: metrics sink (StatsD-compatible)
}

// SweeperService reconciles on-disk upload artifacts against live job
// records. An upload directory whose transcription record has expired
// (or never existed) is garbage and gets deleted; a directory with a
// live record is left alone regardless of the record's status.
type SweeperService struct {
	artifacts core.ArtifactStore
	store     core.RecordStore
	config    config.SweeperConfig
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewSweeperService constructs a new SweeperService.
func NewSweeperService(opts SweeperServiceOptions) (*SweeperService, error) {
	if opts.Artifacts == nil {
		return nil, errors.New("ArtifactStore is required")
	}
	if opts.Store == nil {
		return nil, errors.New("RecordStore is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "sweeper_service")
		logger.Debug("SweeperService initialized", "interval", opts.Config.Interval)
	}

	return &SweeperService{
		artifacts: opts.Artifacts,
		store:     opts.Store,
		config:    opts.Config,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// Run starts the sweep loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *SweeperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting sweeper service", "interval", s.config.Interval)
	}

	// Jitter so multiple instances started together don't sweep in lockstep
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.runSweep(ctx); err != nil {
		s.logSweepError(err, "initial sweep")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "sweeper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.runSweep(ctx); err != nil {
				s.logSweepError(err, "sweep")
				// Keep running despite errors; the next tick retries
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *SweeperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		// Graceful shutdown during jitter
	}
}

// runSweep performs one sweep and emits metrics for it.
func (s *SweeperService) runSweep(ctx context.Context) error {
	start := time.Now()
	removed, kept, errs := s.Sweep(ctx)

	metrics.EmitSweep(s.metrics, metrics.SweepMetric{
		Removed: removed,
		Kept:    kept,
		Errs:    len(errs),
		Elapsed: time.Since(start),
	})

	if s.logger != nil {
		s.logger.InfoContext(ctx, "sweep finished",
			"removed", removed, "kept", kept, "errors", len(errs),
			"elapsed", time.Since(start))
	}

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("sweep failed: %w", joined)
	}
	return nil
}

// Sweep walks the upload root once. Each artifact is handled
// independently: a failure to check or delete one directory never
// aborts the rest of the sweep.
func (s *SweeperService) Sweep(ctx context.Context) (removed, kept int, errs []error) {
	ids, err := s.artifacts.List()
	if err != nil {
		return 0, 0, []error{fmt.Errorf("list artifacts: %w", err)}
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			return removed, kept, errs
		}

		live, err := s.store.Exists(ctx, model.DomainTranscription.Key(id))
		if err != nil {
			// Can't tell whether the record is live; keep the artifact.
			errs = append(errs, fmt.Errorf("check record for %s: %w", id, err))
			continue
		}
		if live {
			kept++
			continue
		}

		if err := s.artifacts.Remove(id); err != nil {
			errs = append(errs, fmt.Errorf("remove artifact %s: %w", id, err))
			continue
		}
		removed++
		if s.logger != nil {
			s.logger.InfoContext(ctx, "removed orphaned artifact", "request_id", id)
		}
	}
	return removed, kept, errs
}

func (s *SweeperService) logSweepError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
