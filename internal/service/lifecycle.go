// Package service holds the business logic of the job system: the
// lifecycle manager owning the record state machine, the submission
// service feeding the queue, and the upload sweeper.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nagare-ml/nagare/internal/core"
	"github.com/nagare-ml/nagare/internal/domain/model"
	apperrors "github.com/nagare-ml/nagare/internal/errors"
)

// DefaultRetentionTTL is how long a job record outlives its last write.
const DefaultRetentionTTL = 24 * time.Hour

// LifecycleServiceOptions groups dependencies for LifecycleService.
type LifecycleServiceOptions struct {
	Store core.RecordStore // Required: TTL-keyed record store
	TTL   time.Duration    // Optional: record retention, defaults to DefaultRetentionTTL
	Log   *slog.Logger     // Optional: structured logger
}

// LifecycleService owns the job record state machine. It is the only
// writer of job records: creation happens exactly once at submission,
// every later mutation goes through Transition's atomic
// read-modify-write, and every write restarts the retention clock.
type LifecycleService struct {
	store  core.RecordStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewLifecycleService constructs a LifecycleService.
func NewLifecycleService(opts LifecycleServiceOptions) (*LifecycleService, error) {
	if opts.Store == nil {
		return nil, errors.New("RecordStore is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultRetentionTTL
	}

	var logger *slog.Logger
	if opts.Log != nil {
		logger = opts.Log.With("component", "lifecycle_service")
	}

	return &LifecycleService{store: opts.Store, ttl: ttl, logger: logger}, nil
}

// TTL returns the configured record retention duration.
func (s *LifecycleService) TTL() time.Duration {
	return s.ttl
}

// Create writes the initial pending record for a request. A live record
// under the same key is a conflict; submission mints fresh UUIDs so this
// only fires on a collision or a duplicate submission attempt.
func (s *LifecycleService) Create(ctx context.Context, domain model.Domain, requestID string) (*model.JobRecord, error) {
	if err := validateKeyParts(domain, requestID); err != nil {
		return nil, err
	}

	rec := &model.JobRecord{Status: model.StatusPending}
	rec.SetExpiry(time.Now().Add(s.ttl))

	key := domain.Key(requestID)
	err := s.store.Update(ctx, key, s.ttl, func(old []byte) ([]byte, error) {
		if old != nil {
			return nil, apperrors.Conflictf("record already exists for %s", key)
		}
		return model.EncodeRecord(rec)
	})
	if err != nil {
		if apperrors.IsConflict(err) {
			return nil, err
		}
		return nil, storeFailure(err, "create record")
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "record created",
			"domain", string(domain), "request_id", requestID)
	}
	return rec, nil
}

// Read returns the current record for a request. An expired or
// never-created record is NotFound; an undecodable one is CorruptRecord.
func (s *LifecycleService) Read(ctx context.Context, domain model.Domain, requestID string) (*model.JobRecord, error) {
	if err := validateKeyParts(domain, requestID); err != nil {
		return nil, err
	}

	key := domain.Key(requestID)
	data, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, storeFailure(err, "read record")
	}
	if data == nil {
		return nil, apperrors.NotFoundf("no record for %s", key)
	}

	rec, err := model.DecodeRecord(data)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeCorruptRecord, "record %s", key)
	}
	return rec, nil
}

// Transition atomically moves a record to the next status, merging the
// payload while preserving fields the caller does not own. Rules:
//
//   - A missing record is materialized with the requested status rather
//     than failing, so the manager recovers from store data loss and
//     out-of-order calls.
//   - A terminal record accepts no transition; the call returns the
//     current record together with a Conflict error so callers can
//     detect redelivery and short-circuit.
//   - working -> working is an idempotent no-op that still refreshes
//     the TTL.
//
// Every successful write restarts the retention clock; transitions into
// a terminal state also restamp expires_at.
func (s *LifecycleService) Transition(
	ctx context.Context,
	domain model.Domain,
	requestID string,
	next model.Status,
	payload model.TransitionPayload,
) (*model.JobRecord, error) {
	if err := validateKeyParts(domain, requestID); err != nil {
		return nil, err
	}
	if err := validateTransitionPayload(next, payload); err != nil {
		return nil, err
	}

	key := domain.Key(requestID)
	var out *model.JobRecord

	err := s.store.Update(ctx, key, s.ttl, func(old []byte) ([]byte, error) {
		rec := &model.JobRecord{Status: model.StatusPending}
		if old != nil {
			var decodeErr error
			rec, decodeErr = model.DecodeRecord(old)
			if decodeErr != nil {
				return nil, apperrors.Wrapf(decodeErr, apperrors.ErrCodeCorruptRecord, "record %s", key)
			}
		}

		if rec.Status.Terminal() {
			out = rec
			return nil, apperrors.Conflictf("record %s is already %s", key, rec.Status)
		}
		if old != nil && !rec.Status.CanTransition(next) {
			out = rec
			return nil, apperrors.Conflictf("illegal transition %s -> %s for %s", rec.Status, next, key)
		}

		rec.Status = next
		rec.Result = payload.Result
		rec.ErrorKind = string(payload.ErrorKind)
		if next.Terminal() || next == model.StatusPending {
			rec.SetExpiry(time.Now().Add(s.ttl))
		}

		out = rec
		return model.EncodeRecord(rec)
	})
	if err != nil {
		if apperrors.IsConflict(err) || apperrors.IsCorruptRecord(err) {
			return out, err
		}
		return nil, storeFailure(err, "transition record")
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "record transitioned",
			"domain", string(domain), "request_id", requestID, "status", string(next))
	}
	return out, nil
}

func validateKeyParts(domain model.Domain, requestID string) error {
	if !domain.Valid() {
		return apperrors.ValidationField("domain", fmt.Sprintf("unknown domain %q", domain))
	}
	if requestID == "" {
		return apperrors.ValidationField("request_id", "request id is required")
	}
	return nil
}

// validateTransitionPayload enforces that a terminal transition carries
// exactly its own payload field and non-terminal transitions carry none.
func validateTransitionPayload(next model.Status, payload model.TransitionPayload) error {
	if !next.Valid() || next == model.StatusPending {
		return apperrors.ValidationField("status", fmt.Sprintf("invalid target status %q", next))
	}
	switch next {
	case model.StatusDone:
		if payload.Result == "" {
			return apperrors.ValidationField("result", "done transition requires a result")
		}
		if payload.ErrorKind != "" {
			return apperrors.ValidationField("error", "done transition cannot carry an error kind")
		}
	case model.StatusError:
		if !payload.ErrorKind.Valid() {
			return apperrors.ValidationField("error", fmt.Sprintf("unknown failure kind %q", payload.ErrorKind))
		}
		if payload.Result != "" {
			return apperrors.ValidationField("result", "error transition cannot carry a result")
		}
	default:
		if payload.Result != "" || payload.ErrorKind != "" {
			return apperrors.ValidationField("payload", "non-terminal transition cannot carry a payload")
		}
	}
	return nil
}

func storeFailure(err error, op string) error {
	return apperrors.Wrapf(err, apperrors.ErrCodeStoreUnavailable, "%s", op)
}
