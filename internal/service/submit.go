package service

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nagare-ml/nagare/internal/core"
	"github.com/nagare-ml/nagare/internal/domain/model"
	apperrors "github.com/nagare-ml/nagare/internal/errors"
)

// SubmitServiceOptions groups dependencies for SubmitService.
type SubmitServiceOptions struct {
	Lifecycle *LifecycleService               // Required: record creation
	Queues    map[model.Domain]core.TaskQueue // Required: one queue per domain
	Artifacts core.ArtifactStore              // Required for transcription submissions
	// AllowedExtensions overrides the default audio extension allow-list.
	AllowedExtensions []string
	Log               *slog.Logger
}

// SubmitService is the enqueuing path: it validates a submission, mints
// the request identity, creates the pending record, and hands the task
// to the queue. Validation failures surface synchronously before any
// record or artifact exists.
type SubmitService struct {
	lifecycle *LifecycleService
	queues    map[model.Domain]core.TaskQueue
	artifacts core.ArtifactStore
	allowed   []string
	logger    *slog.Logger
}

// NewSubmitService constructs a SubmitService.
func NewSubmitService(opts SubmitServiceOptions) (*SubmitService, error) {
	if opts.Lifecycle == nil {
		return nil, errors.New("LifecycleService is required")
	}
	if len(opts.Queues) == 0 {
		return nil, errors.New("at least one task queue is required")
	}

	var logger *slog.Logger
	if opts.Log != nil {
		logger = opts.Log.With("component", "submit_service")
	}

	return &SubmitService{
		lifecycle: opts.Lifecycle,
		queues:    opts.Queues,
		artifacts: opts.Artifacts,
		allowed:   opts.AllowedExtensions,
		logger:    logger,
	}, nil
}

// SubmitSummarize accepts a summarization request and returns the minted
// request id once the pending record exists and the task is enqueued.
func (s *SubmitService) SubmitSummarize(ctx context.Context, req model.SummarizeRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid summarize request")
	}

	requestID := uuid.NewString()
	if _, err := s.lifecycle.Create(ctx, model.DomainSummarize, requestID); err != nil {
		return "", err
	}

	task := &model.Task{
		RequestID: requestID,
		Domain:    model.DomainSummarize,
		Text:      req.Text,
		Params:    model.TaskParams{Strength: req.Strength},
	}
	if err := s.enqueue(ctx, task); err != nil {
		return "", err
	}
	return requestID, nil
}

// SubmitTranscription accepts a transcription upload. The pending record
// is created before the artifact is written so the sweeper never sees an
// upload directory without a live record.
func (s *SubmitService) SubmitTranscription(
	ctx context.Context,
	req model.TranscriptionRequest,
	file io.Reader,
) (string, error) {
	if err := req.Validate(s.allowed); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid transcription request")
	}
	if s.artifacts == nil {
		return "", apperrors.Internal("artifact store not configured")
	}

	requestID := uuid.NewString()
	if _, err := s.lifecycle.Create(ctx, model.DomainTranscription, requestID); err != nil {
		return "", err
	}

	path, err := s.artifacts.Save(requestID, req.Filename, file)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "store upload")
	}

	task := &model.Task{
		RequestID: requestID,
		Domain:    model.DomainTranscription,
		FilePath:  path,
		Params:    model.TaskParams{Language: req.Language, Model: req.Model},
	}
	if err := s.enqueue(ctx, task); err != nil {
		return "", err
	}
	return requestID, nil
}

func (s *SubmitService) enqueue(ctx context.Context, task *model.Task) error {
	queue, ok := s.queues[task.Domain]
	if !ok {
		return apperrors.Internal("no queue configured for domain " + string(task.Domain))
	}
	if err := queue.Enqueue(ctx, task); err != nil {
		// The pending record stays behind and expires with its TTL.
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "enqueue failed",
				"domain", string(task.Domain), "request_id", task.RequestID, "err", err)
		}
		return apperrors.Wrap(err, apperrors.ErrCodeStoreUnavailable, "enqueue task")
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "task enqueued",
			"domain", string(task.Domain), "request_id", task.RequestID)
	}
	return nil
}
