package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nagare-ml/nagare/internal/core"
	"github.com/nagare-ml/nagare/internal/domain/model"
	apperrors "github.com/nagare-ml/nagare/internal/errors"
)

type submitFixture struct {
	store      *memStore
	sumQueue   *memQueue
	transQueue *memQueue
	artifacts  *memArtifacts
	svc        *SubmitService
}

func newSubmitFixture(t *testing.T) *submitFixture {
	t.Helper()

	store := newMemStore()
	lifecycle, err := NewLifecycleService(LifecycleServiceOptions{Store: store, TTL: time.Hour})
	require.NoError(t, err)

	f := &submitFixture{
		store:      store,
		sumQueue:   &memQueue{},
		transQueue: &memQueue{},
		artifacts:  newMemArtifacts(),
	}
	f.svc, err = NewSubmitService(SubmitServiceOptions{
		Lifecycle: lifecycle,
		Queues: map[model.Domain]core.TaskQueue{
			model.DomainSummarize:     f.sumQueue,
			model.DomainTranscription: f.transQueue,
		},
		Artifacts: f.artifacts,
	})
	require.NoError(t, err)
	return f
}

func TestSubmitService_SubmitSummarize(t *testing.T) {
	ctx := context.Background()

	t.Run("valid submission creates a pending record and enqueues", func(t *testing.T) {
		f := newSubmitFixture(t)

		id, err := f.svc.SubmitSummarize(ctx, model.SummarizeRequest{Text: "long article text"})
		require.NoError(t, err)
		require.NoError(t, uuid.Validate(id))

		data, err := f.store.Get(ctx, model.DomainSummarize.Key(id))
		require.NoError(t, err)
		rec, err := model.DecodeRecord(data)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, rec.Status)

		tasks := f.sumQueue.enqueued()
		require.Len(t, tasks, 1)
		assert.Equal(t, id, tasks[0].RequestID)
		assert.Equal(t, "long article text", tasks[0].Text)
		assert.Equal(t, model.DefaultStrength, tasks[0].Params.Strength)
	})

	t.Run("empty text fails fast with no record and no task", func(t *testing.T) {
		f := newSubmitFixture(t)

		_, err := f.svc.SubmitSummarize(ctx, model.SummarizeRequest{Text: "   "})
		assert.True(t, apperrors.IsValidation(err))
		assert.Empty(t, f.store.data)
		assert.Empty(t, f.sumQueue.enqueued())
	})

	t.Run("out of range strength fails fast", func(t *testing.T) {
		f := newSubmitFixture(t)

		_, err := f.svc.SubmitSummarize(ctx, model.SummarizeRequest{Text: "x", Strength: 9})
		assert.True(t, apperrors.IsValidation(err))
		assert.Empty(t, f.store.data)
	})

	t.Run("enqueue failure is surfaced", func(t *testing.T) {
		f := newSubmitFixture(t)
		f.sumQueue.enqueueErr = assert.AnError

		_, err := f.svc.SubmitSummarize(ctx, model.SummarizeRequest{Text: "x"})
		assert.True(t, apperrors.IsStoreUnavailable(err))
	})
}

func TestSubmitService_SubmitTranscription(t *testing.T) {
	ctx := context.Background()

	t.Run("valid upload creates record, saves artifact, enqueues", func(t *testing.T) {
		f := newSubmitFixture(t)

		id, err := f.svc.SubmitTranscription(ctx,
			model.TranscriptionRequest{Filename: "meeting.WAV"},
			strings.NewReader("riff bytes"))
		require.NoError(t, err)

		// Record exists before the artifact was saved, so the sweeper can
		// never race a half-finished submission.
		ok, err := f.store.Exists(ctx, model.DomainTranscription.Key(id))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, f.artifacts.Exists(id))

		tasks := f.transQueue.enqueued()
		require.Len(t, tasks, 1)
		assert.Equal(t, f.artifacts.dirs[id], tasks[0].FilePath)
		assert.Equal(t, model.DefaultLanguage, tasks[0].Params.Language)
		assert.Equal(t, model.DefaultModel, tasks[0].Params.Model)
	})

	t.Run("disallowed extension fails fast with no side effects", func(t *testing.T) {
		f := newSubmitFixture(t)

		_, err := f.svc.SubmitTranscription(ctx,
			model.TranscriptionRequest{Filename: "notes.txt"},
			strings.NewReader("x"))
		assert.True(t, apperrors.IsValidation(err))
		assert.Empty(t, f.store.data)
		assert.Empty(t, f.artifacts.dirs)
		assert.Empty(t, f.transQueue.enqueued())
	})

	t.Run("artifact save failure is surfaced", func(t *testing.T) {
		f := newSubmitFixture(t)
		f.artifacts.saveErr = assert.AnError

		_, err := f.svc.SubmitTranscription(ctx,
			model.TranscriptionRequest{Filename: "a.mp3"},
			strings.NewReader("x"))
		require.Error(t, err)
		assert.Empty(t, f.transQueue.enqueued())
	})
}

func TestNewSubmitService(t *testing.T) {
	lifecycle, err := NewLifecycleService(LifecycleServiceOptions{Store: newMemStore()})
	require.NoError(t, err)

	_, err = NewSubmitService(SubmitServiceOptions{Lifecycle: lifecycle})
	require.Error(t, err)

	_, err = NewSubmitService(SubmitServiceOptions{
		Queues: map[model.Domain]core.TaskQueue{model.DomainSummarize: &memQueue{}},
	})
	require.Error(t, err)
}
