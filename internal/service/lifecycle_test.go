package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nagare-ml/nagare/internal/domain/model"
	apperrors "github.com/nagare-ml/nagare/internal/errors"
)

func newTestLifecycle(t *testing.T, store *memStore) *LifecycleService {
	t.Helper()
	svc, err := NewLifecycleService(LifecycleServiceOptions{Store: store, TTL: time.Hour})
	require.NoError(t, err)
	return svc
}

func TestNewLifecycleService(t *testing.T) {
	t.Run("requires a store", func(t *testing.T) {
		_, err := NewLifecycleService(LifecycleServiceOptions{})
		require.Error(t, err)
	})

	t.Run("defaults the retention ttl", func(t *testing.T) {
		svc, err := NewLifecycleService(LifecycleServiceOptions{Store: newMemStore()})
		require.NoError(t, err)
		assert.Equal(t, DefaultRetentionTTL, svc.TTL())
	})
}

func TestLifecycleService_CreateAndRead(t *testing.T) {
	store := newMemStore()
	svc := newTestLifecycle(t, store)
	ctx := context.Background()

	rec, err := svc.Create(ctx, model.DomainSummarize, "id-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.NotEmpty(t, rec.ExpiresAt)

	got, err := svc.Read(ctx, model.DomainSummarize, "id-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// Records are domain-scoped: the same id in the other domain is absent.
	_, err = svc.Read(ctx, model.DomainTranscription, "id-1")
	assert.True(t, apperrors.IsNotFound(err))

	t.Run("duplicate create conflicts", func(t *testing.T) {
		_, err := svc.Create(ctx, model.DomainSummarize, "id-1")
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("invalid key parts rejected", func(t *testing.T) {
		_, err := svc.Create(ctx, model.Domain("bogus"), "id-2")
		assert.True(t, apperrors.IsValidation(err))
		_, err = svc.Create(ctx, model.DomainSummarize, "")
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestLifecycleService_Read(t *testing.T) {
	store := newMemStore()
	svc := newTestLifecycle(t, store)
	ctx := context.Background()

	t.Run("expired record reads as not found", func(t *testing.T) {
		_, err := svc.Create(ctx, model.DomainSummarize, "gone")
		require.NoError(t, err)
		store.expire(model.DomainSummarize.Key("gone"))

		_, err = svc.Read(ctx, model.DomainSummarize, "gone")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("undecodable record reads as corrupt", func(t *testing.T) {
		key := model.DomainSummarize.Key("bad")
		require.NoError(t, store.Put(ctx, key, []byte("not json"), time.Hour))

		_, err := svc.Read(ctx, model.DomainSummarize, "bad")
		assert.True(t, apperrors.IsCorruptRecord(err))
	})

	t.Run("store failure surfaces as unavailable", func(t *testing.T) {
		store.failNext = assert.AnError
		_, err := svc.Read(ctx, model.DomainSummarize, "whatever")
		assert.True(t, apperrors.IsStoreUnavailable(err))
	})
}

func TestLifecycleService_Transition(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*memStore, *LifecycleService) {
		store := newMemStore()
		svc := newTestLifecycle(t, store)
		_, err := svc.Create(ctx, model.DomainSummarize, "id-1")
		require.NoError(t, err)
		return store, svc
	}

	t.Run("full lifecycle to done", func(t *testing.T) {
		_, svc := setup(t)

		rec, err := svc.Transition(ctx, model.DomainSummarize, "id-1", model.StatusWorking, model.TransitionPayload{})
		require.NoError(t, err)
		assert.Equal(t, model.StatusWorking, rec.Status)

		rec, err = svc.Transition(ctx, model.DomainSummarize, "id-1", model.StatusDone,
			model.TransitionPayload{Result: "the summary"})
		require.NoError(t, err)
		assert.Equal(t, model.StatusDone, rec.Status)
		assert.Equal(t, "the summary", rec.Result)
		assert.Empty(t, rec.ErrorKind)
		assert.NotEmpty(t, rec.ExpiresAt)
	})

	t.Run("lifecycle to error", func(t *testing.T) {
		_, svc := setup(t)

		_, err := svc.Transition(ctx, model.DomainSummarize, "id-1", model.StatusWorking, model.TransitionPayload{})
		require.NoError(t, err)

		rec, err := svc.Transition(ctx, model.DomainSummarize, "id-1", model.StatusError,
			model.TransitionPayload{ErrorKind: model.FailureInference})
		require.NoError(t, err)
		assert.Equal(t, model.StatusError, rec.Status)
		assert.Equal(t, string(model.FailureInference), rec.ErrorKind)
		assert.Empty(t, rec.Result)
	})

	t.Run("working to working is an idempotent no-op", func(t *testing.T) {
		_, svc := setup(t)

		_, err := svc.Transition(ctx, model.DomainSummarize, "id-1", model.StatusWorking, model.TransitionPayload{})
		require.NoError(t, err)
		rec, err := svc.Transition(ctx, model.DomainSummarize, "id-1", model.StatusWorking, model.TransitionPayload{})
		require.NoError(t, err)
		assert.Equal(t, model.StatusWorking, rec.Status)
	})

	t.Run("terminal record rejects further transitions and is unchanged", func(t *testing.T) {
		_, svc := setup(t)

		_, err := svc.Transition(ctx, model.DomainSummarize, "id-1", model.StatusWorking, model.TransitionPayload{})
		require.NoError(t, err)
		_, err = svc.Transition(ctx, model.DomainSummarize, "id-1", model.StatusDone,
			model.TransitionPayload{Result: "first"})
		require.NoError(t, err)

		rec, err := svc.Transition(ctx, model.DomainSummarize, "id-1", model.StatusDone,
			model.TransitionPayload{Result: "second"})
		assert.True(t, apperrors.IsConflict(err))
		// The conflict carries the current record for redelivery detection.
		require.NotNil(t, rec)
		assert.True(t, rec.Status.Terminal())
		assert.Equal(t, "first", rec.Result)

		got, err := svc.Read(ctx, model.DomainSummarize, "id-1")
		require.NoError(t, err)
		assert.Equal(t, "first", got.Result)
	})

	t.Run("pending cannot jump straight to done", func(t *testing.T) {
		_, svc := setup(t)

		_, err := svc.Transition(ctx, model.DomainSummarize, "id-1", model.StatusDone,
			model.TransitionPayload{Result: "early"})
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("missing record is materialized", func(t *testing.T) {
		store := newMemStore()
		svc := newTestLifecycle(t, store)

		rec, err := svc.Transition(ctx, model.DomainTranscription, "never-created", model.StatusWorking,
			model.TransitionPayload{})
		require.NoError(t, err)
		assert.Equal(t, model.StatusWorking, rec.Status)

		got, err := svc.Read(ctx, model.DomainTranscription, "never-created")
		require.NoError(t, err)
		assert.Equal(t, model.StatusWorking, got.Status)
	})

	t.Run("payload validation", func(t *testing.T) {
		_, svc := setup(t)

		cases := []struct {
			name    string
			next    model.Status
			payload model.TransitionPayload
		}{
			{"done without result", model.StatusDone, model.TransitionPayload{}},
			{"done with error kind", model.StatusDone, model.TransitionPayload{Result: "r", ErrorKind: model.FailureInternal}},
			{"error without kind", model.StatusError, model.TransitionPayload{}},
			{"error with unknown kind", model.StatusError, model.TransitionPayload{ErrorKind: "surprise"}},
			{"error with result", model.StatusError, model.TransitionPayload{Result: "r", ErrorKind: model.FailureInternal}},
			{"working with payload", model.StatusWorking, model.TransitionPayload{Result: "r"}},
			{"back to pending", model.StatusPending, model.TransitionPayload{}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := svc.Transition(ctx, model.DomainSummarize, "id-1", tc.next, tc.payload)
				assert.True(t, apperrors.IsValidation(err))
			})
		}
	})

	t.Run("concurrent duplicate working transitions stay consistent", func(t *testing.T) {
		_, svc := setup(t)

		var wg sync.WaitGroup
		results := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = svc.Transition(ctx, model.DomainSummarize, "id-1",
					model.StatusWorking, model.TransitionPayload{})
			}(i)
		}
		wg.Wait()

		require.NoError(t, results[0])
		require.NoError(t, results[1])

		rec, err := svc.Read(ctx, model.DomainSummarize, "id-1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusWorking, rec.Status)
	})
}
