package httpx

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nagare-ml/nagare/internal/core"
	"github.com/nagare-ml/nagare/internal/domain/model"
	"github.com/nagare-ml/nagare/internal/service"
)

// memStore is an in-memory RecordStore for handler tests.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Put(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (s *memStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *memStore) Update(
	_ context.Context,
	key string,
	_ time.Duration,
	fn func(old []byte) ([]byte, error),
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var old []byte
	if v, ok := s.data[key]; ok {
		old = append([]byte(nil), v...)
	}
	next, err := fn(old)
	if err != nil {
		return err
	}
	s.data[key] = next
	return nil
}

var _ core.RecordStore = (*memStore)(nil)

// memQueue collects enqueued tasks.
type memQueue struct {
	mu    sync.Mutex
	tasks []*model.Task
}

func (q *memQueue) Enqueue(_ context.Context, task *model.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *memQueue) Dequeue(context.Context) (*core.Delivery, error) {
	panic("not used in handler tests")
}

func (q *memQueue) Ack(context.Context, string) error { return nil }

func (q *memQueue) Nack(context.Context, string) error { return nil }

func (q *memQueue) RequeueOrphans(context.Context) (int, error) { return 0, nil }

func (q *memQueue) RunHeartbeat(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (q *memQueue) enqueued() []*model.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*model.Task(nil), q.tasks...)
}

var _ core.TaskQueue = (*memQueue)(nil)

// memArtifacts stores upload contents in memory keyed by request id.
type memArtifacts struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{files: make(map[string][]byte)}
}

func (a *memArtifacts) Save(requestID, filename string, contents io.Reader) (string, error) {
	data, err := io.ReadAll(contents)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[requestID] = data
	return filepath.Join("mem", requestID, filename), nil
}

func (a *memArtifacts) Exists(string) bool { return false }

func (a *memArtifacts) List() ([]string, error) { return nil, nil }

func (a *memArtifacts) Remove(string) error { return nil }

var _ core.ArtifactStore = (*memArtifacts)(nil)

// memArchive serves canned history entries.
type memArchive struct {
	entries []core.ArchiveEntry
	err     error
}

func (a *memArchive) Upsert(context.Context, core.ArchiveEntry) error { return nil }

func (a *memArchive) ListRecent(_ context.Context, domain model.Domain, _ int) ([]core.ArchiveEntry, error) {
	if a.err != nil {
		return nil, a.err
	}
	var out []core.ArchiveEntry
	for _, e := range a.entries {
		if e.Domain == string(domain) {
			out = append(out, e)
		}
	}
	return out, nil
}

var _ core.ResultArchive = (*memArchive)(nil)

type routerFixture struct {
	store     *memStore
	queues    map[model.Domain]*memQueue
	artifacts *memArtifacts
	archive   *memArchive
	lifecycle *service.LifecycleService
	submit    *service.SubmitService
	handler   http.Handler
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	f := &routerFixture{
		store: newMemStore(),
		queues: map[model.Domain]*memQueue{
			model.DomainSummarize:     {},
			model.DomainTranscription: {},
		},
		artifacts: newMemArtifacts(),
		archive:   &memArchive{},
	}

	var err error
	f.lifecycle, err = service.NewLifecycleService(service.LifecycleServiceOptions{
		Store: f.store, TTL: time.Hour,
	})
	require.NoError(t, err)

	f.submit, err = service.NewSubmitService(service.SubmitServiceOptions{
		Lifecycle: f.lifecycle,
		Queues: map[model.Domain]core.TaskQueue{
			model.DomainSummarize:     f.queues[model.DomainSummarize],
			model.DomainTranscription: f.queues[model.DomainTranscription],
		},
		Artifacts: f.artifacts,
	})
	require.NoError(t, err)

	f.handler = NewRouter(RouterServices{
		Submit:             f.submit,
		Lifecycle:          f.lifecycle,
		Archive:            f.archive,
		MaxUploadBytes:     1 << 20,
		CORSAllowedOrigins: []string{"*"},
		Logger:             slog.New(slog.DiscardHandler),
	})
	return f
}

// multipartUpload builds a multipart body with a file part plus extra fields.
func multipartUpload(t *testing.T, filename string, contents []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(contents)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, form.WriteField(k, v))
	}
	require.NoError(t, form.Close())
	return &buf, form.FormDataContentType()
}
