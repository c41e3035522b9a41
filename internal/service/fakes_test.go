package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/nagare-ml/nagare/internal/core"
	"github.com/nagare-ml/nagare/internal/domain/model"
)

// memStore is an in-memory RecordStore. Update holds the mutex across
// the whole read-modify-write, matching the atomicity the Redis
// implementation provides with WATCH.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration

	failNext error // returned by the next store operation, then cleared
}

func newMemStore() *memStore {
	return &memStore{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Duration),
	}
}

func (m *memStore) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.data[key] = append([]byte(nil), value...)
	m.ttls[key] = ttl
	return nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return false, err
	}
	_, ok := m.data[key]
	return ok, nil
}

func (m *memStore) Update(
	_ context.Context,
	key string,
	ttl time.Duration,
	fn func(old []byte) ([]byte, error),
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}

	var old []byte
	if v, ok := m.data[key]; ok {
		old = append([]byte(nil), v...)
	}
	next, err := fn(old)
	if err != nil {
		return err
	}
	m.data[key] = next
	m.ttls[key] = ttl
	return nil
}

// expire simulates TTL expiry of a key.
func (m *memStore) expire(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.ttls, key)
}

var _ core.RecordStore = (*memStore)(nil)

// memQueue is an in-memory TaskQueue recording every enqueued task.
type memQueue struct {
	mu         sync.Mutex
	tasks      []*model.Task
	enqueueErr error
}

func (q *memQueue) Enqueue(_ context.Context, task *model.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *memQueue) Dequeue(_ context.Context) (*core.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, errors.New("queue empty")
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return &core.Delivery{Task: *task, Receipt: task.RequestID}, nil
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

// memArtifacts is an in-memory ArtifactStore.
type memArtifacts struct {
	mu         sync.Mutex
	dirs       map[string]string // request id -> stored path
	saveErr    error
	removeErr  map[string]error
	removedIDs []string
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{dirs: make(map[string]string), removeErr: make(map[string]error)}
}

func (a *memArtifacts) Save(requestID, filename string, r io.Reader) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.saveErr != nil {
		return "", a.saveErr
	}
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	path := "/uploads/" + requestID + "/" + filename
	a.dirs[requestID] = path
	return path, nil
}

func (a *memArtifacts) Exists(requestID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.dirs[requestID]
	return ok
}

func (a *memArtifacts) List() ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []string
	for id := range a.dirs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *memArtifacts) Remove(requestID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.removeErr[requestID]; err != nil {
		return err
	}
	delete(a.dirs, requestID)
	a.removedIDs = append(a.removedIDs, requestID)
	return nil
}

var _ core.ArtifactStore = (*memArtifacts)(nil)
