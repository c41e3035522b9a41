// Package core defines the ports between the service layer and its
// collaborators: the record store, the work queue, the upload artifact
// store, the result archive, and the inference engine. Service
// implementations depend on these interfaces, not concrete adapters.
package core

import (
	"context"
	"io"
	"time"

	"github.com/nagare-ml/nagare/internal/domain/model"
)

// RecordStore is a generic TTL-keyed object store. It has no knowledge
// of job semantics; record encoding and decoding happen above this
// layer. An expired key behaves identically to a never-created key.
type RecordStore interface {
	// Put writes a value with a relative TTL, replacing any existing value.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the stored value, or (nil, nil) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether a live value is stored under the key.
	Exists(ctx context.Context, key string) (bool, error)
	// Update performs an atomic read-modify-write: fn receives the current
	// value (nil when absent) and returns the value to write. Concurrent
	// updates on the same key must not lose each other's writes. An error
	// returned by fn aborts the update and is returned unchanged.
	Update(ctx context.Context, key string, ttl time.Duration, fn func(old []byte) ([]byte, error)) error
}

// Delivery is one dequeued task together with the receipt needed to
// acknowledge it.
type Delivery struct {
	Task model.Task
	// Receipt identifies the in-flight queue entry for Ack.
	Receipt string
}

// TaskQueue is a durable at-least-once work queue. A dequeued task stays
// in flight, owned by the dequeuing consumer, until acknowledged or
// returned; tasks owned by a consumer that stopped heartbeating are
// redelivered.
type TaskQueue interface {
	// Enqueue pushes a task onto the queue.
	Enqueue(ctx context.Context, task *model.Task) error
	// Dequeue blocks until a task is available or the context is done.
	Dequeue(ctx context.Context) (*Delivery, error)
	// Ack removes an in-flight task from the queue.
	Ack(ctx context.Context, receipt string) error
	// Nack returns an in-flight task to the queue for later redelivery.
	Nack(ctx context.Context, receipt string) error
	// RequeueOrphans moves tasks held by consumers that are no longer
	// alive back onto the queue. Tasks held by live consumers are never
	// touched. It returns the number of tasks recovered.
	RequeueOrphans(ctx context.Context) (int, error)
	// RunHeartbeat maintains this consumer's liveness until the context
	// is cancelled, keeping its in-flight tasks from being recovered as
	// orphans. It blocks for the lifetime of the consumer.
	RunHeartbeat(ctx context.Context) error
}

// ArtifactStore holds uploaded input files, one directory per request
// identifier. The front end writes artifacts; the reconciler deletes
// directories whose job record no longer exists.
type ArtifactStore interface {
	// Save streams an upload into the request's directory and returns the
	// stored file path.
	Save(requestID, filename string, r io.Reader) (string, error)
	// Exists reports whether an artifact directory exists for the request.
	Exists(requestID string) bool
	// List returns the request identifiers of all artifact directories.
	List() ([]string, error)
	// Remove deletes the request's artifact directory and its contents.
	Remove(requestID string) error
}

// ArchiveEntry is one completed result persisted to the archive. Unlike
// the job record it survives record expiry.
type ArchiveEntry struct {
	RequestID string    `json:"request_id" db:"request_id"`
	Domain    string    `json:"domain"     db:"domain"`
	Result    string    `json:"result"     db:"result"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ResultArchive persists completed results for listing after the TTL'd
// job record is gone.
type ResultArchive interface {
	Upsert(ctx context.Context, entry ArchiveEntry) error
	ListRecent(ctx context.Context, domain model.Domain, limit int) ([]ArchiveEntry, error)
}

// Engine is the external inference collaborator. Calls are long-running
// and blocking; the core imposes no timeout of its own.
type Engine interface {
	Summarize(ctx context.Context, text string, params model.TaskParams) (string, error)
	Transcribe(ctx context.Context, filePath string, params model.TaskParams) (string, error)
}
