// Package model defines the core data types for the nagare job system.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Domain distinguishes job types that share one record store and one
// upload root. It is the first component of every store key.
type Domain string

// Status represents the current lifecycle state of a job record.
type Status string

const (
	// DomainSummarize is the text summarization job domain.
	DomainSummarize Domain = "summarize"
	// DomainTranscription is the audio transcription job domain.
	DomainTranscription Domain = "transcription"

	// StatusPending indicates a job has been accepted but not yet picked up.
	StatusPending Status = "pending"
	// StatusWorking indicates a worker is processing the job.
	StatusWorking Status = "working"
	// StatusDone indicates the job finished with a result.
	StatusDone Status = "done"
	// StatusError indicates the job finished with a classified failure.
	StatusError Status = "error"
)

// Valid returns true if the Domain is one of the known job domains.
func (d Domain) Valid() bool {
	return d == DomainSummarize || d == DomainTranscription
}

// Key returns the record store key for a request in this domain.
func (d Domain) Key(requestID string) string {
	return string(d) + ":" + requestID
}

// QueueName returns the work queue name for this domain.
func (d Domain) QueueName() string {
	return "queue:" + string(d)
}

// UnmarshalText implements encoding.TextUnmarshaler for Domain to allow env parsing.
func (d *Domain) UnmarshalText(text []byte) error {
	v := Domain(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid domain: %q", string(text))
	}
	*d = v
	return nil
}

// Valid returns true if the Status is one of the four lifecycle states.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusWorking || s == StatusDone || s == StatusError
}

// Terminal returns true for statuses that accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// CanTransition reports whether moving from s to next is a legal step in
// the state machine pending -> working -> {done, error}. A working ->
// working re-entry is legal and treated as an idempotent no-op by the
// lifecycle manager.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusWorking
	case StatusWorking:
		return next == StatusWorking || next == StatusDone || next == StatusError
	default:
		return false
	}
}

// JobRecord is the sole persistent entity: the status/result object for
// one request. Optional fields are omitted on the wire rather than null
// to keep the polling payload small.
type JobRecord struct {
	Status Status `json:"status"`
	// Result holds the semantic payload (summary text, transcript text)
	// and is present only when Status is done.
	Result string `json:"result,omitempty"`
	// ErrorKind holds a short closed classification string and is present
	// only when Status is error. The wire field is "error".
	ErrorKind string `json:"error,omitempty"`
	// ExpiresAt is an ISO-8601 UTC timestamp, refreshed on every write.
	ExpiresAt string `json:"expires_at,omitempty"`
}

// SetExpiry stamps the record with an absolute expiry time in UTC.
func (r *JobRecord) SetExpiry(t time.Time) {
	r.ExpiresAt = t.UTC().Format(time.RFC3339)
}

// Validate checks the record's internal invariants: result and error are
// mutually exclusive and only present in their respective terminal states.
func (r *JobRecord) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("invalid status: %q", r.Status)
	}
	if r.Result != "" && r.Status != StatusDone {
		return fmt.Errorf("result present with status %q", r.Status)
	}
	if r.ErrorKind != "" && r.Status != StatusError {
		return fmt.Errorf("error kind present with status %q", r.Status)
	}
	if r.Result != "" && r.ErrorKind != "" {
		return fmt.Errorf("result and error kind are mutually exclusive")
	}
	return nil
}

// EncodeRecord serializes a record to its wire form.
func EncodeRecord(r *JobRecord) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

// DecodeRecord parses a stored record. The caller is responsible for
// treating a decode failure as a corrupt record rather than masking it.
func DecodeRecord(data []byte) (*JobRecord, error) {
	var r JobRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if !r.Status.Valid() {
		return nil, fmt.Errorf("decode record: invalid status %q", r.Status)
	}
	return &r, nil
}

// TransitionPayload carries the terminal payload for a transition. At
// most one of Result and ErrorKind may be set, matching the record
// invariants.
type TransitionPayload struct {
	Result    string
	ErrorKind FailureKind
}
