package model

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// MinStrength and MaxStrength bound the summarization strength parameter.
	MinStrength = 1
	// MaxStrength is the strongest (shortest) summarization setting.
	MaxStrength = 5
	// DefaultStrength is applied when a submission omits the parameter.
	DefaultStrength = 3

	// DefaultLanguage is the transcription language used when none is given.
	DefaultLanguage = "ja"
	// DefaultModel is the transcription model used when none is given.
	DefaultModel = "base"
)

// Task is the unit of work carried by the queue from enqueuers to
// workers. Exactly one of Text and FilePath is set, depending on the
// domain.
type Task struct {
	RequestID string     `json:"request_id"`
	Domain    Domain     `json:"domain"`
	Text      string     `json:"text,omitempty"`
	FilePath  string     `json:"file_path,omitempty"`
	Params    TaskParams `json:"params"`
}

// TaskParams holds the per-domain inference parameters.
type TaskParams struct {
	Strength int    `json:"strength,omitempty"`
	Language string `json:"language,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Validate performs the structural checks required at worker entry:
// non-empty input and in-range parameters. It mirrors the submission-time
// checks so that a task injected by queue redelivery or an older enqueuer
// is still vetted before the expensive inference call.
func (t *Task) Validate() error {
	if t.RequestID == "" {
		return errors.New("request id is required")
	}
	if !t.Domain.Valid() {
		return fmt.Errorf("invalid domain: %q", t.Domain)
	}
	switch t.Domain {
	case DomainSummarize:
		if strings.TrimSpace(t.Text) == "" {
			return errors.New("text is required")
		}
		if t.Params.Strength < MinStrength || t.Params.Strength > MaxStrength {
			return fmt.Errorf("strength must be between %d and %d", MinStrength, MaxStrength)
		}
	case DomainTranscription:
		if t.FilePath == "" {
			return errors.New("file path is required")
		}
		if t.Params.Language == "" {
			return errors.New("language is required")
		}
		if t.Params.Model == "" {
			return errors.New("model is required")
		}
	}
	return nil
}

// AllowedAudioExtensions lists the upload file extensions accepted for
// transcription, lowercase with leading dot.
var AllowedAudioExtensions = []string{".wav", ".mp3", ".m4a", ".flac", ".ogg"}

// AudioExtensionAllowed reports whether the filename carries an accepted
// audio extension. The check is case-insensitive.
func AudioExtensionAllowed(filename string, allowed []string) bool {
	if len(allowed) == 0 {
		allowed = AllowedAudioExtensions
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if ext == strings.ToLower(a) {
			return true
		}
	}
	return false
}

// SummarizeRequest is a request to submit a summarization job.
type SummarizeRequest struct {
	Text     string `json:"text"`
	Strength int    `json:"strength,omitempty"`
}

// Validate validates the request and applies the strength default.
// Submission-time failures must happen before any record is created.
func (r *SummarizeRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return errors.New("text is required")
	}
	if r.Strength == 0 {
		r.Strength = DefaultStrength
	}
	if r.Strength < MinStrength || r.Strength > MaxStrength {
		return fmt.Errorf("strength must be between %d and %d", MinStrength, MaxStrength)
	}
	return nil
}

// TranscriptionRequest is a request to submit a transcription job. The
// file contents are streamed by the caller; only the metadata is
// validated here.
type TranscriptionRequest struct {
	Filename string
	Language string
	Model    string
}

// Validate validates the request metadata against the given extension
// allow-list and applies language/model defaults.
func (r *TranscriptionRequest) Validate(allowedExtensions []string) error {
	if r.Filename == "" {
		return errors.New("file is required")
	}
	if !AudioExtensionAllowed(r.Filename, allowedExtensions) {
		return fmt.Errorf("unsupported file extension: %q", filepath.Ext(r.Filename))
	}
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
	if r.Model == "" {
		r.Model = DefaultModel
	}
	return nil
}
