package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP front end.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the queue workers driving the job lifecycle.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeSweeper runs the periodic upload-artifact reconciler.
	ServiceModeSweeper ServiceMode = "sweeper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeWorker, ServiceModeSweeper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeSweeper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, worker, sweeper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains queue worker configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines per domain. Each
	// goroutine processes one task at a time.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"2"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
}

// SweeperConfig contains artifact sweeper configuration.
type SweeperConfig struct {
	// Interval is the time between sweeps of the upload root.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"1h"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	if s.Interval < time.Minute {
		s.Interval = time.Minute
	}
}

// EngineConfig contains inference engine endpoint configuration.
type EngineConfig struct {
	// SummarizeURL is the summarization inference endpoint.
	SummarizeURL string `env:"ENGINE_SUMMARIZE_URL" envDefault:"http://localhost:9000/summarize"`

	// TranscribeURL is the transcription inference endpoint.
	TranscribeURL string `env:"ENGINE_TRANSCRIBE_URL" envDefault:"http://localhost:9000/transcribe"`

	// Timeout bounds a single inference HTTP call. Inference is
	// long-running; zero means no client-side timeout.
	Timeout time.Duration `env:"ENGINE_TIMEOUT" envDefault:"0"`
}

// Sanitize applies guardrails to engine configuration values.
func (e *EngineConfig) Sanitize() {
	if e.Timeout < 0 {
		e.Timeout = 0
	}
}

// UploadConfig contains upload artifact storage configuration.
type UploadConfig struct {
	// Root is the directory holding one subdirectory per transcription request.
	Root string `env:"UPLOAD_ROOT" envDefault:"uploads"`

	// MaxBytes caps the size of a single upload request body.
	MaxBytes int64 `env:"UPLOAD_MAX_BYTES" envDefault:"104857600"`

	// AllowedExtensions lists the accepted audio file extensions.
	AllowedExtensions []string `env:"UPLOAD_ALLOWED_EXTENSIONS" envDefault:".wav,.mp3,.m4a,.flac,.ogg"`
}

// Sanitize applies guardrails to upload configuration values.
func (u *UploadConfig) Sanitize() {
	u.Root = strings.TrimSpace(u.Root)
	if u.Root == "" {
		u.Root = "uploads"
	}
	if u.MaxBytes < 1 {
		u.MaxBytes = 104857600
	}
}
