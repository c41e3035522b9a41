package httpx

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/cors"

	"github.com/nagare-ml/nagare/internal/core"
	"github.com/nagare-ml/nagare/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Submit    *service.SubmitService
	Lifecycle *service.LifecycleService
	// Archive is optional; without it the history endpoints 404.
	Archive core.ResultArchive
	// Store backs the readiness probe; nil skips the backend check.
	Store HealthChecker
	// MaxUploadBytes caps a transcription upload request body.
	MaxUploadBytes int64
	// CORSAllowedOrigins configures the CORS middleware for the browser
	// front ends polling this API.
	CORSAllowedOrigins []string
	Logger             *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{
		Submit:         services.Submit,
		Lifecycle:      services.Lifecycle,
		MaxUploadBytes: services.MaxUploadBytes,
	}
	archiveHandlers := &ArchiveHandlers{Archive: services.Archive}
	healthHandlers := &HealthHandlers{Store: services.Store}

	registerJobRoutes(mux, jobHandlers)
	registerArchiveRoutes(mux, archiveHandlers)

	mux.HandleFunc("GET /api/health", healthHandlers.Readiness)
	mux.Handle("GET /healthz", http.HandlerFunc(healthzHandler))
	mux.Handle("GET /", http.HandlerFunc(rootHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthzHandler))

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: services.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})

	var handler http.Handler = corsHandler(mux)
	if services.Logger != nil {
		handler = Logging(services.Logger)(handler)
		handler = Recover(services.Logger)(handler)
	}
	return handler
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /api/summarize", h.SubmitSummarize)
	mux.HandleFunc("GET /api/summarize/{id}", h.SummarizeStatus)
	mux.HandleFunc("POST /api/transcribe", h.SubmitTranscription)
	mux.HandleFunc("GET /api/transcribe/{id}", h.TranscriptionStatus)
}

func registerArchiveRoutes(mux *http.ServeMux, h *ArchiveHandlers) {
	mux.HandleFunc("GET /api/summaries", h.RecentSummaries)
	mux.HandleFunc("GET /api/transcriptions", h.RecentTranscriptions)
}
