package httpx

import (
	"net/http"
	"strconv"

	"github.com/nagare-ml/nagare/internal/core"
	"github.com/nagare-ml/nagare/internal/domain/model"
)

// ArchiveHandlers serves the completed-result history backed by Postgres.
// The archive is optional; when it is not configured the endpoints return
// 404 so clients can distinguish "disabled" from "empty".
type ArchiveHandlers struct {
	Archive core.ResultArchive
}

// RecentSummaries lists recently completed summarization results.
func (h *ArchiveHandlers) RecentSummaries(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, model.DomainSummarize)
}

// RecentTranscriptions lists recently completed transcription results.
func (h *ArchiveHandlers) RecentTranscriptions(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, model.DomainTranscription)
}

func (h *ArchiveHandlers) list(w http.ResponseWriter, r *http.Request, domain model.Domain) {
	if h.Archive == nil {
		http.NotFound(w, r)
		return
	}

	limit := parseIntQuery(r, "limit", 0)
	entries, err := h.Archive.ListRecent(r.Context(), domain, limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if entries == nil {
		entries = []core.ArchiveEntry{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"results": entries})
}

// parseIntQuery parses an integer query parameter, falling back to the
// default on absence or garbage.
func parseIntQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
