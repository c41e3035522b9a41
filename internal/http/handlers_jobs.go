// Package httpx provides the HTTP front end for the nagare job system API.
package httpx

import (
	"errors"
	"net/http"

	"github.com/nagare-ml/nagare/internal/domain/model"
	"github.com/nagare-ml/nagare/internal/service"
)

// JobHandlers provides HTTP handlers for job submission and polling.
type JobHandlers struct {
	Submit    *service.SubmitService
	Lifecycle *service.LifecycleService
	// MaxUploadBytes caps a transcription upload request body.
	MaxUploadBytes int64
}

// SubmitSummarize handles HTTP requests to submit a summarization job.
// The response carries only the minted request id; clients poll the
// status endpoint for the outcome.
func (h *JobHandlers) SubmitSummarize(w http.ResponseWriter, r *http.Request) {
	var req model.SummarizeRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	requestID, err := h.Submit.SubmitSummarize(r.Context(), req)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID})
}

// SubmitTranscription handles multipart transcription uploads. The form
// carries the audio file plus optional language and model fields.
func (h *JobHandlers) SubmitTranscription(w http.ResponseWriter, r *http.Request) {
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, ErrorParams{
				Code:    http.StatusRequestEntityTooLarge,
				ErrCode: "upload_too_large",
				Err:     err,
			})
			return
		}
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "validation",
			Err:     errors.New("multipart field \"file\" is required"),
		})
		return
	}
	defer file.Close()

	req := model.TranscriptionRequest{
		Filename: header.Filename,
		Language: r.FormValue("language"),
		Model:    r.FormValue("model"),
	}

	requestID, err := h.Submit.SubmitTranscription(r.Context(), req, file)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID})
}

// SummarizeStatus returns the job record for a summarization request.
func (h *JobHandlers) SummarizeStatus(w http.ResponseWriter, r *http.Request) {
	h.status(w, r, model.DomainSummarize)
}

// TranscriptionStatus returns the job record for a transcription request.
func (h *JobHandlers) TranscriptionStatus(w http.ResponseWriter, r *http.Request) {
	h.status(w, r, model.DomainTranscription)
}

// status writes the record as-is: the store value already is the wire
// format, flat JSON with optional fields omitted.
func (h *JobHandlers) status(w http.ResponseWriter, r *http.Request, domain model.Domain) {
	requestID := r.PathValue("id")
	if requestID == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_path",
			Err:     errors.New("request id is required"),
		})
		return
	}

	rec, err := h.Lifecycle.Read(r.Context(), domain, requestID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}
