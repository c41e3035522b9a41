// Package engine provides the HTTP client for the inference backends.
// Summarization and transcription run in separate model-serving processes;
// this adapter turns a queued task into a single blocking HTTP call.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nagare-ml/nagare/internal/core"
	"github.com/nagare-ml/nagare/internal/domain/model"
	apperrors "github.com/nagare-ml/nagare/internal/errors"
)

// errorBodyLimit caps how much of an error response is quoted back.
const errorBodyLimit = 512

// Config captures the inference endpoints and client behaviour.
type Config struct {
	SummarizeURL  string
	TranscribeURL string
	// Client overrides the HTTP client. When nil one is built with
	// Timeout; a zero Timeout means no client-side deadline, since
	// inference calls are expected to run long.
	Client  *http.Client
	Timeout time.Duration
}

// Client calls the inference backends over HTTP.
type Client struct {
	summarizeURL  string
	transcribeURL string
	client        *http.Client
}

var _ core.Engine = (*Client)(nil)

// NewClient builds an inference client. Both endpoint URLs are required.
func NewClient(cfg Config) (*Client, error) {
	summarizeURL := strings.TrimSpace(cfg.SummarizeURL)
	if summarizeURL == "" {
		return nil, errors.New("summarize endpoint url is required")
	}
	transcribeURL := strings.TrimSpace(cfg.TranscribeURL)
	if transcribeURL == "" {
		return nil, errors.New("transcribe endpoint url is required")
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: max(cfg.Timeout, 0)}
	}

	return &Client{
		summarizeURL:  summarizeURL,
		transcribeURL: transcribeURL,
		client:        hc,
	}, nil
}

type summarizeRequest struct {
	Text     string `json:"text"`
	Strength int    `json:"strength"`
}

type inferenceResponse struct {
	Result string `json:"result"`
}

// Summarize posts the text to the summarization backend and returns the
// produced summary.
func (c *Client) Summarize(ctx context.Context, text string, params model.TaskParams) (string, error) {
	body, err := json.Marshal(summarizeRequest{Text: text, Strength: params.Strength})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInference, "encode summarize request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.summarizeURL, bytes.NewReader(body))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInference, "create summarize request")
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// Transcribe streams the uploaded audio file to the transcription backend
// as a multipart form and returns the transcript. A missing file surfaces
// the underlying not-exist error so callers can classify it.
func (c *Client) Transcribe(ctx context.Context, filePath string, params model.TaskParams) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInference, "build transcribe form")
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read audio file: %w", err)
	}
	if err := form.WriteField("language", params.Language); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInference, "build transcribe form")
	}
	if err := form.WriteField("model", params.Model); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInference, "build transcribe form")
	}
	if err := form.Close(); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInference, "build transcribe form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.transcribeURL, &buf)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInference, "create transcribe request")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	return c.do(req)
}

func (c *Client) do(req *http.Request) (string, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		// Keep context errors visible through the url.Error wrapper so
		// a canceled call classifies as canceled. Anything else is the
		// engine being unreachable, which is an inference failure.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("inference request failed: %w", err)
		}
		return "", apperrors.Wrap(err, apperrors.ErrCodeInference, "inference request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return "", apperrors.Inference(fmt.Sprintf("inference endpoint returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var out inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInference, "decode inference response")
	}
	if out.Result == "" {
		return "", apperrors.Inference("inference endpoint returned an empty result")
	}
	return out.Result, nil
}
