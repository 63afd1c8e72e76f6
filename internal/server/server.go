// Package server exposes the job pipeline over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/config"
	"github.com/nomadcafe/kekiai-japaneseai/internal/events"
	"github.com/nomadcafe/kekiai-japaneseai/internal/jobs"
	"github.com/nomadcafe/kekiai-japaneseai/internal/llm"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
)

// Voices is the speech engine as seen by the API.
type Voices interface {
	Available(ctx context.Context) bool
	Speakers(ctx context.Context) (json.RawMessage, error)
}

// LLMStatuses reports which providers are usable.
type LLMStatuses interface {
	Statuses() []llm.Status
}

type Options struct {
	Jobs   *jobs.Manager
	Broker *events.Broker
	Voices Voices
	LLMs   LLMStatuses
	Config config.ServerConfig
	// Workers is the task pool size reported by /api/system/status.
	Workers int
}

// Server handles the REST API and job update sockets.
type Server struct {
	jobs    *jobs.Manager
	broker  *events.Broker
	voices  Voices
	llms    LLMStatuses
	cfg     config.ServerConfig
	workers int
}

func New(opts Options) *Server {
	cfg := opts.Config
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 100
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Server{
		jobs:    opts.Jobs,
		broker:  opts.Broker,
		voices:  opts.Voices,
		llms:    opts.LLMs,
		cfg:     cfg,
		workers: opts.Workers,
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/jobs/upload", s.handleUpload)
	mux.HandleFunc("POST /api/jobs/import", s.handleImport)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleJobStatus)
	mux.HandleFunc("GET /api/jobs/{id}/status", s.handleJobStatus)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleDeleteJob)

	mux.HandleFunc("POST /api/jobs/{id}/generate-dialogue", s.handleGenerateDialogue)
	mux.HandleFunc("GET /api/jobs/{id}/dialogue", s.handleGetDialogue)
	mux.HandleFunc("PUT /api/jobs/{id}/dialogue", s.handlePutDialogue)
	mux.HandleFunc("GET /api/jobs/{id}/dialogue/csv", s.handleExportCSV)
	mux.HandleFunc("POST /api/jobs/{id}/dialogue/csv", s.handleImportCSV)
	mux.HandleFunc("GET /api/jobs/{id}/importance", s.handleGetImportance)
	mux.HandleFunc("PUT /api/jobs/{id}/importance", s.handlePutImportance)
	mux.HandleFunc("GET /api/jobs/{id}/video-settings", s.handleGetVideoSettings)
	mux.HandleFunc("PUT /api/jobs/{id}/video-settings", s.handlePutVideoSettings)

	mux.HandleFunc("POST /api/jobs/{id}/generate-audio", s.handleGenerateAudio)
	mux.HandleFunc("POST /api/jobs/{id}/create-video", s.handleCreateVideo)
	mux.HandleFunc("POST /api/jobs/{id}/generate-video", s.handleGenerateVideo)
	mux.HandleFunc("GET /api/jobs/{id}/download", s.handleDownload)

	mux.HandleFunc("GET /api/jobs/{id}/slides", s.handleSlides)
	mux.HandleFunc("GET /api/jobs/{id}/slides/{n}", s.handleSlideImage)
	mux.HandleFunc("GET /api/jobs/{id}/metadata", s.handleMetadata)
	mux.HandleFunc("GET /api/jobs/{id}/instruction-history", s.handleHistory)
	mux.HandleFunc("GET /api/jobs/{id}/ws", s.handleJobSocket)

	mux.HandleFunc("GET /api/speakers", s.handleSpeakers)
	mux.HandleFunc("GET /api/system/status", s.handleSystemStatus)

	return s.cors(mux)
}

func (s *Server) cors(next http.Handler) http.Handler {
	wildcard := slices.Contains(s.cfg.AllowedOrigins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case wildcard:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(s.cfg.AllowedOrigins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originPatterns converts allowed origins to the host patterns the
// websocket handshake matches against.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

// writeError answers with the status and code carried by err.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := string(apperr.Internal)
	detail := "Internal Server Error"
	if ae, ok := apperr.As(err); ok {
		status = ae.HTTPStatus()
		code = string(ae.Code)
		detail = ae.Message
	}
	logCtx := slog.With("method", r.Method, "path", r.URL.Path, "status", status)
	if status >= http.StatusInternalServerError {
		logCtx.Error("Request failed", "error", err)
	} else {
		logCtx.Warn("Request rejected", "error", err)
	}
	writeJSON(w, status, models.ErrorResponse{Code: code, Detail: detail})
}

// decodeOptional decodes a JSON body into v, leaving v untouched when the
// body is empty.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.Wrap(err, apperr.InvalidArgument, "could not parse JSON")
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(err, apperr.InvalidArgument, "could not parse JSON")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
