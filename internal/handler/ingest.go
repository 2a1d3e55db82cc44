package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/andres10976/certharvest/internal/domainname"
	"github.com/andres10976/certharvest/internal/model"
	"github.com/andres10976/certharvest/internal/repository"
	"github.com/andres10976/certharvest/internal/service/ingest"
)

type ingestService interface {
	Start(ctx context.Context, opts ingest.Options) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

type runStateStore interface {
	Latest(ctx context.Context) (*model.RunState, error)
}

type IngestHandler struct {
	ingest ingestService
	repo   runStateStore
}

func NewIngestHandler(svc ingestService, repo runStateStore) *IngestHandler {
	return &IngestHandler{ingest: svc, repo: repo}
}

func (h *IngestHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ingest/status", h.Status)
	r.Post("/ingest/start", h.Start)
	r.Post("/ingest/stop", h.Stop)
}

func (h *IngestHandler) Status(w http.ResponseWriter, r *http.Request) {
	state, err := h.repo.Latest(r.Context())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to get ingest status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"is_running": h.ingest.IsRunning(),
		"last_run":   state,
	})
}

type startRequest struct {
	Domains []string `json:"domains"`
	SkipTo  string   `json:"skip_to"`
	Verbose bool     `json:"verbose"`
	DryRun  bool     `json:"dry_run"`
}

func (h *IngestHandler) Start(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, d := range append([]string{req.SkipTo}, req.Domains...) {
		if d == "" {
			continue
		}
		if err := domainname.Validate(d); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid domain %q", d))
			return
		}
	}

	opts := ingest.Options{
		Domains: req.Domains,
		SkipTo:  req.SkipTo,
		Verbose: req.Verbose,
		DryRun:  req.DryRun,
	}
	if err := h.ingest.Start(r.Context(), opts); err != nil {
		if errors.Is(err, ingest.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "ingest is already running")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start ingest")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Ingest started"})
}

func (h *IngestHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.ingest.Stop(r.Context()); err != nil {
		if errors.Is(err, ingest.ErrNotRunning) {
			writeError(w, http.StatusConflict, "ingest is not running")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to stop ingest")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Ingest stopped"})
}
