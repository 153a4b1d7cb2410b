// Package handlers implements the HTTP handlers for the mission control
// plane. Every response is JSON shaped {ok: true, ...} or
// {ok: false, error: "..."}, except the badge image.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/arachnid-agents/mission-control/internal/badge"
	"github.com/arachnid-agents/mission-control/internal/mission"
	"github.com/arachnid-agents/mission-control/internal/notify"
	"github.com/arachnid-agents/mission-control/internal/progress"
	"github.com/arachnid-agents/mission-control/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// User-facing messages for non-validation failures.
const (
	msgInvalidJSON    = "Invalid JSON payload"
	msgMissingToken   = "Missing token"
	msgUnknownMission = "Unknown mission"
	msgSaveFailed     = "Failed to save progress"
	msgLoadFailed     = "Failed to load progress"
	msgNotFound       = "Not found"
	msgMethod         = "Method not allowed"
)

// Pinger reports backend reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all handler dependencies.
type Handlers struct {
	Progress *progress.Service
	Badges   *badge.Compositor
	Legacy   *notify.Service
	Metrics  *telemetry.Metrics
	Store    Pinger
	Version  string
}

// New creates a Handlers instance.
func New(p *progress.Service, b *badge.Compositor, legacy *notify.Service, store Pinger, metrics *telemetry.Metrics, version string) *Handlers {
	return &Handlers{
		Progress: p,
		Badges:   b,
		Legacy:   legacy,
		Metrics:  metrics,
		Store:    store,
		Version:  version,
	}
}

// ── Infrastructure ──────────────────────────────────────────

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Health check: store unreachable")
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	respondJSON(w, code, map[string]any{
		"ok":      code == http.StatusOK,
		"status":  status,
		"service": "arachnid-mission-control",
	})
}

func (h *Handlers) VersionInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": h.Version,
		"service": "arachnid-mission-control",
	})
}

func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, msgNotFound)
}

func (h *Handlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, msgMethod)
}

// MissionRules serves the embedded rule table so clients validate with the
// same rules as the server.
func (h *Handlers) MissionRules(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write(h.Progress.Rules().Raw())
}

// ── Helpers ─────────────────────────────────────────────────

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, msgInvalidJSON)
		return false
	}
	return true
}

// respondProgressError maps a progress service error to a status code and
// a user-facing message.
func respondProgressError(w http.ResponseWriter, err error, fallback string) {
	var re *mission.RuleError
	switch {
	case errors.As(err, &re):
		respondError(w, http.StatusBadRequest, re.Message)
	case errors.Is(err, progress.ErrTokenRequired):
		respondError(w, http.StatusBadRequest, msgMissingToken)
	case errors.Is(err, progress.ErrUnknownMission):
		respondError(w, http.StatusBadRequest, msgUnknownMission)
	default:
		log.Error().Err(err).Msg(fallback)
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"ok": false, "error": message})
}
