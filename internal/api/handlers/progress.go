package handlers

import (
	"context"
	"net/http"

	"github.com/arachnid-agents/mission-control/internal/progress"
	"github.com/arachnid-agents/mission-control/pkg/models"
)

type statusResponse struct {
	OK       bool                  `json:"ok"`
	Progress models.StatusProgress `json:"progress"`
}

type submitResponse struct {
	OK       bool                      `json:"ok"`
	Progress models.SubmissionProgress `json:"progress"`
}

type introResponse struct {
	OK bool `json:"ok"`
	models.IntroState
}

type agentsResponse struct {
	OK     bool                         `json:"ok"`
	Agents []models.AgentProgressRecord `json:"agents"`
}

// Status creates or touches the agent record and returns its progress.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rec, err := h.Progress.Touch(r.Context(), progress.Identity{
		Token:  q.Get("token"),
		First:  q.Get("first"),
		Last:   q.Get("last"),
		Handle: q.Get("handle"),
	})
	if err != nil {
		respondProgressError(w, err, msgSaveFailed)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{OK: true, Progress: rec.StatusView()})
}

// Feedback validates and locks one mission submission.
func (h *Handlers) Feedback(w http.ResponseWriter, r *http.Request) {
	var req models.FeedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := h.Progress.Submit(r.Context(), req)
	if err != nil {
		respondProgressError(w, err, msgSaveFailed)
		return
	}
	respondJSON(w, http.StatusOK, submitResponse{OK: true, Progress: rec.SubmissionView()})
}

func (h *Handlers) IntroAccept(w http.ResponseWriter, r *http.Request) {
	h.introAction(w, r, h.Progress.AcceptIntro)
}

func (h *Handlers) IntroViewed(w http.ResponseWriter, r *http.Request) {
	h.introAction(w, r, h.Progress.MarkIntroViewed)
}

func (h *Handlers) IntroReset(w http.ResponseWriter, r *http.Request) {
	h.introAction(w, r, h.Progress.ResetIntro)
}

type introFunc func(ctx context.Context, token string) (*models.AgentProgressRecord, error)

func (h *Handlers) introAction(w http.ResponseWriter, r *http.Request, fn introFunc) {
	var req models.TokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := fn(r.Context(), req.Token)
	if err != nil {
		respondProgressError(w, err, msgSaveFailed)
		return
	}
	respondJSON(w, http.StatusOK, introResponse{OK: true, IntroState: rec.IntroView()})
}

// ListAgents returns every agent record, most recently seen first. It is
// mounted behind the admin token middleware.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Progress.ListAgents(r.Context())
	if err != nil {
		respondProgressError(w, err, msgLoadFailed)
		return
	}
	if agents == nil {
		agents = []models.AgentProgressRecord{}
	}
	respondJSON(w, http.StatusOK, agentsResponse{OK: true, Agents: agents})
}
