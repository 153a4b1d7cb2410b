package handlers

import (
	"errors"
	"net/http"

	"github.com/arachnid-agents/mission-control/internal/notify"
	"github.com/arachnid-agents/mission-control/pkg/models"
)

// FeedbackTokenHeader carries the opaque legacy feedback token.
const FeedbackTokenHeader = "X-Feedback-Token"

// LegacyFeedback emails a free-text message. The token is checked before
// the body is parsed.
func (h *Handlers) LegacyFeedback(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(FeedbackTokenHeader)
	if err := h.Legacy.CheckToken(token); err != nil {
		respondLegacyError(w, err)
		return
	}

	var req models.LegacyFeedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Legacy.Send(r.Context(), token, req); err != nil {
		respondLegacyError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func respondLegacyError(w http.ResponseWriter, err error) {
	var ve *notify.ValidationError
	if errors.As(err, &ve) {
		respondError(w, http.StatusBadRequest, ve.Message)
		return
	}
	respondError(w, http.StatusInternalServerError, "Failed to send email")
}
