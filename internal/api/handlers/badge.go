package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arachnid-agents/mission-control/internal/badge"
	"github.com/arachnid-agents/mission-control/internal/mission"
	"github.com/arachnid-agents/mission-control/pkg/models"
	"github.com/rs/zerolog/log"
)

const msgBadgeFailed = "Unable to generate badge"

// Badge renders the completion badge for a locked mission.
//
//	GET /api/badge?token=&mission=1|2|3|m1..m3[&handle=][&ts=RFC3339][&format=svg]
//
// The badge timestamp defaults to the mission's lastSubmittedAt, so repeat
// downloads of the same badge carry the same barcode.
func (h *Handlers) Badge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := strings.TrimSpace(q.Get("token"))
	if token == "" {
		respondError(w, http.StatusBadRequest, msgMissingToken)
		return
	}
	id, ok := parseMissionParam(q.Get("mission"))
	if !ok {
		respondError(w, http.StatusBadRequest, msgUnknownMission)
		return
	}

	rec, err := h.Progress.Get(r.Context(), token)
	if err != nil {
		respondProgressError(w, err, msgLoadFailed)
		return
	}
	if rec == nil || !rec.Missions[id].Locked() {
		respondError(w, http.StatusNotFound, "Mission not completed")
		return
	}

	ts := time.Now()
	if at := rec.Missions[id].LastSubmittedAt; at != nil {
		ts = *at
	}
	if raw := strings.TrimSpace(q.Get("ts")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid timestamp")
			return
		}
		ts = parsed
	}

	handle := strings.TrimSpace(q.Get("handle"))
	if handle == "" {
		handle = rec.Codename
	}
	req := badge.Request{
		Handle:    handle,
		Token:     token,
		Mission:   id.Number(),
		Rank:      mission.Rank(rec.Missions.LockedCount()),
		Timestamp: ts,
	}

	if q.Get("format") == "svg" {
		_, res, err := h.Badges.Compose(r.Context(), req)
		if err != nil {
			h.badgeFailed(w, r, id, err)
			return
		}
		h.Metrics.BadgeRendered(r.Context(), string(id), true)
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("X-Badge-Id", res.ID)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(res.SVG))
		return
	}

	res, err := h.Badges.Render(r.Context(), req)
	if err != nil {
		h.badgeFailed(w, r, id, err)
		return
	}
	h.Metrics.BadgeRendered(r.Context(), string(id), true)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.PNG)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("X-Badge-Id", res.ID)
	w.WriteHeader(http.StatusOK)
	w.Write(res.PNG)
}

func (h *Handlers) badgeFailed(w http.ResponseWriter, r *http.Request, id models.MissionID, err error) {
	h.Metrics.BadgeRendered(r.Context(), string(id), false)
	if errors.Is(err, badge.ErrInvalidMission) {
		respondError(w, http.StatusBadRequest, msgUnknownMission)
		return
	}
	log.Error().Err(err).Str("mission", string(id)).Msg("Badge render failed")
	respondError(w, http.StatusInternalServerError, msgBadgeFailed)
}

// parseMissionParam accepts "2" or "m2".
func parseMissionParam(raw string) (models.MissionID, bool) {
	raw = strings.TrimSpace(raw)
	if id, ok := models.ParseMissionID(raw); ok {
		return id, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return "", false
	}
	return models.MissionIDFromNumber(n)
}
