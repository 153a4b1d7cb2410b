// Package models defines the core domain types for the Arachnid mission control plane.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ── Missions ────────────────────────────────────────────────

// MissionID identifies one of the three campaign missions.
type MissionID string

const (
	MissionOne   MissionID = "m1"
	MissionTwo   MissionID = "m2"
	MissionThree MissionID = "m3"
)

// MissionIDs lists every mission in campaign order.
var MissionIDs = []MissionID{MissionOne, MissionTwo, MissionThree}

// ParseMissionID resolves a raw mission id. Returns false for anything
// outside m1..m3.
func ParseMissionID(raw string) (MissionID, bool) {
	id := MissionID(strings.TrimSpace(raw))
	for _, known := range MissionIDs {
		if id == known {
			return id, true
		}
	}
	return "", false
}

// MissionIDFromNumber maps 1..3 to its mission id.
func MissionIDFromNumber(n int) (MissionID, bool) {
	if n < 1 || n > len(MissionIDs) {
		return "", false
	}
	return MissionIDs[n-1], true
}

// Number returns the 1-based position of the mission, or 0 if unknown.
func (id MissionID) Number() int {
	for i, known := range MissionIDs {
		if id == known {
			return i + 1
		}
	}
	return 0
}

// MissionStatus is the stored, server-side status of a mission.
type MissionStatus string

const (
	MissionNotStarted MissionStatus = "NOT_STARTED"
	MissionLocked     MissionStatus = "LOCKED"
)

// MissionData is the mission-specific payload captured on submission.
// Only the fields relevant to the submitted mission are populated.
type MissionData struct {
	// Mission 1: shape/feel assessment
	Feel       string `json:"feel,omitempty"`
	FeelRating int    `json:"feelRating,omitempty"`
	FeelNote   string `json:"feelNote,omitempty"`

	// Mission 2: flight test
	Flight       string `json:"flight,omitempty"`
	FlightRating int    `json:"flightRating,omitempty"`
	FlightNote   string `json:"flightNote,omitempty"`
	VideoURL     string `json:"videoUrl,omitempty"`
	ShirtSize    string `json:"shirtSize,omitempty"`

	// Mission 3: sharpshooter
	AceURL     string `json:"aceUrl,omitempty"`
	HoodieSize string `json:"hoodieSize,omitempty"`

	// Shared confirmations (missions 2 and 3)
	ConfirmDistance200 bool `json:"confirmDistance200,omitempty"`
	ConfirmRights      bool `json:"confirmRights,omitempty"`
}

// MissionProgress is the stored state of one mission for one agent.
type MissionProgress struct {
	Status          MissionStatus `json:"status"`
	LastSubmittedAt *time.Time    `json:"lastSubmittedAt,omitempty"`
	Data            *MissionData  `json:"data,omitempty"`
}

// Locked reports whether the mission has been accepted by the server.
func (p MissionProgress) Locked() bool { return p.Status == MissionLocked }

// MissionMap is the per-agent mission table keyed by mission id.
type MissionMap map[MissionID]MissionProgress

// NewMissionMap returns a table with every mission NOT_STARTED.
func NewMissionMap() MissionMap {
	m := make(MissionMap, len(MissionIDs))
	for _, id := range MissionIDs {
		m[id] = MissionProgress{Status: MissionNotStarted}
	}
	return m
}

// LockedCount returns how many missions are LOCKED.
func (m MissionMap) LockedCount() int {
	n := 0
	for _, id := range MissionIDs {
		if m[id].Locked() {
			n++
		}
	}
	return n
}

// Clone deep-copies the table.
func (m MissionMap) Clone() MissionMap {
	out := make(MissionMap, len(m))
	for id, p := range m {
		cp := p
		if p.LastSubmittedAt != nil {
			t := *p.LastSubmittedAt
			cp.LastSubmittedAt = &t
		}
		if p.Data != nil {
			d := *p.Data
			cp.Data = &d
		}
		out[id] = cp
	}
	return out
}

// ── Agent progress record ───────────────────────────────────

// AgentProgressRecord is the unit of persistence: one per identity token.
type AgentProgressRecord struct {
	Token    string `json:"token"`
	First    string `json:"first"`
	Last     string `json:"last"`
	Codename string `json:"codename"`

	IntroViewed     bool       `json:"introViewed"`
	IntroViewedAt   *time.Time `json:"introViewedAt"`
	IntroAccepted   bool       `json:"introAccepted"`
	IntroAcceptedAt *time.Time `json:"introAcceptedAt"`

	Missions MissionMap `json:"missions"`

	SubmissionCount int    `json:"submissionCount"`
	VisitCount      int    `json:"visitCount"`
	UpdateAction    string `json:"updateAction"`

	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// NewAgentProgressRecord creates a fresh record for token.
func NewAgentProgressRecord(token string, now time.Time) *AgentProgressRecord {
	return &AgentProgressRecord{
		Token:      token,
		Missions:   NewMissionMap(),
		CreatedAt:  now,
		UpdatedAt:  now,
		LastSeenAt: now,
	}
}

// EnsureMissions backfills any mission missing from the table.
// Records written before a mission existed decode with a partial map.
func (r *AgentProgressRecord) EnsureMissions() {
	if r.Missions == nil {
		r.Missions = NewMissionMap()
		return
	}
	for _, id := range MissionIDs {
		if _, ok := r.Missions[id]; !ok {
			r.Missions[id] = MissionProgress{Status: MissionNotStarted}
		}
	}
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (r *AgentProgressRecord) Clone() *AgentProgressRecord {
	cp := *r
	cp.Missions = r.Missions.Clone()
	if r.IntroViewedAt != nil {
		t := *r.IntroViewedAt
		cp.IntroViewedAt = &t
	}
	if r.IntroAcceptedAt != nil {
		t := *r.IntroAcceptedAt
		cp.IntroAcceptedAt = &t
	}
	return &cp
}

// ── API views ───────────────────────────────────────────────

// StatusProgress is the progress view returned by GET /api/status.
type StatusProgress struct {
	Token           string     `json:"token"`
	Codename        string     `json:"codename"`
	Missions        MissionMap `json:"missions"`
	IntroViewed     bool       `json:"introViewed"`
	IntroViewedAt   *time.Time `json:"introViewedAt"`
	IntroAccepted   bool       `json:"introAccepted"`
	IntroAcceptedAt *time.Time `json:"introAcceptedAt"`
	UpdateAction    string     `json:"updateAction"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	LastSeenAt      time.Time  `json:"lastSeenAt"`
}

// StatusView projects a record onto the status response shape.
func (r *AgentProgressRecord) StatusView() StatusProgress {
	return StatusProgress{
		Token:           r.Token,
		Codename:        r.Codename,
		Missions:        r.Missions,
		IntroViewed:     r.IntroViewed,
		IntroViewedAt:   r.IntroViewedAt,
		IntroAccepted:   r.IntroAccepted,
		IntroAcceptedAt: r.IntroAcceptedAt,
		UpdateAction:    r.UpdateAction,
		UpdatedAt:       r.UpdatedAt,
		LastSeenAt:      r.LastSeenAt,
	}
}

// SubmissionProgress is the canonical progress returned by POST /api/feedback.
type SubmissionProgress struct {
	Missions   MissionMap `json:"missions"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	LastSeenAt time.Time  `json:"lastSeenAt"`
}

// SubmissionView projects a record onto the feedback response shape.
func (r *AgentProgressRecord) SubmissionView() SubmissionProgress {
	return SubmissionProgress{
		Missions:   r.Missions,
		UpdatedAt:  r.UpdatedAt,
		LastSeenAt: r.LastSeenAt,
	}
}

// IntroState is returned by the intro-* endpoints.
type IntroState struct {
	IntroViewed     bool       `json:"introViewed"`
	IntroViewedAt   *time.Time `json:"introViewedAt"`
	IntroAccepted   bool       `json:"introAccepted"`
	IntroAcceptedAt *time.Time `json:"introAcceptedAt"`
}

// IntroView projects a record onto the intro response shape.
func (r *AgentProgressRecord) IntroView() IntroState {
	return IntroState{
		IntroViewed:     r.IntroViewed,
		IntroViewedAt:   r.IntroViewedAt,
		IntroAccepted:   r.IntroAccepted,
		IntroAcceptedAt: r.IntroAcceptedAt,
	}
}

// ── Wire requests ───────────────────────────────────────────

// MissionMeta names the mission a feedback payload targets.
type MissionMeta struct {
	MissionID string `json:"missionId"`
}

// FeedbackRequest is the body of POST /api/feedback.
type FeedbackRequest struct {
	Token        string      `json:"token"`
	First        string      `json:"first"`
	Last         string      `json:"last"`
	FullName     string      `json:"fullName,omitempty"`
	Codename     string      `json:"codename,omitempty"`
	UserAgent    string      `json:"userAgent,omitempty"`
	TimestampISO string      `json:"timestampISO,omitempty"`
	PageURL      string      `json:"pageUrl,omitempty"`
	MissionMeta  MissionMeta `json:"missionMeta"`
	// Mission is kept raw so its shape can be checked against the rule schema
	// before it is decoded.
	Mission  json.RawMessage `json:"mission"`
	Honeypot string          `json:"honeypot"`
}

// TokenRequest is the body of the intro-* endpoints.
type TokenRequest struct {
	Token string `json:"token"`
}

// LegacyFeedbackRequest is the body of the legacy email endpoint.
type LegacyFeedbackRequest struct {
	Message      string `json:"message"`
	First        string `json:"first"`
	Last         string `json:"last"`
	UserAgent    string `json:"userAgent"`
	TimestampISO string `json:"timestampISO"`
	Company      string `json:"company"`
}
