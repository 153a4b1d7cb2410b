package mission

import (
	"sync"

	"github.com/arachnid-agents/mission-control/pkg/models"
)

// Status is the client-displayed status of a mission.
type Status string

const (
	StatusNotStarted Status = "NOT STARTED"
	StatusInProgress Status = "IN PROGRESS"
	StatusReady      Status = "READY"
	StatusSending    Status = "SENDING"
	StatusLocked     Status = "LOCKED"
	StatusError      Status = "ERROR"
)

// Stage is the cosmetic submit stage shown while a mission is SENDING.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageEncrypting Stage = "encrypting"
	StageUploading  Stage = "uploading"
	StageSent       Stage = "sent"
)

// TransmissionFailed is shown when the server rejects or never answers a submission.
const TransmissionFailed = "Transmission failed"

// Derive computes the status of an editable mission from its input.
func Derive(active, ready bool) Status {
	if !active {
		return StatusNotStarted
	}
	if ready {
		return StatusReady
	}
	return StatusInProgress
}

var rankLabels = [...]string{"Candidate", "Qualified", "Operator", "Tier One"}

// Rank maps the number of locked missions to the agent-wide rank.
// Only the count matters, not which missions are locked.
func Rank(lockedCount int) string {
	if lockedCount < 0 {
		lockedCount = 0
	}
	if lockedCount >= len(rankLabels) {
		lockedCount = len(rankLabels) - 1
	}
	return rankLabels[lockedCount]
}

// MissionView is a snapshot of one mission inside a Tracker.
type MissionView struct {
	Status  Status
	Stage   Stage
	Error   string
	Touched bool
	Editing bool
	Draft   models.MissionData
}

type missionState struct {
	status  Status
	stage   Stage
	err     string
	touched bool
	editing bool
	draft   models.MissionData
}

// Tracker holds the client-side state machine for one agent: per-mission
// status, submit stage, inline error and draft input, reconciled against the
// canonical progress returned by the server. It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	rules    *RuleTable
	stored   models.MissionMap
	missions map[models.MissionID]*missionState
}

// NewTracker returns a tracker with every mission NOT STARTED.
func NewTracker(rules *RuleTable) *Tracker {
	if rules == nil {
		rules = Default()
	}
	t := &Tracker{
		rules:    rules,
		stored:   models.NewMissionMap(),
		missions: make(map[models.MissionID]*missionState, len(models.MissionIDs)),
	}
	for _, id := range models.MissionIDs {
		t.missions[id] = &missionState{status: StatusNotStarted, stage: StageIdle}
	}
	return t
}

// View returns the current state of mission id.
func (t *Tracker) View(id models.MissionID) MissionView {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.missions[id]
	if !ok {
		return MissionView{}
	}
	return MissionView{
		Status:  st.status,
		Stage:   st.stage,
		Error:   st.err,
		Touched: st.touched,
		Editing: st.editing,
		Draft:   st.draft,
	}
}

// Statuses returns the displayed status of every mission.
func (t *Tracker) Statuses() map[models.MissionID]Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[models.MissionID]Status, len(t.missions))
	for id, st := range t.missions {
		out[id] = st.status
	}
	return out
}

// Rank is the agent-wide rank derived from the missions the server holds
// LOCKED. An edit session on a locked mission does not lower it.
func (t *Tracker) Rank() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Rank(t.stored.LockedCount())
}

// Edit replaces the draft of mission id. Editing clears an ERROR.
func (t *Tracker) Edit(id models.MissionID, draft models.MissionData) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.missions[id]
	if !ok {
		return
	}
	st.draft = draft
	st.touched = true
	st.err = ""
	t.recompute(id, st)
}

// BeginEdit is the "Edit" affordance on a LOCKED mission. The stored status
// stays LOCKED on the server until a new submission overwrites it.
func (t *Tracker) BeginEdit(id models.MissionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.missions[id]
	if !ok {
		return
	}
	st.status = StatusInProgress
	st.stage = StageIdle
	st.err = ""
	st.touched = true
	st.editing = true
}

// BeginSubmit validates the draft locally. On success the mission moves to
// SENDING/encrypting and the normalized draft to send is returned. A mission
// already SENDING is not submitted twice.
func (t *Tracker) BeginSubmit(id models.MissionID) (models.MissionData, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.missions[id]
	if !ok {
		return models.MissionData{}, &RuleError{Kind: KindInput, Mission: id, Message: "Unknown mission"}
	}
	if st.status == StatusSending {
		return models.MissionData{}, ErrAlreadySending
	}
	data := Normalize(id, st.draft)
	if err := t.rules.Validate(id, data, t.stored); err != nil {
		st.status = StatusError
		st.stage = StageIdle
		if re, ok := err.(*RuleError); ok {
			st.err = re.Message
		} else {
			st.err = err.Error()
		}
		return models.MissionData{}, err
	}
	st.status = StatusSending
	st.stage = StageEncrypting
	st.err = ""
	return data, nil
}

// AdvanceStage moves a SENDING mission from encrypting to uploading.
func (t *Tracker) AdvanceStage(id models.MissionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.missions[id]
	if !ok || st.status != StatusSending {
		return
	}
	if st.stage == StageEncrypting {
		st.stage = StageUploading
	}
}

// Resolve completes a submission. A nil err with canonical missions locks
// the mission and reconciles every other mission; any error moves it to
// ERROR with a generic transmission message.
func (t *Tracker) Resolve(id models.MissionID, missions models.MissionMap, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.missions[id]
	if !ok {
		return
	}
	if err != nil {
		st.status = StatusError
		st.stage = StageIdle
		st.err = TransmissionFailed
		return
	}
	st.status = StatusLocked
	st.stage = StageSent
	st.editing = false
	if missions == nil {
		missions = t.stored.Clone()
		data := Normalize(id, st.draft)
		missions[id] = models.MissionProgress{Status: models.MissionLocked, Data: &data}
	}
	t.reconcile(missions)
}

// Reconcile applies canonical progress from the server. A mission the
// server reports LOCKED is shown LOCKED unless the participant is in an
// edit session for it; a mission the server reports NOT_STARTED is no
// longer shown LOCKED. Stored drafts fill untouched empty inputs.
func (t *Tracker) Reconcile(missions models.MissionMap) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconcile(missions)
}

func (t *Tracker) reconcile(missions models.MissionMap) {
	t.stored = missions.Clone()
	for _, id := range models.MissionIDs {
		if _, ok := t.stored[id]; !ok {
			t.stored[id] = models.MissionProgress{Status: models.MissionNotStarted}
		}
	}
	for _, id := range models.MissionIDs {
		st := t.missions[id]
		p := t.stored[id]
		if !st.touched && p.Data != nil && isZero(st.draft) {
			st.draft = *p.Data
		}
		switch {
		case p.Locked() && st.status != StatusLocked && !st.editing && st.status != StatusSending:
			st.status = StatusLocked
			st.stage = StageSent
			st.err = ""
		case p.Status == models.MissionNotStarted && st.status == StatusLocked:
			st.status = StatusNotStarted
			st.stage = StageIdle
		}
	}
	// Predecessor locks change readiness of later missions.
	for _, id := range models.MissionIDs {
		t.recompute(id, t.missions[id])
	}
}

// recompute re-derives the status of an editable mission. LOCKED and
// SENDING are left alone; ERROR persists until the participant edits.
func (t *Tracker) recompute(id models.MissionID, st *missionState) {
	if st.status == StatusLocked || st.status == StatusSending {
		return
	}
	if st.status == StatusError && st.err != "" {
		return
	}
	data := Normalize(id, st.draft)
	st.status = Derive(t.rules.Active(id, data), t.rules.Ready(id, data, t.stored))
	if st.stage == StageSent {
		st.stage = StageIdle
	}
}

func isZero(d models.MissionData) bool {
	return d == models.MissionData{}
}
