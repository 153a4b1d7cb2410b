// Package progress is the server-authoritative side of the mission state
// machine: it touches agent records on every visit, gates and persists
// mission submissions, and applies the intro actions. Every mutation reads
// the whole record, changes its own fields and writes the whole record back.
package progress

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/arachnid-agents/mission-control/internal/mission"
	"github.com/arachnid-agents/mission-control/internal/store"
	"github.com/arachnid-agents/mission-control/internal/telemetry"
	"github.com/arachnid-agents/mission-control/pkg/models"
	"github.com/rs/zerolog/log"
)

var (
	// ErrTokenRequired is returned when a call carries no identity token.
	ErrTokenRequired = errors.New("token required")
	// ErrUnknownMission is returned for a mission id outside m1..m3.
	ErrUnknownMission = errors.New("unknown mission")
)

// Update action labels recorded on the record.
const (
	ActionViewedPage    = "Viewed page"
	ActionIntroViewed   = "Intro viewed"
	ActionIntroAccepted = "Intro accepted"
	ActionIntroReset    = "Intro reset"
)

// ActionMissionSent is the label recorded after mission n is locked.
func ActionMissionSent(id models.MissionID) string {
	return fmt.Sprintf("Mission %d sent", id.Number())
}

// Identity is what a caller tells us about the agent on each interaction.
type Identity struct {
	Token  string
	First  string
	Last   string
	Handle string
}

// NormalizeHandle trims h and strips any leading '@'.
func NormalizeHandle(h string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(h), "@"))
}

// Codename derives the display handle: @handle, else @token, else @first,
// else @tester.
func Codename(id Identity) string {
	if h := NormalizeHandle(id.Handle); h != "" {
		return "@" + h
	}
	if t := NormalizeHandle(id.Token); t != "" {
		return "@" + t
	}
	if f := strings.TrimSpace(id.First); f != "" {
		return "@" + f
	}
	return "@tester"
}

// Service applies progress mutations against a Store.
type Service struct {
	store   store.Store
	rules   *mission.RuleTable
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewService creates a progress service. A nil rules table uses the
// embedded default; metrics may be nil.
func NewService(s store.Store, rules *mission.RuleTable, metrics *telemetry.Metrics) *Service {
	if rules == nil {
		rules = mission.Default()
	}
	return &Service{
		store:   s,
		rules:   rules,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Rules returns the rule table submissions are validated against.
func (s *Service) Rules() *mission.RuleTable { return s.rules }

// Get returns the record for token, or nil if the agent has never been seen.
func (s *Service) Get(ctx context.Context, token string) (*models.AgentProgressRecord, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenRequired
	}
	rec, err := s.store.Get(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	return rec, nil
}

// Touch creates or refreshes the record for id.Token and counts a visit.
// Missions are never changed by a touch.
func (s *Service) Touch(ctx context.Context, id Identity) (*models.AgentProgressRecord, error) {
	id.Token = strings.TrimSpace(id.Token)
	if id.Token == "" {
		return nil, ErrTokenRequired
	}
	now := s.now()
	rec, err := s.load(ctx, id.Token, now)
	if err != nil {
		return nil, err
	}

	applyIdentity(rec, id)
	rec.VisitCount++
	stamp(rec, ActionViewedPage, now)

	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	s.metrics.Visit(ctx)
	return rec, nil
}

// Submit runs the server-side submission protocol. Checks run in order:
// token, honeypot, mission id, payload shape, mission rules against the
// stored record. Any failure returns before anything is written.
func (s *Service) Submit(ctx context.Context, req models.FeedbackRequest) (*models.AgentProgressRecord, error) {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return nil, ErrTokenRequired
	}
	missionLabel := strings.TrimSpace(req.MissionMeta.MissionID)

	rec, err := s.submit(ctx, token, req)
	if err != nil {
		var re *mission.RuleError
		switch {
		case errors.As(err, &re):
			s.metrics.SubmissionRejected(ctx, missionLabel, string(re.Kind))
		case errors.Is(err, ErrUnknownMission):
			s.metrics.SubmissionRejected(ctx, missionLabel, string(mission.KindInput))
		}
		return nil, err
	}
	s.metrics.SubmissionAccepted(ctx, missionLabel)
	return rec, nil
}

func (s *Service) submit(ctx context.Context, token string, req models.FeedbackRequest) (*models.AgentProgressRecord, error) {
	if err := mission.CheckHoneypot(req.Honeypot); err != nil {
		return nil, err
	}
	id, ok := models.ParseMissionID(req.MissionMeta.MissionID)
	if !ok {
		return nil, ErrUnknownMission
	}
	data, err := s.rules.DecodePayload(id, req.Mission)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec, err := s.load(ctx, token, now)
	if err != nil {
		return nil, err
	}
	if err := s.rules.Validate(id, data, rec.Missions); err != nil {
		return nil, err
	}

	submittedAt := now
	rec.Missions[id] = models.MissionProgress{
		Status:          models.MissionLocked,
		LastSubmittedAt: &submittedAt,
		Data:            &data,
	}
	rec.SubmissionCount++
	applyIdentity(rec, Identity{Token: token, First: req.First, Last: req.Last, Handle: req.Codename})
	stamp(rec, ActionMissionSent(id), now)

	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	log.Info().
		Str("token", token).
		Str("mission", string(id)).
		Int("locked", rec.Missions.LockedCount()).
		Msg("Mission locked")
	return rec, nil
}

// MarkIntroViewed records that the intro was shown. The timestamp is set once.
func (s *Service) MarkIntroViewed(ctx context.Context, token string) (*models.AgentProgressRecord, error) {
	return s.mutate(ctx, token, ActionIntroViewed, func(rec *models.AgentProgressRecord, now time.Time) {
		markViewed(rec, now)
	})
}

// AcceptIntro records acceptance. Acceptance implies the intro was viewed.
func (s *Service) AcceptIntro(ctx context.Context, token string) (*models.AgentProgressRecord, error) {
	return s.mutate(ctx, token, ActionIntroAccepted, func(rec *models.AgentProgressRecord, now time.Time) {
		markViewed(rec, now)
		if !rec.IntroAccepted || rec.IntroAcceptedAt == nil {
			at := now
			rec.IntroAccepted = true
			rec.IntroAcceptedAt = &at
		}
	})
}

// ResetIntro clears both intro flags and their timestamps. Missions are untouched.
func (s *Service) ResetIntro(ctx context.Context, token string) (*models.AgentProgressRecord, error) {
	return s.mutate(ctx, token, ActionIntroReset, func(rec *models.AgentProgressRecord, _ time.Time) {
		rec.IntroViewed = false
		rec.IntroViewedAt = nil
		rec.IntroAccepted = false
		rec.IntroAcceptedAt = nil
	})
}

// ListAgents returns every agent record, most recently seen first.
func (s *Service) ListAgents(ctx context.Context) ([]models.AgentProgressRecord, error) {
	recs, err := s.store.ListByPrefix(ctx, store.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].LastSeenAt.Equal(recs[j].LastSeenAt) {
			return recs[i].LastSeenAt.After(recs[j].LastSeenAt)
		}
		return recs[i].Token < recs[j].Token
	})
	return recs, nil
}

func (s *Service) mutate(ctx context.Context, token, action string, fn func(*models.AgentProgressRecord, time.Time)) (*models.AgentProgressRecord, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenRequired
	}
	now := s.now()
	rec, err := s.load(ctx, token, now)
	if err != nil {
		return nil, err
	}
	fn(rec, now)
	if rec.Codename == "" {
		rec.Codename = Codename(Identity{Token: token, First: rec.First})
	}
	stamp(rec, action, now)
	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// load returns the stored record or a fresh one for an unseen token.
func (s *Service) load(ctx context.Context, token string, now time.Time) (*models.AgentProgressRecord, error) {
	rec, err := s.store.Get(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	if rec == nil {
		return models.NewAgentProgressRecord(token, now), nil
	}
	rec.EnsureMissions()
	return rec, nil
}

func (s *Service) save(ctx context.Context, rec *models.AgentProgressRecord) error {
	if err := s.store.Put(ctx, rec.Token, rec); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

func applyIdentity(rec *models.AgentProgressRecord, id Identity) {
	if f := strings.TrimSpace(id.First); f != "" {
		rec.First = f
	}
	if l := strings.TrimSpace(id.Last); l != "" {
		rec.Last = l
	}
	rec.Codename = Codename(Identity{Token: rec.Token, First: rec.First, Handle: id.Handle})
}

func markViewed(rec *models.AgentProgressRecord, now time.Time) {
	if !rec.IntroViewed || rec.IntroViewedAt == nil {
		at := now
		rec.IntroViewed = true
		rec.IntroViewedAt = &at
	}
}

func stamp(rec *models.AgentProgressRecord, action string, now time.Time) {
	rec.UpdateAction = action
	rec.UpdatedAt = now
	rec.LastSeenAt = now
}
