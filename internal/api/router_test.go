package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/arachnid-agents/mission-control/internal/api"
	"github.com/arachnid-agents/mission-control/internal/api/handlers"
	"github.com/arachnid-agents/mission-control/internal/badge"
	"github.com/arachnid-agents/mission-control/internal/config"
	"github.com/arachnid-agents/mission-control/internal/notify"
	"github.com/arachnid-agents/mission-control/internal/progress"
	"github.com/arachnid-agents/mission-control/internal/store"
	"github.com/arachnid-agents/mission-control/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminToken    = "admin-secret"
	feedbackToken = "0123456789abcdef"
)

var feel25 = strings.TrimSpace(strings.Repeat("word ", 25))

type outbox struct {
	sent []notify.Message
	err  error
}

func (o *outbox) Kind() string { return "outbox" }

func (o *outbox) Send(_ context.Context, msg notify.Message) error {
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, msg)
	return nil
}

// brokenStore fails every write.
type brokenStore struct {
	store.Store
}

func (brokenStore) Put(context.Context, string, *models.AgentProgressRecord) error {
	return errors.New("disk on fire")
}

type fixture struct {
	router http.Handler
	store  store.Store
	mail   *outbox
}

func newFixture(t *testing.T, mutate ...func(*config.Config, *store.Store)) *fixture {
	t.Helper()
	cfg := &config.Config{
		Version: "test",
		Admin:   config.AdminConfig{Token: adminToken},
		CORS:    config.CORSConfig{AllowedOrigins: []string{"*"}},
	}
	mem := store.NewMemoryStore("")
	t.Cleanup(func() { mem.Close() })

	var st store.Store = mem
	for _, m := range mutate {
		m(cfg, &st)
	}

	mail := &outbox{}
	legacy := notify.NewService(mail, config.MailConfig{From: "f@x", To: "t@x", MinTokenLength: 16}, nil)
	h := handlers.New(progress.NewService(st, nil, nil), badge.NewCompositor(badge.Options{}), legacy, st, nil, cfg.Version)
	return &fixture{router: api.NewRouter(cfg, h), store: st, mail: mail}
}

func (f *fixture) do(t *testing.T, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func submission(token, missionID string, payload any) map[string]any {
	return map[string]any{
		"token":       token,
		"first":       "Ada",
		"last":        "Lovelace",
		"missionMeta": map[string]string{"missionId": missionID},
		"mission":     payload,
		"honeypot":    "",
	}
}

func missionStatus(t *testing.T, body map[string]any, id string) string {
	t.Helper()
	prog := body["progress"].(map[string]any)
	return prog["missions"].(map[string]any)[id].(map[string]any)["status"].(string)
}

func TestStatus_MissingToken(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, map[string]any{"ok": false, "error": "Missing token"}, decode(t, w))
}

func TestStatus_CreatesAndCountsVisits(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/status?token=agent7&first=Ada&handle=@Spidey", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	prog := body["progress"].(map[string]any)
	assert.Equal(t, "agent7", prog["token"])
	assert.Equal(t, "@Spidey", prog["codename"])
	assert.Equal(t, "Viewed page", prog["updateAction"])
	for _, id := range []string{"m1", "m2", "m3"} {
		assert.Equal(t, "NOT_STARTED", missionStatus(t, body, id))
	}

	f.do(t, http.MethodGet, "/api/status?token=agent7", nil)
	rec, err := f.store.Get(context.Background(), "agent7")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.VisitCount)
	assert.Equal(t, models.NewMissionMap(), rec.Missions)
}

func TestFeedback_RoundTrip(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/feedback", submission("agent7", "m1", map[string]any{"feel": feel25}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "LOCKED", missionStatus(t, body, "m1"))
	assert.Contains(t, body["progress"], "updatedAt")
	assert.Contains(t, body["progress"], "lastSeenAt")

	w = f.do(t, http.MethodGet, "/api/status?token=agent7", nil)
	body = decode(t, w)
	m1 := body["progress"].(map[string]any)["missions"].(map[string]any)["m1"].(map[string]any)
	assert.Equal(t, "LOCKED", m1["status"])
	assert.Equal(t, feel25, m1["data"].(map[string]any)["feel"])
}

func TestFeedback_SequentialGate(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/status?token=agent7", nil)
	before, err := f.store.Get(context.Background(), "agent7")
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/feedback", submission("agent7", "m2", map[string]any{
		"flight":             "Flew straight and true",
		"videoUrl":           "https://video.example/flight",
		"shirtSize":          "L",
		"confirmDistance200": true,
		"confirmRights":      true,
	}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Complete Mission 1 before submitting Mission 2.", decode(t, w)["error"])

	after, err := f.store.Get(context.Background(), "agent7")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFeedback_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body any
		want string
	}{
		{"invalid json", `{"token":`, "Invalid JSON payload"},
		{"missing token", submission("", "m1", map[string]any{"feel": feel25}), "Missing token"},
		{"unknown mission", submission("agent7", "m9", map[string]any{}), "Unknown mission"},
		{"short notes", submission("agent7", "m1", map[string]any{"feel": "too short"}),
			"Mission 1 notes must be at least 25 words (max 2000 characters)."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w := f.do(t, http.MethodPost, "/api/feedback", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.want, decode(t, w)["error"])

			rec, err := f.store.Get(context.Background(), "agent7")
			require.NoError(t, err)
			assert.Nil(t, rec)
		})
	}
}

func TestFeedback_Honeypot(t *testing.T) {
	f := newFixture(t)
	body := submission("agent7", "m1", map[string]any{"feel": feel25})
	body["honeypot"] = "Acme Corp"
	w := f.do(t, http.MethodPost, "/api/feedback", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, decode(t, w)["ok"])
}

func TestFeedback_StoreFailureIs500(t *testing.T) {
	f := newFixture(t, func(_ *config.Config, s *store.Store) { *s = brokenStore{Store: *s} })
	w := f.do(t, http.MethodPost, "/api/feedback", submission("agent7", "m1", map[string]any{"feel": feel25}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to save progress", decode(t, w)["error"])
}

func TestIntroEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/intro-viewed", map[string]string{"token": "agent7"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["introViewed"])
	assert.Equal(t, false, body["introAccepted"])
	assert.NotNil(t, body["introViewedAt"])

	w = f.do(t, http.MethodPost, "/api/intro-accept", map[string]string{"token": "agent7"})
	body = decode(t, w)
	assert.Equal(t, true, body["introAccepted"])
	assert.NotNil(t, body["introAcceptedAt"])

	w = f.do(t, http.MethodPost, "/api/intro-reset", map[string]string{"token": "agent7"})
	body = decode(t, w)
	assert.Equal(t, false, body["introViewed"])
	assert.Equal(t, false, body["introAccepted"])
	assert.Nil(t, body["introViewedAt"])

	w = f.do(t, http.MethodPost, "/api/intro-accept", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminAgents(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/status?token=agent7", nil)

	w := f.do(t, http.MethodGet, "/api/admin/agents", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, w.Body.String(), "agent7")

	w = f.do(t, http.MethodGet, "/api/admin/agents", nil, "X-Admin-Token", "nope")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/admin/agents", nil, "X-Admin-Token", adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	agents := decode(t, w)["agents"].([]any)
	require.Len(t, agents, 1)
	assert.Equal(t, "agent7", agents[0].(map[string]any)["token"])
}

func TestAdminAgents_Unconfigured(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, _ *store.Store) { cfg.Admin.Token = "" })
	w := f.do(t, http.MethodGet, "/api/admin/agents", nil, "X-Admin-Token", "anything")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, map[string]any{"ok": false, "error": "Not found"}, decode(t, w))

	w = f.do(t, http.MethodGet, "/api/feedback", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, map[string]any{"ok": false, "error": "Method not allowed"}, decode(t, w))
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodOptions, "/api/legacy/feedback", nil,
		"Origin", "https://arachnid.example",
		"Access-Control-Request-Method", http.MethodPost,
		"Access-Control-Request-Headers", "Content-Type, X-Feedback-Token",
	)
	assert.Contains(t, []int{http.StatusOK, http.StatusNoContent}, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToLower(w.Header().Get("Access-Control-Allow-Headers")), "x-feedback-token")
}

func TestBadge(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/badge?token=agent7&mission=1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/badge?token=agent7&mission=7", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/feedback", submission("agent7", "m1", map[string]any{"feel": feel25}))
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/badge?token=agent7&mission=1&handle=@spidey", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "arachnid_mission-complete_spidey_")
	assert.NotEmpty(t, w.Header().Get("X-Badge-Id"))
	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, badge.Width, img.Bounds().Dx())

	// The default timestamp is the submission time, so the vector layer repeats.
	a := f.do(t, http.MethodGet, "/api/badge?token=agent7&mission=m1&format=svg", nil)
	b := f.do(t, http.MethodGet, "/api/badge?token=agent7&mission=m1&format=svg", nil)
	require.Equal(t, http.StatusOK, a.Code)
	assert.Equal(t, a.Body.String(), b.Body.String())
	assert.Contains(t, a.Body.String(), "MISSION 1 COMPLETE")
	assert.Contains(t, a.Body.String(), "RANK: QUALIFIED")
}

func TestLegacyFeedback(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/legacy/feedback", `not json`, "X-Feedback-Token", "short")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid token", decode(t, w)["error"])

	w = f.do(t, http.MethodPost, "/api/legacy/feedback", `not json`, "X-Feedback-Token", feedbackToken)
	assert.Equal(t, "Invalid JSON payload", decode(t, w)["error"])

	w = f.do(t, http.MethodPost, "/api/legacy/feedback",
		map[string]string{"message": "The grip feels great.", "first": "Ada"},
		"X-Feedback-Token", feedbackToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, "Arachnid Pre-Release Feedback: Ada", f.mail.sent[0].Subject)

	f.mail.err = errors.New("relay down")
	w = f.do(t, http.MethodPost, "/api/legacy/feedback",
		map[string]string{"message": "The grip feels great."},
		"X-Feedback-Token", feedbackToken)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to send email", decode(t, w)["error"])
}

func TestMissionRulesAndHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/missions/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["missions"], 3)

	w = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = f.do(t, http.MethodGet, "/version", nil)
	assert.Equal(t, "test", decode(t, w)["version"])
}
