// Package client is a Go client for the mission control API. A Client
// speaks for one agent and keeps a mission.Tracker in step with what the
// server reports, so callers can render mission status without polling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arachnid-agents/mission-control/internal/mission"
	"github.com/arachnid-agents/mission-control/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMinLatency is the shortest time a submission stays SENDING.
	DefaultMinLatency = 900 * time.Millisecond
	// DefaultStageAfter is when a SENDING mission moves from encrypting to uploading.
	DefaultStageAfter = 450 * time.Millisecond

	userAgent = "Arachnid-Client/1.0"
)

// ErrClosed is returned for results that arrive after Close. The tracker
// is left untouched.
var ErrClosed = errors.New("client closed")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mission control HTTP %d", e.Status)
	}
	return e.Message
}

// Identity is what the client reports about its agent on every call.
type Identity struct {
	Token  string
	First  string
	Last   string
	Handle string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTiming overrides the minimum submit latency and the stage switch delay.
func WithTiming(minLatency, stageAfter time.Duration) Option {
	return func(c *Client) {
		c.minLatency = minLatency
		c.stageAfter = stageAfter
	}
}

// WithRules validates drafts against a custom rule table.
func WithRules(rules *mission.RuleTable) Option {
	return func(c *Client) { c.rules = rules }
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	id      Identity
	rules   *mission.RuleTable
	tracker *mission.Tracker

	minLatency time.Duration
	stageAfter time.Duration

	closed atomic.Bool
	mu     sync.Mutex
	timers map[*time.Timer]struct{}
}

// New creates a client for the server at baseURL.
func New(baseURL string, id Identity, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 30 * time.Second},
		id:         id,
		minLatency: DefaultMinLatency,
		stageAfter: DefaultStageAfter,
		timers:     make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tracker = mission.NewTracker(c.rules)
	return c
}

// Tracker exposes the client-side mission state.
func (c *Client) Tracker() *mission.Tracker { return c.tracker }

// Close stops delivering results to the tracker. Requests already in flight
// run to completion but their results are dropped.
func (c *Client) Close() {
	c.closed.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	for t := range c.timers {
		t.Stop()
	}
	clear(c.timers)
}

// Status touches the agent record and reconciles the tracker with it.
func (c *Client) Status(ctx context.Context) (*models.StatusProgress, error) {
	q := url.Values{}
	q.Set("token", c.id.Token)
	setIf(q, "first", c.id.First)
	setIf(q, "last", c.id.Last)
	setIf(q, "handle", c.id.Handle)

	var out struct {
		Progress models.StatusProgress `json:"progress"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/status?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.tracker.Reconcile(out.Progress.Missions)
	return &out.Progress, nil
}

// Submit sends the tracker's draft for mission id. Local validation failures
// return without a request. Otherwise the mission is SENDING for at least
// the configured minimum latency, then LOCKED or ERROR.
func (c *Client) Submit(ctx context.Context, id models.MissionID) error {
	start := time.Now()
	data, err := c.tracker.BeginSubmit(id)
	if err != nil {
		return err
	}
	stage := c.afterFunc(c.stageAfter, func() { c.tracker.AdvanceStage(id) })

	missions, err := c.submit(ctx, id, data)

	if wait := c.minLatency - time.Since(start); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
	c.forget(stage)

	if c.closed.Load() {
		log.Debug().Str("mission", string(id)).Msg("Dropping submission result after close")
		return ErrClosed
	}
	c.tracker.Resolve(id, missions, err)
	return err
}

// SubmitAsync runs Submit in the background. The channel receives the
// result and is then closed.
func (c *Client) SubmitAsync(ctx context.Context, id models.MissionID) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- c.Submit(ctx, id)
	}()
	return done
}

func (c *Client) submit(ctx context.Context, id models.MissionID, data models.MissionData) (models.MissionMap, error) {
	payload, err := json.Marshal(MissionPayload(id, data))
	if err != nil {
		return nil, fmt.Errorf("encode mission payload: %w", err)
	}
	req := models.FeedbackRequest{
		Token:        c.id.Token,
		First:        c.id.First,
		Last:         c.id.Last,
		FullName:     strings.TrimSpace(c.id.First + " " + c.id.Last),
		Codename:     c.id.Handle,
		UserAgent:    userAgent,
		TimestampISO: time.Now().UTC().Format(time.RFC3339Nano),
		MissionMeta:  models.MissionMeta{MissionID: string(id)},
		Mission:      payload,
	}
	var out struct {
		Progress models.SubmissionProgress `json:"progress"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/feedback", req, &out); err != nil {
		return nil, err
	}
	return out.Progress.Missions, nil
}

// AcceptIntro records that the agent accepted the intro briefing.
func (c *Client) AcceptIntro(ctx context.Context) (*models.IntroState, error) {
	return c.intro(ctx, "/api/intro-accept")
}

// MarkIntroViewed records that the intro briefing was shown.
func (c *Client) MarkIntroViewed(ctx context.Context) (*models.IntroState, error) {
	return c.intro(ctx, "/api/intro-viewed")
}

// ResetIntro clears both intro flags.
func (c *Client) ResetIntro(ctx context.Context) (*models.IntroState, error) {
	return c.intro(ctx, "/api/intro-reset")
}

func (c *Client) intro(ctx context.Context, path string) (*models.IntroState, error) {
	var out models.IntroState
	if err := c.do(ctx, http.MethodPost, path, models.TokenRequest{Token: c.id.Token}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Badge is a rendered share card.
type Badge struct {
	ID          string
	Filename    string
	ContentType string
	Data        []byte
}

// Badge renders the share card for a locked mission. format is "png" or "svg".
func (c *Client) Badge(ctx context.Context, id models.MissionID, format string) (*Badge, error) {
	q := url.Values{}
	q.Set("token", c.id.Token)
	q.Set("mission", strconv.Itoa(id.Number()))
	setIf(q, "handle", c.id.Handle)
	setIf(q, "format", format)

	resp, err := c.send(ctx, http.MethodGet, "/api/badge?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read badge: %w", err)
	}
	b := &Badge{
		ID:          resp.Header.Get("X-Badge-Id"),
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		b.Filename = params["filename"]
	}
	return b, nil
}

// Agents lists every agent record. It needs the admin token.
func (c *Client) Agents(ctx context.Context, adminToken string) ([]models.AgentProgressRecord, error) {
	var out struct {
		Agents []models.AgentProgressRecord `json:"agents"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/admin/agents", nil, &out, "X-Admin-Token", adminToken); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, headers ...string) error {
	resp, err := c.send(ctx, method, path, body, headers...)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// send performs the request and turns a non-2xx response into an APIError.
// The caller closes the body of a successful response.
func (c *Client) send(ctx context.Context, method, path string, body any, headers ...string) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mission control request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		apiErr := &APIError{Status: resp.StatusCode}
		var env struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&env) == nil {
			apiErr.Message = env.Error
		}
		return nil, apiErr
	}
	return resp, nil
}

func (c *Client) afterFunc(d time.Duration, fn func()) *time.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := time.AfterFunc(d, func() {
		if c.closed.Load() {
			return
		}
		fn()
	})
	c.timers[t] = struct{}{}
	return t
}

func (c *Client) forget(t *time.Timer) {
	t.Stop()
	c.mu.Lock()
	delete(c.timers, t)
	c.mu.Unlock()
}

// MissionPayload projects data onto the fields mission id accepts.
func MissionPayload(id models.MissionID, d models.MissionData) map[string]any {
	switch id {
	case models.MissionOne:
		return map[string]any{"feel": d.Feel, "feelRating": d.FeelRating, "feelNote": d.FeelNote}
	case models.MissionTwo:
		return map[string]any{
			"flight":             d.Flight,
			"flightRating":       d.FlightRating,
			"flightNote":         d.FlightNote,
			"videoUrl":           d.VideoURL,
			"shirtSize":          d.ShirtSize,
			"confirmDistance200": d.ConfirmDistance200,
			"confirmRights":      d.ConfirmRights,
		}
	case models.MissionThree:
		return map[string]any{
			"aceUrl":             d.AceURL,
			"hoodieSize":         d.HoodieSize,
			"confirmDistance200": d.ConfirmDistance200,
			"confirmRights":      d.ConfirmRights,
		}
	}
	return map[string]any{}
}

func setIf(q url.Values, key, val string) {
	if v := strings.TrimSpace(val); v != "" {
		q.Set(key, v)
	}
}
