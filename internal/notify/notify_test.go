package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arachnid-agents/mission-control/internal/config"
	"github.com/arachnid-agents/mission-control/internal/notify"
	"github.com/arachnid-agents/mission-control/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validToken = "0123456789abcdef"

type recordingMailer struct {
	sent []notify.Message
	err  error
}

func (m *recordingMailer) Kind() string { return "recording" }

func (m *recordingMailer) Send(_ context.Context, msg notify.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func newService(m notify.Mailer) *notify.Service {
	svc := notify.NewService(m, config.MailConfig{
		From:           "feedback@example.com",
		To:             "team@example.com",
		MinTokenLength: 16,
	}, nil)
	svc.SetClock(func() time.Time { return time.Date(2026, 3, 7, 16, 5, 9, 0, time.UTC) })
	return svc
}

func TestSend_ComposesMessage(t *testing.T) {
	m := &recordingMailer{}
	svc := newService(m)

	err := svc.Send(context.Background(), validToken, models.LegacyFeedbackRequest{
		Message: "  The disc glides beautifully.  ",
		First:   "Ada",
		Last:    "Lovelace",
	})
	require.NoError(t, err)
	require.Len(t, m.sent, 1)

	msg := m.sent[0]
	assert.Equal(t, "feedback@example.com", msg.From)
	assert.Equal(t, "team@example.com", msg.To)
	assert.Equal(t, "Arachnid Pre-Release Feedback: Ada Lovelace", msg.Subject)
	assert.Equal(t, strings.Join([]string{
		"Name: Ada Lovelace",
		"",
		"Message:",
		"The disc glides beautifully.",
		"",
		"User Agent: unknown",
		"Timestamp: 2026-03-07T16:05:09.000Z",
	}, "\n"), msg.Body)
}

func TestSend_Validation(t *testing.T) {
	tests := []struct {
		name  string
		token string
		req   models.LegacyFeedbackRequest
		want  string
	}{
		{"short token", "short", models.LegacyFeedbackRequest{Message: "long enough message"}, "Invalid token"},
		{"honeypot", validToken, models.LegacyFeedbackRequest{Message: "long enough message", Company: "Acme"}, "Invalid submission"},
		{"short message", validToken, models.LegacyFeedbackRequest{Message: "  too short  "}, "Message must be 10-2000 characters"},
		{"long message", validToken, models.LegacyFeedbackRequest{Message: strings.Repeat("x", 2001)}, "Message must be 10-2000 characters"},
		{"line break in first name", validToken, models.LegacyFeedbackRequest{Message: "long enough message", First: "Ada\r\nBcc: all@example.com"}, "Invalid submission"},
		{"line break in last name", validToken, models.LegacyFeedbackRequest{Message: "long enough message", First: "Ada", Last: "Lovelace\nX-Spam: no"}, "Invalid submission"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &recordingMailer{}
			err := newService(m).Send(context.Background(), tt.token, tt.req)
			var ve *notify.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.want, ve.Message)
			assert.Empty(t, m.sent)
		})
	}
}

func TestSend_FlattensBodyFields(t *testing.T) {
	m := &recordingMailer{}
	err := newService(m).Send(context.Background(), validToken, models.LegacyFeedbackRequest{
		Message:      "long enough message",
		UserAgent:    "curl\r\nBcc: all@example.com",
		TimestampISO: "2026-03-07\nX-Injected: 1",
	})
	require.NoError(t, err)
	require.Len(t, m.sent, 1)
	assert.Contains(t, m.sent[0].Body, "User Agent: curl Bcc: all@example.com\n")
	assert.Contains(t, m.sent[0].Body, "Timestamp: 2026-03-07 X-Injected: 1")
}

func TestMessageRaw_HeadersStayOnOneLine(t *testing.T) {
	raw := notify.Message{
		From:    "feedback@example.com",
		To:      "team@example.com\r\nCc: all@example.com",
		Subject: "hello\r\nBcc: all@example.com",
		Body:    "body",
	}.Raw()

	header, body, ok := strings.Cut(raw, "\r\n\r\n")
	require.True(t, ok)
	assert.Equal(t, "body", body)
	lines := strings.Split(header, "\r\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "To: team@example.com Cc: all@example.com", lines[1])
	assert.Equal(t, "Subject: hello Bcc: all@example.com", lines[2])
}

func TestMessageRaw_EncodesNonASCIISubject(t *testing.T) {
	raw := notify.Message{Subject: "Arachnid Pre-Release Feedback: Zoë Ångström"}.Raw()

	var subject string
	for _, line := range strings.Split(raw, "\r\n") {
		if v, ok := strings.CutPrefix(line, "Subject: "); ok {
			subject = v
		}
	}
	assert.True(t, strings.HasPrefix(subject, "=?utf-8?q?"), subject)
	decoded, err := new(mime.WordDecoder).DecodeHeader(subject)
	require.NoError(t, err)
	assert.Equal(t, "Arachnid Pre-Release Feedback: Zoë Ångström", decoded)
}

func TestSend_DeliveryFailure(t *testing.T) {
	svc := newService(&recordingMailer{err: errors.New("relay down")})
	err := svc.Send(context.Background(), validToken, models.LegacyFeedbackRequest{Message: "long enough message"})
	assert.ErrorIs(t, err, notify.ErrSendFailed)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", notify.DisplayName("Ada", "Lovelace"))
	assert.Equal(t, "Ada", notify.DisplayName("Ada", ""))
	assert.Equal(t, "tester", notify.DisplayName("", "Lovelace"))
	assert.Equal(t, "tester", notify.DisplayName(" ", " "))
}

func TestWebhookMailer_SignsBody(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Arachnid-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := notify.NewWebhookMailer(srv.URL, "s3cret")
	require.NoError(t, m.Send(context.Background(), notify.Message{Subject: "hi", Body: "there"}))

	assert.Equal(t, "sha256="+notify.Sign("s3cret", gotBody), gotSig)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "hi", payload["subject"])
}

func TestWebhookMailer_NonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := notify.NewWebhookMailer(srv.URL, "").Send(context.Background(), notify.Message{})
	assert.ErrorContains(t, err, "webhook HTTP 502")
}

func TestNewMailer(t *testing.T) {
	m, err := notify.NewMailer(config.MailConfig{Driver: "log"})
	require.NoError(t, err)
	assert.Equal(t, "log", m.Kind())

	_, err = notify.NewMailer(config.MailConfig{Driver: "smtp"})
	assert.Error(t, err)

	m, err = notify.NewMailer(config.MailConfig{Driver: "smtp", SMTPAddr: "localhost:25"})
	require.NoError(t, err)
	assert.Equal(t, "smtp", m.Kind())

	_, err = notify.NewMailer(config.MailConfig{Driver: "pigeon"})
	assert.ErrorContains(t, err, "unknown mail driver")
}
