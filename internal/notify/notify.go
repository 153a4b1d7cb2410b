// Package notify delivers legacy feedback messages by email.
//
// The legacy endpoint predates the mission flow: a participant types a free
// text message which is validated here and handed to a Mailer. Drivers:
//   - log:     writes the message to the structured log (development default)
//   - smtp:    sends through an SMTP relay
//   - webhook: POSTs the message as JSON with optional HMAC-SHA256 signing
package notify

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/arachnid-agents/mission-control/internal/config"
	"github.com/arachnid-agents/mission-control/internal/telemetry"
	"github.com/arachnid-agents/mission-control/pkg/models"
	"github.com/rs/zerolog/log"
)

// Message bounds, in characters, after trimming.
const (
	MinMessageLength = 10
	MaxMessageLength = 2000
)

// DefaultMinTokenLength is used when the configured minimum is not positive.
const DefaultMinTokenLength = 16

// ErrSendFailed wraps any delivery failure.
var ErrSendFailed = errors.New("failed to send email")

// ValidationError is a rejected legacy submission. Message is safe to show.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Message is a plain-text email.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Raw renders the message with RFC 822 headers. Header values are folded
// onto one line and the subject is RFC 2047 encoded when it is not ASCII.
func (m Message) Raw() string {
	return strings.Join([]string{
		"From: " + singleLine(m.From),
		"To: " + singleLine(m.To),
		"Subject: " + mime.QEncoding.Encode("utf-8", singleLine(m.Subject)),
		`Content-Type: text/plain; charset="UTF-8"`,
		"",
		m.Body,
	}, "\r\n")
}

// Mailer delivers a Message.
type Mailer interface {
	Kind() string
	Send(ctx context.Context, msg Message) error
}

// NewMailer builds the mailer selected by cfg.Driver.
func NewMailer(cfg config.MailConfig) (Mailer, error) {
	switch cfg.Driver {
	case "", "log":
		return LogMailer{}, nil
	case "smtp":
		if cfg.SMTPAddr == "" {
			return nil, fmt.Errorf("smtp mail driver requires MAIL_SMTP_ADDR")
		}
		return &SMTPMailer{Addr: cfg.SMTPAddr, Username: cfg.SMTPUsername, Password: cfg.SMTPPassword}, nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("webhook mail driver requires MAIL_WEBHOOK_URL")
		}
		return NewWebhookMailer(cfg.WebhookURL, cfg.WebhookSecret), nil
	default:
		return nil, fmt.Errorf("unknown mail driver %q", cfg.Driver)
	}
}

// Service validates legacy feedback and sends it through a Mailer.
type Service struct {
	mailer   Mailer
	metrics  *telemetry.Metrics
	from     string
	to       string
	minToken int
	now      func() time.Time
}

// NewService creates a legacy feedback service.
func NewService(m Mailer, cfg config.MailConfig, metrics *telemetry.Metrics) *Service {
	minToken := cfg.MinTokenLength
	if minToken <= 0 {
		minToken = DefaultMinTokenLength
	}
	return &Service{
		mailer:   m,
		metrics:  metrics,
		from:     cfg.From,
		to:       cfg.To,
		minToken: minToken,
		now:      time.Now,
	}
}

// SetClock overrides the clock used for missing timestamps.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Send validates req and delivers it. token is the X-Feedback-Token header.
// Validation failures are *ValidationError; delivery failures wrap ErrSendFailed.
func (s *Service) Send(ctx context.Context, token string, req models.LegacyFeedbackRequest) error {
	msg, err := s.Compose(token, req)
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.metrics.MailSent(ctx, false)
		log.Error().Err(err).Str("driver", s.mailer.Kind()).Msg("Legacy feedback delivery failed")
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	s.metrics.MailSent(ctx, true)
	log.Info().Str("driver", s.mailer.Kind()).Str("subject", msg.Subject).Msg("📨 Legacy feedback sent")
	return nil
}

// CheckToken rejects a feedback token shorter than the configured minimum.
func (s *Service) CheckToken(token string) error {
	if len(token) < s.minToken {
		return &ValidationError{Message: "Invalid token"}
	}
	return nil
}

// Compose validates req and builds the outgoing message without sending it.
func (s *Service) Compose(token string, req models.LegacyFeedbackRequest) (Message, error) {
	if err := s.CheckToken(token); err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(req.Company) != "" {
		return Message{}, &ValidationError{Message: "Invalid submission"}
	}
	if hasLineBreak(req.First) || hasLineBreak(req.Last) {
		return Message{}, &ValidationError{Message: "Invalid submission"}
	}
	text := strings.TrimSpace(req.Message)
	if n := utf8.RuneCountInString(text); n < MinMessageLength || n > MaxMessageLength {
		return Message{}, &ValidationError{Message: fmt.Sprintf("Message must be %d-%d characters", MinMessageLength, MaxMessageLength)}
	}

	name := DisplayName(req.First, req.Last)
	userAgent := singleLine(req.UserAgent)
	if strings.TrimSpace(userAgent) == "" {
		userAgent = "unknown"
	}
	ts := singleLine(req.TimestampISO)
	if strings.TrimSpace(ts) == "" {
		ts = s.now().UTC().Format("2006-01-02T15:04:05.000Z")
	}

	body := strings.Join([]string{
		"Name: " + name,
		"",
		"Message:",
		text,
		"",
		"User Agent: " + userAgent,
		"Timestamp: " + ts,
	}, "\n")

	return Message{
		From:    s.from,
		To:      s.to,
		Subject: "Arachnid Pre-Release Feedback: " + name,
		Body:    body,
	}, nil
}

// DisplayName is "first last" when both are set, else first, else "tester".
func DisplayName(first, last string) string {
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	default:
		return "tester"
	}
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

func singleLine(v string) string { return lineBreaks.Replace(v) }

func hasLineBreak(v string) bool { return strings.ContainsAny(v, "\r\n") }
