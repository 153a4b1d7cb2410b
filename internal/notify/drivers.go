package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"time"

	"github.com/rs/zerolog/log"
)

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct{}

func (LogMailer) Kind() string { return "log" }

func (LogMailer) Send(_ context.Context, msg Message) error {
	log.Info().
		Str("from", msg.From).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("body", msg.Body).
		Msg("Mail (log driver)")
	return nil
}

// SMTPMailer sends through an SMTP relay. PLAIN auth is used when a
// username is set.
type SMTPMailer struct {
	Addr     string
	Username string
	Password string

	// send is swapped in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (m *SMTPMailer) Kind() string { return "smtp" }

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if m.Username != "" {
		host, _, err := net.SplitHostPort(m.Addr)
		if err != nil {
			return fmt.Errorf("parse smtp addr: %w", err)
		}
		auth = smtp.PlainAuth("", m.Username, m.Password, host)
	}
	send := m.send
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(m.Addr, auth, msg.From, []string{msg.To}, []byte(msg.Raw())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// WebhookMailer POSTs messages as JSON to a URL. When a secret is set the
// body is signed with HMAC-SHA256 in X-Arachnid-Signature.
type WebhookMailer struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookMailer creates a webhook mailer.
func NewWebhookMailer(url, secret string) *WebhookMailer {
	return &WebhookMailer{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (d *WebhookMailer) Kind() string { return "webhook" }

type webhookPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Send posts the message once. There are no retries; the caller's context
// is the only deadline.
func (d *WebhookMailer) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(webhookPayload{From: msg.From, To: msg.To, Subject: msg.Subject, Body: msg.Body})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Arachnid-Mail/1.0")
	if d.secret != "" {
		req.Header.Set("X-Arachnid-Signature", "sha256="+Sign(d.secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, d.url)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
