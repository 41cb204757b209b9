// Package mail sends account emails through an HTTP mail relay.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/titovtima/songsServer/internal/store"
)

// Message is the payload accepted by the relay.
type Message struct {
	Recipients  []string `json:"recipients"`
	Subject     string   `json:"subject"`
	ContentType string   `json:"contentType"`
	Data        string   `json:"data"`
	Sender      string   `json:"sender"`
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// RelaySender posts messages as JSON to a relay endpoint.
type RelaySender struct {
	url    string
	sender string
	client *http.Client
}

// NewRelaySender builds a sender for the relay at url. Messages without a
// sender address get from.
func NewRelaySender(url, from string, client *http.Client) *RelaySender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RelaySender{url: url, sender: from, client: client}
}

// Send implements Sender.
func (s *RelaySender) Send(ctx context.Context, msg Message) error {
	if msg.Sender == "" {
		msg.Sender = s.sender
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("mail relay error: %s - %s", resp.Status, string(detail))
	}
	return nil
}

// NopSender logs messages instead of delivering them.
type NopSender struct {
	Logger zerolog.Logger
}

// Send implements Sender.
func (s NopSender) Send(_ context.Context, msg Message) error {
	s.Logger.Info().
		Strs("recipients", msg.Recipients).
		Str("subject", msg.Subject).
		Msg("mail relay not configured, message dropped")
	return nil
}

// PasswordRecovery builds the message carrying a password reset link.
func PasswordRecovery(email, username string, userID int64, token, host string) Message {
	site := html.EscapeString(host)
	link := fmt.Sprintf("https://%s/reset_password/%d/%s", site, userID, token)
	return Message{
		Recipients:  []string{email},
		Subject:     "Восстановление пароля",
		ContentType: "text/html",
		Data: fmt.Sprintf(
			`Здравствуйте, %s. <br/>Для изменения пароля на сайте <a href="https://%s">%s</a> перейдите по <a href="%s">ссылке</a>`,
			html.EscapeString(username), site, site, link),
	}
}

// Notifier composes account emails and hands them to a Sender.
type Notifier struct {
	sender Sender
	host   string
}

// NewNotifier returns a Notifier whose links point at host.
func NewNotifier(sender Sender, host string) *Notifier {
	return &Notifier{sender: sender, host: host}
}

// SendPasswordRecovery mails a reset link to the user. Users without an
// email address are skipped.
func (n *Notifier) SendPasswordRecovery(ctx context.Context, user store.User, token string) error {
	if user.Email == nil {
		return nil
	}
	return n.sender.Send(ctx, PasswordRecovery(*user.Email, user.Username, user.ID, token, n.host))
}
