package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
	ProviderID() string
}

// SMTPSender sends email via unauthenticated SMTP (Mailpit-compatible).
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host string, port string, from string) *SMTPSender {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@igabaycare.local"
	}
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%s", host, port),
		from: from,
	}
}

func (s *SMTPSender) ProviderID() string { return "smtp" }

// Send ignores ctx; net/smtp has no context support.
func (s *SMTPSender) Send(_ context.Context, msg Message) error {
	return smtp.SendMail(s.addr, nil, s.from, []string{msg.To}, []byte(buildMessage(s.from, msg)))
}

func buildMessage(from string, msg Message) string {
	// Minimal RFC 5322 message; enough for Mailpit and most SMTP relays.
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from,
		msg.To,
		msg.Subject,
		msg.Body,
	)
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Host overrides https://api.sendgrid.com, for tests.
	Host string
}

// SendGridSender sends through the SendGrid v3 mail API.
type SendGridSender struct {
	client *sendgrid.Client
	from   *mail.Email
}

func NewSendGridSender(cfg SendGridConfig) (*SendGridSender, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("email: sendgrid api key is required")
	}
	if cfg.FromName == "" {
		cfg.FromName = "IgabayCare"
	}
	req := sendgrid.GetRequest(cfg.APIKey, "/v3/mail/send", cfg.Host)
	req.Method = "POST"
	return &SendGridSender{
		client: &sendgrid.Client{Request: req},
		from:   mail.NewEmail(cfg.FromName, cfg.FromEmail),
	}, nil
}

func (s *SendGridSender) ProviderID() string { return "sendgrid" }

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	message := mail.NewSingleEmail(s.from, msg.Subject, mail.NewEmail("", msg.To), msg.Body, "")
	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("email: sendgrid send failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("email: sendgrid returned status %d", resp.StatusCode)
	}
	return nil
}

// LogSender only logs. It is the default outside production.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) ProviderID() string { return "log" }

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "email not sent (log provider)", "to", msg.To, "subject", msg.Subject)
	return nil
}
