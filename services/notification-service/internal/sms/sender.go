// Package sms delivers appointment texts to Philippine mobile numbers.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var ErrInvalidNumber = errors.New("sms: invalid mobile number")

// maxBody keeps a text within three concatenated GSM-7 segments.
const maxBody = 459

type Sender interface {
	Send(ctx context.Context, to string, body string) error
	ProviderID() string
}

type WebhookConfig struct {
	URL      string
	Token    string
	SenderID string
	Client   *http.Client
}

// WebhookSender posts {to, body, sender_id} JSON to an SMS aggregator webhook.
type WebhookSender struct {
	cfg WebhookConfig
}

func NewWebhookSender(cfg WebhookConfig) *WebhookSender {
	cfg.URL = strings.TrimSpace(cfg.URL)
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 5 * time.Second}
	}
	return &WebhookSender{cfg: cfg}
}

func (s *WebhookSender) ProviderID() string { return "sms-webhook" }

type webhookPayload struct {
	To       string `json:"to"`
	Body     string `json:"body"`
	SenderID string `json:"sender_id,omitempty"`
}

func (s *WebhookSender) Send(ctx context.Context, to string, body string) error {
	if s.cfg.URL == "" {
		return errors.New("sms: webhook url not configured")
	}
	number, err := NormalizeNumber(to)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(webhookPayload{To: number, Body: clip(body), SenderID: s.cfg.SenderID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: webhook request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NormalizeNumber converts local PH mobile formats (09XXXXXXXXX, 9XXXXXXXXX, 639XXXXXXXXX)
// to E.164. Numbers already in +E.164 form pass through.
func NormalizeNumber(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	plus := strings.HasPrefix(strings.TrimSpace(raw), "+")

	switch {
	case plus && len(digits) >= 8 && len(digits) <= 15:
		return "+" + digits, nil
	case len(digits) == 11 && strings.HasPrefix(digits, "09"):
		return "+63" + digits[1:], nil
	case len(digits) == 10 && strings.HasPrefix(digits, "9"):
		return "+63" + digits, nil
	case len(digits) == 12 && strings.HasPrefix(digits, "639"):
		return "+" + digits, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}
}

func clip(body string) string {
	r := []rune(body)
	if len(r) <= maxBody {
		return body
	}
	return string(r[:maxBody-1]) + "…"
}

// NoopSender drops messages. It is used when SMS_PROVIDER is unset.
type NoopSender struct{}

func NewNoopSender() *NoopSender { return &NoopSender{} }

func (NoopSender) ProviderID() string { return "sms-noop" }

func (NoopSender) Send(context.Context, string, string) error { return nil }
