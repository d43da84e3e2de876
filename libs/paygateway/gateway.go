// Package paygateway translates between the booking flow and hosted checkout-session
// payment processors. It holds no business rules.
package paygateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

var (
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrInvalidRequest     = errors.New("payment gateway rejected request")
	ErrSessionNotFound    = errors.New("checkout session not found")
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusUnpaid  Status = "unpaid"
	StatusExpired Status = "expired"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusExpired || s == StatusUnpaid
}

type Billing struct {
	Name  string
	Email string
	Phone string
}

type CreateParams struct {
	AmountMinor        int64
	Currency           string
	Description        string
	SuccessURL         string
	CancelURL          string
	Billing            Billing
	PaymentMethodTypes []string
	Metadata           map[string]string
	ReferenceID        string
	IdempotencyKey     string
}

type Session struct {
	ID            string
	CheckoutURL   string
	Status        Status
	AmountMinor   int64
	Currency      string
	Metadata      map[string]string
	PaymentMethod string
}

type Gateway interface {
	CreateSession(ctx context.Context, p CreateParams) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	Name() string
}

// Error carries provider detail while matching one of the sentinel errors via errors.Is.
type Error struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	Kind       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d", e.StatusCode)
		if e.Code != "" {
			msg += ", " + e.Code
		}
		msg += ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

// kindForStatus maps an HTTP status from the processor onto the error taxonomy.
// notFound is returned for 404 so callers can distinguish lookups from creates.
func kindForStatus(code int, notFound error) error {
	switch {
	case code == http.StatusNotFound:
		return notFound
	case code == http.StatusTooManyRequests || code >= 500:
		return ErrGatewayUnavailable
	case code >= 400:
		return ErrInvalidRequest
	default:
		return ErrGatewayUnavailable
	}
}

func validateCreate(provider string, p CreateParams) error {
	reject := func(msg string) error {
		return &Error{Provider: provider, Kind: ErrInvalidRequest, Message: msg}
	}
	if p.AmountMinor <= 0 {
		return reject("amount must be a positive number of minor units")
	}
	if len(strings.TrimSpace(p.Currency)) != 3 {
		return reject("currency must be an ISO 4217 code")
	}
	for _, u := range []string{p.SuccessURL, p.CancelURL} {
		parsed, err := url.Parse(u)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
			return reject(fmt.Sprintf("redirect url %q must be absolute", u))
		}
		if parsed.Scheme == "http" && !loopbackHost(parsed.Hostname()) {
			return reject(fmt.Sprintf("redirect url %q must use https", u))
		}
	}
	return nil
}

// loopbackHost reports whether plain http is acceptable for host.
func loopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type Config struct {
	Provider      string
	SecretKey     string
	BaseURL       string
	PublicBaseURL string
	HTTPClient    *http.Client
}

// New builds the gateway named by cfg.Provider: paymongo, stripe or fake.
func New(cfg Config) (Gateway, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "paymongo", "":
		if cfg.SecretKey == "" {
			return nil, errors.New("paygateway: PAYMONGO secret key is required")
		}
		g := NewPayMongo(cfg.SecretKey)
		if cfg.BaseURL != "" {
			g = g.WithBaseURL(cfg.BaseURL)
		}
		return g.WithHTTPClient(cfg.HTTPClient), nil
	case "stripe":
		if cfg.SecretKey == "" {
			return nil, errors.New("paygateway: stripe secret key is required")
		}
		return NewStripe(cfg.SecretKey, cfg.BaseURL), nil
	case "fake":
		return NewMemory(cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("paygateway: unknown provider %q", cfg.Provider)
	}
}
