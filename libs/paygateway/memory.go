package paygateway

import (
	"context"
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process gateway for local development and tests. Sessions stay
// pending until SetStatus is called, for example from the fake checkout page.
type Memory struct {
	publicBaseURL string

	mu       sync.Mutex
	sessions map[string]Session
	params   map[string]CreateParams
	created  []CreateParams
}

func NewMemory(publicBaseURL string) *Memory {
	if publicBaseURL == "" {
		publicBaseURL = "http://localhost:8080"
	}
	return &Memory{
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		sessions:      map[string]Session{},
		params:        map[string]CreateParams{},
	}
}

func (m *Memory) Name() string { return "fake" }

func (m *Memory) CreateSession(_ context.Context, p CreateParams) (Session, error) {
	if err := validateCreate(m.Name(), p); err != nil {
		return Session{}, err
	}
	id := "cs_fake_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	method := ""
	if len(p.PaymentMethodTypes) > 0 {
		method = p.PaymentMethodTypes[0]
	}
	s := Session{
		ID:            id,
		CheckoutURL:   m.publicBaseURL + FakeCheckoutPath + id,
		Status:        StatusPending,
		AmountMinor:   p.AmountMinor,
		Currency:      strings.ToUpper(p.Currency),
		Metadata:      maps.Clone(p.Metadata),
		PaymentMethod: method,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = s
	m.params[id] = p
	m.created = append(m.created, p)
	return s, nil
}

func (m *Memory) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, &Error{Provider: m.Name(), StatusCode: 404, Kind: ErrSessionNotFound}
	}
	s.Metadata = maps.Clone(s.Metadata)
	return s, nil
}

func (m *Memory) SetStatus(id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Status = status
	m.sessions[id] = s
	return nil
}

// Created returns the params of every session created so far.
func (m *Memory) Created() []CreateParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CreateParams(nil), m.created...)
}
