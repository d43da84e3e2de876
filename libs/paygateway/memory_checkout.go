package paygateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/igabaycare/carebook/libs/httpx"
)

// FakeCheckoutPath is where Memory sends the patient instead of a hosted checkout page.
const FakeCheckoutPath = "/payments/fake/"

// Complete settles a fake session and returns the redirect a real processor would issue:
// the success URL when paid, the cancel URL otherwise.
func (m *Memory) Complete(id string, status Status) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return "", ErrSessionNotFound
	}
	if !s.Status.Terminal() {
		s.Status = status
		m.sessions[id] = s
	}
	p := m.params[id]
	target := p.CancelURL
	if s.Status == StatusPaid {
		target = p.SuccessURL
	}
	return strings.ReplaceAll(target, "{CHECKOUT_SESSION_ID}", id), nil
}

// CheckoutHandler serves GET /payments/fake/{id}. The session is paid unless the query
// carries outcome=cancel, in which case it expires.
func (m *Memory) CheckoutHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !httpx.AllowMethod(w, r, http.MethodGet) {
			return
		}
		id := strings.TrimPrefix(r.URL.Path, FakeCheckoutPath)
		if id == "" || strings.Contains(id, "/") {
			httpx.WriteError(w, http.StatusNotFound, "session_not_found", "checkout session not found")
			return
		}
		status := StatusPaid
		if r.URL.Query().Get("outcome") == "cancel" {
			status = StatusExpired
		}
		target, err := m.Complete(id, status)
		if errors.Is(err, ErrSessionNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "session_not_found", "checkout session not found")
			return
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
	})
}
