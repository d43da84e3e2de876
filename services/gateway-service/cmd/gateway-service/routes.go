package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/igabaycare/carebook/libs/auth"
	"github.com/igabaycare/carebook/libs/httpx"
)

type upstream struct {
	Name     string
	URL      *url.URL
	GRPCAddr string
}

type upstreamSet struct {
	Booking       upstream
	Billing       upstream
	Notifications upstream
}

func (s upstreamSet) all() []upstream {
	return []upstream{s.Booking, s.Billing, s.Notifications}
}

func registerRoutes(mux *http.ServeMux, ups upstreamSet, verifier *auth.Verifier, pages returnPages) {
	transport := otelhttp.NewTransport(http.DefaultTransport)
	booking := newProxy(ups.Booking.URL, transport)
	billing := newProxy(ups.Billing.URL, transport)
	notifications := newProxy(ups.Notifications.URL, transport)

	authed := func(h http.Handler) http.Handler { return requireAuth(h, verifier) }
	staff := func(h http.Handler, roles ...auth.Role) http.Handler {
		return requireAuth(requireRole(h, roles...), verifier)
	}

	registerProxy(mux, "/api/v1/public", booking)
	registerProxy(mux, "/api/v1/bookings", authed(booking))
	registerProxy(mux, "/api/v1/appointments", authed(booking))
	mux.Handle("/api/v1/appointments/status", staff(booking, auth.RoleClinic, auth.RoleDoctor, auth.RoleAdmin))
	mux.Handle("/api/v1/appointments/assign-doctor", staff(booking, auth.RoleClinic, auth.RoleAdmin))
	mux.Handle("/api/v1/appointments/complete", staff(booking, auth.RoleClinic, auth.RoleDoctor, auth.RoleAdmin))
	registerProxy(mux, "/api/v1/prescriptions", staff(booking, auth.RoleDoctor, auth.RoleAdmin))

	// Processors reach webhooks without a JWT; the signature is the authentication.
	registerProxy(mux, "/api/v1/payments/webhooks", billing)
	// The return page polls this before the user is signed back in.
	registerProxy(mux, "/api/v1/payments/transactions", billing)
	// Checkout page of the fake provider; booking only serves it when PAYMENT_PROVIDER=fake.
	registerProxy(mux, "/payments/fake", booking)

	registerProxy(mux, "/api/v1/notifications", authed(notifications))

	mux.HandleFunc("/payment/return", pages.Web)
	mux.HandleFunc("/payment/mobile-return", pages.Mobile)
}

func newProxy(target *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	p := httputil.NewSingleHostReverseProxy(target)
	p.Transport = transport
	p.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, _ error) {
		httpx.WriteError(w, http.StatusBadGateway, "upstream_unavailable", "upstream unavailable")
	}
	return p
}

func registerProxy(mux *http.ServeMux, prefix string, handler http.Handler) {
	if !strings.HasSuffix(prefix, "/") {
		mux.Handle(prefix, handler)
		mux.Handle(prefix+"/", handler)
		return
	}
	mux.Handle(prefix, handler)
}

// withStrippedActor drops client-supplied actor headers on every request. Only
// requireAuth sets them again.
func withStrippedActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.StripHeaders(r.Header)
		next.ServeHTTP(w, r)
	})
}

func requireAuth(next http.Handler, verifier *auth.Verifier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid Authorization header")
			return
		}
		claims, err := verifier.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		actor, err := auth.ActorFromClaims(claims)
		if err != nil {
			httpx.WriteError(w, http.StatusForbidden, "forbidden", "token carries no usable role")
			return
		}

		auth.StripHeaders(r.Header)
		actor.SetHeaders(r.Header)
		next.ServeHTTP(w, r)
	})
}

// requireRole must run after requireAuth.
func requireRole(next http.Handler, roles ...auth.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := auth.ActorFromRequest(r)
		if err != nil || !actor.Is(roles...) {
			httpx.WriteError(w, http.StatusForbidden, "forbidden", "role not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}
