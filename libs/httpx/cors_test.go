package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCORSPreflightAndExposedHeaders(t *testing.T) {
	h := WithCORS(CORSPolicy{
		AllowedOrigins: []string{"https://app.igabaycare.com", "https://*.igabaycare.dev"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         10 * time.Minute,
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/bookings/checkout", nil)
	req.Header.Set("Origin", "https://app.igabaycare.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.igabaycare.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/bookings/verify", nil)
	req.Header.Set("Origin", "https://preview-42.igabaycare.dev")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://preview-42.igabaycare.dev", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, RequestIDHeader, rec.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORSRejectsUnknownOrigins(t *testing.T) {
	h := WithCORS(CORSPolicy{AllowedOrigins: []string{"https://*.igabaycare.dev"}})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	for _, origin := range []string{"https://igabaycare.dev", "https://evil-igabaycare.dev", "http://a.igabaycare.dev"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), origin)
	}
}

func TestCORSWildcardWithCredentialsEchoesOrigin(t *testing.T) {
	got, ok := allowedOrigin("https://clinic.example", []string{"*"}, true)
	assert.True(t, ok)
	assert.Equal(t, "https://clinic.example", got)

	got, ok = allowedOrigin("https://clinic.example", []string{"*"}, false)
	assert.True(t, ok)
	assert.Equal(t, "*", got)
}
