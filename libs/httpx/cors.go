package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy configures browser access for the web booking app. An origin entry may be
// exact, "*", or a subdomain pattern such as "https://*.igabaycare.com".
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// WithCORS is a no-op when no origins are configured.
func WithCORS(cfg CORSPolicy) Middleware {
	origins := cleanList(cfg.AllowedOrigins)
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	static := map[string]string{
		"Access-Control-Allow-Methods":  strings.Join(cleanList(cfg.AllowedMethods), ", "),
		"Access-Control-Allow-Headers":  strings.Join(cleanList(cfg.AllowedHeaders), ", "),
		"Access-Control-Expose-Headers": strings.Join(cleanList(cfg.ExposedHeaders), ", "),
	}
	if secs := int(cfg.MaxAge.Seconds()); secs > 0 {
		static["Access-Control-Max-Age"] = strconv.Itoa(secs)
	}
	if cfg.AllowCredentials {
		static["Access-Control-Allow-Credentials"] = "true"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			allow, ok := allowedOrigin(origin, origins, cfg.AllowCredentials)
			if origin == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}
			h.Set("Access-Control-Allow-Origin", allow)
			for k, v := range static {
				if v != "" {
					h.Set(k, v)
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// allowedOrigin returns the Access-Control-Allow-Origin value for origin. With credentials
// the wildcard is never echoed as "*".
func allowedOrigin(origin string, allowed []string, withCredentials bool) (string, bool) {
	for _, pattern := range allowed {
		switch {
		case pattern == "*":
			if withCredentials {
				return origin, true
			}
			return "*", true
		case strings.EqualFold(pattern, origin):
			return origin, true
		case matchSubdomain(pattern, origin):
			return origin, true
		}
	}
	return "", false
}

func matchSubdomain(pattern, origin string) bool {
	scheme, rest, ok := strings.Cut(pattern, "://*.")
	if !ok {
		return false
	}
	prefix := strings.ToLower(scheme + "://")
	origin = strings.ToLower(origin)
	if !strings.HasPrefix(origin, prefix) {
		return false
	}
	host := strings.TrimPrefix(origin, prefix)
	suffix := "." + strings.ToLower(rest)
	return strings.HasSuffix(host, suffix) && len(host) > len(suffix)
}
