package main

import (
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type returnPages struct {
	AppScheme    string
	ContinueURL  string
	StatusPath   string
	PollInterval time.Duration
}

var returnPageTmpl = template.Must(template.New("return").Parse(`<!doctype html>
<html><head><meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>IgabayCare payment</title>
<style>body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Arial,sans-serif;margin:40px auto;max-width:560px;line-height:1.5;padding:0 16px}code{background:#f4f4f4;padding:2px 4px;border-radius:4px}</style>
</head><body>
<h1 id="title">{{if .Cancelled}}Payment cancelled{{else}}Checking your payment{{end}}</h1>
{{if .SessionID}}<p>Reference: <code>{{.SessionID}}</code></p>
<p>Status: <span id="status">{{if .Cancelled}}cancelled{{else}}checking...{{end}}</span></p>{{else}}<p>We could not find your checkout reference. Your booking is still saved if payment went through.</p>{{end}}
<p><a id="continue" href="{{.ContinueURL}}">Back to IgabayCare</a></p>
{{if and .SessionID (not .Cancelled)}}<script>
const sessionId = {{.SessionID}};
const statusURL = {{.StatusURL}};
const every = {{.PollMillis}};
async function poll() {
  try {
    const resp = await fetch(statusURL + '?checkout_session_id=' + encodeURIComponent(sessionId), {cache: 'no-store'});
    const body = resp.ok ? await resp.json() : {};
    const s = body.status || 'pending';
    document.getElementById('status').textContent = s;
    if (s === 'paid') { document.getElementById('title').textContent = 'Payment received'; return; }
    if (s === 'expired' || s === 'unpaid') { document.getElementById('title').textContent = 'Payment not completed'; return; }
  } catch (e) {}
  setTimeout(poll, every);
}
poll();
</script>{{end}}
</body></html>
`))

type returnPageData struct {
	SessionID   string
	Cancelled   bool
	ContinueURL string
	StatusURL   string
	PollMillis  int64
}

func sessionIDFromQuery(q url.Values) string {
	for _, key := range []string{"checkout_session_id", "session_id"} {
		// PayMongo leaves the {CHECKOUT_SESSION_ID} placeholder unexpanded.
		if v := strings.TrimSpace(q.Get(key)); v != "" && !strings.HasPrefix(v, "{") {
			return v
		}
	}
	return ""
}

// Web renders the browser landing page after a hosted checkout.
func (p returnPages) Web(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	data := returnPageData{
		SessionID:   sessionIDFromQuery(q),
		Cancelled:   strings.EqualFold(q.Get("status"), "cancelled"),
		ContinueURL: p.ContinueURL,
		StatusURL:   p.StatusPath,
		PollMillis:  p.PollInterval.Milliseconds(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = returnPageTmpl.Execute(w, data)
}

// Mobile hands the checkout result back to the app via its custom URL scheme.
func (p returnPages) Mobile(w http.ResponseWriter, r *http.Request) {
	target := url.URL{Scheme: p.AppScheme, Host: "payment-return"}
	q := url.Values{}
	if id := sessionIDFromQuery(r.URL.Query()); id != "" {
		q.Set("checkout_session_id", id)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		q.Set("status", status)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}
