package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igabaycare/carebook/services/notification-service/internal/storage"
)

type memStore struct {
	rows   map[string]storage.Notification
	filter storage.ListFilter
}

func (m *memStore) List(_ context.Context, userID string, f storage.ListFilter) ([]storage.Notification, error) {
	m.filter = f
	var out []storage.Notification
	for _, n := range m.rows {
		if n.UserID == userID && (!f.UnreadOnly || !n.IsRead) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memStore) MarkRead(_ context.Context, userID, id string) error {
	n, ok := m.rows[id]
	if !ok || n.UserID != userID {
		return storage.ErrNotFound
	}
	n.IsRead = true
	m.rows[id] = n
	return nil
}

func (m *memStore) MarkAllRead(_ context.Context, userID string) (int64, error) {
	var count int64
	for id, n := range m.rows {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			m.rows[id] = n
			count++
		}
	}
	return count, nil
}

func (m *memStore) Dismiss(_ context.Context, userID, id string) error {
	n, ok := m.rows[id]
	if !ok || n.UserID != userID {
		return storage.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func newTestMux() (*http.ServeMux, *memStore) {
	store := &memStore{rows: map[string]storage.Notification{
		"n-1": {ID: "n-1", UserID: "p-1", Title: "Booking confirmed"},
		"n-2": {ID: "n-2", UserID: "p-1", Title: "Payment received", IsRead: true},
		"n-3": {ID: "n-3", UserID: "p-2", Title: "Someone else's"},
	}}
	mux := http.NewServeMux()
	New(store, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(mux)
	return mux, store
}

func call(mux http.Handler, method, target, body string, asUser string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if asUser != "" {
		req.Header.Set("X-User-Id", asUser)
		req.Header.Set("X-Role", "patient")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestListUnreadForActor(t *testing.T) {
	mux, store := newTestMux()

	rec := call(mux, http.MethodGet, "/api/v1/notifications?unread=1&limit=10", "", "p-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Notifications []storage.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Notifications, 1)
	assert.Equal(t, "n-1", body.Notifications[0].ID)
	assert.Equal(t, storage.ListFilter{UnreadOnly: true, Limit: 10}, store.filter)

	assert.Equal(t, http.StatusBadRequest, call(mux, http.MethodGet, "/api/v1/notifications?limit=x", "", "p-1").Code)
	assert.Equal(t, http.StatusUnauthorized, call(mux, http.MethodGet, "/api/v1/notifications", "", "").Code)
}

func TestReadAndDismissAreOwnerGated(t *testing.T) {
	mux, store := newTestMux()

	assert.Equal(t, http.StatusOK, call(mux, http.MethodPost, "/api/v1/notifications/read", `{"id":"n-1"}`, "p-1").Code)
	assert.True(t, store.rows["n-1"].IsRead)

	assert.Equal(t, http.StatusNotFound, call(mux, http.MethodPost, "/api/v1/notifications/read", `{"id":"n-3"}`, "p-1").Code)
	assert.Equal(t, http.StatusNotFound, call(mux, http.MethodPost, "/api/v1/notifications/dismiss", `{"id":"n-3"}`, "p-1").Code)
	assert.Contains(t, store.rows, "n-3")

	assert.Equal(t, http.StatusOK, call(mux, http.MethodPost, "/api/v1/notifications/dismiss", `{"id":"n-2"}`, "p-1").Code)
	assert.NotContains(t, store.rows, "n-2")

	assert.Equal(t, http.StatusBadRequest, call(mux, http.MethodPost, "/api/v1/notifications/read", `{}`, "p-1").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, call(mux, http.MethodGet, "/api/v1/notifications/read", "", "p-1").Code)
}

func TestMarkAllRead(t *testing.T) {
	mux, store := newTestMux()

	rec := call(mux, http.MethodPost, "/api/v1/notifications/read-all", "", "p-2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":1}`, rec.Body.String())
	assert.True(t, store.rows["n-3"].IsRead)
	assert.False(t, store.rows["n-1"].IsRead)
}
