package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/igabaycare/carebook/libs/auth"
	"github.com/igabaycare/carebook/libs/httpx"
	"github.com/igabaycare/carebook/services/notification-service/internal/storage"
)

// Store is implemented by *storage.Repository.
type Store interface {
	List(ctx context.Context, userID string, f storage.ListFilter) ([]storage.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Dismiss(ctx context.Context, userID, id string) error
}

type Handler struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/notifications", h.List)
	mux.HandleFunc("/api/v1/notifications/read", h.MarkRead)
	mux.HandleFunc("/api/v1/notifications/read-all", h.MarkAllRead)
	mux.HandleFunc("/api/v1/notifications/dismiss", h.Dismiss)
}

type idRequest struct {
	ID string `json:"id"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodGet) {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := storage.ListFilter{UnreadOnly: truthy(q.Get("unread"))}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	items, err := h.store.List(r.Context(), actor.ID, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []storage.Notification{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, h.store.MarkRead)
}

func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, h.store.Dismiss)
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	n, err := h.store.MarkAllRead(r.Context(), actor.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"updated": n})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, userID, id string) error) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req idRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.ID) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}
	if err := apply(r.Context(), actor.ID, req.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	actor, err := auth.ActorFromRequest(r)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid actor")
		return auth.Actor{}, false
	}
	return actor, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "notification not found")
		return
	}
	h.logger.ErrorContext(r.Context(), "notification request failed", "err", err, "path", r.URL.Path)
	httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
