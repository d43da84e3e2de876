package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/igabaycare/carebook/libs/httpx"
	"github.com/igabaycare/carebook/libs/paygateway"
	"github.com/igabaycare/carebook/services/billing-service/internal/payments"
	"github.com/igabaycare/carebook/services/billing-service/internal/storage"
)

const maxWebhookBody = 1 << 20

type Applier interface {
	Apply(ctx context.Context, evt paygateway.WebhookEvent) (payments.Outcome, error)
}

type Transactions interface {
	GetTransaction(ctx context.Context, sessionID string) (storage.Transaction, error)
}

type Config struct {
	StripeWebhookSecret   string
	PayMongoWebhookSecret string
	WebhookTolerance      time.Duration
}

type Handler struct {
	applier      Applier
	transactions Transactions
	logger       *slog.Logger
	cfg          Config
	now          func() time.Time
}

func New(applier Applier, transactions Transactions, logger *slog.Logger, cfg Config) *Handler {
	cfg.StripeWebhookSecret = strings.TrimSpace(cfg.StripeWebhookSecret)
	cfg.PayMongoWebhookSecret = strings.TrimSpace(cfg.PayMongoWebhookSecret)
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = paygateway.DefaultWebhookTolerance
	}
	return &Handler{applier: applier, transactions: transactions, logger: logger, cfg: cfg, now: time.Now}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/payments/webhooks/stripe", h.StripeWebhook)
	mux.HandleFunc("/api/v1/payments/webhooks/paymongo", h.PayMongoWebhook)
	mux.HandleFunc("/api/v1/payments/transactions", h.Transaction)
}

// StripeWebhook has no JWT auth; the signature is the auth.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	h.webhook(w, r, "stripe", h.cfg.StripeWebhookSecret, paygateway.StripeSignatureHeader,
		func(body []byte, sig string) (paygateway.WebhookEvent, error) {
			return paygateway.ParseStripeWebhook(body, sig, h.cfg.StripeWebhookSecret, h.cfg.WebhookTolerance)
		})
}

func (h *Handler) PayMongoWebhook(w http.ResponseWriter, r *http.Request) {
	h.webhook(w, r, "paymongo", h.cfg.PayMongoWebhookSecret, paygateway.PayMongoSignatureHeader,
		func(body []byte, sig string) (paygateway.WebhookEvent, error) {
			return paygateway.ParsePayMongoWebhook(body, sig, h.cfg.PayMongoWebhookSecret, h.cfg.WebhookTolerance, h.now())
		})
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request, provider, secret, header string,
	parse func(body []byte, sig string) (paygateway.WebhookEvent, error)) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	if secret == "" {
		httpx.WriteError(w, http.StatusServiceUnavailable, "not_configured", provider+" webhook not configured")
		return
	}
	sig := r.Header.Get(header)
	if strings.TrimSpace(sig) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_signature", "missing "+header+" header")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
		return
	}

	evt, err := parse(body, sig)
	if err != nil {
		h.logger.WarnContext(r.Context(), "webhook rejected", "provider", provider, "err", err)
		status := http.StatusBadRequest
		if !errors.Is(err, paygateway.ErrInvalidSignature) && !errors.Is(err, paygateway.ErrInvalidRequest) {
			status = http.StatusInternalServerError
		}
		httpx.WriteError(w, status, "invalid_webhook", err.Error())
		return
	}

	outcome, err := h.applier.Apply(r.Context(), evt)
	if err != nil {
		// Non-2xx makes the provider redeliver.
		h.logger.ErrorContext(r.Context(), "webhook apply failed", "provider", provider, "provider_event_id", evt.ID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "apply_failed", "failed to record provider event")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": outcome})
}

// Transaction reports the ledger status of a checkout session for the return page.
func (h *Handler) Transaction(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodGet) {
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.URL.Query().Get("checkout_session_id"))
	}
	if sessionID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}
	t, err := h.transactions.GetTransaction(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The webhook may not have arrived yet.
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"checkout_session_id": sessionID, "status": storage.StatusPending})
			return
		}
		h.logger.ErrorContext(r.Context(), "transaction lookup failed", "err", err, "session_id", sessionID)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "transaction lookup failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}
