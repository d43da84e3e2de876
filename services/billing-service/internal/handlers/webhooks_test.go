package handlers

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igabaycare/carebook/libs/paygateway"
	"github.com/igabaycare/carebook/services/billing-service/internal/payments"
	"github.com/igabaycare/carebook/services/billing-service/internal/storage"
)

type recordingApplier struct {
	got []paygateway.WebhookEvent
	err error
}

func (a *recordingApplier) Apply(_ context.Context, evt paygateway.WebhookEvent) (payments.Outcome, error) {
	a.got = append(a.got, evt)
	return payments.Processed, a.err
}

type txnMap map[string]storage.Transaction

func (m txnMap) GetTransaction(_ context.Context, id string) (storage.Transaction, error) {
	t, ok := m[id]
	if !ok {
		return storage.Transaction{}, storage.ErrNotFound
	}
	return t, nil
}

var webhookNow = time.Unix(1_710_000_000, 0)

func newTestHandler(applier Applier, txns Transactions) http.Handler {
	h := New(applier, txns, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		StripeWebhookSecret:   "whsec_test",
		PayMongoWebhookSecret: "whsk_pm",
	})
	h.now = func() time.Time { return webhookNow }
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func signedPayMongo(t *testing.T, secret string) (string, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"data": map[string]any{
		"id": "evt_pm_1",
		"attributes": map[string]any{
			"type":       paygateway.PayMongoCheckoutPaid,
			"livemode":   false,
			"created_at": webhookNow.Unix(),
			"data": map[string]any{
				"id": "cs_pm_1",
				"attributes": map[string]any{
					"payments": []map[string]any{{"attributes": map[string]any{"status": "paid", "amount": 55000}}},
				},
			},
		},
	}})
	require.NoError(t, err)
	ts := fmt.Sprint(webhookNow.Unix())
	return string(body), fmt.Sprintf("t=%s,te=%s,li=", ts, hex.EncodeToString(paygateway.SignPayMongo(secret, ts, body)))
}

func TestPayMongoWebhookAppliesVerifiedEvent(t *testing.T) {
	applier := &recordingApplier{}
	srv := newTestHandler(applier, txnMap{})
	body, sig := signedPayMongo(t, "whsk_pm")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhooks/paymongo", strings.NewReader(body))
	req.Header.Set(paygateway.PayMongoSignatureHeader, sig)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, applier.got, 1)
	assert.Equal(t, "cs_pm_1", applier.got[0].Session.ID)
	assert.Equal(t, paygateway.StatusPaid, applier.got[0].Session.Status)
}

func TestWebhookRejections(t *testing.T) {
	applier := &recordingApplier{}
	srv := newTestHandler(applier, txnMap{})
	body, forged := signedPayMongo(t, "attacker")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhooks/paymongo", strings.NewReader(body))
	req.Header.Set(paygateway.PayMongoSignatureHeader, forged)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhooks/stripe", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing signature header")

	assert.Empty(t, applier.got)
}

func TestWebhookApplyFailureAsksForRedelivery(t *testing.T) {
	srv := newTestHandler(&recordingApplier{err: fmt.Errorf("db down")}, txnMap{})
	body, sig := signedPayMongo(t, "whsk_pm")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhooks/paymongo", strings.NewReader(body))
	req.Header.Set(paygateway.PayMongoSignatureHeader, sig)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTransactionStatus(t *testing.T) {
	srv := newTestHandler(&recordingApplier{}, txnMap{
		"cs_1": {Provider: "paymongo", SessionID: "cs_1", Status: storage.StatusPaid, AmountMinor: 55000, Currency: "PHP"},
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payments/transactions?session_id=cs_1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "paid", got["status"])

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payments/transactions?session_id=cs_unknown", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "pending", got["status"])

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payments/transactions", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
