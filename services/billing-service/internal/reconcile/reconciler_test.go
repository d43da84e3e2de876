package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igabaycare/carebook/libs/events"
	"github.com/igabaycare/carebook/libs/outbox"
	"github.com/igabaycare/carebook/libs/paygateway"
	"github.com/igabaycare/carebook/services/billing-service/internal/storage"
)

type fakeStore struct {
	txns         []storage.Transaction
	appointments map[string]string
	linked       map[string]string
	requeued     []outbox.Event
	olderThan    time.Time
}

func (s *fakeStore) ListUnlinkedPaid(_ context.Context, olderThan time.Time, _, _ int) ([]storage.Transaction, error) {
	s.olderThan = olderThan
	return s.txns, nil
}

func (s *fakeStore) FindAppointmentByIntent(_ context.Context, sessionID string) (string, error) {
	if id, ok := s.appointments[sessionID]; ok {
		return id, nil
	}
	return "", storage.ErrNotFound
}

func (s *fakeStore) LinkAppointment(_ context.Context, sessionID, appointmentID string) error {
	s.linked[sessionID] = appointmentID
	return nil
}

func (s *fakeStore) Requeue(_ context.Context, _ string, evt outbox.Event) error {
	s.requeued = append(s.requeued, evt)
	return nil
}

type fixedLock struct{ ok bool }

func (l fixedLock) TryLock(context.Context) (func(), bool, error) {
	if !l.ok {
		return nil, false, errors.New("unavailable")
	}
	return func() {}, true, nil
}

func newGatewaySession(t *testing.T, gw *paygateway.Memory, status paygateway.Status) string {
	t.Helper()
	sess, err := gw.CreateSession(context.Background(), paygateway.CreateParams{
		AmountMinor: 55000,
		Currency:    "PHP",
		SuccessURL:  "http://localhost/ok",
		CancelURL:   "http://localhost/cancel",
		Metadata:    map[string]string{"patient_id": "pat-1", "clinic_id": "cli-1"},
	})
	require.NoError(t, err)
	require.NoError(t, gw.SetStatus(sess.ID, status))
	return sess.ID
}

func TestRunOnceLinksOrRequeues(t *testing.T) {
	gw := paygateway.NewMemory("")
	paid := newGatewaySession(t, gw, paygateway.StatusPaid)
	pending := newGatewaySession(t, gw, paygateway.StatusPending)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	store := &fakeStore{
		txns: []storage.Transaction{
			{Provider: "fake", SessionID: "cs_booked"},
			{Provider: "fake", SessionID: paid, UpdatedAt: now.Add(-time.Hour)},
			{Provider: "fake", SessionID: pending},
			{Provider: "stripe", SessionID: "cs_stripe"},
		},
		appointments: map[string]string{"cs_booked": "appt-1"},
		linked:       map[string]string{},
	}
	r := New(store, gw, fixedLock{ok: true}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, Config{Grace: time.Minute})
	r.now = func() time.Time { return now }

	sum, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Linked: 1, Requeued: 1, Skipped: 2}, sum)
	assert.Equal(t, now.Add(-time.Minute), store.olderThan)
	assert.Equal(t, map[string]string{"cs_booked": "appt-1"}, store.linked)

	require.Len(t, store.requeued, 1)
	evt := store.requeued[0]
	assert.Equal(t, "billing.checkout.paid.v1", evt.EventType)
	assert.Equal(t, paid, evt.AggregateID)
	var payload events.CheckoutPaid
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "pat-1", payload.Metadata["patient_id"])
	assert.Equal(t, int64(55000), payload.AmountMinor)
}

func TestRunStopsWhenContextEndsWithoutLock(t *testing.T) {
	r := New(&fakeStore{}, paygateway.NewMemory(""), fixedLock{}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
