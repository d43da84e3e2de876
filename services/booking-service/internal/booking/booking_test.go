package booking

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igabaycare/carebook/libs/auth"
	"github.com/igabaycare/carebook/libs/events"
	"github.com/igabaycare/carebook/libs/paygateway"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
	"github.com/igabaycare/carebook/services/booking-service/internal/storage"
)

func TestComputeCostUsesPlatformFee(t *testing.T) {
	h := newHarness(t)
	cost, err := h.orch.ComputeCost(500)
	require.NoError(t, err)
	assert.Equal(t, 550.0, cost.Total)

	q, err := h.orch.Quote(context.Background(), patientActor, validRequest())
	require.NoError(t, err)
	assert.Equal(t, StateCostComputed, q.State)
	assert.Equal(t, int64(55000), q.AmountMinor)
	assert.Equal(t, "PHP", q.Currency)
}

func TestComputeCostHonorsConfiguredFee(t *testing.T) {
	free, custom := 0.0, 75.5
	for fee, want := range map[*float64]float64{&free: 500, &custom: 575.5} {
		o := New(Config{BookingFee: fee}, Deps{})
		cost, err := o.ComputeCost(500)
		require.NoError(t, err)
		assert.Equal(t, want, cost.Total)
		assert.Equal(t, *fee, cost.BookingFee)
	}
}

func TestQuoteRejectsBadSlots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Quote(ctx, auth.Actor{ID: "cli-1", Role: auth.RoleClinic}, validRequest())
	assert.ErrorIs(t, err, auth.ErrForbidden)

	req := validRequest()
	req.Time = "9:30am"
	_, err = h.orch.Quote(ctx, patientActor, req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = validRequest()
	req.Time = "18:00"
	_, err = h.orch.Quote(ctx, patientActor, req)
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	req = validRequest()
	req.ClinicID = "nope"
	_, err = h.orch.Quote(ctx, patientActor, req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	h.appts.put(model.Appointment{PatientID: "pat-1", ClinicID: "cli-1", Date: "2024-03-05", Time: "09:30", Status: model.StatusScheduled})
	_, err = h.orch.Quote(ctx, patientActor, validRequest())
	assert.ErrorIs(t, err, ErrDuplicateAppointment)
}

func TestCheckoutCreatesSessionAndSavesIntent(t *testing.T) {
	h := newHarness(t)
	c, err := h.orch.CreateCheckoutSession(context.Background(), patientActor, validRequest())
	require.NoError(t, err)
	assert.Equal(t, StateSessionCreated, c.State)
	assert.Empty(t, c.Warnings)

	created := h.gateway.Created()
	require.Len(t, created, 1)
	assert.Equal(t, int64(55000), created[0].AmountMinor)
	assert.Equal(t, "cli-1", created[0].Metadata["clinic_id"])
	assert.Equal(t, "550.00", created[0].Metadata["total_amount"])
	assert.Equal(t, "Juan Dela Cruz", created[0].Billing.Name)
	assert.Equal(t, []string{"gcash"}, created[0].PaymentMethodTypes)

	saved, err := h.intents.Load(context.Background(), "pat-1")
	require.NoError(t, err)
	assert.Equal(t, c.SessionID, saved.SessionID)
	assert.Equal(t, c.CheckoutURL, saved.CheckoutURL)

	url, state := h.orch.RedirectToPayment(c)
	assert.Equal(t, c.CheckoutURL, url)
	assert.Equal(t, StateAwaitingPayment, state)
}

func TestCheckoutIntentSaveFailureIsWarning(t *testing.T) {
	h := newHarness(t)
	h.intents.saveErr = errors.New("redis down")
	c, err := h.orch.CreateCheckoutSession(context.Background(), patientActor, validRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, c.SessionID)
	require.Len(t, c.Warnings, 1)
	assert.Contains(t, c.Warnings[0], "save_intent")
}

func TestCheckoutGatewayFailure(t *testing.T) {
	h := newHarness(t)
	h.gateway.createErr = &paygateway.Error{Provider: "fake", StatusCode: 503, Kind: paygateway.ErrGatewayUnavailable}
	c, err := h.orch.CreateCheckoutSession(context.Background(), patientActor, validRequest())
	assert.ErrorIs(t, err, ErrSessionCreationFailed)
	assert.ErrorIs(t, err, paygateway.ErrGatewayUnavailable)
	assert.Equal(t, StateSessionCreationFailed, c.State)

	_, err = h.intents.Load(context.Background(), "pat-1")
	assert.Error(t, err)
}

func TestVerifySucceedsOnSecondPoll(t *testing.T) {
	h := newHarness(t)
	c := h.checkout(t, paygateway.StatusPending)
	h.gateway.statuses = []paygateway.Status{paygateway.StatusPending, paygateway.StatusPaid}

	v, err := h.orch.VerifyPayment(context.Background(), c.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatePaymentVerified, v.State)
	assert.Equal(t, 2, v.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second}, h.sleeps)
}

func TestVerifyTimesOutAfterThreePendingPolls(t *testing.T) {
	h := newHarness(t)
	c := h.checkout(t, paygateway.StatusPending)

	v, err := h.orch.VerifyPayment(context.Background(), c.SessionID)
	assert.ErrorIs(t, err, ErrPaymentVerificationTimeout)
	assert.Equal(t, StatePaymentVerificationTimeout, v.State)
	assert.Equal(t, paygateway.StatusPending, v.Status)
	assert.Equal(t, 3, v.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.sleeps)
}

func TestVerifyRetriesTransientGatewayErrors(t *testing.T) {
	h := newHarness(t)
	c := h.checkout(t, paygateway.StatusPaid)
	h.gateway.errs = []error{&paygateway.Error{Provider: "fake", Kind: paygateway.ErrGatewayUnavailable}}

	v, err := h.orch.VerifyPayment(context.Background(), c.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Attempts)
}

func TestVerifyShortCircuits(t *testing.T) {
	h := newHarness(t)
	c := h.checkout(t, paygateway.StatusExpired)
	_, err := h.orch.VerifyPayment(context.Background(), c.SessionID)
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)
	assert.Empty(t, h.sleeps)

	_, err = h.orch.VerifyPayment(context.Background(), "cs_unknown")
	assert.ErrorIs(t, err, paygateway.ErrSessionNotFound)
}

func TestFinalizeTwiceCreatesOneAppointment(t *testing.T) {
	h := newHarness(t)
	c := h.checkout(t, paygateway.StatusPaid)
	req := FinalizeRequest{SessionID: c.SessionID, ClientID: "pat-1"}

	first, err := h.orch.FinalizeBooking(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateAppointmentCreated, first.State)
	assert.False(t, first.Duplicate)
	assert.Equal(t, SourceLocal, first.Source)
	assert.Equal(t, model.StatusConfirmed, first.Appointment.Status)
	assert.Equal(t, model.PaymentPaid, first.Appointment.PaymentStatus)
	assert.Equal(t, c.SessionID, first.Appointment.PaymentIntentID)
	assert.Equal(t, 550.0, first.Appointment.TotalAmount)

	second, err := h.orch.FinalizeBooking(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Appointment.ID, second.Appointment.ID)
	assert.Equal(t, 1, h.appts.inserts)

	require.Len(t, h.appts.links, 1)
	assert.Equal(t, int64(55000), h.appts.links[0].AmountMinor)
	assert.Equal(t, "fake", h.appts.links[0].Provider)

	_, err = h.intents.Load(context.Background(), "pat-1")
	assert.Error(t, err, "intent is cleared after finalization")
	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, model.NotifyAppointmentConfirmed, h.notifier.sent[0].Type)
	assert.Equal(t, "juan@example.com", h.notifier.sent[0].Deliver.Email)
}

func TestFinalizeRaceReturnsExistingRow(t *testing.T) {
	h := newHarness(t)
	c := h.checkout(t, paygateway.StatusPaid)

	var winner model.Appointment
	h.appts.onCreate = func(a model.Appointment) {
		h.appts.mu.Lock()
		defer h.appts.mu.Unlock()
		a.ID = "appt-winner"
		winner = h.appts.put(a)
	}

	res, err := h.orch.FinalizeBooking(context.Background(), FinalizeRequest{SessionID: c.SessionID, ClientID: "pat-1"})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, winner.ID, res.Appointment.ID)
	assert.Empty(t, h.notifier.sent)
}

func TestFinalizeFallsBackToMetadata(t *testing.T) {
	h := newHarness(t)
	c := h.checkout(t, paygateway.StatusPaid)
	require.NoError(t, h.intents.Clear(context.Background(), "pat-1"))

	res, err := h.orch.FinalizeBooking(context.Background(), FinalizeRequest{SessionID: c.SessionID, ClientID: "pat-1"})
	require.NoError(t, err)
	assert.Equal(t, SourceMetadata, res.Source)
	assert.Equal(t, "cli-1", res.Appointment.ClinicID)
	assert.Equal(t, "2024-03-05", res.Appointment.Date)
	assert.Equal(t, "09:30", res.Appointment.Time)
	assert.Equal(t, "fever", res.Appointment.Notes)
	assert.Equal(t, "gcash", res.Appointment.PaymentMethod)
}

func TestFinalizeRejectsUnpaidSession(t *testing.T) {
	h := newHarness(t)
	c := h.checkout(t, paygateway.StatusPending)
	_, err := h.orch.FinalizeBooking(context.Background(), FinalizeRequest{SessionID: c.SessionID, ClientID: "pat-1"})
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)
	assert.Zero(t, h.appts.inserts)

	var support *SupportError
	assert.False(t, errors.As(err, &support))
}

func TestFinalizeSupportErrorsAreDistinct(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t)
	sess, err := h.gateway.Memory.CreateSession(ctx, paygateway.CreateParams{
		AmountMinor: 55000, Currency: "PHP",
		SuccessURL: "https://app.test/ok", CancelURL: "https://app.test/cancel",
		Metadata: map[string]string{"clinic_id": "cli-1"},
	})
	require.NoError(t, err)
	require.NoError(t, h.gateway.SetStatus(sess.ID, paygateway.StatusPaid))

	_, missingErr := h.orch.FinalizeBooking(ctx, FinalizeRequest{SessionID: sess.ID})
	var support *SupportError
	require.ErrorAs(t, missingErr, &support)
	assert.Equal(t, sess.ID, support.SessionID)
	assert.ErrorIs(t, missingErr, ErrBookingDataMissing)
	assert.NotErrorIs(t, missingErr, ErrAppointmentCreationFailed)

	h2 := newHarness(t)
	c := h2.checkout(t, paygateway.StatusPaid)
	h2.appts.createErr = errors.New("deadlock detected")
	res, createErr := h2.orch.FinalizeBooking(ctx, FinalizeRequest{SessionID: c.SessionID, ClientID: "pat-1"})
	require.ErrorAs(t, createErr, &support)
	assert.Equal(t, c.SessionID, support.SessionID)
	assert.ErrorIs(t, createErr, ErrAppointmentCreationFailed)
	assert.NotErrorIs(t, createErr, ErrBookingDataMissing)
	assert.Equal(t, StateAppointmentCreationFailed, res.State)

	_, err = h2.intents.Load(ctx, "pat-1")
	assert.NoError(t, err, "intent survives a failed insert so the patient can retry")
}

func TestFinalizeNotificationFailureIsWarning(t *testing.T) {
	h := newHarness(t)
	c := h.checkout(t, paygateway.StatusPaid)
	h.notifier.err = errors.New("notifications table locked")

	res, err := h.orch.FinalizeBooking(context.Background(), FinalizeRequest{SessionID: c.SessionID, ClientID: "pat-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Appointment.ID)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "notify_patient")
}

func TestFinalizeForeignSessionIsForbidden(t *testing.T) {
	h := newHarness(t)
	c := h.checkout(t, paygateway.StatusPaid)
	_, err := h.orch.FinalizeBooking(context.Background(), FinalizeRequest{SessionID: c.SessionID, ClientID: "pat-2"})
	assert.ErrorIs(t, err, auth.ErrForbidden)
	assert.Zero(t, h.appts.inserts)
}

func TestResolveSessionID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.orch.ResolveSessionID(ctx, patientActor, "cs_explicit")
	require.NoError(t, err)
	assert.Equal(t, "cs_explicit", id)

	_, err = h.orch.ResolveSessionID(ctx, patientActor, "")
	assert.ErrorIs(t, err, ErrBookingDataMissing)

	c := h.checkout(t, paygateway.StatusPending)
	id, err = h.orch.ResolveSessionID(ctx, patientActor, "")
	require.NoError(t, err)
	assert.Equal(t, c.SessionID, id)
}

func TestCreateAppointmentManualPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	clinic := auth.Actor{ID: "cli-1", Role: auth.RoleClinic}

	a, err := h.orch.CreateAppointment(ctx, clinic, ManualBooking{PatientID: "pat-2", Date: "2024-03-05", Time: "10:00"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, a.Status)
	assert.Equal(t, model.PaymentPending, a.PaymentStatus)
	assert.Equal(t, "cash", a.PaymentMethod)
	assert.Equal(t, "Maria Santos", a.PatientName)
	assert.Equal(t, model.TypeConsultation, a.Type)

	_, err = h.orch.CreateAppointment(ctx, clinic, ManualBooking{PatientID: "pat-2", Date: "2024-03-05", Time: "10:00"})
	assert.ErrorIs(t, err, ErrDuplicateAppointment)

	_, err = h.orch.CreateAppointment(ctx, auth.Actor{ID: "doc-1", Role: auth.RoleDoctor}, ManualBooking{})
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestUpdateStatusEnforcesPaymentFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	unpaid := h.appts.put(model.Appointment{
		PatientID: "pat-1", ClinicID: "cli-1", DoctorID: "doc-1", Date: "2024-03-05", Time: "11:00",
		Status: model.StatusScheduled, PaymentStatus: model.PaymentPending,
	})

	doctor := auth.Actor{ID: "doc-1", Role: auth.RoleDoctor}
	_, err := h.orch.UpdateStatus(ctx, doctor, unpaid.ID, model.StatusConfirmed, "")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = h.orch.UpdateStatus(ctx, patientActor, unpaid.ID, model.StatusConfirmed, "")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	clinic := auth.Actor{ID: "cli-1", Role: auth.RoleClinic}
	res, err := h.orch.UpdateStatus(ctx, clinic, unpaid.ID, model.StatusConfirmed, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, res.Appointment.Status)
	assert.Equal(t, model.StatusConfirmed, h.mirrors.statuses[unpaid.ID])

	res, err = h.orch.UpdateStatus(ctx, doctor, unpaid.ID, model.StatusCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, res.Appointment.Status)
	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, model.NotifyRatingRequest, h.notifier.sent[0].Type)
}

func TestCancelByPatientAndStranger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.appts.put(model.Appointment{PatientID: "pat-1", ClinicID: "cli-1", Status: model.StatusConfirmed, PaymentStatus: model.PaymentPaid})

	_, err := h.orch.Cancel(ctx, auth.Actor{ID: "pat-2", Role: auth.RolePatient}, a.ID, "")
	assert.ErrorIs(t, err, ErrNotFound)

	h.mirrors.err = errors.New("mirror gone")
	res, err := h.orch.Cancel(ctx, patientActor, a.ID, "schedule conflict")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, res.Appointment.Status)
	assert.Equal(t, "schedule conflict", res.Appointment.CancellationReason)
	assert.NotNil(t, res.Appointment.CancelledAt)
	assert.Empty(t, h.notifier.sent)

	_, err = h.orch.Cancel(ctx, patientActor, a.ID, "")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestHandleCheckoutPaidFinalizesFromMetadata(t *testing.T) {
	h := newHarness(t)
	c := h.checkout(t, paygateway.StatusPaid)
	payload, err := json.Marshal(events.CheckoutPaid{Provider: "fake", SessionID: c.SessionID})
	require.NoError(t, err)

	require.NoError(t, h.orch.HandleCheckoutPaid(context.Background(), kafka.Message{Value: payload}))
	got, err := h.appts.FindByPaymentIntent(context.Background(), c.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "pat-1", got.PatientID)

	_, err = h.intents.Load(context.Background(), "pat-1")
	assert.NoError(t, err, "system finalization leaves the patient's intent alone")

	require.NoError(t, h.orch.HandleCheckoutPaid(context.Background(), kafka.Message{Value: []byte("{")}))

	h2 := newHarness(t)
	c2 := h2.checkout(t, paygateway.StatusPaid)
	h2.appts.createErr = errors.New("db down")
	payload, _ = json.Marshal(events.CheckoutPaid{SessionID: c2.SessionID})
	assert.Error(t, h2.orch.HandleCheckoutPaid(context.Background(), kafka.Message{Value: payload}))
}

func TestStateMachine(t *testing.T) {
	assert.True(t, CanTransition(StateSelectingSlot, StateCostComputed))
	assert.True(t, CanTransition(StateCostComputed, StateSessionCreationFailed))
	assert.True(t, CanTransition(StatePaymentVerified, StateAppointmentCreated))
	assert.True(t, CanTransition(StateAwaitingPayment, StatePaymentVerificationTimeout))
	assert.False(t, CanTransition(StateCostComputed, StateAppointmentCreated))
	assert.False(t, CanTransition(StateSelectingSlot, StateAppointmentCreationFailed))
	assert.True(t, StateAppointmentCreated.Terminal())
	assert.False(t, StateAwaitingPayment.Terminal())
}

func TestListScopesToActor(t *testing.T) {
	h := newHarness(t)
	h.appts.put(model.Appointment{PatientID: "pat-1", ClinicID: "cli-1"})
	h.appts.put(model.Appointment{PatientID: "pat-2", ClinicID: "cli-1"})

	mine, err := h.orch.List(context.Background(), patientActor, storage.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}
