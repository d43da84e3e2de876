package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/igabaycare/carebook/libs/auth"
	"github.com/igabaycare/carebook/libs/paygateway"
	"github.com/igabaycare/carebook/services/booking-service/internal/availability"
	"github.com/igabaycare/carebook/services/booking-service/internal/intent"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
	"github.com/igabaycare/carebook/services/booking-service/internal/pricing"
	"github.com/igabaycare/carebook/services/booking-service/internal/storage"
	"github.com/igabaycare/carebook/services/booking-service/internal/workflow"
)

type BookingRequest struct {
	ClinicID string `json:"clinic_id"`
	Date     string `json:"appointment_date"`
	Time     string `json:"appointment_time"`
	Type     string `json:"appointment_type,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

type Quote struct {
	State       State                 `json:"state"`
	ClinicID    string                `json:"clinic_id"`
	ClinicName  string                `json:"clinic_name"`
	Date        string                `json:"appointment_date"`
	Time        string                `json:"appointment_time"`
	Type        model.AppointmentType `json:"appointment_type"`
	Cost        pricing.Breakdown     `json:"cost"`
	AmountMinor int64                 `json:"amount_minor"`
	Currency    string                `json:"currency"`

	patient model.Patient
	notes   string
}

type Checkout struct {
	State       State    `json:"state"`
	SessionID   string   `json:"checkout_session_id,omitempty"`
	CheckoutURL string   `json:"checkout_url,omitempty"`
	Quote       Quote    `json:"quote"`
	Warnings    []string `json:"warnings,omitempty"`
}

type Verification struct {
	State     State             `json:"state"`
	SessionID string            `json:"checkout_session_id"`
	Status    paygateway.Status `json:"status,omitempty"`
	Attempts  int               `json:"attempts"`
}

// Slots lists the open start times at a clinic on date.
func (o *Orchestrator) Slots(ctx context.Context, clinicID, date string) ([]string, error) {
	if _, err := time.Parse(model.DateLayout, date); err != nil || clinicID == "" {
		return nil, fmt.Errorf("%w: clinic_id and a YYYY-MM-DD date are required", ErrInvalidRequest)
	}
	clinic, err := o.clinic(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	return o.openSlots(ctx, clinic, date)
}

func (o *Orchestrator) openSlots(ctx context.Context, clinic model.Clinic, date string) ([]string, error) {
	taken, err := o.appointments.TakenTimes(ctx, clinic.ID, date)
	if err != nil {
		return nil, fmt.Errorf("load taken slots: %w", err)
	}
	hours := availability.Hours{Open: clinic.OpeningTime, Close: clinic.ClosingTime, SlotMinutes: clinic.SlotMinutes}
	slots, err := availability.DaySlots(date, hours, model.DefaultDurationMinutes*time.Minute, taken, o.cfg.Location, o.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return slots, nil
}

func (o *Orchestrator) clinic(ctx context.Context, id string) (model.Clinic, error) {
	c, err := o.directory.GetClinic(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Clinic{}, fmt.Errorf("%w: unknown clinic %s", ErrInvalidRequest, id)
	}
	return c, err
}

// checkSlot rejects malformed, duplicate or unavailable slots for patientID.
func (o *Orchestrator) checkSlot(ctx context.Context, clinic model.Clinic, patientID, date, clock string) error {
	if _, err := model.ParseSlot(date, clock, o.cfg.Location); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	dup, err := o.appointments.HasActiveBooking(ctx, patientID, clinic.ID, date, clock)
	if err != nil {
		return fmt.Errorf("duplicate check: %w", err)
	}
	if dup {
		return ErrDuplicateAppointment
	}
	slots, err := o.openSlots(ctx, clinic, date)
	if err != nil {
		return err
	}
	if !availability.Contains(slots, clock) {
		return fmt.Errorf("%w: %s %s", ErrSlotUnavailable, date, clock)
	}
	return nil
}

// Quote validates the slot and prices it with the clinic's consultation fee.
func (o *Orchestrator) Quote(ctx context.Context, actor auth.Actor, req BookingRequest) (Quote, error) {
	if !actor.Is(auth.RolePatient) {
		return Quote{}, auth.ErrForbidden
	}
	req.ClinicID = strings.TrimSpace(req.ClinicID)
	if req.ClinicID == "" {
		return Quote{}, fmt.Errorf("%w: clinic_id is required", ErrInvalidRequest)
	}
	typ, ok := model.ParseAppointmentType(req.Type)
	if !ok {
		return Quote{}, fmt.Errorf("%w: unknown appointment type %q", ErrInvalidRequest, req.Type)
	}

	clinic, err := o.clinic(ctx, req.ClinicID)
	if err != nil {
		return Quote{}, err
	}
	if err := o.checkSlot(ctx, clinic, actor.ID, req.Date, req.Time); err != nil {
		return Quote{}, err
	}
	patient, err := o.directory.GetPatient(ctx, actor.ID)
	if err != nil {
		return Quote{}, fmt.Errorf("load patient: %w", err)
	}

	cost, err := o.ComputeCost(clinic.ConsultationFee)
	if err != nil {
		return Quote{}, err
	}
	minor, err := pricing.ToMinorUnits(cost.Total)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		State:       StateCostComputed,
		ClinicID:    clinic.ID,
		ClinicName:  clinic.Name,
		Date:        req.Date,
		Time:        req.Time,
		Type:        typ,
		Cost:        cost,
		AmountMinor: minor,
		Currency:    o.cfg.Currency,
		patient:     patient,
		notes:       strings.TrimSpace(req.Notes),
	}, nil
}

// CreateCheckoutSession opens a hosted checkout for the quoted booking and remembers
// the booking under the patient's id until it is finalized.
func (o *Orchestrator) CreateCheckoutSession(ctx context.Context, actor auth.Actor, req BookingRequest) (Checkout, error) {
	q, err := o.Quote(ctx, actor, req)
	if err != nil {
		return Checkout{}, err
	}

	pending := intent.PendingBooking{
		PatientID:       actor.ID,
		PatientName:     q.patient.FullName(),
		PatientEmail:    q.patient.Email,
		PatientPhone:    q.patient.Phone,
		ClinicID:        q.ClinicID,
		ClinicName:      q.ClinicName,
		Date:            q.Date,
		Time:            q.Time,
		Type:            string(q.Type),
		Notes:           q.notes,
		ConsultationFee: q.Cost.ConsultationFee,
		BookingFee:      q.Cost.BookingFee,
		TotalAmount:     q.Cost.Total,
		Currency:        q.Currency,
	}

	provider := o.gateway.Name()
	sess, err := o.gateway.CreateSession(ctx, paygateway.CreateParams{
		AmountMinor:        q.AmountMinor,
		Currency:           q.Currency,
		Description:        fmt.Sprintf("Consultation at %s on %s %s", q.ClinicName, q.Date, q.Time),
		SuccessURL:         o.cfg.SuccessURL,
		CancelURL:          o.cfg.CancelURL,
		Billing:            paygateway.Billing{Name: pending.PatientName, Email: pending.PatientEmail, Phone: pending.PatientPhone},
		PaymentMethodTypes: o.cfg.PaymentMethodTypes,
		Metadata:           pending.Metadata(),
		ReferenceID:        actor.ID,
		IdempotencyKey:     uuid.NewString(),
	})
	if err != nil {
		o.metrics.Checkout(provider, "failed")
		o.logger.ErrorContext(ctx, "checkout session creation failed", "err", err, "patient_id", actor.ID, "clinic_id", q.ClinicID)
		return Checkout{State: StateSessionCreationFailed, Quote: q}, fmt.Errorf("%w: %w", ErrSessionCreationFailed, err)
	}
	o.metrics.Checkout(provider, "created")

	report := workflow.NewReport("checkout", o.logger, o.metrics)
	pending.SessionID = sess.ID
	pending.CheckoutURL = sess.CheckoutURL
	pending.CreatedAt = o.now().UTC()
	_ = report.Step(ctx, "save_intent", workflow.Warning, func(ctx context.Context) error {
		return o.intents.Save(ctx, actor.ID, pending)
	})

	q.State = StateSessionCreated
	return Checkout{
		State:       StateSessionCreated,
		SessionID:   sess.ID,
		CheckoutURL: sess.CheckoutURL,
		Quote:       q,
		Warnings:    report.Messages(),
	}, nil
}

// RedirectToPayment hands the patient over to the processor's hosted page.
func (o *Orchestrator) RedirectToPayment(c Checkout) (string, State) {
	return c.CheckoutURL, StateAwaitingPayment
}

// VerifyPayment polls the processor until the session is paid, reaches another
// terminal status, or the attempts run out. The processor may lag behind the redirect.
func (o *Orchestrator) VerifyPayment(ctx context.Context, sessionID string) (Verification, error) {
	v := Verification{State: StateAwaitingPayment, SessionID: sessionID}
	if sessionID == "" {
		return v, fmt.Errorf("%w: checkout_session_id is required", ErrInvalidRequest)
	}

	var lastErr error
	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		v.Attempts = attempt + 1
		sess, err := o.gateway.GetSession(ctx, sessionID)
		switch {
		case errors.Is(err, paygateway.ErrSessionNotFound):
			o.metrics.Verification("not_found", v.Attempts)
			return v, err
		case err != nil:
			lastErr = err
			o.logger.WarnContext(ctx, "payment status poll failed", "err", err, "session_id", sessionID, "attempt", v.Attempts)
		default:
			lastErr = nil
			v.Status = sess.Status
			switch sess.Status {
			case paygateway.StatusPaid:
				v.State = StatePaymentVerified
				o.metrics.Verification("paid", v.Attempts)
				return v, nil
			case paygateway.StatusExpired, paygateway.StatusUnpaid:
				o.metrics.Verification(string(sess.Status), v.Attempts)
				return v, fmt.Errorf("%w: session is %s", ErrPaymentNotCompleted, sess.Status)
			}
		}
		if attempt < o.cfg.MaxAttempts-1 {
			if err := o.sleep(ctx, o.backoff(attempt)); err != nil {
				return v, err
			}
		}
	}

	v.State = StatePaymentVerificationTimeout
	o.metrics.Verification("timeout", v.Attempts)
	if lastErr != nil {
		return v, fmt.Errorf("%w: %w", ErrPaymentVerificationTimeout, lastErr)
	}
	return v, ErrPaymentVerificationTimeout
}
