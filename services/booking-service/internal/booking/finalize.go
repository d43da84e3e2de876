package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/igabaycare/carebook/libs/auth"
	"github.com/igabaycare/carebook/libs/paygateway"
	"github.com/igabaycare/carebook/services/booking-service/internal/intent"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
	"github.com/igabaycare/carebook/services/booking-service/internal/notify"
	"github.com/igabaycare/carebook/services/booking-service/internal/pricing"
	"github.com/igabaycare/carebook/services/booking-service/internal/storage"
	"github.com/igabaycare/carebook/services/booking-service/internal/workflow"
)

// Where a finalized booking's details came from.
const (
	SourceExisting = "existing"
	SourceLocal    = "local"
	SourceMetadata = "metadata"
)

// FinalizeRequest identifies a paid checkout. ClientID is the patient whose stored
// intent may hold the booking; it is empty for system callers.
type FinalizeRequest struct {
	SessionID string
	ClientID  string
}

type Finalized struct {
	State       State             `json:"state"`
	Appointment model.Appointment `json:"appointment"`
	Duplicate   bool              `json:"duplicate"`
	Source      string            `json:"source"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// ResolveSessionID prefers an explicit id and falls back to the actor's stored intent.
func (o *Orchestrator) ResolveSessionID(ctx context.Context, actor auth.Actor, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	p, err := o.intents.Load(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, intent.ErrNotFound) {
			return "", ErrBookingDataMissing
		}
		return "", fmt.Errorf("load pending booking: %w", err)
	}
	if p.SessionID == "" {
		return "", ErrBookingDataMissing
	}
	return p.SessionID, nil
}

// FinalizeBooking turns a paid checkout session into exactly one confirmed appointment.
// Repeated calls for the same session return the existing appointment.
func (o *Orchestrator) FinalizeBooking(ctx context.Context, req FinalizeRequest) (Finalized, error) {
	if req.SessionID == "" {
		return Finalized{}, fmt.Errorf("%w: checkout_session_id is required", ErrInvalidRequest)
	}
	log := o.logger.With("session_id", req.SessionID)
	report := workflow.NewReport("finalize", log, o.metrics)

	local, hasLocal := o.localIntent(ctx, req, report)

	existing, err := o.appointments.FindByPaymentIntent(ctx, req.SessionID)
	switch {
	case err == nil:
		if req.ClientID != "" && existing.PatientID != req.ClientID {
			return Finalized{}, auth.ErrForbidden
		}
		if hasLocal {
			o.clearIntent(ctx, req.ClientID, report)
		}
		o.metrics.Finalization("duplicate", SourceExisting)
		log.InfoContext(ctx, "booking already finalized", "appointment_id", existing.ID)
		return Finalized{
			State:       StateAppointmentCreated,
			Appointment: existing,
			Duplicate:   true,
			Source:      SourceExisting,
			Warnings:    report.Messages(),
		}, nil
	case !errors.Is(err, storage.ErrNotFound):
		return Finalized{}, fmt.Errorf("look up appointment by payment: %w", err)
	}

	sess, err := o.gateway.GetSession(ctx, req.SessionID)
	if err != nil {
		return Finalized{}, err
	}
	if sess.Status != paygateway.StatusPaid {
		return Finalized{State: StateAwaitingPayment}, fmt.Errorf("%w: session is %s", ErrPaymentNotCompleted, sess.Status)
	}

	pending, source := local, SourceLocal
	if !hasLocal {
		pending, err = intent.FromMetadata(req.SessionID, sess.Metadata)
		if err != nil {
			o.metrics.Finalization("data_missing", SourceMetadata)
			log.ErrorContext(ctx, "paid session has no recoverable booking", "err", err)
			return Finalized{State: StateAppointmentCreationFailed}, supportError(req.SessionID, ErrBookingDataMissing, err)
		}
		source = SourceMetadata
	}
	if req.ClientID != "" && pending.PatientID != req.ClientID {
		return Finalized{}, auth.ErrForbidden
	}

	o.fillPatientContact(ctx, &pending, report)
	if pending.TotalAmount > 0 && sess.AmountMinor > 0 {
		if minor, err := pricing.ToMinorUnits(pending.TotalAmount); err == nil && minor != sess.AmountMinor {
			report.Warn(ctx, "amount_check", fmt.Errorf("booked total %d does not match paid amount %d", minor, sess.AmountMinor))
		}
	}

	appt := o.paidAppointment(pending, sess)
	created, err := o.appointments.CreatePaid(ctx, appt, storage.PaymentLink{
		Provider:    o.gateway.Name(),
		SessionID:   req.SessionID,
		AmountMinor: sess.AmountMinor,
		Currency:    sess.Currency,
	})
	if errors.Is(err, storage.ErrDuplicatePayment) {
		// Another finalizer won the race; the unique index keeps it to one row.
		created, err = o.appointments.FindByPaymentIntent(ctx, req.SessionID)
		if err != nil {
			return Finalized{State: StateAppointmentCreationFailed}, supportError(req.SessionID, ErrAppointmentCreationFailed, err)
		}
		if hasLocal {
			o.clearIntent(ctx, req.ClientID, report)
		}
		o.metrics.Finalization("duplicate", source)
		return Finalized{
			State:       StateAppointmentCreated,
			Appointment: created,
			Duplicate:   true,
			Source:      source,
			Warnings:    report.Messages(),
		}, nil
	}
	if err != nil {
		o.metrics.Finalization("failed", source)
		log.ErrorContext(ctx, "appointment insert failed after payment", "err", err, "patient_id", pending.PatientID)
		return Finalized{State: StateAppointmentCreationFailed}, supportError(req.SessionID, ErrAppointmentCreationFailed, err)
	}

	if hasLocal {
		o.clearIntent(ctx, req.ClientID, report)
	}
	_ = report.Step(ctx, "notify_patient", workflow.Warning, func(ctx context.Context) error {
		_, err := o.notifier.Notify(ctx, notify.BookingConfirmed(created, pending.ClinicName))
		return err
	})

	o.metrics.Finalization("created", source)
	log.InfoContext(ctx, "booking finalized", "appointment_id", created.ID, "source", source)
	return Finalized{
		State:       StateAppointmentCreated,
		Appointment: created,
		Source:      source,
		Warnings:    report.Messages(),
	}, nil
}

// localIntent loads the client's stored booking when it belongs to this session.
func (o *Orchestrator) localIntent(ctx context.Context, req FinalizeRequest, report *workflow.Report) (intent.PendingBooking, bool) {
	if req.ClientID == "" {
		return intent.PendingBooking{}, false
	}
	p, err := o.intents.Load(ctx, req.ClientID)
	if err != nil {
		if !errors.Is(err, intent.ErrNotFound) {
			report.Warn(ctx, "load_intent", err)
		}
		return intent.PendingBooking{}, false
	}
	if p.SessionID != req.SessionID {
		return intent.PendingBooking{}, false
	}
	return p, true
}

func (o *Orchestrator) clearIntent(ctx context.Context, clientID string, report *workflow.Report) {
	_ = report.Step(ctx, "clear_intent", workflow.Warning, func(ctx context.Context) error {
		return o.intents.Clear(ctx, clientID)
	})
}

func (o *Orchestrator) fillPatientContact(ctx context.Context, p *intent.PendingBooking, report *workflow.Report) {
	if p.PatientName != "" && p.PatientEmail != "" {
		return
	}
	_ = report.Step(ctx, "patient_contact", workflow.Warning, func(ctx context.Context) error {
		patient, err := o.directory.GetPatient(ctx, p.PatientID)
		if err != nil {
			return err
		}
		if p.PatientName == "" {
			p.PatientName = patient.FullName()
		}
		if p.PatientEmail == "" {
			p.PatientEmail = patient.Email
		}
		if p.PatientPhone == "" {
			p.PatientPhone = patient.Phone
		}
		return nil
	})
}

func (o *Orchestrator) paidAppointment(p intent.PendingBooking, sess paygateway.Session) model.Appointment {
	typ, ok := model.ParseAppointmentType(p.Type)
	if !ok {
		typ = model.TypeConsultation
	}
	method := sess.PaymentMethod
	if method == "" {
		method = o.cfg.PaymentMethodTypes[0]
	}
	return model.Appointment{
		PatientID:       p.PatientID,
		ClinicID:        p.ClinicID,
		PatientName:     p.PatientName,
		PatientEmail:    p.PatientEmail,
		PatientPhone:    p.PatientPhone,
		Date:            p.Date,
		Time:            p.Time,
		DurationMinutes: model.DefaultDurationMinutes,
		Type:            typ,
		Status:          model.StatusConfirmed,
		Priority:        model.PriorityNormal,
		PaymentMethod:   method,
		PaymentStatus:   model.PaymentPaid,
		PaymentIntentID: p.SessionID,
		ConsultationFee: p.ConsultationFee,
		BookingFee:      p.BookingFee,
		TotalAmount:     p.TotalAmount,
		Notes:           p.Notes,
	}
}
