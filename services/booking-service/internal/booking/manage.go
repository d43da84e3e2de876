package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/igabaycare/carebook/libs/auth"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
	"github.com/igabaycare/carebook/services/booking-service/internal/notify"
	"github.com/igabaycare/carebook/services/booking-service/internal/storage"
	"github.com/igabaycare/carebook/services/booking-service/internal/workflow"
)

// ManualBooking is an appointment recorded without online payment, paid at the clinic.
type ManualBooking struct {
	PatientID string `json:"patient_id,omitempty"`
	ClinicID  string `json:"clinic_id,omitempty"`
	Date      string `json:"appointment_date"`
	Time      string `json:"appointment_time"`
	Type      string `json:"appointment_type,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type StatusChange struct {
	Appointment model.Appointment `json:"appointment"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// CreateAppointment books a scheduled, unpaid appointment. Patients book for
// themselves; clinics book walk-ins for a named patient.
func (o *Orchestrator) CreateAppointment(ctx context.Context, actor auth.Actor, mb ManualBooking) (model.Appointment, error) {
	switch actor.Role {
	case auth.RolePatient:
		mb.PatientID = actor.ID
	case auth.RoleClinic:
		mb.ClinicID = actor.ID
	case auth.RoleAdmin:
	default:
		return model.Appointment{}, auth.ErrForbidden
	}
	if mb.PatientID == "" || mb.ClinicID == "" {
		return model.Appointment{}, fmt.Errorf("%w: patient_id and clinic_id are required", ErrInvalidRequest)
	}
	typ, ok := model.ParseAppointmentType(mb.Type)
	if !ok {
		return model.Appointment{}, fmt.Errorf("%w: unknown appointment type %q", ErrInvalidRequest, mb.Type)
	}

	clinic, err := o.clinic(ctx, mb.ClinicID)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := o.checkSlot(ctx, clinic, mb.PatientID, mb.Date, mb.Time); err != nil {
		return model.Appointment{}, err
	}
	patient, err := o.directory.GetPatient(ctx, mb.PatientID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Appointment{}, fmt.Errorf("%w: unknown patient %s", ErrInvalidRequest, mb.PatientID)
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("load patient: %w", err)
	}
	cost, err := o.ComputeCost(clinic.ConsultationFee)
	if err != nil {
		return model.Appointment{}, err
	}

	return o.appointments.Create(ctx, model.Appointment{
		PatientID:       mb.PatientID,
		ClinicID:        mb.ClinicID,
		PatientName:     patient.FullName(),
		PatientEmail:    patient.Email,
		PatientPhone:    patient.Phone,
		Date:            mb.Date,
		Time:            mb.Time,
		DurationMinutes: model.DefaultDurationMinutes,
		Type:            typ,
		Status:          model.StatusScheduled,
		Priority:        model.PriorityNormal,
		PaymentMethod:   "cash",
		PaymentStatus:   model.PaymentPending,
		ConsultationFee: cost.ConsultationFee,
		BookingFee:      cost.BookingFee,
		TotalAmount:     cost.Total,
		Notes:           strings.TrimSpace(mb.Notes),
	})
}

func (o *Orchestrator) Get(ctx context.Context, actor auth.Actor, id string) (model.Appointment, error) {
	a, err := o.appointments.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Appointment{}, ErrNotFound
	}
	if err != nil {
		return model.Appointment{}, err
	}
	if !canView(actor, a) {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

func (o *Orchestrator) List(ctx context.Context, actor auth.Actor, f storage.ListFilter) ([]model.Appointment, error) {
	return o.appointments.ListForActor(ctx, actor, f)
}

func canView(actor auth.Actor, a model.Appointment) bool {
	return actor.Owns(auth.RolePatient, a.PatientID) ||
		actor.Owns(auth.RoleClinic, a.ClinicID) ||
		actor.Owns(auth.RoleDoctor, a.DoctorID)
}

// canSetStatus: clinics and assigned doctors manage the lifecycle; patients may only
// cancel their own appointment.
func canSetStatus(actor auth.Actor, a model.Appointment, to model.AppointmentStatus) bool {
	if actor.Owns(auth.RoleClinic, a.ClinicID) || actor.Owns(auth.RoleDoctor, a.DoctorID) {
		return true
	}
	return to == model.StatusCancelled && actor.Owns(auth.RolePatient, a.PatientID)
}

// UpdateStatus applies one lifecycle transition. Only a clinic may confirm an
// appointment that has not been paid online.
func (o *Orchestrator) UpdateStatus(ctx context.Context, actor auth.Actor, id string, to model.AppointmentStatus, reason string) (StatusChange, error) {
	current, err := o.Get(ctx, actor, id)
	if err != nil {
		return StatusChange{}, err
	}
	if !canSetStatus(actor, current, to) {
		return StatusChange{}, auth.ErrForbidden
	}
	manual := actor.Is(auth.RoleClinic, auth.RoleAdmin)
	if err := model.CheckTransition(current, to, manual); err != nil {
		return StatusChange{}, err
	}

	updated, err := o.appointments.UpdateStatus(ctx, id, current.Status, to, strings.TrimSpace(reason))
	if err != nil {
		return StatusChange{}, err
	}

	report := workflow.NewReport("update_status", o.logger.With("appointment_id", id), o.metrics)
	if updated.DoctorID != "" && o.mirrors != nil {
		_ = report.Step(ctx, "mirror_status", workflow.Warning, func(ctx context.Context) error {
			return o.mirrors.SetStatus(ctx, id, to)
		})
	}
	switch {
	case to == model.StatusCompleted:
		_ = report.Step(ctx, "rating_prompt", workflow.Warning, func(ctx context.Context) error {
			_, err := o.notifier.Notify(ctx, notify.RatingPrompt(updated))
			return err
		})
	case to == model.StatusCancelled && !actor.Is(auth.RolePatient):
		_ = report.Step(ctx, "notify_cancellation", workflow.Warning, func(ctx context.Context) error {
			_, err := o.notifier.Notify(ctx, notify.Cancelled(updated))
			return err
		})
	}
	return StatusChange{Appointment: updated, Warnings: report.Messages()}, nil
}

func (o *Orchestrator) Cancel(ctx context.Context, actor auth.Actor, id, reason string) (StatusChange, error) {
	return o.UpdateStatus(ctx, actor, id, model.StatusCancelled, reason)
}
