// Package assignment attaches a doctor to an appointment and keeps the doctor's
// view of it in sync.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/igabaycare/carebook/libs/auth"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
	"github.com/igabaycare/carebook/services/booking-service/internal/notify"
	"github.com/igabaycare/carebook/services/booking-service/internal/storage"
	"github.com/igabaycare/carebook/services/booking-service/internal/workflow"
)

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrUnknownDoctor     = errors.New("unknown doctor")
	ErrDoctorNotInClinic = errors.New("doctor does not practice at this clinic")
	ErrClosedAppointment = errors.New("appointment is no longer active")
)

type Appointments interface {
	GetByID(ctx context.Context, id string) (model.Appointment, error)
	UpdateDoctor(ctx context.Context, id string, d model.Doctor) (model.Appointment, error)
}

type Directory interface {
	GetDoctor(ctx context.Context, id string) (model.Doctor, error)
	GetPatient(ctx context.Context, id string) (model.Patient, error)
}

type Mirrors interface {
	Upsert(ctx context.Context, d model.DoctorAppointment) (model.DoctorAppointment, error)
	SetPatientContact(ctx context.Context, appointmentID, name, email, phone string) error
}

type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) (model.Notification, error)
}

type Result struct {
	Appointment model.Appointment        `json:"appointment"`
	Mirror      *model.DoctorAppointment `json:"doctor_appointment,omitempty"`
	Warnings    []string                 `json:"warnings,omitempty"`
}

type Service struct {
	appointments Appointments
	directory    Directory
	mirrors      Mirrors
	notifier     Notifier
	logger       *slog.Logger
	observer     workflow.Observer
}

func NewService(appts Appointments, dir Directory, mirrors Mirrors, notifier Notifier, logger *slog.Logger, observer workflow.Observer) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		appointments: appts,
		directory:    dir,
		mirrors:      mirrors,
		notifier:     notifier,
		logger:       logger,
		observer:     observer,
	}
}

// Assign sets the doctor on the appointment, then best-effort mirrors it into the
// doctor's schedule and tells the doctor. Only the first step can fail the call and it
// is not undone when later steps fail.
func (s *Service) Assign(ctx context.Context, actor auth.Actor, appointmentID, doctorID string) (Result, error) {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, ErrNotFound
	}
	if err != nil {
		return Result{}, err
	}
	if !actor.Owns(auth.RoleClinic, appt.ClinicID) {
		if actor.Is(auth.RolePatient, auth.RoleDoctor) {
			return Result{}, ErrNotFound
		}
		return Result{}, auth.ErrForbidden
	}
	switch appt.Status {
	case model.StatusCancelled, model.StatusNoShow, model.StatusCompleted:
		return Result{}, fmt.Errorf("%w: status is %s", ErrClosedAppointment, appt.Status)
	}

	doctor, err := s.directory.GetDoctor(ctx, doctorID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, ErrUnknownDoctor
	}
	if err != nil {
		return Result{}, err
	}
	if doctor.ClinicID != appt.ClinicID {
		return Result{}, ErrDoctorNotInClinic
	}

	log := s.logger.With("appointment_id", appointmentID, "doctor_id", doctorID)
	report := workflow.NewReport("assign_doctor", log, s.observer)

	err = report.Step(ctx, "update_appointment", workflow.Fatal, func(ctx context.Context) error {
		updated, err := s.appointments.UpdateDoctor(ctx, appointmentID, doctor)
		if err != nil {
			return err
		}
		appt = updated
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	var mirror *model.DoctorAppointment
	patient, err := s.directory.GetPatient(ctx, appt.PatientID)
	if err != nil {
		report.Warn(ctx, "load_patient", err)
	} else {
		name := patient.FullName()
		_ = report.Step(ctx, "upsert_mirror", workflow.Warning, func(ctx context.Context) error {
			m, err := s.mirrors.Upsert(ctx, mirrorOf(appt, doctor.ID, name, patient))
			if err != nil {
				return err
			}
			mirror = &m
			return nil
		})
		_ = report.Step(ctx, "mirror_patient_contact", workflow.Warning, func(ctx context.Context) error {
			if err := s.mirrors.SetPatientContact(ctx, appt.ID, name, patient.Email, patient.Phone); err != nil {
				return err
			}
			if mirror != nil {
				mirror.PatientName, mirror.PatientEmail, mirror.PatientPhone = name, patient.Email, patient.Phone
			}
			return nil
		})
	}

	_ = report.Step(ctx, "notify_doctor", workflow.Warning, func(ctx context.Context) error {
		_, err := s.notifier.Notify(ctx, notify.DoctorAssigned(appt, doctor))
		return err
	})

	log.InfoContext(ctx, "doctor assigned", "partial", report.Partial())
	return Result{Appointment: appt, Mirror: mirror, Warnings: report.Messages()}, nil
}

func mirrorOf(a model.Appointment, doctorID, patientName string, p model.Patient) model.DoctorAppointment {
	d := model.DoctorAppointment{
		AppointmentID:   a.ID,
		DoctorID:        doctorID,
		PatientID:       a.PatientID,
		PatientName:     patientName,
		PatientEmail:    p.Email,
		PatientPhone:    p.Phone,
		Date:            a.Date,
		Time:            a.Time,
		Type:            a.Type,
		DurationMinutes: a.DurationMinutes,
		PaymentAmount:   a.TotalAmount,
		Priority:        a.Priority,
		Status:          a.Status,
		Notes:           a.Notes,
	}
	d.ApplyDefaults()
	return d
}
