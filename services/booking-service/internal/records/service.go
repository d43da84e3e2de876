package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/igabaycare/carebook/libs/auth"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
	"github.com/igabaycare/carebook/services/booking-service/internal/notify"
	"github.com/igabaycare/carebook/services/booking-service/internal/storage"
	"github.com/igabaycare/carebook/services/booking-service/internal/workflow"
)

var (
	ErrNotFound       = errors.New("appointment not found")
	ErrInvalidRequest = errors.New("invalid record request")
)

type Appointments interface {
	GetByID(ctx context.Context, id string) (model.Appointment, error)
	UpdateStatus(ctx context.Context, id string, from, to model.AppointmentStatus, reason string) (model.Appointment, error)
}

type Mirrors interface {
	SetStatus(ctx context.Context, appointmentID string, status model.AppointmentStatus) error
}

type Prescriptions interface {
	Upsert(ctx context.Context, p model.Prescription) (model.Prescription, error)
}

type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) (model.Notification, error)
}

type Deps struct {
	Appointments  Appointments
	Records       RecordStore
	Prescriptions Prescriptions
	Mirrors       Mirrors
	Notifier      Notifier
	Logger        *slog.Logger
	Observer      workflow.Observer
}

type Service struct {
	registry Registry
	deps     Deps
	logger   *slog.Logger
}

func NewService(registry Registry, deps Deps) *Service {
	if registry == nil {
		registry = DefaultRegistry()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{registry: registry, deps: deps, logger: logger}
}

type ConsultationInput struct {
	Diagnosis string          `json:"diagnosis"`
	Treatment string          `json:"treatment"`
	Vitals    json.RawMessage `json:"vitals,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

type ConsultationResult struct {
	Appointment model.Appointment   `json:"appointment"`
	Record      model.MedicalRecord `json:"record"`
	Created     bool                `json:"created"`
	Warnings    []string            `json:"warnings,omitempty"`
}

// loadForCare returns the appointment if the actor is its doctor or clinic. Anyone
// else gets ErrNotFound.
func (s *Service) loadForCare(ctx context.Context, actor auth.Actor, appointmentID string) (model.Appointment, error) {
	a, err := s.deps.Appointments.GetByID(ctx, appointmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Appointment{}, ErrNotFound
	}
	if err != nil {
		return model.Appointment{}, err
	}
	if !actor.Owns(auth.RoleDoctor, a.DoctorID) && !actor.Owns(auth.RoleClinic, a.ClinicID) {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

// CompleteConsultation records the consultation outcome and completes the appointment.
// Completing again revises the same record.
func (s *Service) CompleteConsultation(ctx context.Context, actor auth.Actor, appointmentID string, in ConsultationInput) (ConsultationResult, error) {
	appt, err := s.loadForCare(ctx, actor, appointmentID)
	if err != nil {
		return ConsultationResult{}, err
	}
	if !model.CanTransition(appt.Status, model.StatusCompleted) {
		return ConsultationResult{}, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, appt.Status, model.StatusCompleted)
	}
	if len(in.Vitals) > 0 && !json.Valid(in.Vitals) {
		return ConsultationResult{}, fmt.Errorf("%w: vitals must be json", ErrInvalidRequest)
	}

	log := s.logger.With("appointment_id", appointmentID)
	report := workflow.NewReport("complete_consultation", log, s.deps.Observer)

	doctorID := appt.DoctorID
	if doctorID == "" && actor.Is(auth.RoleDoctor) {
		doctorID = actor.ID
	}
	var (
		rec     model.MedicalRecord
		created bool
	)
	err = report.Step(ctx, "upsert_record", workflow.Fatal, func(ctx context.Context) error {
		var err error
		rec, created, err = s.registry.Upsert(ctx, s.deps.Records, model.MedicalRecord{
			PatientID:     appt.PatientID,
			AppointmentID: appt.ID,
			DoctorID:      doctorID,
			ClinicID:      appt.ClinicID,
			RecordType:    model.RecordConsultation,
			Title:         "Consultation on " + appt.Date,
			Diagnosis:     strings.TrimSpace(in.Diagnosis),
			Treatment:     strings.TrimSpace(in.Treatment),
			Vitals:        in.Vitals,
			Notes:         strings.TrimSpace(in.Notes),
		})
		return err
	})
	if err != nil {
		return ConsultationResult{}, err
	}

	firstCompletion := appt.Status != model.StatusCompleted
	if firstCompletion {
		err = report.Step(ctx, "complete_appointment", workflow.Fatal, func(ctx context.Context) error {
			updated, err := s.deps.Appointments.UpdateStatus(ctx, appt.ID, appt.Status, model.StatusCompleted, "")
			if err != nil {
				return err
			}
			appt = updated
			return nil
		})
		if err != nil {
			return ConsultationResult{}, err
		}
	}

	if appt.DoctorID != "" {
		_ = report.Step(ctx, "mirror_status", workflow.Warning, func(ctx context.Context) error {
			return s.deps.Mirrors.SetStatus(ctx, appt.ID, model.StatusCompleted)
		})
	}
	if firstCompletion {
		_ = report.Step(ctx, "rating_prompt", workflow.Warning, func(ctx context.Context) error {
			_, err := s.deps.Notifier.Notify(ctx, notify.RatingPrompt(appt))
			return err
		})
	}

	log.InfoContext(ctx, "consultation recorded", "record_id", rec.ID, "created", created)
	return ConsultationResult{Appointment: appt, Record: rec, Created: created, Warnings: report.Messages()}, nil
}

type PrescriptionInput struct {
	ID            string             `json:"id,omitempty"`
	AppointmentID string             `json:"appointment_id"`
	Medications   []model.Medication `json:"medications"`
	Instructions  string             `json:"instructions,omitempty"`
	Status        string             `json:"status,omitempty"`
}

type PrescriptionResult struct {
	Prescription model.Prescription   `json:"prescription"`
	Record       *model.MedicalRecord `json:"record,omitempty"`
	Warnings     []string             `json:"warnings,omitempty"`
}

func validatePrescription(in PrescriptionInput) error {
	if in.AppointmentID == "" {
		return fmt.Errorf("%w: appointment_id is required", ErrInvalidRequest)
	}
	if len(in.Medications) == 0 {
		return fmt.Errorf("%w: at least one medication is required", ErrInvalidRequest)
	}
	for i, m := range in.Medications {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("%w: medication %d has no name", ErrInvalidRequest, i+1)
		}
	}
	switch in.Status {
	case "", "active", "completed", "cancelled":
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, in.Status)
	}
	if in.ID != "" {
		if _, err := uuid.Parse(in.ID); err != nil {
			return fmt.Errorf("%w: id must be a uuid", ErrInvalidRequest)
		}
	}
	return nil
}

// CreatePrescription saves the prescription and mirrors it into the patient's records.
func (s *Service) CreatePrescription(ctx context.Context, actor auth.Actor, in PrescriptionInput) (PrescriptionResult, error) {
	if err := validatePrescription(in); err != nil {
		return PrescriptionResult{}, err
	}
	appt, err := s.loadForCare(ctx, actor, in.AppointmentID)
	if err != nil {
		return PrescriptionResult{}, err
	}
	doctorID := appt.DoctorID
	if actor.Is(auth.RoleDoctor) {
		doctorID = actor.ID
	}
	if doctorID == "" {
		return PrescriptionResult{}, fmt.Errorf("%w: appointment has no doctor assigned", ErrInvalidRequest)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}

	report := workflow.NewReport("create_prescription", s.logger.With("prescription_id", in.ID), s.deps.Observer)
	var p model.Prescription
	err = report.Step(ctx, "upsert_prescription", workflow.Fatal, func(ctx context.Context) error {
		var err error
		p, err = s.deps.Prescriptions.Upsert(ctx, model.Prescription{
			ID:            in.ID,
			PatientID:     appt.PatientID,
			DoctorID:      doctorID,
			ClinicID:      appt.ClinicID,
			AppointmentID: appt.ID,
			Medications:   in.Medications,
			Instructions:  strings.TrimSpace(in.Instructions),
			Status:        in.Status,
		})
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return PrescriptionResult{}, fmt.Errorf("%w: prescription %s", ErrNotFound, in.ID)
	}
	if err != nil {
		return PrescriptionResult{}, err
	}

	var rec *model.MedicalRecord
	_ = report.Step(ctx, "upsert_record", workflow.Warning, func(ctx context.Context) error {
		out, _, err := s.registry.Upsert(ctx, s.deps.Records, model.MedicalRecord{
			PatientID:     p.PatientID,
			AppointmentID: p.AppointmentID,
			DoctorID:      p.DoctorID,
			ClinicID:      p.ClinicID,
			RecordType:    model.RecordPrescription,
			SourceID:      p.ID,
			Title:         "Prescription",
			Description:   describeMedications(p.Medications),
			Notes:         p.Instructions,
		})
		if err != nil {
			return err
		}
		rec = &out
		return nil
	})
	return PrescriptionResult{Prescription: p, Record: rec, Warnings: report.Messages()}, nil
}

func describeMedications(meds []model.Medication) string {
	parts := make([]string, 0, len(meds))
	for _, m := range meds {
		fields := []string{m.Name}
		for _, f := range []string{m.Dosage, m.Frequency, m.Duration} {
			if f != "" {
				fields = append(fields, f)
			}
		}
		parts = append(parts, strings.Join(fields, " "))
	}
	return strings.Join(parts, "; ")
}
