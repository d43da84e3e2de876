package assignment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igabaycare/carebook/libs/auth"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
	"github.com/igabaycare/carebook/services/booking-service/internal/notify"
	"github.com/igabaycare/carebook/services/booking-service/internal/storage"
)

type fakeAppointments struct {
	rows      map[string]model.Appointment
	updateErr error
}

func (f *fakeAppointments) GetByID(_ context.Context, id string) (model.Appointment, error) {
	a, ok := f.rows[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (f *fakeAppointments) UpdateDoctor(_ context.Context, id string, d model.Doctor) (model.Appointment, error) {
	if f.updateErr != nil {
		return model.Appointment{}, f.updateErr
	}
	a := f.rows[id]
	a.DoctorID, a.DoctorName, a.DoctorSpecialty = d.ID, d.FullName, d.Specialty
	f.rows[id] = a
	return a, nil
}

type fakeDirectory struct {
	doctors    map[string]model.Doctor
	patients   map[string]model.Patient
	patientErr error
}

func (d *fakeDirectory) GetDoctor(_ context.Context, id string) (model.Doctor, error) {
	doc, ok := d.doctors[id]
	if !ok {
		return model.Doctor{}, storage.ErrNotFound
	}
	return doc, nil
}

func (d *fakeDirectory) GetPatient(_ context.Context, id string) (model.Patient, error) {
	if d.patientErr != nil {
		return model.Patient{}, d.patientErr
	}
	return d.patients[id], nil
}

type fakeMirrors struct {
	rows       map[string]model.DoctorAppointment
	upsertErr  error
	contactErr error
}

func (m *fakeMirrors) Upsert(_ context.Context, d model.DoctorAppointment) (model.DoctorAppointment, error) {
	if m.upsertErr != nil {
		return model.DoctorAppointment{}, m.upsertErr
	}
	if existing, ok := m.rows[d.AppointmentID]; ok {
		d.PatientName = existing.PatientName
	}
	d.ID = "mirror-" + d.AppointmentID
	m.rows[d.AppointmentID] = d
	return d, nil
}

func (m *fakeMirrors) SetPatientContact(_ context.Context, appointmentID, name, email, phone string) error {
	if m.contactErr != nil {
		return m.contactErr
	}
	d, ok := m.rows[appointmentID]
	if !ok {
		return storage.ErrNotFound
	}
	d.PatientName, d.PatientEmail, d.PatientPhone = name, email, phone
	m.rows[appointmentID] = d
	return nil
}

type fakeNotifier struct {
	sent []notify.Notification
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, note notify.Notification) (model.Notification, error) {
	if n.err != nil {
		return model.Notification{}, n.err
	}
	n.sent = append(n.sent, note)
	return model.Notification{ID: "n-1"}, nil
}

type fixture struct {
	svc      *Service
	appts    *fakeAppointments
	dir      *fakeDirectory
	mirrors  *fakeMirrors
	notifier *fakeNotifier
}

func newFixture() *fixture {
	f := &fixture{
		appts: &fakeAppointments{rows: map[string]model.Appointment{
			// Denormalised patient fields were never filled for this booking.
			"appt-1": {ID: "appt-1", PatientID: "pat-1", ClinicID: "cli-1", Date: "2024-03-05", Time: "09:30",
				Status: model.StatusConfirmed, PaymentStatus: model.PaymentPaid, TotalAmount: 550},
		}},
		dir: &fakeDirectory{
			doctors: map[string]model.Doctor{
				"doc-1": {ID: "doc-1", ClinicID: "cli-1", FullName: "Dr. Reyes", Specialty: "Pediatrics", Email: "reyes@example.com"},
				"doc-9": {ID: "doc-9", ClinicID: "cli-9", FullName: "Dr. Elsewhere"},
			},
			patients: map[string]model.Patient{
				"pat-1": {ID: "pat-1", FirstName: "Juan", LastName: "Dela Cruz", Email: "juan@example.com", Phone: "+639171234567"},
			},
		},
		mirrors:  &fakeMirrors{rows: map[string]model.DoctorAppointment{}},
		notifier: &fakeNotifier{},
	}
	f.svc = NewService(f.appts, f.dir, f.mirrors, f.notifier, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	return f
}

var clinic = auth.Actor{ID: "cli-1", Role: auth.RoleClinic}

func TestAssignWritesFreshPatientNameToMirror(t *testing.T) {
	f := newFixture()
	res, err := f.svc.Assign(context.Background(), clinic, "appt-1", "doc-1")
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "doc-1", res.Appointment.DoctorID)
	assert.Equal(t, "Dr. Reyes", res.Appointment.DoctorName)

	require.NotNil(t, res.Mirror)
	mirror := f.mirrors.rows["appt-1"]
	assert.Equal(t, "Juan Dela Cruz", mirror.PatientName)
	assert.Equal(t, "juan@example.com", mirror.PatientEmail)
	assert.Equal(t, 30, mirror.DurationMinutes)
	assert.Equal(t, model.PriorityNormal, mirror.Priority)
	assert.Equal(t, 550.0, mirror.PaymentAmount)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "doc-1", f.notifier.sent[0].UserID)
	assert.Equal(t, model.NotifyDoctorAssigned, f.notifier.sent[0].Type)
}

func TestAssignOverwritesStaleMirrorPatientFields(t *testing.T) {
	f := newFixture()
	f.mirrors.rows["appt-1"] = model.DoctorAppointment{AppointmentID: "appt-1", PatientName: "Unknown"}

	_, err := f.svc.Assign(context.Background(), clinic, "appt-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Juan Dela Cruz", f.mirrors.rows["appt-1"].PatientName)
}

func TestAssignMirrorFailureIsWarning(t *testing.T) {
	f := newFixture()
	f.mirrors.upsertErr = errors.New("doctor_appointments unavailable")
	f.mirrors.contactErr = errors.New("doctor_appointments unavailable")

	res, err := f.svc.Assign(context.Background(), clinic, "appt-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", f.appts.rows["appt-1"].DoctorID, "assignment is kept")
	assert.Nil(t, res.Mirror)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "upsert_mirror")
	assert.Contains(t, res.Warnings[1], "mirror_patient_contact")
	assert.Len(t, f.notifier.sent, 1)
}

func TestAssignPatientLookupFailureSkipsMirror(t *testing.T) {
	f := newFixture()
	f.dir.patientErr = errors.New("patients unavailable")

	res, err := f.svc.Assign(context.Background(), clinic, "appt-1", "doc-1")
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "load_patient")
	assert.Empty(t, f.mirrors.rows)
}

func TestAssignFatalAndGuardFailures(t *testing.T) {
	ctx := context.Background()

	f := newFixture()
	f.appts.updateErr = errors.New("update failed")
	_, err := f.svc.Assign(ctx, clinic, "appt-1", "doc-1")
	require.Error(t, err)
	assert.Empty(t, f.mirrors.rows)
	assert.Empty(t, f.notifier.sent)

	f = newFixture()
	_, err = f.svc.Assign(ctx, clinic, "appt-1", "doc-9")
	assert.ErrorIs(t, err, ErrDoctorNotInClinic)

	_, err = f.svc.Assign(ctx, clinic, "appt-1", "doc-404")
	assert.ErrorIs(t, err, ErrUnknownDoctor)

	_, err = f.svc.Assign(ctx, auth.Actor{ID: "cli-2", Role: auth.RoleClinic}, "appt-1", "doc-1")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.svc.Assign(ctx, auth.Actor{ID: "pat-1", Role: auth.RolePatient}, "appt-1", "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Assign(ctx, auth.Actor{ID: "root", Role: auth.RoleAdmin}, "appt-1", "doc-1")
	assert.NoError(t, err)
}
