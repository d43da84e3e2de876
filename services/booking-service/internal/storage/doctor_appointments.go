package storage

import (
	"context"

	"github.com/igabaycare/carebook/libs/db"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
)

const doctorAppointmentColumns = `
	id::text, appointment_id::text, doctor_id::text, patient_id::text,
	COALESCE(patient_name, ''), COALESCE(patient_email, ''), COALESCE(patient_phone, ''),
	to_char(appointment_date, 'YYYY-MM-DD'), to_char(appointment_time, 'HH24:MI'), appointment_type,
	duration_minutes, payment_amount::float8, priority, status, COALESCE(notes, ''), created_at, updated_at`

// DoctorAppointmentRepository stores the doctor-facing mirror of an appointment.
// There is at most one mirror row per appointment.
type DoctorAppointmentRepository struct {
	conn db.DBTX
}

func NewDoctorAppointmentRepository(conn db.DBTX) *DoctorAppointmentRepository {
	return &DoctorAppointmentRepository{conn: conn}
}

func (r *DoctorAppointmentRepository) GetByAppointment(ctx context.Context, appointmentID string) (model.DoctorAppointment, error) {
	d, err := scanDoctorAppointment(r.conn.QueryRow(ctx,
		`SELECT `+doctorAppointmentColumns+` FROM doctor_appointments WHERE appointment_id = $1`, appointmentID))
	if db.IsNotFound(err) {
		return model.DoctorAppointment{}, ErrNotFound
	}
	return d, err
}

// Upsert creates the mirror or reassigns an existing one to d's doctor and slot.
func (r *DoctorAppointmentRepository) Upsert(ctx context.Context, d model.DoctorAppointment) (model.DoctorAppointment, error) {
	d.ApplyDefaults()
	return scanDoctorAppointment(r.conn.QueryRow(ctx, `
		INSERT INTO doctor_appointments (
			appointment_id, doctor_id, patient_id, patient_name, patient_email, patient_phone,
			appointment_date, appointment_time, appointment_type, duration_minutes, payment_amount, priority, status, notes
		)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7::date, $8::time, $9, $10, $11, $12, $13, NULLIF($14, ''))
		ON CONFLICT (appointment_id) DO UPDATE SET
			doctor_id = EXCLUDED.doctor_id,
			appointment_date = EXCLUDED.appointment_date,
			appointment_time = EXCLUDED.appointment_time,
			appointment_type = EXCLUDED.appointment_type,
			duration_minutes = EXCLUDED.duration_minutes,
			payment_amount = EXCLUDED.payment_amount,
			priority = EXCLUDED.priority,
			status = EXCLUDED.status,
			notes = COALESCE(EXCLUDED.notes, doctor_appointments.notes),
			updated_at = now()
		RETURNING `+doctorAppointmentColumns,
		d.AppointmentID, d.DoctorID, d.PatientID, d.PatientName, d.PatientEmail, d.PatientPhone,
		d.Date, d.Time, string(d.Type), d.DurationMinutes, d.PaymentAmount, string(d.Priority), string(d.Status), d.Notes,
	))
}

// SetPatientContact overwrites the denormalised patient fields on the mirror.
func (r *DoctorAppointmentRepository) SetPatientContact(ctx context.Context, appointmentID, name, email, phone string) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE doctor_appointments
		SET patient_name = $2, patient_email = NULLIF($3, ''), patient_phone = NULLIF($4, ''), updated_at = now()
		WHERE appointment_id = $1
	`, appointmentID, name, email, phone)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus updates the mirror's status. A missing mirror is reported as ErrNotFound.
func (r *DoctorAppointmentRepository) SetStatus(ctx context.Context, appointmentID string, status model.AppointmentStatus) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE doctor_appointments SET status = $2, updated_at = now() WHERE appointment_id = $1
	`, appointmentID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDoctorAppointment(row rowScanner) (model.DoctorAppointment, error) {
	var (
		d                      model.DoctorAppointment
		typ, priority, status string
	)
	err := row.Scan(
		&d.ID, &d.AppointmentID, &d.DoctorID, &d.PatientID,
		&d.PatientName, &d.PatientEmail, &d.PatientPhone,
		&d.Date, &d.Time, &typ,
		&d.DurationMinutes, &d.PaymentAmount, &priority, &status, &d.Notes, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return model.DoctorAppointment{}, err
	}
	d.Type = model.AppointmentType(typ)
	d.Priority = model.Priority(priority)
	d.Status = model.AppointmentStatus(status)
	return d, nil
}
