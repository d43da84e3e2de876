package jobs

import (
	"context"
	"time"

	"github.com/igabaycare/carebook/libs/db"
)

// Reminder is a confirmed appointment whose reminder has not been sent yet.
type Reminder struct {
	AppointmentID string
	PatientID     string
	PatientEmail  string
	PatientPhone  string
	ClinicName    string
	DoctorName    string
	Date          string
	Time          string
	StartsAt      time.Time
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// FetchDue locks up to limit confirmed appointments starting in [from, to]. Appointment
// date and time are wall-clock values in tz. Rows locked by a concurrent scan are skipped.
func (r *Repository) FetchDue(ctx context.Context, tx db.DBTX, tz string, from, to time.Time, limit int) ([]Reminder, error) {
	rows, err := tx.Query(ctx, `
		SELECT a.id::text, a.patient_id::text, COALESCE(a.patient_email, ''), COALESCE(a.patient_phone, ''),
		       COALESCE(c.name, ''), COALESCE(a.doctor_name, ''),
		       to_char(a.appointment_date, 'YYYY-MM-DD'), to_char(a.appointment_time, 'HH24:MI'),
		       (a.appointment_date + a.appointment_time) AT TIME ZONE $1
		FROM appointments a
		LEFT JOIN clinics c ON c.id = a.clinic_id
		WHERE a.status = 'confirmed'
		  AND a.reminder_sent_at IS NULL
		  AND (a.appointment_date + a.appointment_time) AT TIME ZONE $1 BETWEEN $2 AND $3
		ORDER BY a.appointment_date, a.appointment_time
		LIMIT $4
		FOR UPDATE OF a SKIP LOCKED
	`, tz, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var rem Reminder
		if err := rows.Scan(&rem.AppointmentID, &rem.PatientID, &rem.PatientEmail, &rem.PatientPhone,
			&rem.ClinicName, &rem.DoctorName, &rem.Date, &rem.Time, &rem.StartsAt); err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	return out, rows.Err()
}

func (r *Repository) InsertNotification(ctx context.Context, tx db.DBTX, rem Reminder, title, message string) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO notifications (user_id, user_type, title, message, type, appointment_id)
		VALUES ($1, 'patient', $2, $3, 'appointment_reminder', $4::uuid)
		RETURNING id::text
	`, rem.PatientID, title, message, rem.AppointmentID).Scan(&id)
	return id, err
}

func (r *Repository) MarkSent(ctx context.Context, tx db.DBTX, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent_at = now(), updated_at = now()
		WHERE id = ANY($1::uuid[])
	`, ids)
	return err
}
