package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/igabaycare/carebook/libs/auth"
	"github.com/igabaycare/carebook/libs/db"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
)

const paymentIntentIndex = "appointments_payment_intent_id_key"

const appointmentColumns = `
	id::text, patient_id::text, clinic_id::text, COALESCE(doctor_id::text, ''),
	COALESCE(doctor_name, ''), COALESCE(doctor_specialty, ''),
	COALESCE(patient_name, ''), COALESCE(patient_email, ''), COALESCE(patient_phone, ''),
	to_char(appointment_date, 'YYYY-MM-DD'), to_char(appointment_time, 'HH24:MI'), duration_minutes,
	appointment_type, status, priority, COALESCE(payment_method, ''), payment_status,
	COALESCE(payment_intent_id, ''), consultation_fee::float8, booking_fee::float8, total_amount::float8,
	COALESCE(notes, ''), COALESCE(cancellation_reason, ''), cancelled_at, created_at, updated_at`

// PaymentLink is the ledger row linked to a paid appointment.
type PaymentLink struct {
	Provider    string
	SessionID   string
	AmountMinor int64
	Currency    string
}

type AppointmentRepository struct {
	conn db.DBTX
}

func NewAppointmentRepository(conn db.DBTX) *AppointmentRepository {
	return &AppointmentRepository{conn: conn}
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id string) (model.Appointment, error) {
	return r.getOne(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
}

func (r *AppointmentRepository) FindByPaymentIntent(ctx context.Context, sessionID string) (model.Appointment, error) {
	return r.getOne(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE payment_intent_id = $1`, sessionID)
}

func (r *AppointmentRepository) getOne(ctx context.Context, query string, args ...any) (model.Appointment, error) {
	a, err := scanAppointment(r.conn.QueryRow(ctx, query, args...))
	if db.IsNotFound(err) {
		return model.Appointment{}, ErrNotFound
	}
	return a, err
}

// CreatePaid inserts a confirmed, paid appointment and links the payment ledger row in
// the same transaction. ErrDuplicatePayment is returned when the session already has one.
func (r *AppointmentRepository) CreatePaid(ctx context.Context, a model.Appointment, link PaymentLink) (model.Appointment, error) {
	if a.PaymentIntentID == "" {
		return model.Appointment{}, errors.New("payment intent id is required")
	}
	err := db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		var err error
		a, err = insertAppointment(ctx, tx, a)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO payment_transactions (provider, provider_session_id, status, amount_minor, currency, appointment_id)
			VALUES ($1, $2, 'paid', $3, $4, $5)
			ON CONFLICT (provider_session_id) DO UPDATE
			SET appointment_id = EXCLUDED.appointment_id, status = 'paid', updated_at = now()
		`, link.Provider, link.SessionID, link.AmountMinor, link.Currency, a.ID)
		return err
	})
	if err != nil {
		if db.IsUniqueViolation(err) && db.ConstraintName(err) == paymentIntentIndex {
			return model.Appointment{}, ErrDuplicatePayment
		}
		return model.Appointment{}, err
	}
	return a, nil
}

// Create inserts an appointment outside the payment flow.
func (r *AppointmentRepository) Create(ctx context.Context, a model.Appointment) (model.Appointment, error) {
	return insertAppointment(ctx, r.conn, a)
}

func insertAppointment(ctx context.Context, conn db.DBTX, a model.Appointment) (model.Appointment, error) {
	if a.DurationMinutes <= 0 {
		a.DurationMinutes = model.DefaultDurationMinutes
	}
	if a.Priority == "" {
		a.Priority = model.PriorityNormal
	}
	err := conn.QueryRow(ctx, `
		INSERT INTO appointments (
			patient_id, clinic_id, patient_name, patient_email, patient_phone,
			appointment_date, appointment_time, duration_minutes, appointment_type, status, priority,
			payment_method, payment_status, payment_intent_id, consultation_fee, booking_fee, total_amount, notes
		)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6::date, $7::time, $8, $9, $10, $11,
			NULLIF($12, ''), $13, NULLIF($14, ''), $15, $16, $17, NULLIF($18, ''))
		RETURNING id::text, created_at, updated_at
	`, a.PatientID, a.ClinicID, a.PatientName, a.PatientEmail, a.PatientPhone,
		a.Date, a.Time, a.DurationMinutes, string(a.Type), string(a.Status), string(a.Priority),
		a.PaymentMethod, string(a.PaymentStatus), a.PaymentIntentID, a.ConsultationFee, a.BookingFee, a.TotalAmount, a.Notes,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Appointment{}, err
	}
	return a, nil
}

// HasActiveBooking reports whether the patient already holds the slot at the clinic.
func (r *AppointmentRepository) HasActiveBooking(ctx context.Context, patientID, clinicID, date, clock string) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE patient_id = $1 AND clinic_id = $2
			  AND appointment_date = $3::date AND appointment_time = $4::time
			  AND status IN ('scheduled', 'confirmed')
		)
	`, patientID, clinicID, date, clock).Scan(&exists)
	return exists, err
}

// TakenTimes returns the "HH:MM" starts already held at a clinic on date.
func (r *AppointmentRepository) TakenTimes(ctx context.Context, clinicID, date string) ([]string, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT to_char(appointment_time, 'HH24:MI')
		FROM appointments
		WHERE clinic_id = $1 AND appointment_date = $2::date AND status IN ('scheduled', 'confirmed')
		ORDER BY appointment_time
	`, clinicID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type ListFilter struct {
	Status model.AppointmentStatus
	From   string
	Limit  int
}

// ListForActor returns the appointments visible to the actor: a patient's own, a
// clinic's, or a doctor's assigned ones. Admins see everything.
func (r *AppointmentRepository) ListForActor(ctx context.Context, actor auth.Actor, f ListFilter) ([]model.Appointment, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	switch actor.Role {
	case auth.RolePatient:
		where = append(where, "patient_id = "+arg(actor.ID))
	case auth.RoleClinic:
		where = append(where, "clinic_id = "+arg(actor.ID))
	case auth.RoleDoctor:
		where = append(where, "doctor_id = "+arg(actor.ID))
	case auth.RoleAdmin:
	default:
		return nil, auth.ErrForbidden
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.From != "" {
		where = append(where, "appointment_date >= "+arg(f.From)+"::date")
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY appointment_date DESC, appointment_time DESC LIMIT ` + arg(limit)

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AppointmentRepository) UpdateDoctor(ctx context.Context, id string, d model.Doctor) (model.Appointment, error) {
	return r.getOne(ctx, `
		UPDATE appointments
		SET doctor_id = $2, doctor_name = NULLIF($3, ''), doctor_specialty = NULLIF($4, ''), updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns, id, d.ID, d.FullName, d.Specialty)
}

// UpdateStatus moves an appointment from one status to another. ErrConflict is returned
// when the stored status is no longer from.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, id string, from, to model.AppointmentStatus, reason string) (model.Appointment, error) {
	a, err := scanAppointment(r.conn.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    cancellation_reason = CASE WHEN $3 = 'cancelled' THEN NULLIF($4, '') ELSE cancellation_reason END,
		    cancelled_at = CASE WHEN $3 = 'cancelled' THEN now() ELSE cancelled_at END,
		    updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+appointmentColumns, id, string(from), string(to), reason))
	if db.IsNotFound(err) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return model.Appointment{}, getErr
		}
		return model.Appointment{}, ErrConflict
	}
	return a, err
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var (
		a                                    model.Appointment
		typ, status, priority, paymentStatus string
		cancelledAt                          *time.Time
	)
	err := row.Scan(
		&a.ID, &a.PatientID, &a.ClinicID, &a.DoctorID,
		&a.DoctorName, &a.DoctorSpecialty,
		&a.PatientName, &a.PatientEmail, &a.PatientPhone,
		&a.Date, &a.Time, &a.DurationMinutes,
		&typ, &status, &priority, &a.PaymentMethod, &paymentStatus,
		&a.PaymentIntentID, &a.ConsultationFee, &a.BookingFee, &a.TotalAmount,
		&a.Notes, &a.CancellationReason, &cancelledAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Type = model.AppointmentType(typ)
	a.Status = model.AppointmentStatus(status)
	a.Priority = model.Priority(priority)
	a.PaymentStatus = model.PaymentStatus(paymentStatus)
	a.CancelledAt = cancelledAt
	return a, nil
}
