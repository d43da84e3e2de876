package storage

import (
	"context"

	"github.com/igabaycare/carebook/libs/db"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
)

// DirectoryRepository reads the patient, doctor and clinic profiles.
type DirectoryRepository struct {
	conn db.DBTX
}

func NewDirectoryRepository(conn db.DBTX) *DirectoryRepository {
	return &DirectoryRepository{conn: conn}
}

func (r *DirectoryRepository) GetPatient(ctx context.Context, id string) (model.Patient, error) {
	var p model.Patient
	err := r.conn.QueryRow(ctx, `
		SELECT id::text, COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(email, ''), COALESCE(phone, '')
		FROM patients WHERE id = $1
	`, id).Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Phone)
	if db.IsNotFound(err) {
		return model.Patient{}, ErrNotFound
	}
	return p, err
}

func (r *DirectoryRepository) GetDoctor(ctx context.Context, id string) (model.Doctor, error) {
	var d model.Doctor
	err := r.conn.QueryRow(ctx, `
		SELECT id::text, COALESCE(clinic_id::text, ''), full_name, COALESCE(specialty, ''), COALESCE(email, '')
		FROM doctors WHERE id = $1
	`, id).Scan(&d.ID, &d.ClinicID, &d.FullName, &d.Specialty, &d.Email)
	if db.IsNotFound(err) {
		return model.Doctor{}, ErrNotFound
	}
	return d, err
}

func (r *DirectoryRepository) GetClinic(ctx context.Context, id string) (model.Clinic, error) {
	var c model.Clinic
	err := r.conn.QueryRow(ctx, `
		SELECT id::text, name, COALESCE(email, ''), consultation_fee::float8,
		       to_char(opening_time, 'HH24:MI'), to_char(closing_time, 'HH24:MI'), slot_minutes, ml_validation_enabled
		FROM clinics WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.ConsultationFee, &c.OpeningTime, &c.ClosingTime, &c.SlotMinutes, &c.MLValidationEnabled)
	if db.IsNotFound(err) {
		return model.Clinic{}, ErrNotFound
	}
	return c, err
}
