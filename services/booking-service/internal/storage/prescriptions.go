package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/igabaycare/carebook/libs/db"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
)

type PrescriptionRepository struct {
	conn db.DBTX
}

func NewPrescriptionRepository(conn db.DBTX) *PrescriptionRepository {
	return &PrescriptionRepository{conn: conn}
}

// Upsert writes the prescription keyed by its id. An existing id only updates when it belongs
// to the same patient and appointment; otherwise ErrNotFound.
func (r *PrescriptionRepository) Upsert(ctx context.Context, p model.Prescription) (model.Prescription, error) {
	meds, err := json.Marshal(p.Medications)
	if err != nil {
		return model.Prescription{}, fmt.Errorf("encode medications: %w", err)
	}
	if p.Status == "" {
		p.Status = "active"
	}
	err = r.conn.QueryRow(ctx, `
		INSERT INTO prescriptions (id, patient_id, doctor_id, clinic_id, appointment_id, medications, instructions, status)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, NULLIF($7, ''), $8)
		ON CONFLICT (id) DO UPDATE SET
			medications = EXCLUDED.medications,
			instructions = EXCLUDED.instructions,
			status = EXCLUDED.status,
			updated_at = now()
		WHERE prescriptions.patient_id = EXCLUDED.patient_id
		  AND prescriptions.appointment_id IS NOT DISTINCT FROM EXCLUDED.appointment_id
		RETURNING created_at, updated_at
	`, p.ID, p.PatientID, p.DoctorID, p.ClinicID, p.AppointmentID, meds, p.Instructions, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsNotFound(err) {
		return model.Prescription{}, ErrNotFound
	}
	if err != nil {
		return model.Prescription{}, err
	}
	return p, nil
}
