package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/igabaycare/carebook/libs/db"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
)

const medicalRecordColumns = `
	id::text, patient_id::text, COALESCE(appointment_id::text, ''), COALESCE(doctor_id::text, ''),
	COALESCE(clinic_id::text, ''), record_type, COALESCE(source_id, ''), title,
	COALESCE(description, ''), COALESCE(diagnosis, ''), COALESCE(treatment, ''), vitals,
	COALESCE(notes, ''), created_at, updated_at`

// Columns a record can be keyed on.
const (
	KeyAppointmentID = "appointment_id"
	KeySourceID      = "source_id"
)

type MedicalRecordRepository struct {
	conn db.DBTX
}

func NewMedicalRecordRepository(conn db.DBTX) *MedicalRecordRepository {
	return &MedicalRecordRepository{conn: conn}
}

// FindByKey returns the record of recordType whose key column equals value.
func (r *MedicalRecordRepository) FindByKey(ctx context.Context, recordType model.RecordType, column, value string) (model.MedicalRecord, error) {
	var query string
	switch column {
	case KeyAppointmentID:
		query = `SELECT ` + medicalRecordColumns + ` FROM medical_records WHERE record_type = $1 AND appointment_id = $2`
	case KeySourceID:
		query = `SELECT ` + medicalRecordColumns + ` FROM medical_records WHERE record_type = $1 AND source_id = $2`
	default:
		return model.MedicalRecord{}, fmt.Errorf("medical records cannot be keyed on %q", column)
	}
	rec, err := scanMedicalRecord(r.conn.QueryRow(ctx, query, string(recordType), value))
	if db.IsNotFound(err) {
		return model.MedicalRecord{}, ErrNotFound
	}
	return rec, err
}

func (r *MedicalRecordRepository) Insert(ctx context.Context, rec model.MedicalRecord) (model.MedicalRecord, error) {
	return scanMedicalRecord(r.conn.QueryRow(ctx, `
		INSERT INTO medical_records (
			patient_id, appointment_id, doctor_id, clinic_id, record_type, source_id,
			title, description, diagnosis, treatment, vitals, notes
		)
		VALUES ($1, NULLIF($2, '')::uuid, NULLIF($3, '')::uuid, NULLIF($4, '')::uuid, $5, NULLIF($6, ''),
			$7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, NULLIF($12, ''))
		RETURNING `+medicalRecordColumns,
		rec.PatientID, rec.AppointmentID, rec.DoctorID, rec.ClinicID, string(rec.RecordType), rec.SourceID,
		rec.Title, rec.Description, rec.Diagnosis, rec.Treatment, vitalsArg(rec.Vitals), rec.Notes,
	))
}

// Update rewrites the clinical fields of an existing record.
func (r *MedicalRecordRepository) Update(ctx context.Context, id string, rec model.MedicalRecord) (model.MedicalRecord, error) {
	out, err := scanMedicalRecord(r.conn.QueryRow(ctx, `
		UPDATE medical_records
		SET doctor_id = COALESCE(NULLIF($2, '')::uuid, doctor_id),
		    title = $3,
		    description = NULLIF($4, ''),
		    diagnosis = NULLIF($5, ''),
		    treatment = NULLIF($6, ''),
		    vitals = COALESCE($7, vitals),
		    notes = NULLIF($8, ''),
		    updated_at = now()
		WHERE id = $1 AND patient_id = $9
		RETURNING `+medicalRecordColumns,
		id, rec.DoctorID, rec.Title, rec.Description, rec.Diagnosis, rec.Treatment, vitalsArg(rec.Vitals), rec.Notes, rec.PatientID,
	))
	if db.IsNotFound(err) {
		return model.MedicalRecord{}, ErrNotFound
	}
	return out, err
}

func vitalsArg(v json.RawMessage) []byte {
	if len(v) == 0 {
		return nil
	}
	return []byte(v)
}

func scanMedicalRecord(row rowScanner) (model.MedicalRecord, error) {
	var (
		rec        model.MedicalRecord
		recordType string
		vitals     []byte
	)
	err := row.Scan(
		&rec.ID, &rec.PatientID, &rec.AppointmentID, &rec.DoctorID,
		&rec.ClinicID, &recordType, &rec.SourceID, &rec.Title,
		&rec.Description, &rec.Diagnosis, &rec.Treatment, &vitals,
		&rec.Notes, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return model.MedicalRecord{}, err
	}
	rec.RecordType = model.RecordType(recordType)
	if len(vitals) > 0 {
		rec.Vitals = json.RawMessage(vitals)
	}
	return rec, nil
}
