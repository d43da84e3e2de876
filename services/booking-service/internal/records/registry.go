// Package records keeps medical records in step with consultations and prescriptions.
package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/igabaycare/carebook/libs/db"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
	"github.com/igabaycare/carebook/services/booking-service/internal/storage"
)

// KeySpec names the column that identifies the single record of a type. An empty
// Column makes the type append-only.
type KeySpec struct {
	Column   string
	Optional bool
}

// Registry maps each record type to its natural key.
type Registry map[model.RecordType]KeySpec

func DefaultRegistry() Registry {
	return Registry{
		model.RecordConsultation: {Column: storage.KeyAppointmentID},
		model.RecordPrescription: {Column: storage.KeySourceID},
		model.RecordLabResult:    {Column: storage.KeySourceID},
		model.RecordImaging:      {Column: storage.KeySourceID},
		model.RecordVaccination:  {Column: storage.KeySourceID, Optional: true},
		model.RecordSurgery:      {Column: storage.KeySourceID, Optional: true},
		model.RecordOther:        {Column: storage.KeySourceID, Optional: true},
	}
}

var ErrMissingKey = errors.New("record is missing its key")

type RecordStore interface {
	FindByKey(ctx context.Context, recordType model.RecordType, column, value string) (model.MedicalRecord, error)
	Insert(ctx context.Context, rec model.MedicalRecord) (model.MedicalRecord, error)
	Update(ctx context.Context, id string, rec model.MedicalRecord) (model.MedicalRecord, error)
}

func keyValue(rec model.MedicalRecord, column string) string {
	switch column {
	case storage.KeyAppointmentID:
		return rec.AppointmentID
	case storage.KeySourceID:
		return rec.SourceID
	}
	return ""
}

// Upsert writes rec under its type's key: the matching record is updated, otherwise a
// new one is inserted. Losing an insert race to a concurrent writer turns into an update.
func (r Registry) Upsert(ctx context.Context, store RecordStore, rec model.MedicalRecord) (model.MedicalRecord, bool, error) {
	spec, ok := r[rec.RecordType]
	if !ok {
		return model.MedicalRecord{}, false, fmt.Errorf("unknown record type %q", rec.RecordType)
	}
	value := keyValue(rec, spec.Column)
	if value == "" {
		if spec.Column != "" && !spec.Optional {
			return model.MedicalRecord{}, false, fmt.Errorf("%w: %s needs %s", ErrMissingKey, rec.RecordType, spec.Column)
		}
		out, err := store.Insert(ctx, rec)
		return out, err == nil, err
	}

	existing, err := store.FindByKey(ctx, rec.RecordType, spec.Column, value)
	switch {
	case err == nil:
		if existing.PatientID != rec.PatientID {
			return model.MedicalRecord{}, false, fmt.Errorf("%w: %s %s belongs to another patient", storage.ErrNotFound, spec.Column, value)
		}
		out, err := store.Update(ctx, existing.ID, rec)
		return out, false, err
	case !errors.Is(err, storage.ErrNotFound):
		return model.MedicalRecord{}, false, err
	}

	out, err := store.Insert(ctx, rec)
	if err == nil {
		return out, true, nil
	}
	if !db.IsUniqueViolation(err) {
		return model.MedicalRecord{}, false, err
	}
	existing, err = store.FindByKey(ctx, rec.RecordType, spec.Column, value)
	if err != nil {
		return model.MedicalRecord{}, false, err
	}
	if existing.PatientID != rec.PatientID {
		return model.MedicalRecord{}, false, fmt.Errorf("%w: %s %s belongs to another patient", storage.ErrNotFound, spec.Column, value)
	}
	out, err = store.Update(ctx, existing.ID, rec)
	return out, false, err
}
