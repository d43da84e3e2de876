package records

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igabaycare/carebook/libs/auth"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
	"github.com/igabaycare/carebook/services/booking-service/internal/storage"
)

func TestCreatePrescriptionRejectsForeignPrescriptionID(t *testing.T) {
	f := newFixture(nil)
	f.appts.rows["appt-2"] = model.Appointment{
		ID: "appt-2", PatientID: "pat-2", ClinicID: "cli-2", DoctorID: "doc-2", Date: "2024-03-06", Status: model.StatusConfirmed,
	}
	ctx := context.Background()

	first, err := f.svc.CreatePrescription(ctx, doctor, PrescriptionInput{
		AppointmentID: "appt-1",
		Medications:   []model.Medication{{Name: "Amoxicillin", Dosage: "500mg"}},
		Instructions:  "Three times a day",
	})
	require.NoError(t, err)

	_, err = f.svc.CreatePrescription(ctx, auth.Actor{ID: "doc-2", Role: auth.RoleDoctor}, PrescriptionInput{
		ID:            first.Prescription.ID,
		AppointmentID: "appt-2",
		Medications:   []model.Medication{{Name: "Tampered"}},
		Instructions:  "written by doc-2",
	})
	assert.ErrorIs(t, err, ErrNotFound)

	require.Len(t, f.rx.saved, 1)
	assert.Equal(t, "pat-1", f.rx.saved[0].PatientID)
	assert.Equal(t, "Three times a day", f.rx.saved[0].Instructions)
	require.Len(t, f.records.rows, 1)
	assert.Equal(t, "pat-1", f.records.rows[0].PatientID)
	assert.Equal(t, "Three times a day", f.records.rows[0].Notes)
	assert.Equal(t, "Amoxicillin 500mg", f.records.rows[0].Description)
}

func TestRegistryUpsertRefusesAnotherPatientsRecord(t *testing.T) {
	store := &memRecords{rows: []model.MedicalRecord{{
		ID: "rec-1", PatientID: "pat-1", RecordType: model.RecordPrescription, SourceID: "rx-1", Notes: "original",
	}}}

	_, _, err := DefaultRegistry().Upsert(context.Background(), store, model.MedicalRecord{
		PatientID: "pat-2", RecordType: model.RecordPrescription, SourceID: "rx-1", Notes: "overwrite",
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, "original", store.rows[0].Notes)
}
