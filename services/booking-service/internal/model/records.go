package model

import (
	"encoding/json"
	"time"
)

type DoctorAppointment struct {
	ID              string            `json:"id"`
	AppointmentID   string            `json:"appointment_id"`
	DoctorID        string            `json:"doctor_id"`
	PatientID       string            `json:"patient_id"`
	PatientName     string            `json:"patient_name"`
	PatientEmail    string            `json:"patient_email,omitempty"`
	PatientPhone    string            `json:"patient_phone,omitempty"`
	Date            string            `json:"appointment_date"`
	Time            string            `json:"appointment_time"`
	Type            AppointmentType   `json:"appointment_type"`
	DurationMinutes int               `json:"duration_minutes"`
	PaymentAmount   float64           `json:"payment_amount"`
	Priority        Priority          `json:"priority"`
	Status          AppointmentStatus `json:"status"`
	Notes           string            `json:"notes,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// ApplyDefaults fills unset duration and priority. A zero payment amount is already the fallback.
func (d *DoctorAppointment) ApplyDefaults() {
	if d.DurationMinutes <= 0 {
		d.DurationMinutes = DefaultDurationMinutes
	}
	if d.Priority == "" {
		d.Priority = PriorityNormal
	}
	if d.PaymentAmount < 0 {
		d.PaymentAmount = 0
	}
}

type RecordType string

const (
	RecordConsultation RecordType = "consultation"
	RecordLabResult    RecordType = "lab_result"
	RecordPrescription RecordType = "prescription"
	RecordVaccination  RecordType = "vaccination"
	RecordSurgery      RecordType = "surgery"
	RecordImaging      RecordType = "imaging"
	RecordOther        RecordType = "other"
)

type MedicalRecord struct {
	ID            string          `json:"id"`
	PatientID     string          `json:"patient_id"`
	AppointmentID string          `json:"appointment_id,omitempty"`
	DoctorID      string          `json:"doctor_id,omitempty"`
	ClinicID      string          `json:"clinic_id,omitempty"`
	RecordType    RecordType      `json:"record_type"`
	SourceID      string          `json:"source_id,omitempty"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	Diagnosis     string          `json:"diagnosis,omitempty"`
	Treatment     string          `json:"treatment,omitempty"`
	Vitals        json.RawMessage `json:"vitals,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration,omitempty"`
}

type Prescription struct {
	ID            string       `json:"id"`
	PatientID     string       `json:"patient_id"`
	DoctorID      string       `json:"doctor_id"`
	ClinicID      string       `json:"clinic_id"`
	AppointmentID string       `json:"appointment_id,omitempty"`
	Medications   []Medication `json:"medications"`
	Instructions  string       `json:"instructions,omitempty"`
	Status        string       `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
