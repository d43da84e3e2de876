package model

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTransition = errors.New("invalid appointment status transition")

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	DefaultDurationMinutes = 30
)

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no_show"
)

// ActiveStatuses are the statuses that hold a slot.
var ActiveStatuses = []AppointmentStatus{StatusScheduled, StatusConfirmed}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type AppointmentType string

const (
	TypeConsultation    AppointmentType = "consultation"
	TypeFollowUp        AppointmentType = "follow_up"
	TypeEmergency       AppointmentType = "emergency"
	TypeRoutineCheckup  AppointmentType = "routine_checkup"
	TypeSpecialistVisit AppointmentType = "specialist_visit"
	TypeVaccination     AppointmentType = "vaccination"
	TypeProcedure       AppointmentType = "procedure"
	TypeOther           AppointmentType = "other"
)

func ParseAppointmentType(v string) (AppointmentType, bool) {
	switch t := AppointmentType(v); t {
	case TypeConsultation, TypeFollowUp, TypeEmergency, TypeRoutineCheckup,
		TypeSpecialistVisit, TypeVaccination, TypeProcedure, TypeOther:
		return t, true
	case "":
		return TypeConsultation, true
	default:
		return "", false
	}
}

type Appointment struct {
	ID                 string            `json:"id"`
	PatientID          string            `json:"patient_id"`
	ClinicID           string            `json:"clinic_id"`
	DoctorID           string            `json:"doctor_id,omitempty"`
	DoctorName         string            `json:"doctor_name,omitempty"`
	DoctorSpecialty    string            `json:"doctor_specialty,omitempty"`
	PatientName        string            `json:"patient_name,omitempty"`
	PatientEmail       string            `json:"patient_email,omitempty"`
	PatientPhone       string            `json:"patient_phone,omitempty"`
	Date               string            `json:"appointment_date"`
	Time               string            `json:"appointment_time"`
	DurationMinutes    int               `json:"duration_minutes"`
	Type               AppointmentType   `json:"appointment_type"`
	Status             AppointmentStatus `json:"status"`
	Priority           Priority          `json:"priority"`
	PaymentMethod      string            `json:"payment_method,omitempty"`
	PaymentStatus      PaymentStatus     `json:"payment_status"`
	PaymentIntentID    string            `json:"payment_intent_id,omitempty"`
	ConsultationFee    float64           `json:"consultation_fee"`
	BookingFee         float64           `json:"booking_fee"`
	TotalAmount        float64           `json:"total_amount"`
	Notes              string            `json:"notes,omitempty"`
	CancellationReason string            `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// StartsAt combines the date and time columns in loc.
func (a Appointment) StartsAt(loc *time.Location) (time.Time, error) {
	return ParseSlot(a.Date, a.Time, loc)
}

func ParseSlot(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid appointment slot %q %q: %w", date, clock, err)
	}
	return t, nil
}

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled:  {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusNoShow},
	// Re-completing lets a doctor revise consultation notes.
	StatusCompleted: {StatusCompleted},
}

func CanTransition(from, to AppointmentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition applies the status machine and the payment-first rule: an unpaid
// appointment only becomes confirmed by manual clinic confirmation.
func CheckTransition(a Appointment, to AppointmentStatus, manualConfirm bool) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	if to == StatusConfirmed && a.PaymentStatus != PaymentPaid && !manualConfirm {
		return fmt.Errorf("%w: confirmation requires payment or clinic approval", ErrInvalidTransition)
	}
	return nil
}
