package model

import "strings"

type Patient struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

func (p Patient) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
}

type Doctor struct {
	ID        string `json:"id"`
	ClinicID  string `json:"clinic_id"`
	FullName  string `json:"full_name"`
	Specialty string `json:"specialty"`
	Email     string `json:"email,omitempty"`
}

type Clinic struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	Email               string  `json:"email,omitempty"`
	ConsultationFee     float64 `json:"consultation_fee"`
	OpeningTime         string  `json:"opening_time"`
	ClosingTime         string  `json:"closing_time"`
	SlotMinutes         int     `json:"slot_minutes"`
	MLValidationEnabled bool    `json:"ml_validation_enabled"`
}

type UserType string

const (
	UserPatient UserType = "patient"
	UserClinic  UserType = "clinic"
	UserDoctor  UserType = "doctor"
)

type NotificationType string

const (
	NotifyAppointmentConfirmed NotificationType = "appointment_confirmed"
	NotifyAppointmentCompleted NotificationType = "appointment_completed"
	NotifyRatingRequest        NotificationType = "rating_request"
	NotifyAppointmentReminder  NotificationType = "appointment_reminder"
	NotifyAppointmentCancelled NotificationType = "appointment_cancelled"
	NotifyDoctorAssigned       NotificationType = "doctor_assigned"
	NotifyPaymentReceived      NotificationType = "payment_received"
	NotifySystem               NotificationType = "system"
)
