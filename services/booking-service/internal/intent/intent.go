// Package intent keeps the pending booking alive across the payment redirect.
package intent

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrNotFound           = errors.New("pending booking not found")
	ErrIncompleteMetadata = errors.New("checkout metadata is missing booking fields")
)

// maxMetadataValue is the per-value limit processors enforce on metadata.
const maxMetadataValue = 500

// PendingBooking is everything needed to materialise the appointment once payment
// clears. It is not durable: the gateway metadata bag is the fallback copy.
type PendingBooking struct {
	SessionID       string    `json:"session_id"`
	CheckoutURL     string    `json:"checkout_url,omitempty"`
	PatientID       string    `json:"patient_id"`
	PatientName     string    `json:"patient_name,omitempty"`
	PatientEmail    string    `json:"patient_email,omitempty"`
	PatientPhone    string    `json:"patient_phone,omitempty"`
	ClinicID        string    `json:"clinic_id"`
	ClinicName      string    `json:"clinic_name,omitempty"`
	Date            string    `json:"appointment_date"`
	Time            string    `json:"appointment_time"`
	Type            string    `json:"appointment_type"`
	Notes           string    `json:"notes,omitempty"`
	ConsultationFee float64   `json:"consultation_fee"`
	BookingFee      float64   `json:"booking_fee"`
	TotalAmount     float64   `json:"total_amount"`
	Currency        string    `json:"currency"`
	CreatedAt       time.Time `json:"created_at"`
}

// Metadata keys written to the checkout session.
const (
	keyPatientID       = "patient_id"
	keyPatientName     = "patient_name"
	keyPatientEmail    = "patient_email"
	keyPatientPhone    = "patient_phone"
	keyClinicID        = "clinic_id"
	keyClinicName      = "clinic_name"
	keyDate            = "appointment_date"
	keyTime            = "appointment_time"
	keyType            = "appointment_type"
	keyNotes           = "notes"
	keyConsultationFee = "consultation_fee"
	keyBookingFee      = "booking_fee"
	keyTotalAmount     = "total_amount"
	keyCurrency        = "currency"
)

// Metadata flattens the booking into the processor's string map.
func (p PendingBooking) Metadata() map[string]string {
	m := map[string]string{
		keyPatientID:       p.PatientID,
		keyPatientName:     p.PatientName,
		keyPatientEmail:    p.PatientEmail,
		keyPatientPhone:    p.PatientPhone,
		keyClinicID:        p.ClinicID,
		keyClinicName:      p.ClinicName,
		keyDate:            p.Date,
		keyTime:            p.Time,
		keyType:            p.Type,
		keyNotes:           p.Notes,
		keyConsultationFee: formatAmount(p.ConsultationFee),
		keyBookingFee:      formatAmount(p.BookingFee),
		keyTotalAmount:     formatAmount(p.TotalAmount),
		keyCurrency:        p.Currency,
	}
	for k, v := range m {
		if v == "" {
			delete(m, k)
			continue
		}
		m[k] = truncate(v, maxMetadataValue)
	}
	return m
}

// FromMetadata rebuilds a booking from a checkout session's metadata echo.
func FromMetadata(sessionID string, m map[string]string) (PendingBooking, error) {
	p := PendingBooking{
		SessionID:    sessionID,
		PatientID:    m[keyPatientID],
		PatientName:  m[keyPatientName],
		PatientEmail: m[keyPatientEmail],
		PatientPhone: m[keyPatientPhone],
		ClinicID:     m[keyClinicID],
		ClinicName:   m[keyClinicName],
		Date:         m[keyDate],
		Time:         m[keyTime],
		Type:         m[keyType],
		Notes:        m[keyNotes],
		Currency:     m[keyCurrency],
	}

	var missing []string
	for k, v := range map[string]string{keyPatientID: p.PatientID, keyClinicID: p.ClinicID, keyDate: p.Date, keyTime: p.Time} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return PendingBooking{}, fmt.Errorf("%w: %s", ErrIncompleteMetadata, strings.Join(missing, ", "))
	}

	var err error
	if p.ConsultationFee, err = parseAmount(m[keyConsultationFee]); err != nil {
		return PendingBooking{}, fmt.Errorf("%w: consultation_fee: %v", ErrIncompleteMetadata, err)
	}
	if p.BookingFee, err = parseAmount(m[keyBookingFee]); err != nil {
		return PendingBooking{}, fmt.Errorf("%w: booking_fee: %v", ErrIncompleteMetadata, err)
	}
	if p.TotalAmount, err = parseAmount(m[keyTotalAmount]); err != nil {
		return PendingBooking{}, fmt.Errorf("%w: total_amount: %v", ErrIncompleteMetadata, err)
	}
	return p, nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func parseAmount(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
