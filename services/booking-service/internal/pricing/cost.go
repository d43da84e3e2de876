package pricing

import (
	"errors"
	"fmt"
	"math"
)

// DefaultBookingFee is the platform fee added to every paid booking, in major units.
const DefaultBookingFee = 50.0

var ErrInvalidAmount = errors.New("invalid amount")

// Breakdown is the fee split shown to the patient and echoed into payment metadata.
type Breakdown struct {
	ConsultationFee float64 `json:"consultation_fee"`
	BookingFee      float64 `json:"booking_fee"`
	Total           float64 `json:"total_amount"`
}

// ComputeCost adds the two fees in whole centavos so typical currency values sum exactly.
func ComputeCost(consultationFee, bookingFee float64) (Breakdown, error) {
	c, err := toCentavos(consultationFee)
	if err != nil {
		return Breakdown{}, fmt.Errorf("consultation fee: %w", err)
	}
	b, err := toCentavos(bookingFee)
	if err != nil {
		return Breakdown{}, fmt.Errorf("booking fee: %w", err)
	}
	return Breakdown{
		ConsultationFee: fromCentavos(c),
		BookingFee:      fromCentavos(b),
		Total:           fromCentavos(c + b),
	}, nil
}

// ToMinorUnits converts a major-unit amount to the processor's integer minor units.
// The result must be a positive whole number.
func ToMinorUnits(amount float64) (int64, error) {
	c, err := toCentavos(amount)
	if err != nil {
		return 0, err
	}
	if c <= 0 {
		return 0, fmt.Errorf("%w: %v must be positive", ErrInvalidAmount, amount)
	}
	return c, nil
}

func FromMinorUnits(minor int64) float64 {
	return fromCentavos(minor)
}

func toCentavos(v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, v)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: %v is negative", ErrInvalidAmount, v)
	}
	scaled := v * 100
	rounded := math.Round(scaled)
	if math.Abs(scaled-rounded) > 1e-6 {
		return 0, fmt.Errorf("%w: %v has fractional minor units", ErrInvalidAmount, v)
	}
	if rounded > math.MaxInt64/2 {
		return 0, fmt.Errorf("%w: %v is too large", ErrInvalidAmount, v)
	}
	return int64(rounded), nil
}

func fromCentavos(c int64) float64 {
	return float64(c) / 100
}
