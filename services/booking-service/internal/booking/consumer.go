package booking

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"

	"github.com/igabaycare/carebook/libs/auth"
	"github.com/igabaycare/carebook/libs/events"
	"github.com/igabaycare/carebook/libs/paygateway"
)

// HandleCheckoutPaid finalizes bookings announced by billing's paid-checkout events.
// It always rebuilds the booking from the session metadata. Only transient failures
// are returned, so the consumer retries those and skips the rest.
func (o *Orchestrator) HandleCheckoutPaid(ctx context.Context, msg kafka.Message) error {
	var evt events.CheckoutPaid
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		o.logger.ErrorContext(ctx, "malformed checkout paid event", "err", err)
		return nil
	}
	log := o.logger.With("session_id", evt.SessionID, "provider", evt.Provider)

	res, err := o.FinalizeBooking(ctx, FinalizeRequest{SessionID: evt.SessionID})
	switch {
	case err == nil:
		log.InfoContext(ctx, "checkout paid event applied", "appointment_id", res.Appointment.ID, "duplicate", res.Duplicate)
		return nil
	case errors.Is(err, ErrBookingDataMissing),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrPaymentNotCompleted),
		errors.Is(err, paygateway.ErrSessionNotFound),
		errors.Is(err, auth.ErrForbidden):
		log.ErrorContext(ctx, "checkout paid event cannot be applied", "err", err)
		return nil
	default:
		return err
	}
}
