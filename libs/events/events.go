// Package events defines the payloads exchanged between services over Kafka.
package events

import (
	"strings"
	"time"

	"github.com/igabaycare/carebook/libs/kafkax"
	"github.com/igabaycare/carebook/libs/outbox"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// DeliveryRequested asks the notification service to send a notification out of band.
type DeliveryRequested struct {
	NotificationID string    `json:"notification_id"`
	Channel        string    `json:"channel"`
	Recipient      string    `json:"recipient"`
	Subject        string    `json:"subject,omitempty"`
	Body           string    `json:"body"`
	RequestedAt    time.Time `json:"requested_at"`
}

// CheckoutPaid is emitted by billing once a processor reports a checkout session paid.
type CheckoutPaid struct {
	Provider      string            `json:"provider"`
	SessionID     string            `json:"session_id"`
	AmountMinor   int64             `json:"amount_minor"`
	Currency      string            `json:"currency"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	PaidAt        time.Time         `json:"paid_at"`
}

// DeliveryEvents builds one outbox event per non-empty recipient.
func DeliveryEvents(notificationID, subject, body, email, phone string, now time.Time) ([]outbox.Event, error) {
	var out []outbox.Event
	add := func(channel, recipient string) error {
		if strings.TrimSpace(recipient) == "" {
			return nil
		}
		evt, err := outbox.NewEvent("notification", notificationID, kafkax.TopicDeliveryRequested, DeliveryRequested{
			NotificationID: notificationID,
			Channel:        channel,
			Recipient:      strings.TrimSpace(recipient),
			Subject:        subject,
			Body:           body,
			RequestedAt:    now.UTC(),
		})
		if err != nil {
			return err
		}
		out = append(out, evt)
		return nil
	}
	if err := add(ChannelEmail, email); err != nil {
		return nil, err
	}
	if err := add(ChannelSMS, phone); err != nil {
		return nil, err
	}
	return out, nil
}

func CheckoutPaidEvent(p CheckoutPaid) (outbox.Event, error) {
	return outbox.NewEvent("checkout_session", p.SessionID, kafkax.TopicCheckoutPaid, p)
}
