// Package delivery sends notifications requested over Kafka by email or SMS.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/igabaycare/carebook/libs/events"
	"github.com/igabaycare/carebook/libs/metrics"
	"github.com/igabaycare/carebook/services/notification-service/internal/email"
	"github.com/igabaycare/carebook/services/notification-service/internal/sms"
	"github.com/igabaycare/carebook/services/notification-service/internal/storage"
)

const defaultSubject = "IgabayCare notification"

type StatusStore interface {
	SetDeliveryStatus(ctx context.Context, id, status string) error
}

type Handler struct {
	store   StatusStore
	email   email.Sender
	sms     sms.Sender
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics
}

func NewHandler(store StatusStore, emailSender email.Sender, smsSender sms.Sender, logger *slog.Logger, m *metrics.PipelineMetrics) *Handler {
	return &Handler{store: store, email: emailSender, sms: smsSender, logger: logger, metrics: m}
}

// Handle sends one delivery request. A provider failure is recorded on the
// notification and not retried; only status persistence errors are returned.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	var req events.DeliveryRequested
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		h.logger.ErrorContext(ctx, "malformed delivery request", "err", err)
		return nil
	}
	log := h.logger.With("notification_id", req.NotificationID, "channel", req.Channel)
	if strings.TrimSpace(req.Recipient) == "" {
		log.WarnContext(ctx, "delivery request without recipient")
		return nil
	}

	var (
		provider string
		sendErr  error
	)
	switch req.Channel {
	case events.ChannelEmail:
		subject := req.Subject
		if subject == "" {
			subject = defaultSubject
		}
		provider = h.email.ProviderID()
		sendErr = h.email.Send(ctx, email.Message{To: req.Recipient, Subject: subject, Body: req.Body})
	case events.ChannelSMS:
		provider = h.sms.ProviderID()
		sendErr = h.sms.Send(ctx, req.Recipient, req.Body)
	default:
		log.WarnContext(ctx, "unknown delivery channel")
		return nil
	}

	status := storage.DeliverySent
	if sendErr != nil {
		status = storage.DeliveryFailed
		log.WarnContext(ctx, "delivery failed", "provider", provider, "err", sendErr)
	} else {
		log.InfoContext(ctx, "delivery sent", "provider", provider)
	}
	h.metrics.Delivery(req.Channel, status)

	if req.NotificationID == "" {
		return nil
	}
	if err := h.store.SetDeliveryStatus(ctx, req.NotificationID, status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.WarnContext(ctx, "delivery status for unknown notification")
			return nil
		}
		return err
	}
	return nil
}
