// Package notify writes in-app notifications and queues their email/SMS delivery.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/igabaycare/carebook/libs/db"
	"github.com/igabaycare/carebook/libs/events"
	"github.com/igabaycare/carebook/libs/outbox"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
	"github.com/igabaycare/carebook/services/booking-service/internal/storage"
)

var ErrNotificationCreateFailed = errors.New("notification create failed")

// Deliver names the out-of-band recipients. Empty fields are skipped.
type Deliver struct {
	Email   string
	Phone   string
	Subject string
}

type Notification struct {
	UserID        string
	UserType      model.UserType
	Title         string
	Message       string
	Type          model.NotificationType
	AppointmentID string
	Deliver       Deliver
}

type Fanout struct {
	conn   db.DBTX
	repo   *storage.NotificationRepository
	outbox *outbox.Repository
	now    func() time.Time
}

func NewFanout(conn db.DBTX) *Fanout {
	return &Fanout{
		conn:   conn,
		repo:   storage.NewNotificationRepository(),
		outbox: outbox.NewRepository(),
		now:    time.Now,
	}
}

// Notify stores the notification and, in the same transaction, one delivery event per
// recipient. Callers treat failures as warnings.
func (f *Fanout) Notify(ctx context.Context, n Notification) (model.Notification, error) {
	if n.UserID == "" {
		return model.Notification{}, fmt.Errorf("%w: recipient is required", ErrNotificationCreateFailed)
	}
	var out model.Notification
	err := db.WithTx(ctx, f.conn, func(tx pgx.Tx) error {
		var err error
		out, err = f.repo.Insert(ctx, tx, model.Notification{
			UserID:        n.UserID,
			UserType:      n.UserType,
			Title:         n.Title,
			Message:       n.Message,
			Type:          n.Type,
			AppointmentID: n.AppointmentID,
		})
		if err != nil {
			return err
		}
		subject := n.Deliver.Subject
		if subject == "" {
			subject = n.Title
		}
		evts, err := events.DeliveryEvents(out.ID, subject, n.Message, n.Deliver.Email, n.Deliver.Phone, f.now())
		if err != nil {
			return err
		}
		for _, evt := range evts {
			if err := f.outbox.Insert(ctx, tx, evt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Notification{}, fmt.Errorf("%w: %v", ErrNotificationCreateFailed, err)
	}
	return out, nil
}

func BookingConfirmed(a model.Appointment, clinicName string) Notification {
	where := "the clinic"
	if clinicName != "" {
		where = clinicName
	}
	msg := fmt.Sprintf("Your appointment at %s on %s at %s is confirmed. We received your payment of %.2f.",
		where, a.Date, a.Time, a.TotalAmount)
	return Notification{
		UserID:        a.PatientID,
		UserType:      model.UserPatient,
		Title:         "Appointment confirmed",
		Message:       msg,
		Type:          model.NotifyAppointmentConfirmed,
		AppointmentID: a.ID,
		Deliver:       Deliver{Email: a.PatientEmail, Subject: "Payment received: appointment confirmed"},
	}
}

func RatingPrompt(a model.Appointment) Notification {
	return Notification{
		UserID:        a.PatientID,
		UserType:      model.UserPatient,
		Title:         "How was your visit?",
		Message:       fmt.Sprintf("Your appointment on %s is complete. Tell us how it went by leaving a rating.", a.Date),
		Type:          model.NotifyRatingRequest,
		AppointmentID: a.ID,
	}
}

func DoctorAssigned(a model.Appointment, doctor model.Doctor) Notification {
	patient := a.PatientName
	if patient == "" {
		patient = "a patient"
	}
	return Notification{
		UserID:        doctor.ID,
		UserType:      model.UserDoctor,
		Title:         "New appointment assigned",
		Message:       fmt.Sprintf("You have been assigned to %s on %s at %s.", patient, a.Date, a.Time),
		Type:          model.NotifyDoctorAssigned,
		AppointmentID: a.ID,
		Deliver:       Deliver{Email: doctor.Email},
	}
}

func Cancelled(a model.Appointment) Notification {
	msg := fmt.Sprintf("Your appointment on %s at %s was cancelled.", a.Date, a.Time)
	if a.CancellationReason != "" {
		msg += " Reason: " + a.CancellationReason
	}
	return Notification{
		UserID:        a.PatientID,
		UserType:      model.UserPatient,
		Title:         "Appointment cancelled",
		Message:       msg,
		Type:          model.NotifyAppointmentCancelled,
		AppointmentID: a.ID,
		Deliver:       Deliver{Email: a.PatientEmail, Phone: a.PatientPhone},
	}
}
