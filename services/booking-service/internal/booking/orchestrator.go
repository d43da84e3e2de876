// Package booking drives the payment-gated booking flow: quote, checkout, verification
// and finalization, plus the clinic-side appointment lifecycle.
package booking

import (
	"context"
	"log/slog"
	"time"

	"github.com/igabaycare/carebook/libs/auth"
	"github.com/igabaycare/carebook/libs/metrics"
	"github.com/igabaycare/carebook/libs/paygateway"
	"github.com/igabaycare/carebook/services/booking-service/internal/intent"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
	"github.com/igabaycare/carebook/services/booking-service/internal/notify"
	"github.com/igabaycare/carebook/services/booking-service/internal/pricing"
	"github.com/igabaycare/carebook/services/booking-service/internal/storage"
)

type Appointments interface {
	GetByID(ctx context.Context, id string) (model.Appointment, error)
	FindByPaymentIntent(ctx context.Context, sessionID string) (model.Appointment, error)
	CreatePaid(ctx context.Context, a model.Appointment, link storage.PaymentLink) (model.Appointment, error)
	Create(ctx context.Context, a model.Appointment) (model.Appointment, error)
	HasActiveBooking(ctx context.Context, patientID, clinicID, date, clock string) (bool, error)
	TakenTimes(ctx context.Context, clinicID, date string) ([]string, error)
	ListForActor(ctx context.Context, actor auth.Actor, f storage.ListFilter) ([]model.Appointment, error)
	UpdateStatus(ctx context.Context, id string, from, to model.AppointmentStatus, reason string) (model.Appointment, error)
}

type Directory interface {
	GetPatient(ctx context.Context, id string) (model.Patient, error)
	GetClinic(ctx context.Context, id string) (model.Clinic, error)
}

type Mirrors interface {
	SetStatus(ctx context.Context, appointmentID string, status model.AppointmentStatus) error
}

type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) (model.Notification, error)
}

type Config struct {
	Currency string
	// BookingFee is the platform fee in major units; nil means pricing.DefaultBookingFee.
	// Zero is a valid fee.
	BookingFee *float64
	// SuccessURL may contain a provider placeholder such as {CHECKOUT_SESSION_ID}.
	SuccessURL         string
	CancelURL          string
	PaymentMethodTypes []string
	MaxAttempts        int
	Backoff            []time.Duration
	Location           *time.Location
}

func (c *Config) applyDefaults() {
	if c.Currency == "" {
		c.Currency = "PHP"
	}
	if c.BookingFee == nil {
		fee := pricing.DefaultBookingFee
		c.BookingFee = &fee
	}
	if len(c.PaymentMethodTypes) == 0 {
		c.PaymentMethodTypes = []string{"gcash"}
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if len(c.Backoff) == 0 {
		c.Backoff = []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
}

type Deps struct {
	Gateway      paygateway.Gateway
	Intents      intent.Store
	Appointments Appointments
	Directory    Directory
	Mirrors      Mirrors
	Notifier     Notifier
	Logger       *slog.Logger
	Metrics      *metrics.BookingMetrics
}

type Orchestrator struct {
	cfg          Config
	gateway      paygateway.Gateway
	intents      intent.Store
	appointments Appointments
	directory    Directory
	mirrors      Mirrors
	notifier     Notifier
	logger       *slog.Logger
	metrics      *metrics.BookingMetrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleep replaces the wait between verification polls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

func New(cfg Config, deps Deps, opts ...Option) *Orchestrator {
	cfg.applyDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:          cfg,
		gateway:      deps.Gateway,
		intents:      deps.Intents,
		appointments: deps.Appointments,
		directory:    deps.Directory,
		mirrors:      deps.Mirrors,
		notifier:     deps.Notifier,
		logger:       logger,
		metrics:      deps.Metrics,
		now:          time.Now,
		sleep:        sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ComputeCost prices a booking with the configured platform fee.
func (o *Orchestrator) ComputeCost(consultationFee float64) (pricing.Breakdown, error) {
	return pricing.ComputeCost(consultationFee, *o.cfg.BookingFee)
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	if attempt < len(o.cfg.Backoff) {
		return o.cfg.Backoff[attempt]
	}
	return o.cfg.Backoff[len(o.cfg.Backoff)-1]
}
