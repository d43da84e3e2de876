package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/igabaycare/carebook/libs/auth"
	"github.com/igabaycare/carebook/libs/httpx"
	"github.com/igabaycare/carebook/libs/paygateway"
	"github.com/igabaycare/carebook/services/booking-service/internal/assignment"
	"github.com/igabaycare/carebook/services/booking-service/internal/booking"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
	"github.com/igabaycare/carebook/services/booking-service/internal/pricing"
	"github.com/igabaycare/carebook/services/booking-service/internal/records"
	"github.com/igabaycare/carebook/services/booking-service/internal/storage"
)

// Bookings is implemented by *booking.Orchestrator.
type Bookings interface {
	Slots(ctx context.Context, clinicID, date string) ([]string, error)
	Quote(ctx context.Context, actor auth.Actor, req booking.BookingRequest) (booking.Quote, error)
	CreateCheckoutSession(ctx context.Context, actor auth.Actor, req booking.BookingRequest) (booking.Checkout, error)
	RedirectToPayment(c booking.Checkout) (string, booking.State)
	ResolveSessionID(ctx context.Context, actor auth.Actor, explicit string) (string, error)
	VerifyPayment(ctx context.Context, sessionID string) (booking.Verification, error)
	FinalizeBooking(ctx context.Context, req booking.FinalizeRequest) (booking.Finalized, error)
	List(ctx context.Context, actor auth.Actor, f storage.ListFilter) ([]model.Appointment, error)
	CreateAppointment(ctx context.Context, actor auth.Actor, mb booking.ManualBooking) (model.Appointment, error)
	UpdateStatus(ctx context.Context, actor auth.Actor, id string, to model.AppointmentStatus, reason string) (booking.StatusChange, error)
	Cancel(ctx context.Context, actor auth.Actor, id, reason string) (booking.StatusChange, error)
}

type Assigner interface {
	Assign(ctx context.Context, actor auth.Actor, appointmentID, doctorID string) (assignment.Result, error)
}

type Clinical interface {
	CompleteConsultation(ctx context.Context, actor auth.Actor, appointmentID string, in records.ConsultationInput) (records.ConsultationResult, error)
	CreatePrescription(ctx context.Context, actor auth.Actor, in records.PrescriptionInput) (records.PrescriptionResult, error)
}

type Handler struct {
	bookings Bookings
	assigner Assigner
	clinical Clinical
	logger   *slog.Logger
}

func New(bookings Bookings, assigner Assigner, clinical Clinical, logger *slog.Logger) *Handler {
	return &Handler{bookings: bookings, assigner: assigner, clinical: clinical, logger: logger}
}

// Register mounts every booking-service route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/public/slots", h.Slots)
	mux.HandleFunc("/api/v1/bookings/quote", h.Quote)
	mux.HandleFunc("/api/v1/bookings/checkout", h.Checkout)
	mux.HandleFunc("/api/v1/bookings/verify", h.Verify)
	mux.HandleFunc("/api/v1/bookings/finalize", h.Finalize)
	mux.HandleFunc("/api/v1/appointments", h.Appointments)
	mux.HandleFunc("/api/v1/appointments/status", h.UpdateStatus)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/appointments/assign-doctor", h.AssignDoctor)
	mux.HandleFunc("/api/v1/appointments/complete", h.Complete)
	mux.HandleFunc("/api/v1/prescriptions", h.Prescriptions)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	actor, err := auth.ActorFromRequest(r)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid actor")
		return auth.Actor{}, false
	}
	return actor, true
}

type supportBody struct {
	Error            string `json:"error"`
	Message          string `json:"message"`
	PaymentSucceeded bool   `json:"payment_succeeded"`
	SupportReference string `json:"support_reference"`
}

type retryBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	State     string `json:"state,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var support *booking.SupportError
	if errors.As(err, &support) {
		status, code := http.StatusInternalServerError, "appointment_creation_failed"
		if errors.Is(err, booking.ErrBookingDataMissing) {
			status, code = http.StatusUnprocessableEntity, "booking_data_missing"
		}
		h.logger.ErrorContext(r.Context(), "paid booking needs support", "err", err, "support_reference", support.SessionID)
		httpx.WriteJSON(w, status, supportBody{
			Error:            code,
			Message:          "Your payment was received but the booking could not be completed. Contact support with this reference.",
			PaymentSucceeded: true,
			SupportReference: support.SessionID,
		})
		return
	}
	if errors.Is(err, booking.ErrPaymentVerificationTimeout) {
		httpx.WriteJSON(w, http.StatusAccepted, retryBody{
			Error:     "payment_verification_timeout",
			Message:   "Payment is still being confirmed. Try again shortly.",
			Retryable: true,
			State:     string(booking.StatePaymentVerificationTimeout),
		})
		return
	}

	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "err", err, "path", r.URL.Path)
	}
	httpx.WriteError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrNoActor):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, assignment.ErrNotFound), errors.Is(err, records.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, paygateway.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, booking.ErrDuplicateAppointment):
		return http.StatusConflict, "duplicate_appointment"
	case errors.Is(err, booking.ErrSlotUnavailable):
		return http.StatusConflict, "slot_unavailable"
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, assignment.ErrClosedAppointment):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, pricing.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, booking.ErrInvalidRequest), errors.Is(err, records.ErrInvalidRequest),
		errors.Is(err, records.ErrMissingKey), errors.Is(err, paygateway.ErrInvalidRequest),
		errors.Is(err, assignment.ErrUnknownDoctor), errors.Is(err, assignment.ErrDoctorNotInClinic):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, booking.ErrBookingDataMissing):
		return http.StatusNotFound, "booking_data_missing"
	case errors.Is(err, booking.ErrPaymentNotCompleted):
		return http.StatusPaymentRequired, "payment_not_completed"
	case errors.Is(err, paygateway.ErrGatewayUnavailable), errors.Is(err, booking.ErrSessionCreationFailed):
		return http.StatusBadGateway, "gateway_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
