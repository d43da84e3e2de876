package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/igabaycare/carebook/libs/httpx"
	"github.com/igabaycare/carebook/services/booking-service/internal/booking"
)

func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	clinicID, date := strings.TrimSpace(q.Get("clinic_id")), strings.TrimSpace(q.Get("date"))
	if clinicID == "" || date == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "clinic_id and date are required")
		return
	}
	slots, err := h.bookings.Slots(r.Context(), clinicID, date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"clinic_id": clinicID,
		"date":      date,
		"slots":     slots,
	})
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req booking.BookingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	quote, err := h.bookings.Quote(r.Context(), actor, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, quote)
}

// Checkout opens a hosted checkout. With ?redirect=1 the response is a 303 to
// the provider page instead of the JSON body.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req booking.BookingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	checkout, err := h.bookings.CreateCheckoutSession(r.Context(), actor, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("redirect") == "1" {
		url, _ := h.bookings.RedirectToPayment(checkout)
		http.Redirect(w, r, url, http.StatusSeeOther)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, checkout)
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	sessionID, err := h.bookings.ResolveSessionID(r.Context(), actor, r.URL.Query().Get("checkout_session_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	v, err := h.bookings.VerifyPayment(r.Context(), sessionID)
	if errors.Is(err, booking.ErrPaymentVerificationTimeout) {
		httpx.WriteJSON(w, http.StatusAccepted, retryBody{
			Error:     "payment_verification_timeout",
			Message:   "Payment is still being confirmed. Try again shortly.",
			Retryable: true,
			State:     string(v.State),
		})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

type finalizeRequest struct {
	SessionID string `json:"checkout_session_id"`
}

// Finalize turns a paid checkout into an appointment. The session id may come
// from the query, the body, or the caller's stored intent.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body finalizeRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
	}
	explicit := body.SessionID
	if explicit == "" {
		explicit = r.URL.Query().Get("checkout_session_id")
	}
	sessionID, err := h.bookings.ResolveSessionID(r.Context(), actor, explicit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.bookings.FinalizeBooking(r.Context(), booking.FinalizeRequest{SessionID: sessionID, ClientID: actor.ID})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, res)
}
