package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/igabaycare/carebook/libs/httpx"
	"github.com/igabaycare/carebook/services/booking-service/internal/booking"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
	"github.com/igabaycare/carebook/services/booking-service/internal/records"
	"github.com/igabaycare/carebook/services/booking-service/internal/storage"
)

// Appointments lists (GET) or books without payment (POST).
func (h *Handler) Appointments(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		q := r.URL.Query()
		f := storage.ListFilter{
			Status: model.AppointmentStatus(strings.TrimSpace(q.Get("status"))),
			From:   strings.TrimSpace(q.Get("from")),
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
				return
			}
			f.Limit = n
		}
		items, err := h.bookings.List(r.Context(), actor, f)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": items})
		return
	}

	var mb booking.ManualBooking
	if err := httpx.DecodeJSON(r, &mb); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	a, err := h.bookings.CreateAppointment(r.Context(), actor, mb)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, a)
}

type statusRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost, http.MethodPatch) {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.AppointmentID == "" || req.Status == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "appointment_id and status are required")
		return
	}
	res, err := h.bookings.UpdateStatus(r.Context(), actor, req.AppointmentID, model.AppointmentStatus(req.Status), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.AppointmentID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "appointment_id is required")
		return
	}
	res, err := h.bookings.Cancel(r.Context(), actor, req.AppointmentID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

type assignRequest struct {
	AppointmentID string `json:"appointment_id"`
	DoctorID      string `json:"doctor_id"`
}

func (h *Handler) AssignDoctor(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.AppointmentID == "" || req.DoctorID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "appointment_id and doctor_id are required")
		return
	}
	res, err := h.assigner.Assign(r.Context(), actor, req.AppointmentID, req.DoctorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

type completeRequest struct {
	AppointmentID string `json:"appointment_id"`
	records.ConsultationInput
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.AppointmentID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "appointment_id is required")
		return
	}
	res, err := h.clinical.CompleteConsultation(r.Context(), actor, req.AppointmentID, req.ConsultationInput)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Prescriptions(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var in records.PrescriptionInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	res, err := h.clinical.CreatePrescription(r.Context(), actor, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}
