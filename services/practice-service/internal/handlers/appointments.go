package handlers

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/practicecore/libs/httpx"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/scheduler"
)

type createAppointmentRequest struct {
	LocationID string                  `json:"location_id"`
	StaffID    string                  `json:"staff_id"`
	ClientID   string                  `json:"client_id"`
	ServiceID  string                  `json:"service_id"`
	StartTime  time.Time               `json:"start_time"`
	EndTime    time.Time               `json:"end_time"`
	Notes      string                  `json:"notes"`
	Status     model.AppointmentStatus `json:"status"`
}

type updateAppointmentRequest struct {
	StartTime *time.Time               `json:"start_time"`
	EndTime   *time.Time               `json:"end_time"`
	Status    *model.AppointmentStatus `json:"status"`
	Notes     *string                  `json:"notes"`
	Reason    string                   `json:"reason"`
}

type appointmentResponse struct {
	Appointment model.Appointment `json:"appointment"`
	Settlement  *model.Settlement `json:"settlement,omitempty"`
}

type cancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, "failed to read request body")
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var req createAppointmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if !p.CanActFor(strings.TrimSpace(req.ClientID)) {
		forbidden(w)
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	sum := sha256.Sum256(body)
	res, err := h.Scheduler.Create(r.Context(), p.Org, scheduler.CreateRequest{
		LocationID:     req.LocationID,
		StaffID:        req.StaffID,
		ClientID:       req.ClientID,
		ServiceID:      req.ServiceID,
		Start:          req.StartTime,
		End:            req.EndTime,
		Notes:          req.Notes,
		Status:         req.Status,
		IdempotencyKey: key,
		RequestHash:    hex.EncodeToString(sum[:]),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	httpx.WriteJSON(w, http.StatusCreated, appointmentResponse{Appointment: res.Appointment})
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	a, err := h.Scheduler.Get(r.Context(), p.Org, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !p.CanActFor(a.ClientID) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "appointment not found", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appointmentResponse{Appointment: a})
}

// UpdateAppointment is staff only: it can move, annotate and advance an
// appointment in one transaction.
func (h *Handler) UpdateAppointment(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !p.IsStaff() {
		forbidden(w)
		return
	}
	var req updateAppointmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.StartTime == nil && req.EndTime == nil && req.Status == nil && req.Notes == nil {
		badRequest(w, "nothing to update")
		return
	}
	res, err := h.Scheduler.Update(r.Context(), p.Org, r.PathValue("id"), scheduler.UpdateRequest{
		Start:  req.StartTime,
		End:    req.EndTime,
		Status: req.Status,
		Notes:  req.Notes,
		Reason: req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appointmentResponse{Appointment: res.Appointment, Settlement: res.Settlement})
}

func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req cancelAppointmentRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
	}
	id := r.PathValue("id")
	if !p.IsStaff() {
		a, err := h.Scheduler.Get(r.Context(), p.Org, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if !p.CanActFor(a.ClientID) {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "appointment not found", nil)
			return
		}
	}
	a, err := h.Scheduler.Cancel(r.Context(), p.Org, id, strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appointmentResponse{Appointment: a})
}
