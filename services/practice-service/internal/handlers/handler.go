// Package handlers exposes the practice core over HTTP. Every route except
// the Stripe webhook runs behind tenant.Middleware.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/practicecore/libs/httpx"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/apperr"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/availability"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/memberships"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/processor"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/rewards"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/scheduler"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

type Deps struct {
	Store       storage.Store
	Scheduler   *scheduler.Service
	Resolver    *availability.Resolver
	Memberships *memberships.Service
	Rewards     *rewards.Ledger
	Logger      *slog.Logger

	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
}

type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	if d.StripeWebhookTolerance <= 0 {
		d.StripeWebhookTolerance = 5 * time.Minute
	}
	return &Handler{Deps: d}
}

// Routes registers the tenant API on api and the public webhook on public.
// Callers wrap api with tenant.Middleware.
func (h *Handler) Routes(api, public *http.ServeMux) {
	api.HandleFunc("POST /appointments", h.CreateAppointment)
	api.HandleFunc("GET /appointments/{id}", h.GetAppointment)
	api.HandleFunc("PATCH /appointments/{id}", h.UpdateAppointment)
	api.HandleFunc("POST /appointments/{id}/cancel", h.CancelAppointment)
	api.HandleFunc("GET /availability", h.Availability)
	api.HandleFunc("GET /memberships/{id}", h.GetMembership)
	api.HandleFunc("POST /memberships/upgrade", h.UpgradeMembership)
	api.HandleFunc("POST /memberships/cancel", h.CancelMembership)
	api.HandleFunc("POST /rewards/redeem", h.Redeem)
	api.HandleFunc("GET /rewards/balance", h.RewardBalance)

	public.HandleFunc("POST /webhooks/stripe", h.StripeWebhook)
}

func principal(w http.ResponseWriter, r *http.Request) (tenant.Principal, bool) {
	p, ok := tenant.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid credentials", nil)
	}
	return p, ok
}

func forbidden(w http.ResponseWriter) {
	httpx.WriteError(w, http.StatusForbidden, "forbidden", "not allowed for this principal", nil)
}

func badRequest(w http.ResponseWriter, msg string) {
	httpx.WriteError(w, http.StatusBadRequest, string(apperr.KindValidation), msg, nil)
}

// writeError maps the error taxonomy onto HTTP. Unclassified errors are
// logged and reported as 500 without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, processor.ErrDisabled):
		httpx.WriteError(w, http.StatusServiceUnavailable, "processor_disabled", "payment processor not configured", nil)
		return
	case errors.Is(err, processor.ErrUnavailable):
		h.Logger.Warn("payment processor call failed", "err", err, "request_id", httpx.RequestIDFromContext(r.Context()))
		httpx.WriteError(w, http.StatusBadGateway, "processor_unavailable", "payment processor unavailable", nil)
		return
	}

	var ae *apperr.Error
	if !errors.As(err, &ae) {
		h.Logger.Error("request failed", "err", err, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()))
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error", nil)
		return
	}
	if ae.Kind == apperr.KindStorage {
		h.Logger.Error("storage fault", "err", err, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()))
	}
	var details map[string]any
	if ae.Remaining != nil {
		details = map[string]any{"remaining": ae.Remaining.String()}
	}
	httpx.WriteError(w, apperr.HTTPStatus(ae.Kind), string(ae.Kind), ae.Message, details)
}
