package handlers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/md-rashed-zaman/practicecore/libs/httpx"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/apperr"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/reconcile"
)

// StripeWebhook verifies and queues a Stripe event; the reconcile worker
// applies it. Signature verification is the only authentication.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(h.StripeWebhookSecret) == "" {
		httpx.WriteError(w, http.StatusServiceUnavailable, "webhook_disabled", "stripe webhook not configured", nil)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		badRequest(w, "missing Stripe-Signature header")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		badRequest(w, "failed to read request body")
		return
	}
	evt, err := webhook.ConstructEventWithOptions(body, sigHeader, h.StripeWebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                h.StripeWebhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_signature", "invalid signature", nil)
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	h.Logger.Info("billing provider event received",
		"provider", reconcile.ProviderStripe,
		"provider_event_id", evt.ID,
		"event_type", string(evt.Type),
		"occurred_at", occurredAt.Format(time.RFC3339),
	)

	pe, relevant, err := reconcile.Normalize(evt, body)
	if err != nil {
		h.Logger.Warn("stripe event payload rejected", "err", err, "provider_event_id", evt.ID)
		badRequest(w, "invalid event payload")
		return
	}
	if !relevant {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	err = reconcile.Enqueue(r.Context(), h.Store, pe)
	if apperr.KindOf(err) == apperr.KindIdempotencyReplay {
		h.Logger.Info("billing provider event duplicate ignored", "provider", pe.Provider, "provider_event_id", pe.EventID)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}
