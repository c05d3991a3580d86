package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/metrics"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/webhook"
)

// StripeWebhook authenticates a delivery and runs it through the processor. Stripe
// retries anything that is not 2xx, so only transient failures answer 500.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, webhook.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.WebhookRejectedTotal.WithLabelValues("too_large").Inc()
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	env, err := h.ingress.Parse(body, r.Header.Get(webhook.SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrUnauthenticated):
			metrics.WebhookRejectedTotal.WithLabelValues("unauthenticated").Inc()
			h.logger.Warn("webhook rejected", "reason", "unauthenticated", "err", err)
			writeError(w, http.StatusBadRequest, "invalid signature")
		default:
			metrics.WebhookRejectedTotal.WithLabelValues("malformed").Inc()
			h.logger.Warn("webhook rejected", "reason", "malformed", "err", err)
			writeError(w, http.StatusBadRequest, "malformed payload")
		}
		return
	}

	res, err := h.processor.Process(r.Context(), env)
	if err != nil {
		if errors.Is(err, webhook.ErrMalformed) {
			metrics.WebhookRejectedTotal.WithLabelValues("malformed").Inc()
			writeError(w, http.StatusBadRequest, "malformed payload")
			return
		}
		writeError(w, http.StatusInternalServerError, "event processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "outcome": string(res.Outcome)})
}
