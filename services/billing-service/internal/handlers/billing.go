package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/paywall/libs/httpx"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/provider"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/storage"
)

type checkoutRequest struct {
	Tier         string `json:"tier" validate:"required,oneof=starter pro enterprise"`
	BillingCycle string `json:"billing_cycle" validate:"omitempty,oneof=monthly yearly"`
}

// Checkout opens a provider checkout session for the caller.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		writeError(w, http.StatusNotImplemented, "checkout not configured")
		return
	}
	claims, _ := httpx.ClaimsFromContext(r.Context())

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.Tier = strings.TrimSpace(strings.ToLower(req.Tier))
	req.BillingCycle = strings.TrimSpace(strings.ToLower(req.BillingCycle))
	if req.BillingCycle == "" {
		req.BillingCycle = string(entitlements.CycleMonthly)
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "tier must be starter, pro or enterprise and billing_cycle monthly or yearly")
		return
	}

	tier := entitlements.Tier(req.Tier)
	cycle := entitlements.BillingCycle(req.BillingCycle)
	priceID, ok := h.prices.PriceFor(tier, cycle)
	if !ok {
		writeError(w, http.StatusBadRequest, "no price configured for tier and billing cycle")
		return
	}

	sess, err := h.checkout.CreateCheckoutSession(r.Context(), provider.CheckoutRequest{
		PriceID:           priceID,
		CustomerEmail:     storage.NormalizeEmail(claims.Email),
		ClientReferenceID: claims.Sub,
		SuccessURL:        h.cfg.CheckoutSuccessURL,
		CancelURL:         h.cfg.CheckoutCancelURL,
		IdempotencyKey:    strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		Metadata: map[string]string{
			"user_id":       claims.Sub,
			"tier":          string(tier),
			"billing_cycle": string(cycle),
		},
	})
	if err != nil {
		h.logger.Error("checkout session failed", "user_id", claims.Sub, "tier", string(tier), "err", err)
		writeError(w, http.StatusBadGateway, "checkout unavailable")
		return
	}
	h.logger.Info("checkout session created", "user_id", claims.Sub, "tier", string(tier), "billing_cycle", string(cycle), "checkout_session_id", sess.ID)
	writeJSON(w, http.StatusOK, map[string]string{"checkoutUrl": sess.URL})
}

// GetSubscription reports the caller's tier and access level. Callers without a
// subscription get the free defaults.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	claims, _ := httpx.ClaimsFromContext(r.Context())
	access, err := h.access.AccessFor(r.Context(), claims.Sub)
	if err != nil {
		h.logger.Error("subscription lookup failed", "user_id", claims.Sub, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load subscription")
		return
	}

	out := map[string]any{
		"user_id":        claims.Sub,
		"tier":           string(entitlements.TierFree),
		"status":         "none",
		"effective_tier": string(access.EffectiveTier),
		"access_level":   string(access.Level),
	}
	if access.Found {
		out["tier"] = string(access.Tier)
		out["status"] = string(access.Status)
		out["billing_cycle"] = string(access.BillingCycle)
		out["auto_renew"] = access.AutoRenew
		if access.CurrentPeriodEnd != nil {
			out["current_period_end"] = access.CurrentPeriodEnd.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type resolveLinkagesRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResolveLinkages is called by the identity service once an e-mail is verified.
func (h *Handler) ResolveLinkages(w http.ResponseWriter, r *http.Request) {
	claims, _ := httpx.ClaimsFromContext(r.Context())
	if claims.Role != "admin" && claims.Role != "service" {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req resolveLinkagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.Email = storage.NormalizeEmail(req.Email)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	n, err := h.links.ResolveEmail(r.Context(), req.Email)
	if err != nil {
		h.logger.Error("linkage resolve failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve linkages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": n})
}
