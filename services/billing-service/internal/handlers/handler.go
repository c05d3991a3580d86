// Package handlers is the HTTP front door of the billing service.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/paywall/libs/auth"
	"github.com/md-rashed-zaman/paywall/libs/httpx"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/events"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/provider"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/subscriptions"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/webhook"
)

type EventProcessor interface {
	Process(ctx context.Context, env webhook.Envelope) (events.Result, error)
}

type AccessReader interface {
	AccessFor(ctx context.Context, userID string) (subscriptions.Access, error)
}

type LinkResolver interface {
	ResolveEmail(ctx context.Context, email string) (int, error)
}

type Config struct {
	CheckoutSuccessURL string
	CheckoutCancelURL  string

	JWTSecret string
	JWKS      *auth.JWKSClient
	// CheckoutLimit guards checkout creation; nil disables limiting.
	CheckoutLimit httpx.Middleware
}

type Handler struct {
	ingress   *webhook.Ingress
	processor EventProcessor
	access    AccessReader
	links     LinkResolver
	checkout  provider.CheckoutCreator
	prices    *entitlements.PriceTable
	logger    *slog.Logger
	validate  *validator.Validate
	cfg       Config
}

// New builds the handler set. checkout may be nil when no provider key is configured;
// the checkout endpoint then answers 501.
func New(
	ingress *webhook.Ingress,
	processor EventProcessor,
	access AccessReader,
	links LinkResolver,
	checkout provider.CheckoutCreator,
	prices *entitlements.PriceTable,
	logger *slog.Logger,
	cfg Config,
) *Handler {
	return &Handler{
		ingress:   ingress,
		processor: processor,
		access:    access,
		links:     links,
		checkout:  checkout,
		prices:    prices,
		logger:    logger,
		validate:  validator.New(),
		cfg:       cfg,
	}
}

// Routes mounts the billing API. The webhook is public: its signature is the auth.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1/billing", func(r chi.Router) {
		r.Post("/webhooks/stripe", h.StripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(httpx.RequireAuth(h.cfg.JWTSecret, h.cfg.JWKS))
			r.Get("/subscription", h.GetSubscription)
			r.Post("/linkages/resolve", h.ResolveLinkages)
			r.Group(func(r chi.Router) {
				if h.cfg.CheckoutLimit != nil {
					r.Use(h.cfg.CheckoutLimit)
				}
				r.Post("/checkout", h.Checkout)
			})
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
