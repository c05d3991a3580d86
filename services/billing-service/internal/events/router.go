// Package events dispatches verified webhook envelopes to their reconciliation handler.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/webhook"
	"github.com/stripe/stripe-go/v79"
)

type Outcome string

const (
	// OutcomeProcessed means the handler applied the event.
	OutcomeProcessed Outcome = "processed"
	// OutcomeSkipped means the handler ran but found nothing it could reconcile.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeIgnored means no handler is registered for the event type.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeDuplicate means the event id was already processed.
	OutcomeDuplicate Outcome = "duplicate"
)

const (
	TypeCheckoutCompleted     = "checkout.session.completed"
	TypeSubscriptionUpdated   = "customer.subscription.updated"
	TypeSubscriptionDeleted   = "customer.subscription.deleted"
	TypeInvoicePaid           = "invoice.paid"
	TypeInvoicePaymentSuccess = "invoice.payment_succeeded"
	TypeInvoicePaymentFailed  = "invoice.payment_failed"
)

type Result struct {
	EventID   string
	EventType string
	Outcome   Outcome
}

// HandlerFunc applies one envelope. It reports false for a data-consistency gap that
// was logged and dropped.
type HandlerFunc func(ctx context.Context, env webhook.Envelope) (bool, error)

// SubscriptionHandler is the subscription side of reconciliation.
type SubscriptionHandler interface {
	CheckoutCompleted(ctx context.Context, sourceEventID string, session *stripe.CheckoutSession) (bool, error)
	SubscriptionUpdated(ctx context.Context, sourceEventID string, sub *stripe.Subscription) (bool, error)
	SubscriptionDeleted(ctx context.Context, sourceEventID string, sub *stripe.Subscription) (bool, error)
}

// PaymentHandler is the invoice side of reconciliation.
type PaymentHandler interface {
	InvoicePaid(ctx context.Context, sourceEventID string, inv *stripe.Invoice) (bool, error)
	InvoicePaymentFailed(ctx context.Context, sourceEventID string, inv *stripe.Invoice) (bool, error)
}

// Router maps event types to handlers. Register everything before serving; Route is
// safe for concurrent use afterwards.
type Router struct {
	handlers map[string]HandlerFunc
	logger   *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{handlers: map[string]HandlerFunc{}, logger: logger}
}

// NewBillingRouter registers the Stripe event types the engine reconciles.
func NewBillingRouter(logger *slog.Logger, subs SubscriptionHandler, payments PaymentHandler) *Router {
	r := NewRouter(logger)
	r.Handle(TypeCheckoutCompleted, decoded(subs.CheckoutCompleted))
	r.Handle(TypeSubscriptionUpdated, decoded(subs.SubscriptionUpdated))
	r.Handle(TypeSubscriptionDeleted, decoded(subs.SubscriptionDeleted))
	r.Handle(TypeInvoicePaid, decoded(payments.InvoicePaid))
	r.Handle(TypeInvoicePaymentSuccess, decoded(payments.InvoicePaid))
	r.Handle(TypeInvoicePaymentFailed, decoded(payments.InvoicePaymentFailed))
	return r
}

func (r *Router) Handle(eventType string, h HandlerFunc) {
	r.handlers[eventType] = h
}

// Types lists the registered event types in order.
func (r *Router) Types() []string {
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Route runs the handler registered for env.EventType. Unknown types are acknowledged.
func (r *Router) Route(ctx context.Context, env webhook.Envelope) (Result, error) {
	res := Result{EventID: env.EventID, EventType: env.EventType}
	h, ok := r.handlers[env.EventType]
	if !ok {
		r.logger.Info("webhook event type not handled", "event_id", env.EventID, "event_type", env.EventType)
		res.Outcome = OutcomeIgnored
		return res, nil
	}

	applied, err := h(ctx, env)
	if err != nil {
		return res, err
	}
	res.Outcome = OutcomeProcessed
	if !applied {
		res.Outcome = OutcomeSkipped
	}
	return res, nil
}

// decoded adapts a typed handler, decoding the envelope payload into T. A payload that
// does not decode is protocol drift and reported as malformed.
func decoded[T any](fn func(ctx context.Context, sourceEventID string, obj *T) (bool, error)) HandlerFunc {
	return func(ctx context.Context, env webhook.Envelope) (bool, error) {
		obj := new(T)
		if err := json.Unmarshal(env.Payload, obj); err != nil {
			return false, fmt.Errorf("%w: decode %s: %v", webhook.ErrMalformed, env.EventType, err)
		}
		return fn(ctx, env.EventID, obj)
	}
}
