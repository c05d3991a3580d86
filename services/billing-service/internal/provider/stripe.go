package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	stripesubscription "github.com/stripe/stripe-go/v79/subscription"
)

// Stripe talks to the Stripe API with a per-client key instead of the package global.
type Stripe struct {
	subs     *stripesubscription.Client
	sessions *checkoutsession.Client
}

func NewStripe(secretKey string) (*Stripe, error) {
	key := strings.TrimSpace(secretKey)
	if key == "" {
		return nil, errors.New("stripe secret key is required")
	}
	backend := stripe.GetBackend(stripe.APIBackend)
	return &Stripe{
		subs:     &stripesubscription.Client{B: backend, Key: key},
		sessions: &checkoutsession.Client{B: backend, Key: key},
	}, nil
}

func (s *Stripe) GetSubscription(ctx context.Context, subscriptionID string) (SubscriptionSnapshot, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := s.subs.Get(subscriptionID, params)
	if err != nil {
		return SubscriptionSnapshot{}, wrapError("get subscription "+subscriptionID, err)
	}
	return SnapshotFromStripe(sub), nil
}

func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: req.Metadata,
	}
	if req.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(req.ClientReferenceID)
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}
	params.Context = ctx

	sess, err := s.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, wrapError("create checkout session", err)
	}
	return CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func wrapError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("stripe %s: %w: %v", op, ErrNotFound, err)
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}
