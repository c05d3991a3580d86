// Package provider wraps the Stripe API calls the engine makes outside of webhooks.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v79"
)

// ErrNotFound is returned when the provider has no record of the requested object.
var ErrNotFound = errors.New("provider: not found")

// SubscriptionSnapshot is the provider's view of a subscription, reduced to the fields
// reconciliation needs.
type SubscriptionSnapshot struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	Interval           string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
}

// SubscriptionReader performs the confirmatory subscription read.
type SubscriptionReader interface {
	GetSubscription(ctx context.Context, subscriptionID string) (SubscriptionSnapshot, error)
}

type CheckoutRequest struct {
	PriceID           string
	CustomerEmail     string
	ClientReferenceID string
	SuccessURL        string
	CancelURL         string
	IdempotencyKey    string
	Metadata          map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
}

// SnapshotFromStripe reduces a Stripe subscription. The first item's price is the plan.
func SnapshotFromStripe(sub *stripe.Subscription) SubscriptionSnapshot {
	if sub == nil {
		return SubscriptionSnapshot{}
	}
	out := SubscriptionSnapshot{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CanceledAt:         unixTime(sub.CanceledAt),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			out.PriceID = item.Price.ID
			if item.Price.Recurring != nil {
				out.Interval = string(item.Price.Recurring.Interval)
			}
			break
		}
	}
	return out
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
