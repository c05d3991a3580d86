// Package payments appends Payment rows for invoice events.
package payments

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
)

// StatusTransitioner moves a subscription to past_due inside an open transaction.
type StatusTransitioner interface {
	PaymentFailed(ctx context.Context, st storage.Store, sourceEventID, externalSubscriptionID string) (bool, error)
}

type Recorder struct {
	store  storage.Store
	subs   StatusTransitioner
	logger *slog.Logger
}

func NewRecorder(store storage.Store, subs StatusTransitioner, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, subs: subs, logger: logger}
}

// InvoicePaid records a completed payment. It reports false when the invoice is not tied
// to a known subscription, which is an accepted race with the subscription events.
func (r *Recorder) InvoicePaid(ctx context.Context, sourceEventID string, inv *stripe.Invoice) (bool, error) {
	subscriptionID := invoiceSubscriptionID(inv)
	if subscriptionID == "" {
		r.logger.Debug("invoice without subscription ignored", "event_id", sourceEventID)
		return false, nil
	}

	sub, found, err := r.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return false, err
	}
	if !found {
		r.logger.Warn("invoice paid for unknown subscription", "event_id", sourceEventID, "external_subscription_id", subscriptionID, "external_invoice_id", inv.ID)
		return false, nil
	}

	p := paymentFromInvoice(inv, sub, storage.PaymentCompleted, inv.AmountPaid)
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		t := time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
		p.PaidAt = &t
	}
	inserted, err := r.store.InsertPayment(ctx, p)
	if err != nil {
		return false, err
	}

	r.logger.Info("invoice payment recorded",
		"event_id", sourceEventID,
		"external_invoice_id", inv.ID,
		"external_subscription_id", subscriptionID,
		"amount", p.Amount.StringFixed(2),
		"currency", p.CurrencyCode,
		"duplicate", !inserted,
	)
	return true, nil
}

// InvoicePaymentFailed moves the subscription to past_due and keeps a failed Payment row
// for the attempt.
func (r *Recorder) InvoicePaymentFailed(ctx context.Context, sourceEventID string, inv *stripe.Invoice) (bool, error) {
	subscriptionID := invoiceSubscriptionID(inv)
	if subscriptionID == "" {
		r.logger.Debug("failed invoice without subscription ignored", "event_id", sourceEventID)
		return false, nil
	}

	var found bool
	err := r.store.InTx(ctx, func(tx storage.Store) error {
		var err error
		found, err = r.subs.PaymentFailed(ctx, tx, sourceEventID, subscriptionID)
		if err != nil || !found {
			return err
		}
		sub, _, err := tx.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return err
		}
		_, err = tx.InsertPayment(ctx, paymentFromInvoice(inv, sub, storage.PaymentFailed, inv.AmountDue))
		return err
	})
	if err != nil {
		return false, err
	}
	if !found {
		r.logger.Warn("invoice payment failed for unknown subscription", "event_id", sourceEventID, "external_subscription_id", subscriptionID, "external_invoice_id", inv.ID)
		return false, nil
	}

	r.logger.Info("invoice payment failed",
		"event_id", sourceEventID,
		"external_invoice_id", inv.ID,
		"external_subscription_id", subscriptionID,
		"attempt_count", inv.AttemptCount,
	)
	return true, nil
}

func paymentFromInvoice(inv *stripe.Invoice, sub storage.Subscription, status storage.PaymentStatus, minor int64) storage.Payment {
	p := storage.Payment{
		SubscriptionID:    sub.ID,
		UserID:            sub.UserID,
		Amount:            Amount(minor, string(inv.Currency)),
		CurrencyCode:      strings.ToUpper(strings.TrimSpace(string(inv.Currency))),
		Status:            status,
		ExternalInvoiceID: inv.ID,
		AttemptCount:      inv.AttemptCount,
		Description:       inv.Description,
	}
	if inv.PaymentIntent != nil {
		p.ExternalPaymentID = inv.PaymentIntent.ID
	}
	if inv.Charge != nil {
		if p.ExternalPaymentID == "" {
			p.ExternalPaymentID = inv.Charge.ID
		}
		p.ReceiptURL = inv.Charge.ReceiptURL
	}
	if p.ReceiptURL == "" {
		p.ReceiptURL = inv.HostedInvoiceURL
	}
	return p
}

func invoiceSubscriptionID(inv *stripe.Invoice) string {
	if inv == nil || inv.Subscription == nil {
		return ""
	}
	return strings.TrimSpace(inv.Subscription.ID)
}

// zeroDecimal lists the Stripe currencies whose minor unit is the unit itself.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// Amount converts a provider amount in minor units to currency units.
func Amount(minor int64, currency string) decimal.Decimal {
	if zeroDecimal[strings.ToLower(strings.TrimSpace(currency))] {
		return decimal.NewFromInt(minor)
	}
	return decimal.New(minor, -2)
}
