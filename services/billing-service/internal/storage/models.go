package storage

import (
	"strings"
	"time"

	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/entitlements"
	"github.com/shopspring/decimal"
)

// Subscription is one row per provider subscription, keyed by ExternalSubscriptionID.
type Subscription struct {
	ID                     string
	UserID                 string
	Tier                   entitlements.Tier
	Status                 entitlements.Status
	ProviderStatus         string
	PriceID                string
	BillingCycle           entitlements.BillingCycle
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	ExternalCustomerID     string
	ExternalSubscriptionID string
	AutoRenew              bool
	CancelledAt            *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment rows are append-only. (ExternalInvoiceID, Status, AttemptCount) is unique.
type Payment struct {
	ID                string
	SubscriptionID    string
	UserID            string
	Amount            decimal.Decimal
	CurrencyCode      string
	Status            PaymentStatus
	ExternalPaymentID string
	ExternalInvoiceID string
	AttemptCount      int64
	Description       string
	ReceiptURL        string
	PaidAt            *time.Time
	CreatedAt         time.Time
}

// Identity is a site user as seen by the billing engine (read only).
type Identity struct {
	ID            string
	Email         string
	EmailVerified bool
}

// PendingLinkage records a placeholder owner waiting for a verified identity with Email.
type PendingLinkage struct {
	PlaceholderUserID  string
	Email              string
	ExternalCustomerID string
	CreatedAt          time.Time
	ResolvedUserID     string
	ResolvedAt         *time.Time
}

const placeholderPrefix = "pending:"

// PlaceholderUserID derives the synthetic owner id used until a customer is linked.
func PlaceholderUserID(externalCustomerID string) string {
	return placeholderPrefix + strings.TrimSpace(externalCustomerID)
}

func IsPlaceholder(userID string) bool {
	return strings.HasPrefix(userID, placeholderPrefix)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// mergeSubscription applies the upsert rules shared by every Store implementation:
//   - tier, price, cycle, period bounds and auto-renew are overwritten;
//   - a terminal status is never left;
//   - the owner only moves away from an empty or placeholder id;
//   - the customer id is kept when the update lacks it;
//   - the cancellation time follows the update unless the row is already terminal,
//     in which case the first recorded time wins.
func mergeSubscription(existing, in Subscription) Subscription {
	out := in
	out.ID = existing.ID
	out.CreatedAt = existing.CreatedAt
	if existing.Status.Terminal() {
		out.Status = existing.Status
	}
	if existing.UserID != "" && !IsPlaceholder(existing.UserID) {
		out.UserID = existing.UserID
	} else if out.UserID == "" {
		out.UserID = existing.UserID
	}
	if out.ExternalCustomerID == "" {
		out.ExternalCustomerID = existing.ExternalCustomerID
	}
	if existing.Status.Terminal() && existing.CancelledAt != nil {
		out.CancelledAt = existing.CancelledAt
	}
	return out
}
