package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/outbox"
)

// Store is the durable state the engine reconciles into. Implementations must make
// UpsertSubscription and InsertPayment safe under concurrent redelivery.
type Store interface {
	// InTx runs fn against a transactional view of the store. Calling InTx on that
	// view runs fn inline.
	InTx(ctx context.Context, fn func(Store) error) error

	GetSubscription(ctx context.Context, externalSubscriptionID string) (Subscription, bool, error)
	GetSubscriptionForUpdate(ctx context.Context, externalSubscriptionID string) (Subscription, bool, error)
	LatestSubscriptionForUser(ctx context.Context, userID string) (Subscription, bool, error)
	UpsertSubscription(ctx context.Context, s Subscription) (Subscription, error)
	SetSubscriptionStatus(ctx context.Context, externalSubscriptionID string, status entitlements.Status) (bool, error)
	CancelSubscription(ctx context.Context, externalSubscriptionID string, at time.Time) (bool, error)
	ListSubscriptionsForReconcile(ctx context.Context, limit int) ([]Subscription, error)

	// InsertPayment returns false when the row already exists.
	InsertPayment(ctx context.Context, p Payment) (bool, error)
	ListPayments(ctx context.Context, subscriptionID string) ([]Payment, error)

	FindVerifiedIdentityByEmail(ctx context.Context, email string) (Identity, bool, error)

	UpsertPendingLinkage(ctx context.Context, l PendingLinkage) error
	// ListPendingLinkages returns unresolved linkages, restricted to email when set.
	ListPendingLinkages(ctx context.Context, email string, limit int) ([]PendingLinkage, error)
	ReassignUser(ctx context.Context, placeholderUserID, userID string) (int64, error)
	ResolvePendingLinkage(ctx context.Context, placeholderUserID, userID string, at time.Time) error

	InsertOutboxEvent(ctx context.Context, evt outbox.Event) error
}
