package linking

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPlaceholder(t *testing.T, store *storage.Memory, customerID, email string) storage.Subscription {
	t.Helper()
	ctx := context.Background()
	placeholder := PlaceholderUserID(customerID)
	require.NoError(t, store.UpsertPendingLinkage(ctx, storage.PendingLinkage{
		PlaceholderUserID: placeholder, Email: email, ExternalCustomerID: customerID,
	}))
	sub, err := store.UpsertSubscription(ctx, storage.Subscription{
		UserID: placeholder, Tier: entitlements.TierPro, Status: entitlements.StatusActive,
		ExternalCustomerID: customerID, ExternalSubscriptionID: "sub_" + customerID,
	})
	require.NoError(t, err)
	_, err = store.InsertPayment(ctx, storage.Payment{
		SubscriptionID: sub.ID, UserID: placeholder, Amount: decimal.New(999, -2), CurrencyCode: "USD",
		Status: storage.PaymentCompleted, ExternalInvoiceID: "in_" + customerID, AttemptCount: 1,
	})
	require.NoError(t, err)
	return sub
}

func TestResolvePendingReassignsSubscriptionsAndPayments(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	sub := seedPlaceholder(t, store, "cus_1", "a@b.com")
	seedPlaceholder(t, store, "cus_2", "nobody@b.com")
	store.AddIdentity(storage.Identity{ID: "user-1", Email: "a@b.com", EmailVerified: true})

	r := NewResolver(store, slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
	n, err := r.ResolvePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _, _ := store.GetSubscription(ctx, "sub_cus_1")
	assert.Equal(t, "user-1", got.UserID)
	assert.False(t, IsPlaceholder(got.UserID))

	payments, _ := store.ListPayments(ctx, sub.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, "user-1", payments[0].UserID)

	other, _, _ := store.GetSubscription(ctx, "sub_cus_2")
	assert.True(t, IsPlaceholder(other.UserID))

	n, err = r.ResolvePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "resolved linkages are not revisited")
}

func TestResolveEmailIgnoresUnverified(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	seedPlaceholder(t, store, "cus_1", "a@b.com")
	store.AddIdentity(storage.Identity{ID: "user-1", Email: "a@b.com", EmailVerified: false})

	r := NewResolver(store, slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
	n, err := r.ResolveEmail(ctx, "A@B.com")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	store.AddIdentity(storage.Identity{ID: "user-1", Email: "a@b.com", EmailVerified: true})
	n, err = r.ResolveEmail(ctx, "A@B.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
