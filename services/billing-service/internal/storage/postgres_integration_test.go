package storage

import (
	"context"
	"testing"
	"time"

	"github.com/md-rashed-zaman/paywall/libs/db"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/outbox"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("billing"),
		postgres.WithUsername("billing"),
		postgres.WithPassword("billing"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Skipping integration test: postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx, connStr, Migrations, MigrationsDir))

	pool, err := db.Open(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewPostgres(pool)
}

func TestPostgresSubscriptionLifecycle_Integration(t *testing.T) {
	repo := startPostgres(t)
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	created, err := repo.UpsertSubscription(ctx, Subscription{
		UserID:                 PlaceholderUserID("cus_1"),
		Tier:                   entitlements.TierPro,
		Status:                 entitlements.StatusActive,
		ProviderStatus:         "active",
		PriceID:                "price_pro_yearly",
		BillingCycle:           entitlements.CycleYearly,
		CurrentPeriodStart:     &start,
		CurrentPeriodEnd:       &end,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_1",
		AutoRenew:              true,
	})
	require.NoError(t, err)
	assert.Equal(t, entitlements.CycleYearly, created.BillingCycle)

	updated, err := repo.UpsertSubscription(ctx, Subscription{
		UserID:                 "user-1",
		Tier:                   entitlements.TierPro,
		Status:                 entitlements.StatusActive,
		ExternalSubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "user-1", updated.UserID)
	assert.Equal(t, "cus_1", updated.ExternalCustomerID)

	ok, err := repo.CancelSubscription(ctx, "sub_1", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	late, err := repo.UpsertSubscription(ctx, Subscription{
		UserID: "user-1", Tier: entitlements.TierPro, Status: entitlements.StatusActive, ExternalSubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	assert.Equal(t, entitlements.StatusCancelled, late.Status)

	got, found, err := repo.LatestSubscriptionForUser(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "sub_1", got.ExternalSubscriptionID)
}

func TestPostgresRecoverableStatusAndCancelledAt_Integration(t *testing.T) {
	repo := startPostgres(t)
	ctx := context.Background()

	canceledAt := time.Unix(1717200000, 0).UTC()
	paused, err := repo.UpsertSubscription(ctx, Subscription{
		UserID: "user-1", Tier: entitlements.TierPro, Status: entitlements.StatusPaused,
		ExternalSubscriptionID: "sub_1", CancelledAt: &canceledAt,
	})
	require.NoError(t, err)
	assert.Equal(t, entitlements.StatusPaused, paused.Status)
	require.NotNil(t, paused.CancelledAt)

	resumed, err := repo.UpsertSubscription(ctx, Subscription{
		UserID: "user-1", Tier: entitlements.TierPro, Status: entitlements.StatusActive,
		ExternalSubscriptionID: "sub_1", AutoRenew: true,
	})
	require.NoError(t, err)
	assert.Equal(t, entitlements.StatusActive, resumed.Status)
	assert.Nil(t, resumed.CancelledAt)

	due, err := repo.ListSubscriptionsForReconcile(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "sub_1", due[0].ExternalSubscriptionID)
}

func TestPostgresPaymentsAndOutbox_Integration(t *testing.T) {
	repo := startPostgres(t)
	ctx := context.Background()

	sub, err := repo.UpsertSubscription(ctx, Subscription{
		UserID: "user-1", Tier: entitlements.TierStarter, Status: entitlements.StatusActive, ExternalSubscriptionID: "sub_2",
	})
	require.NoError(t, err)

	err = repo.InTx(ctx, func(tx Store) error {
		for i := 0; i < 2; i++ {
			if _, err := tx.InsertPayment(ctx, Payment{
				SubscriptionID:    sub.ID,
				UserID:            sub.UserID,
				Amount:            decimal.New(4999, -2),
				CurrencyCode:      "USD",
				Status:            PaymentCompleted,
				ExternalInvoiceID: "in_1",
				AttemptCount:      1,
			}); err != nil {
				return err
			}
		}
		return tx.InsertOutboxEvent(ctx, outbox.Event{
			AggregateType: outbox.AggregateSubscription,
			AggregateID:   sub.ID,
			EventType:     outbox.EventEntitlementChanged,
			Payload:       []byte(`{"tier":"starter"}`),
		})
	})
	require.NoError(t, err)

	payments, err := repo.ListPayments(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "49.99", payments[0].Amount.StringFixed(2))

	records, err := outbox.FetchUnpublished(ctx, repo.q, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, outbox.EventEntitlementChanged, records[0].EventType)
}
