package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/events"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/handlers"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/idempotency"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/linking"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/payments"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/provider"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/storage"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/subscriptions"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_billingctl"

type staticReader map[string]provider.SubscriptionSnapshot

func (r staticReader) GetSubscription(_ context.Context, id string) (provider.SubscriptionSnapshot, error) {
	if snap, ok := r[id]; ok {
		return snap, nil
	}
	return provider.SubscriptionSnapshot{}, provider.ErrNotFound
}

func newBillingServer(t *testing.T) (*httptest.Server, *storage.Memory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemory()
	store.AddIdentity(storage.Identity{ID: "user-1", Email: "reader@example.com", EmailVerified: true})
	prices := entitlements.NewPriceTable(entitlements.TierStarter, map[string]entitlements.PriceEntry{
		"price_pro_monthly": {Tier: entitlements.TierPro, Cycle: entitlements.CycleMonthly},
	})
	reader := staticReader{"sub_test": {ID: "sub_test", CustomerID: "cus_test", Status: "active", PriceID: "price_pro_monthly", Interval: "month"}}
	subs := subscriptions.New(store, prices, reader, logger)
	router := events.NewBillingRouter(logger, subs, payments.NewRecorder(store, subs, logger))
	processor := events.NewProcessor(idempotency.NewMemory(), router, logger)

	ingress, err := webhook.NewIngress(testSecret, time.Minute)
	require.NoError(t, err)
	h := handlers.New(ingress, processor, subs, linking.NewResolver(store, logger, 10), nil, prices, logger, handlers.Config{JWTSecret: "unused"})
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv, store
}

func simulate(t *testing.T, baseURL string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"simulate", "--base-url", baseURL, "--secret", testSecret}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSimulateDrivesTheWebhookPipeline(t *testing.T) {
	srv, store := newBillingServer(t)
	ctx := context.Background()

	out, err := simulate(t, srv.URL, "--type", "checkout.session.completed", "--event-id", "evt_1")
	require.NoError(t, err)
	assert.Contains(t, out, "status=200")

	sub, found, err := store.GetSubscription(ctx, "sub_test")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "user-1", sub.UserID)
	assert.Equal(t, entitlements.TierPro, sub.Tier)

	_, err = simulate(t, srv.URL, "--type", "invoice.paid", "--event-id", "evt_2", "--amount", "1999")
	require.NoError(t, err)
	paid, err := store.ListPayments(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, "19.99", paid[0].Amount.StringFixed(2))
	assert.Equal(t, "USD", paid[0].CurrencyCode)

	out, err = simulate(t, srv.URL, "--type", "invoice.paid", "--event-id", "evt_2")
	require.NoError(t, err)
	assert.Contains(t, out, "duplicate")

	_, err = simulate(t, srv.URL, "--type", "customer.subscription.updated", "--event-id", "evt_3", "--cancel-at-period-end")
	require.NoError(t, err)
	sub, _, err = store.GetSubscription(ctx, "sub_test")
	require.NoError(t, err)
	assert.False(t, sub.AutoRenew)
	assert.Equal(t, entitlements.StatusActive, sub.Status)

	_, err = simulate(t, srv.URL, "--type", "customer.subscription.deleted", "--event-id", "evt_4")
	require.NoError(t, err)
	sub, _, err = store.GetSubscription(ctx, "sub_test")
	require.NoError(t, err)
	assert.Equal(t, entitlements.StatusCancelled, sub.Status)
}

func TestSimulateErrors(t *testing.T) {
	srv, _ := newBillingServer(t)

	_, err := simulate(t, srv.URL, "--type", "charge.refunded")
	assert.Error(t, err)

	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"simulate", "--base-url", srv.URL, "--secret", "whsec_wrong"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}
