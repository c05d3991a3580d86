package accessrpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/subscriptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeReader struct {
	access map[string]subscriptions.Access
	err    error
}

func (f fakeReader) AccessFor(_ context.Context, userID string) (subscriptions.Access, error) {
	if f.err != nil {
		return subscriptions.Access{}, f.err
	}
	if a, ok := f.access[userID]; ok {
		return a, nil
	}
	return subscriptions.Access{UserID: userID, EffectiveTier: entitlements.TierFree, Level: entitlements.AccessPreview}, nil
}

func dial(t *testing.T, reader AccessReader) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, reader, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func TestGetAccess(t *testing.T) {
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	client := dial(t, fakeReader{access: map[string]subscriptions.Access{
		"user-1": {
			UserID:                 "user-1",
			Found:                  true,
			Tier:                   entitlements.TierPro,
			Status:                 entitlements.StatusActive,
			EffectiveTier:          entitlements.TierPro,
			Level:                  entitlements.AccessFull,
			BillingCycle:           entitlements.CycleYearly,
			ExternalSubscriptionID: "sub_1",
			CurrentPeriodEnd:       &end,
			AutoRenew:              true,
		},
	}})
	ctx := context.Background()

	got, err := client.GetAccess(ctx, "user-1", map[string]any{"body": "body", "deep_dive": "more"})
	require.NoError(t, err)
	assert.Equal(t, "pro", got.Tier)
	assert.Equal(t, "full", got.AccessLevel)
	assert.Equal(t, "yearly", got.BillingCycle)
	assert.Equal(t, "sub_1", got.ExternalSubscriptionID)
	require.NotNil(t, got.CurrentPeriodEnd)
	assert.True(t, got.CurrentPeriodEnd.Equal(end))
	assert.True(t, got.AutoRenew)
	assert.True(t, got.HasDeepDive)
	assert.Contains(t, got.Content, "more")

	got, err = client.GetAccess(ctx, "nobody", map[string]any{"body": "body", "preview": "teaser"})
	require.NoError(t, err)
	assert.Equal(t, "free", got.EffectiveTier)
	assert.Equal(t, "preview", got.AccessLevel)
	assert.Equal(t, "teaser", got.Content)
	assert.Nil(t, got.CurrentPeriodEnd)
}

func TestGetAccessErrors(t *testing.T) {
	ctx := context.Background()

	_, err := dial(t, fakeReader{}).GetAccess(ctx, " ", nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = dial(t, fakeReader{err: errors.New("db down")}).GetAccess(ctx, "user-1", nil)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
