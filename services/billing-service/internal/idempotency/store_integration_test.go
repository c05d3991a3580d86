package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/md-rashed-zaman/paywall/libs/db"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func exerciseGuard(t *testing.T, g Guard) {
	t.Helper()
	ctx := context.Background()

	seen, err := g.HasProcessed(ctx, "evt_int_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, g.MarkProcessed(ctx, "evt_int_1", "invoice.paid"))
	require.NoError(t, g.MarkProcessed(ctx, "evt_int_1", "invoice.paid"))

	seen, err = g.HasProcessed(ctx, "evt_int_1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestPostgresGuard_Integration(t *testing.T) {
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
	defer func() { _ = pgContainer.Terminate(ctx) }()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx, connStr, storage.Migrations, storage.MigrationsDir))
	pool, err := db.Open(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	g := NewPostgres(pool)
	exerciseGuard(t, g)

	n, err := g.Prune(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
	n, err = g.Prune(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRedisGuard_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Skipping integration test: redis container unavailable: %v", err)
	}
	defer func() { _ = container.Terminate(ctx) }()

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = rdb.Close() }()

	g := NewRedis(rdb, "test:evt", time.Minute)
	exerciseGuard(t, g)

	ttl, err := rdb.TTL(ctx, "test:evt:evt_int_1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
