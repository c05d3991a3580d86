package idempotency

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores one key per processed event with a TTL equal to the retention window.
// Expiry does the pruning, so Prune is a no-op.
type Redis struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewRedis(rdb redis.UniversalClient, prefix string, retention time.Duration) *Redis {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "billing:evt"
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Redis{rdb: rdb, prefix: prefix, retention: retention}
}

func (g *Redis) key(eventID string) string {
	return g.prefix + ":" + strings.TrimSpace(eventID)
}

func (g *Redis) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := g.rdb.Exists(ctx, g.key(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *Redis) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	return g.rdb.SetNX(ctx, g.key(eventID), eventType, g.retention).Err()
}

func (g *Redis) Prune(context.Context, time.Time) (int64, error) {
	return 0, nil
}
