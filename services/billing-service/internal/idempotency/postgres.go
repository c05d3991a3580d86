package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/paywall/libs/db"
)

// Postgres keeps processed event ids in the processed_events table.
type Postgres struct {
	q db.Querier
}

func NewPostgres(q db.Querier) *Postgres {
	return &Postgres{q: q}
}

func (g *Postgres) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := g.q.QueryRow(ctx, `SELECT 1 FROM processed_events WHERE event_id = $1`, strings.TrimSpace(eventID)).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (g *Postgres) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := g.q.Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, strings.TrimSpace(eventID), eventType)
	return err
}

func (g *Postgres) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := g.q.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
