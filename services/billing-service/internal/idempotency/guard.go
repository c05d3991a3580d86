// Package idempotency records which provider events have been applied, so that a
// redelivered event is acknowledged without running its handler again.
package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetention is well beyond Stripe's three day redelivery window.
const DefaultRetention = 30 * 24 * time.Hour

// Guard is consulted before an event handler runs and marked only after the handler's
// side effects are committed.
type Guard interface {
	HasProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string) error
	// Prune forgets events processed before olderThan and reports how many were removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// Pruner periodically removes entries older than the retention window.
type Pruner struct {
	guard     Guard
	logger    *slog.Logger
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

func NewPruner(guard Guard, logger *slog.Logger, retention, interval time.Duration) *Pruner {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Pruner{guard: guard, logger: logger, retention: retention, interval: interval, now: time.Now}
}

func (p *Pruner) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		p.PruneOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (p *Pruner) PruneOnce(ctx context.Context) int64 {
	cutoff := p.now().Add(-p.retention)
	n, err := p.guard.Prune(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("idempotency prune failed", "err", err)
		}
		return 0
	}
	if n > 0 {
		p.logger.Info("idempotency entries pruned", "count", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	}
	return n
}
