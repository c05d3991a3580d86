// Package linking attaches placeholder-owned subscriptions to verified identities once
// they exist.
package linking

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/metrics"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/storage"
)

// PlaceholderUserID and IsPlaceholder are re-exported for callers outside storage.
var (
	PlaceholderUserID = storage.PlaceholderUserID
	IsPlaceholder     = storage.IsPlaceholder
)

type Resolver struct {
	store     storage.Store
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

func NewResolver(store storage.Store, logger *slog.Logger, batchSize int) *Resolver {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Resolver{store: store, logger: logger, batchSize: batchSize, now: func() time.Time { return time.Now().UTC() }}
}

// ResolvePending links every unresolved placeholder whose e-mail now has a verified
// identity. It returns the number of linkages resolved.
func (r *Resolver) ResolvePending(ctx context.Context) (int, error) {
	return r.resolve(ctx, "")
}

// ResolveEmail does the same for a single e-mail address.
func (r *Resolver) ResolveEmail(ctx context.Context, email string) (int, error) {
	email = storage.NormalizeEmail(email)
	if email == "" {
		return 0, nil
	}
	return r.resolve(ctx, email)
}

func (r *Resolver) resolve(ctx context.Context, email string) (int, error) {
	pending, err := r.store.ListPendingLinkages(ctx, email, r.batchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, l := range pending {
		identity, found, err := r.store.FindVerifiedIdentityByEmail(ctx, l.Email)
		if err != nil {
			return resolved, err
		}
		if !found {
			continue
		}

		var moved int64
		err = r.store.InTx(ctx, func(tx storage.Store) error {
			var err error
			if moved, err = tx.ReassignUser(ctx, l.PlaceholderUserID, identity.ID); err != nil {
				return err
			}
			return tx.ResolvePendingLinkage(ctx, l.PlaceholderUserID, identity.ID, r.now())
		})
		if err != nil {
			return resolved, err
		}
		resolved++
		metrics.LinkagesResolvedTotal.Inc()
		r.logger.Info("pending linkage resolved",
			"placeholder_user_id", l.PlaceholderUserID,
			"user_id", identity.ID,
			"external_customer_id", l.ExternalCustomerID,
			"rows", moved,
		)
	}
	return resolved, nil
}

// Run resolves pending linkages every interval until ctx is done.
func (r *Resolver) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if _, err := r.ResolvePending(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("pending linkage pass failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
