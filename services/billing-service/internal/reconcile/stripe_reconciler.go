package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/metrics"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/provider"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/storage"
)

// Locker elects a single reconciling instance.
type Locker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (release func(), ok bool, err error)
}

// SnapshotApplier folds a provider snapshot into the subscription record.
type SnapshotApplier interface {
	ApplySnapshot(ctx context.Context, sourceEventID string, snap provider.SubscriptionSnapshot) (bool, error)
}

// SourceEventID tags outbox events written by the periodic reconcile.
const SourceEventID = "reconcile"

// StripeReconciler re-reads non-terminal subscriptions from Stripe to heal missed webhooks.
type StripeReconciler struct {
	store       storage.Store
	reader      provider.SubscriptionReader
	applier     SnapshotApplier
	locker      Locker
	logger      *slog.Logger
	batchSize   int
	advisoryKey int64
	retryEvery  time.Duration
}

type StripeReconcilerConfig struct {
	BatchSize       int
	AdvisoryLockKey int64
	LockRetry       time.Duration
}

type Stats struct {
	Checked  int
	Applied  int
	NotFound int
	Failed   int
}

func NewStripeReconciler(store storage.Store, reader provider.SubscriptionReader, applier SnapshotApplier, locker Locker, logger *slog.Logger, cfg StripeReconcilerConfig) *StripeReconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.AdvisoryLockKey == 0 {
		cfg.AdvisoryLockKey = 4242101
	}
	if cfg.LockRetry <= 0 {
		cfg.LockRetry = 30 * time.Second
	}
	return &StripeReconciler{
		store:       store,
		reader:      reader,
		applier:     applier,
		locker:      locker,
		logger:      logger,
		batchSize:   cfg.BatchSize,
		advisoryKey: cfg.AdvisoryLockKey,
		retryEvery:  cfg.LockRetry,
	}
}

// Run waits for the advisory lock, then reconciles every interval until ctx is done.
func (r *StripeReconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	release, ok := r.waitForLock(ctx)
	if !ok {
		return
	}
	defer release()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on startup to self-heal faster after downtime.
	r.ReconcileOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		}
	}
}

func (r *StripeReconciler) waitForLock(ctx context.Context) (func(), bool) {
	for {
		release, ok, err := r.locker.TryAdvisoryLock(ctx, r.advisoryKey)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, false
			}
			r.logger.Error("stripe reconcile: failed to acquire advisory lock", "err", err)
		case ok:
			r.logger.Info("stripe reconcile: advisory lock acquired", "lock_key", r.advisoryKey)
			return release, true
		default:
			r.logger.Info("stripe reconcile: advisory lock held by another instance", "lock_key", r.advisoryKey)
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(r.retryEvery):
		}
	}
}

func (r *StripeReconciler) ReconcileOnce(ctx context.Context) Stats {
	var stats Stats
	subs, err := r.store.ListSubscriptionsForReconcile(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("stripe reconcile: failed to list subscriptions", "err", err)
		return stats
	}

	for _, s := range subs {
		if ctx.Err() != nil {
			break
		}
		if strings.TrimSpace(s.ExternalSubscriptionID) == "" {
			continue
		}
		stats.Checked++

		snap, err := r.reader.GetSubscription(ctx, s.ExternalSubscriptionID)
		if err != nil {
			if errors.Is(err, provider.ErrNotFound) {
				stats.NotFound++
				metrics.ReconcileRunsTotal.WithLabelValues("not_found").Inc()
				r.logger.Warn("stripe reconcile: subscription unknown to provider", "external_subscription_id", s.ExternalSubscriptionID)
				continue
			}
			stats.Failed++
			metrics.ReconcileRunsTotal.WithLabelValues("error").Inc()
			r.logger.Warn("stripe reconcile: failed to fetch subscription", "err", err, "external_subscription_id", s.ExternalSubscriptionID)
			continue
		}

		if _, err := r.applier.ApplySnapshot(ctx, SourceEventID, snap); err != nil {
			stats.Failed++
			metrics.ReconcileRunsTotal.WithLabelValues("error").Inc()
			r.logger.Warn("stripe reconcile: apply failed", "err", err, "external_subscription_id", s.ExternalSubscriptionID)
			continue
		}
		stats.Applied++
		metrics.ReconcileRunsTotal.WithLabelValues("applied").Inc()
	}

	if stats.Checked > 0 {
		r.logger.Info("stripe reconcile pass finished",
			"checked", stats.Checked,
			"applied", stats.Applied,
			"not_found", stats.NotFound,
			"failed", stats.Failed,
		)
	}
	return stats
}
