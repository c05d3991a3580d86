package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/outbox"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/provider"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
)

// Service folds checkout and subscription lifecycle events into Subscription rows and
// emits an outbox event whenever the entitlement of a row changes. It is shared by the
// webhook pipeline and the periodic provider reconcile.
type Service struct {
	store    storage.Store
	prices   *entitlements.PriceTable
	provider provider.SubscriptionReader
	logger   *slog.Logger
	now      func() time.Time
}

func New(store storage.Store, prices *entitlements.PriceTable, reader provider.SubscriptionReader, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		prices:   prices,
		provider: reader,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CheckoutCompleted creates or refreshes the subscription bought by a checkout session.
// It reports false when the session cannot or need not be reconciled.
func (s *Service) CheckoutCompleted(ctx context.Context, sourceEventID string, session *stripe.CheckoutSession) (bool, error) {
	if session == nil {
		return false, nil
	}
	email := checkoutEmail(session)
	if email == "" {
		s.logger.Warn("checkout completed without customer email", "event_id", sourceEventID, "checkout_session_id", session.ID)
		return false, nil
	}
	if session.Subscription == nil || strings.TrimSpace(session.Subscription.ID) == "" {
		s.logger.Info("checkout completed without subscription", "event_id", sourceEventID, "checkout_session_id", session.ID, "mode", string(session.Mode))
		return false, nil
	}
	subscriptionID := session.Subscription.ID

	// Never trust the webhook snapshot for financial state.
	snap, err := s.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			s.logger.Warn("checkout subscription unknown to provider", "event_id", sourceEventID, "external_subscription_id", subscriptionID)
			return false, nil
		}
		return false, err
	}
	if snap.CustomerID == "" && session.Customer != nil {
		snap.CustomerID = session.Customer.ID
	}
	if snap.ID == "" {
		snap.ID = subscriptionID
	}

	userID, placeholder, err := s.resolveOwner(ctx, email, snap)
	if err != nil {
		return false, err
	}

	in := s.fromSnapshot(snap)
	in.UserID = userID
	in.Status = entitlements.StatusActive

	err = s.store.InTx(ctx, func(tx storage.Store) error {
		if placeholder {
			if err := tx.UpsertPendingLinkage(ctx, storage.PendingLinkage{
				PlaceholderUserID:  userID,
				Email:              email,
				ExternalCustomerID: snap.CustomerID,
			}); err != nil {
				return err
			}
		}
		_, err := s.upsert(ctx, tx, sourceEventID, in)
		return err
	})
	if err != nil {
		return false, err
	}

	s.logger.Info("checkout reconciled",
		"event_id", sourceEventID,
		"external_subscription_id", subscriptionID,
		"tier", string(in.Tier),
		"billing_cycle", string(in.BillingCycle),
		"pending_linkage", placeholder,
	)
	return true, nil
}

// SubscriptionUpdated overwrites tier, status, period bounds and renewal settings from
// the event payload.
func (s *Service) SubscriptionUpdated(ctx context.Context, sourceEventID string, sub *stripe.Subscription) (bool, error) {
	if sub == nil || strings.TrimSpace(sub.ID) == "" {
		s.logger.Warn("subscription updated without id", "event_id", sourceEventID)
		return false, nil
	}
	return s.ApplySnapshot(ctx, sourceEventID, provider.SnapshotFromStripe(sub))
}

// ApplySnapshot upserts the provider's current view of a subscription.
func (s *Service) ApplySnapshot(ctx context.Context, sourceEventID string, snap provider.SubscriptionSnapshot) (bool, error) {
	in := s.fromSnapshot(snap)
	in.Status = entitlements.TranslateStatus(snap.Status)
	if snap.CustomerID != "" {
		// only used when the row does not exist yet; a known owner is never replaced
		in.UserID = storage.PlaceholderUserID(snap.CustomerID)
	}

	var out storage.Subscription
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		var err error
		out, err = s.upsert(ctx, tx, sourceEventID, in)
		return err
	})
	if err != nil {
		return false, err
	}

	s.logger.Info("subscription reconciled",
		"event_id", sourceEventID,
		"external_subscription_id", snap.ID,
		"provider_status", snap.Status,
		"status", string(out.Status),
		"tier", string(out.Tier),
		"auto_renew", out.AutoRenew,
	)
	return true, nil
}

// SubscriptionDeleted moves the subscription to the terminal cancelled state.
func (s *Service) SubscriptionDeleted(ctx context.Context, sourceEventID string, sub *stripe.Subscription) (bool, error) {
	if sub == nil || strings.TrimSpace(sub.ID) == "" {
		s.logger.Warn("subscription deleted without id", "event_id", sourceEventID)
		return false, nil
	}
	now := s.now()

	err := s.store.InTx(ctx, func(tx storage.Store) error {
		existing, found, err := tx.GetSubscriptionForUpdate(ctx, sub.ID)
		if err != nil {
			return err
		}
		if !found {
			// The deletion raced ahead of checkout. Record the terminal row so a late
			// checkout cannot resurrect it.
			snap := provider.SnapshotFromStripe(sub)
			in := s.fromSnapshot(snap)
			in.Status = entitlements.StatusCancelled
			in.AutoRenew = false
			in.CancelledAt = &now
			if snap.CustomerID != "" {
				in.UserID = storage.PlaceholderUserID(snap.CustomerID)
			}
			_, err := s.upsert(ctx, tx, sourceEventID, in)
			return err
		}

		if _, err := tx.CancelSubscription(ctx, sub.ID, now); err != nil {
			return err
		}
		current, _, err := tx.GetSubscription(ctx, sub.ID)
		if err != nil {
			return err
		}
		return s.recordChange(ctx, tx, sourceEventID, &existing, current)
	})
	if err != nil {
		return false, err
	}

	s.logger.Info("subscription cancelled", "event_id", sourceEventID, "external_subscription_id", sub.ID)
	return true, nil
}

// PaymentFailed moves a known, currently entitled subscription to past_due within st.
// It reports whether the subscription exists.
func (s *Service) PaymentFailed(ctx context.Context, st storage.Store, sourceEventID, externalSubscriptionID string) (bool, error) {
	existing, found, err := st.GetSubscriptionForUpdate(ctx, externalSubscriptionID)
	if err != nil || !found {
		return false, err
	}
	if !existing.Status.Entitled() {
		// past_due would grant the tier to a subscription that never paid or is paused
		return true, nil
	}
	changed, err := st.SetSubscriptionStatus(ctx, externalSubscriptionID, entitlements.StatusPastDue)
	if err != nil {
		return true, err
	}
	if !changed {
		return true, nil
	}
	current := existing
	current.Status = entitlements.StatusPastDue
	return true, s.recordChange(ctx, st, sourceEventID, &existing, current)
}

func (s *Service) fromSnapshot(snap provider.SubscriptionSnapshot) storage.Subscription {
	tier := s.prices.ResolveTier(snap.PriceID)
	cycle := entitlements.CycleFromInterval(snap.Interval)
	if entry, ok := s.prices.Lookup(snap.PriceID); ok && entry.Cycle != "" {
		cycle = entry.Cycle
	}
	return storage.Subscription{
		Tier:                   tier,
		ProviderStatus:         snap.Status,
		PriceID:                snap.PriceID,
		BillingCycle:           cycle,
		CurrentPeriodStart:     snap.CurrentPeriodStart,
		CurrentPeriodEnd:       snap.CurrentPeriodEnd,
		ExternalCustomerID:     snap.CustomerID,
		ExternalSubscriptionID: snap.ID,
		AutoRenew:              !snap.CancelAtPeriodEnd,
		CancelledAt:            snap.CanceledAt,
	}
}

// resolveOwner returns the verified identity for email, or the customer's placeholder.
func (s *Service) resolveOwner(ctx context.Context, email string, snap provider.SubscriptionSnapshot) (string, bool, error) {
	identity, found, err := s.store.FindVerifiedIdentityByEmail(ctx, email)
	if err != nil {
		return "", false, err
	}
	if found {
		return identity.ID, false, nil
	}
	key := snap.CustomerID
	if key == "" {
		key = snap.ID
	}
	return storage.PlaceholderUserID(key), true, nil
}

func (s *Service) upsert(ctx context.Context, tx storage.Store, sourceEventID string, in storage.Subscription) (storage.Subscription, error) {
	existing, found, err := tx.GetSubscriptionForUpdate(ctx, in.ExternalSubscriptionID)
	if err != nil {
		return storage.Subscription{}, err
	}
	out, err := tx.UpsertSubscription(ctx, in)
	if err != nil {
		return storage.Subscription{}, err
	}
	var prev *storage.Subscription
	if found {
		prev = &existing
	}
	return out, s.recordChange(ctx, tx, sourceEventID, prev, out)
}

// recordChange writes an entitlement event when the owner, tier or status moved.
func (s *Service) recordChange(ctx context.Context, tx storage.Store, sourceEventID string, prev *storage.Subscription, cur storage.Subscription) error {
	if prev != nil && prev.Tier == cur.Tier && prev.Status == cur.Status && prev.UserID == cur.UserID {
		return nil
	}
	effective := entitlements.EffectiveTier(cur.Tier, cur.Status)
	payload := outbox.EntitlementChanged{
		UserID:                 cur.UserID,
		ExternalSubscriptionID: cur.ExternalSubscriptionID,
		Tier:                   string(cur.Tier),
		Status:                 string(cur.Status),
		EffectiveTier:          string(effective),
		AccessLevel:            string(entitlements.ResolveAccessLevel(effective)),
		ChangedAt:              s.now().Format(time.RFC3339),
		SourceEventID:          sourceEventID,
	}
	if prev != nil {
		payload.PreviousTier = string(prev.Tier)
		payload.PreviousStatus = string(prev.Status)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	aggregateID := cur.ID
	if aggregateID == "" {
		aggregateID = cur.ExternalSubscriptionID
	}
	return tx.InsertOutboxEvent(ctx, outbox.Event{
		AggregateType: outbox.AggregateSubscription,
		AggregateID:   aggregateID,
		EventType:     outbox.EventEntitlementChanged,
		Payload:       raw,
	})
}

func checkoutEmail(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil {
		if e := storage.NormalizeEmail(session.CustomerDetails.Email); e != "" {
			return e
		}
	}
	return storage.NormalizeEmail(session.CustomerEmail)
}
