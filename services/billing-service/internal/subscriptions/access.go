package subscriptions

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/entitlements"
)

// Access is what a user is entitled to right now.
type Access struct {
	UserID                 string
	Found                  bool
	Tier                   entitlements.Tier
	Status                 entitlements.Status
	EffectiveTier          entitlements.Tier
	Level                  entitlements.AccessLevel
	BillingCycle           entitlements.BillingCycle
	ExternalSubscriptionID string
	CurrentPeriodEnd       *time.Time
	AutoRenew              bool
}

// AccessFor resolves the access level of userID from their most relevant subscription.
// Users without one get the free tier.
func (s *Service) AccessFor(ctx context.Context, userID string) (Access, error) {
	out := Access{UserID: userID, EffectiveTier: entitlements.TierFree, Level: entitlements.AccessPreview}
	sub, found, err := s.store.LatestSubscriptionForUser(ctx, userID)
	if err != nil || !found {
		return out, err
	}
	out.Found = true
	out.Tier = sub.Tier
	out.Status = sub.Status
	out.EffectiveTier = entitlements.EffectiveTier(sub.Tier, sub.Status)
	out.Level = entitlements.ResolveAccessLevel(out.EffectiveTier)
	out.BillingCycle = sub.BillingCycle
	out.ExternalSubscriptionID = sub.ExternalSubscriptionID
	out.CurrentPeriodEnd = sub.CurrentPeriodEnd
	out.AutoRenew = sub.AutoRenew
	return out, nil
}
