package entitlements

import "strings"

// Status is the internal subscription lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusTrial     Status = "trial"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"

	// Not entitled, but the provider can still move the subscription back to active.
	StatusIncomplete Status = "incomplete"
	StatusPaused     Status = "paused"
	StatusInactive   Status = "inactive"
)

// Entitled reports whether a subscription in this state grants its tier.
func (s Status) Entitled() bool {
	return s == StatusActive || s == StatusTrial || s == StatusPastDue
}

// Terminal states are never left again for the same provider subscription id.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// TranslateStatus maps a Stripe subscription status onto the internal taxonomy.
// Only canceled and incomplete_expired are terminal. Unknown states are inactive so a
// later status from the provider can still reactivate the subscription.
func TranslateStatus(providerStatus string) Status {
	switch strings.TrimSpace(strings.ToLower(providerStatus)) {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrial
	case "past_due", "unpaid":
		return StatusPastDue
	case "incomplete":
		return StatusIncomplete
	case "paused":
		return StatusPaused
	case "canceled", "cancelled":
		return StatusCancelled
	case "incomplete_expired":
		return StatusExpired
	default:
		return StatusInactive
	}
}
