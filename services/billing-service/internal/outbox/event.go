package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	AggregateSubscription = "subscription"

	// EventEntitlementChanged is emitted whenever the tier or status of a subscription changes.
	EventEntitlementChanged = "billing.entitlement.changed.v1"
)

// EntitlementChanged is the payload of EventEntitlementChanged.
type EntitlementChanged struct {
	UserID                 string `json:"user_id"`
	ExternalSubscriptionID string `json:"external_subscription_id"`
	Tier                   string `json:"tier"`
	Status                 string `json:"status"`
	EffectiveTier          string `json:"effective_tier"`
	AccessLevel            string `json:"access_level"`
	PreviousTier           string `json:"previous_tier,omitempty"`
	PreviousStatus         string `json:"previous_status,omitempty"`
	ChangedAt              string `json:"changed_at"`
	SourceEventID          string `json:"source_event_id,omitempty"`
}
