package provider

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

func TestSnapshotFromStripe(t *testing.T) {
	raw := []byte(`{
		"id": "sub_1",
		"object": "subscription",
		"status": "active",
		"customer": "cus_1",
		"cancel_at_period_end": true,
		"current_period_start": 1704067200,
		"current_period_end": 1735689600,
		"items": {"object": "list", "data": [
			{"id": "si_1", "object": "subscription_item", "price": {"id": "price_pro_yearly", "object": "price", "recurring": {"interval": "year"}}}
		]}
	}`)
	var sub stripe.Subscription
	require.NoError(t, json.Unmarshal(raw, &sub))

	snap := SnapshotFromStripe(&sub)
	assert.Equal(t, "sub_1", snap.ID)
	assert.Equal(t, "cus_1", snap.CustomerID)
	assert.Equal(t, "active", snap.Status)
	assert.Equal(t, "price_pro_yearly", snap.PriceID)
	assert.Equal(t, "year", snap.Interval)
	assert.True(t, snap.CancelAtPeriodEnd)
	require.NotNil(t, snap.CurrentPeriodStart)
	assert.True(t, snap.CurrentPeriodStart.Equal(time.Unix(1704067200, 0)))
	assert.Nil(t, snap.CanceledAt)
}

func TestSnapshotFromStripeNil(t *testing.T) {
	assert.Equal(t, SubscriptionSnapshot{}, SnapshotFromStripe(nil))
}

func TestWrapErrorNotFound(t *testing.T) {
	err := wrapError("get subscription sub_x", &stripe.Error{HTTPStatusCode: http.StatusNotFound, Msg: "No such subscription"})
	assert.True(t, errors.Is(err, ErrNotFound))

	err = wrapError("get subscription sub_x", &stripe.Error{HTTPStatusCode: http.StatusInternalServerError})
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestNewStripeRequiresKey(t *testing.T) {
	_, err := NewStripe(" ")
	assert.Error(t, err)
}
