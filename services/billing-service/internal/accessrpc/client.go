package accessrpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Access is the decoded GetAccess response.
type Access struct {
	UserID                 string
	Tier                   string
	Status                 string
	EffectiveTier          string
	AccessLevel            string
	BillingCycle           string
	ExternalSubscriptionID string
	CurrentPeriodEnd       *time.Time
	AutoRenew              bool
	Content                string
	HasDeepDive            bool
}

type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// GetAccess looks up userID. When content is non-nil the response also carries the
// variant of it the user may render.
func (c *Client) GetAccess(ctx context.Context, userID string, content map[string]any) (Access, error) {
	in := map[string]any{"user_id": userID}
	if content != nil {
		in["content"] = content
	}
	req, err := structpb.NewStruct(in)
	if err != nil {
		return Access{}, err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetAccessMethod, req, resp); err != nil {
		return Access{}, err
	}
	return decodeAccess(resp)
}

func decodeAccess(s *structpb.Struct) (Access, error) {
	f := s.GetFields()
	if f == nil {
		return Access{}, errors.New("empty access response")
	}
	out := Access{
		UserID:                 f["user_id"].GetStringValue(),
		Tier:                   f["tier"].GetStringValue(),
		Status:                 f["status"].GetStringValue(),
		EffectiveTier:          f["effective_tier"].GetStringValue(),
		AccessLevel:            f["access_level"].GetStringValue(),
		BillingCycle:           f["billing_cycle"].GetStringValue(),
		ExternalSubscriptionID: f["external_subscription_id"].GetStringValue(),
		AutoRenew:              f["auto_renew"].GetBoolValue(),
		Content:                f["content"].GetStringValue(),
		HasDeepDive:            f["has_deep_dive"].GetBoolValue(),
	}
	if raw := f["current_period_end"].GetStringValue(); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Access{}, err
		}
		out.CurrentPeriodEnd = &t
	}
	return out, nil
}
