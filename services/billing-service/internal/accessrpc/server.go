// Package accessrpc serves access-level lookups to other services over gRPC.
//
// Messages are google.protobuf.Struct values so the service needs no generated stubs:
//
//	request:  {"user_id": "...", "content": {"body": "...", "preview": "...", "starter": "...", "deep_dive": "..."}}
//	response: {"user_id", "tier", "status", "effective_tier", "access_level", "billing_cycle",
//	           "external_subscription_id", "current_period_end", "auto_renew",
//	           "content", "has_deep_dive"}
//
// content is optional; when present the response carries the variant the caller may render.
package accessrpc

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/metrics"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/subscriptions"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName     = "paywall.access.v1.AccessService"
	GetAccessMethod = "/" + ServiceName + "/GetAccess"
)

// AccessReader resolves a user's current access.
type AccessReader interface {
	AccessFor(ctx context.Context, userID string) (subscriptions.Access, error)
}

// AccessServer is the server API for AccessService.
type AccessServer interface {
	GetAccess(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AccessServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAccess", Handler: getAccessHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "paywall/access/v1/access.proto",
}

func getAccessHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessServer).GetAccess(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetAccessMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AccessServer).GetAccess(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type Server struct {
	reader AccessReader
	logger *slog.Logger
}

func Register(grpcServer *grpc.Server, reader AccessReader, logger *slog.Logger) {
	grpcServer.RegisterService(&ServiceDesc, &Server{reader: reader, logger: logger})
}

func (s *Server) GetAccess(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	userID := strings.TrimSpace(fields["user_id"].GetStringValue())
	if userID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}

	access, err := s.reader.AccessFor(ctx, userID)
	if err != nil {
		s.logger.Error("access lookup failed", "user_id", userID, "err", err)
		return nil, status.Error(codes.Unavailable, "access lookup failed")
	}
	metrics.AccessRequestsTotal.WithLabelValues(string(access.Level)).Inc()

	out := map[string]any{
		"user_id":        userID,
		"tier":           string(access.Tier),
		"status":         string(access.Status),
		"effective_tier": string(access.EffectiveTier),
		"access_level":   string(access.Level),
		"billing_cycle":  string(access.BillingCycle),
		"auto_renew":     access.AutoRenew,
	}
	if access.ExternalSubscriptionID != "" {
		out["external_subscription_id"] = access.ExternalSubscriptionID
	}
	if access.CurrentPeriodEnd != nil {
		out["current_period_end"] = access.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}
	if c := fields["content"].GetStructValue(); c != nil {
		resolved := entitlements.ResolveContent(access.Level, contentFromStruct(c))
		out["content"] = resolved.Content
		out["has_deep_dive"] = resolved.HasDeepDive
	}

	resp, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

func contentFromStruct(s *structpb.Struct) entitlements.Content {
	f := s.GetFields()
	return entitlements.Content{
		Body:     f["body"].GetStringValue(),
		Preview:  f["preview"].GetStringValue(),
		Starter:  f["starter"].GetStringValue(),
		DeepDive: f["deep_dive"].GetStringValue(),
	}
}
