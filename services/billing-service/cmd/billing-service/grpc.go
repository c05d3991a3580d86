package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/md-rashed-zaman/paywall/libs/config"
	"github.com/md-rashed-zaman/paywall/libs/grpcx"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/accessrpc"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

func startGrpcServer(ctx context.Context, logger *slog.Logger, reader accessrpc.AccessReader) error {
	port, err := config.Port("GRPC_PORT", "9091")
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(grpcx.UnaryServerRequestIDInterceptor()),
	)
	accessrpc.Register(s, reader, logger)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := s.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.GracefulStop()
	}()
	return nil
}
