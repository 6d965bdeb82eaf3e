//go:build protogen

package main

import (
	"context"
	"log/slog"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/pracsuite/pracsuite/libs/config"
	"github.com/pracsuite/pracsuite/libs/grpcx"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/grpcserver"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/storage"
)

func startGrpcServer(ctx context.Context, logger *slog.Logger, store *storage.ScheduleStore) error {
	port, err := config.Port("GRPC_PORT", "9094")
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(grpcx.UnaryServerRequestIDInterceptor()),
	)
	grpcserver.Register(srv, store)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	return nil
}
