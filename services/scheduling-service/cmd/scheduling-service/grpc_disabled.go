//go:build !protogen

package main

import (
	"context"
	"log/slog"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/storage"
)

func startGrpcServer(_ context.Context, _ *slog.Logger, _ *storage.ScheduleStore) error {
	return nil
}
