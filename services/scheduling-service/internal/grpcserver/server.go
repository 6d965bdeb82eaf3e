//go:build protogen

package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	schedulingv1 "github.com/pracsuite/pracsuite/protos/gen/scheduling/v1"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/storage"
)

type server struct {
	schedulingv1.UnimplementedSchedulingServiceServer
	store *storage.ScheduleStore
}

func Register(grpcServer *grpc.Server, store *storage.ScheduleStore) {
	schedulingv1.RegisterSchedulingServiceServer(grpcServer, &server{store: store})
}

func (s *server) GetWeekSchedule(ctx context.Context, req *schedulingv1.WeekScheduleRequest) (*schedulingv1.WeekScheduleResponse, error) {
	if req.GetOrgId() == "" || req.GetWeekStart() == nil {
		return nil, status.Error(codes.InvalidArgument, "org_id and week_start are required")
	}
	week := model.WeekStartOf(req.GetWeekStart().AsTime())

	sched, sessions, err := s.store.ScheduleForWeek(ctx, req.GetOrgId(), week, model.SchedulePublished)
	if err != nil {
		return nil, status.Error(codes.Internal, "load schedule")
	}
	if sched == nil {
		return nil, status.Error(codes.NotFound, "no published schedule for week")
	}

	resp := &schedulingv1.WeekScheduleResponse{
		ScheduleId: sched.ID,
		Version:    int32(sched.Version),
		Status:     string(sched.Status),
		WeekStart:  timestamppb.New(sched.WeekStart),
	}
	if sched.PublishedAt != nil {
		resp.PublishedAt = timestamppb.New(sched.PublishedAt.UTC())
	}
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, &schedulingv1.Session{
			Id:         sess.ID,
			ClientId:   sess.ClientID,
			ProviderId: sess.ProviderID,
			RoomId:     sess.RoomID,
			StartUtc:   timestamppb.New(sess.StartTime.In(time.UTC)),
			EndUtc:     timestamppb.New(sess.EndTime.In(time.UTC)),
			Status:     string(sess.Status),
		})
	}
	return resp, nil
}
