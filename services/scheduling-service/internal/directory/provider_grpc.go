//go:build protogen

package directory

import (
	"context"
	"time"

	"github.com/pracsuite/pracsuite/libs/grpcx"
	directoryv1 "github.com/pracsuite/pracsuite/protos/gen/directory/v1"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
)

type Provider interface {
	OrgSettings(ctx context.Context, orgID string) (model.OrgSettings, error)
}

type grpcProvider struct {
	client directoryv1.DirectoryServiceClient
}

func NewProvider(addr string) (Provider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{client: directoryv1.NewDirectoryServiceClient(conn)}, nil
}

func (p *grpcProvider) OrgSettings(ctx context.Context, orgID string) (model.OrgSettings, error) {
	resp, err := p.client.GetOrgSettings(ctx, &directoryv1.OrgSettingsRequest{OrgId: orgID})
	if err != nil {
		return model.OrgSettings{}, err
	}
	settings := model.OrgSettings{
		OrgID: resp.GetOrgId(),
		BusinessHours: model.ClockRange{
			StartMin: int(resp.GetBusinessStartMin()),
			EndMin:   int(resp.GetBusinessEndMin()),
		},
		SlotIntervalMin:   int(resp.GetSlotIntervalMin()),
		DefaultSessionMin: int(resp.GetDefaultSessionMin()),
		LateCancelWindow:  time.Duration(resp.GetLateCancelWindowMin()) * time.Minute,
		HoldTTL:           time.Duration(resp.GetHoldTtlMin()) * time.Minute,
		RecurringHolidays: resp.GetRecurringHolidays(),
	}
	for _, h := range resp.GetOneOffHolidays() {
		if h != nil {
			settings.OneOffHolidays = append(settings.OneOffHolidays, h.AsTime())
		}
	}
	return settings, nil
}
