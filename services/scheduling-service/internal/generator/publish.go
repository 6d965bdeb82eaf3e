package generator

import (
	"context"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/audit"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
)

// Publish promotes a draft to the organization's published schedule
// for its week. The previously published schedule, if any, is archived
// in the same transaction so at most one published schedule exists per
// week.
func (g *Generator) Publish(ctx context.Context, orgID, scheduleID string) (*model.Schedule, error) {
	sched, err := g.store.ScheduleByID(ctx, orgID, scheduleID)
	if err != nil {
		return nil, err
	}
	if sched.Status != model.ScheduleDraft {
		return nil, ErrNotDraft
	}

	now := g.now()
	evt := audit.SchedulePublished(orgID, scheduleID, sched.WeekStart, sched.Version, now)
	published, err := g.store.MarkPublished(ctx, orgID, scheduleID, now, evt)
	if err != nil {
		return nil, err
	}
	g.logger.Info("schedule published",
		"org_id", orgID,
		"schedule_id", scheduleID,
		"week_start", published.WeekStart.Format("2006-01-02"),
		"version", published.Version)
	return published, nil
}
