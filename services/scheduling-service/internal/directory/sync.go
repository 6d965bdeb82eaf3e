// Package directory keeps a local mirror of the platform directory
// (providers, clients, rooms, org settings) and resolves organization
// settings for the schedule engine.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/consumer"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/storage"
)

const (
	TopicProviderUpserted = "directory.provider.upserted.v1"
	TopicClientUpserted   = "directory.client.upserted.v1"
	TopicRoomUpserted     = "directory.room.upserted.v1"
	TopicSettingsUpserted = "directory.settings.upserted.v1"
)

func Topics() []string {
	return []string{
		TopicProviderUpserted,
		TopicClientUpserted,
		TopicRoomUpserted,
		TopicSettingsUpserted,
	}
}

type clockRangePayload struct {
	StartMin int `json:"start_min"`
	EndMin   int `json:"end_min"`
}

type dayWindowPayload struct {
	Weekday  int `json:"weekday"`
	StartMin int `json:"start_min"`
	EndMin   int `json:"end_min"`
}

type providerPayload struct {
	ID             string                         `json:"id"`
	OrgID          string                         `json:"org_id"`
	Name           string                         `json:"name"`
	Gender         string                         `json:"gender"`
	Certifications []string                       `json:"certifications"`
	WeeklyWindows  map[string][]clockRangePayload `json:"weekly_windows"`
	Active         bool                           `json:"active"`
	CreatedAt      time.Time                      `json:"created_at"`
}

type clientPayload struct {
	ID                       string             `json:"id"`
	OrgID                    string             `json:"org_id"`
	Name                     string             `json:"name"`
	Gender                   string             `json:"gender"`
	GenderPreference         string             `json:"gender_preference"`
	WeeklySessions           int                `json:"weekly_sessions"`
	PreferredWindows         []dayWindowPayload `json:"preferred_windows"`
	RequiredCertifications   []string           `json:"required_certifications"`
	PreferredRoomID          string             `json:"preferred_room_id"`
	RequiredRoomCapabilities []string           `json:"required_room_capabilities"`
	Active                   bool               `json:"active"`
	CreatedAt                time.Time          `json:"created_at"`
}

type roomPayload struct {
	ID           string   `json:"id"`
	OrgID        string   `json:"org_id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Active       bool     `json:"active"`
}

type settingsPayload struct {
	OrgID               string   `json:"org_id"`
	BusinessStartMin    int      `json:"business_start_min"`
	BusinessEndMin      int      `json:"business_end_min"`
	SlotIntervalMin     int      `json:"slot_interval_min"`
	DefaultSessionMin   int      `json:"default_session_min"`
	LateCancelWindowMin int      `json:"late_cancel_window_min"`
	HoldTTLMin          int      `json:"hold_ttl_min"`
	RecurringHolidays   []string `json:"recurring_holidays"`
	OneOffHolidays      []string `json:"one_off_holidays"`
}

// NewSyncHandler returns the consumer handler applying directory
// upsert events to the local mirror.
func NewSyncHandler(logger *slog.Logger, repo *storage.DirectoryRepository) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		switch msg.Topic {
		case TopicProviderUpserted:
			var p providerPayload
			if err := json.Unmarshal(msg.Value, &p); err != nil {
				return fmt.Errorf("decode provider event: %w", err)
			}
			windows := make(map[time.Weekday][]model.ClockRange, len(p.WeeklyWindows))
			for day, ranges := range p.WeeklyWindows {
				d, err := strconv.Atoi(day)
				if err != nil || d < 0 || d > 6 {
					return fmt.Errorf("provider %s: bad weekday %q", p.ID, day)
				}
				for _, cr := range ranges {
					windows[time.Weekday(d)] = append(windows[time.Weekday(d)],
						model.ClockRange{StartMin: cr.StartMin, EndMin: cr.EndMin})
				}
			}
			logger.Info("provider synced", "provider_id", p.ID, "org_id", p.OrgID)
			return repo.UpsertProvider(ctx, model.Provider{
				ID:             p.ID,
				OrgID:          p.OrgID,
				Name:           p.Name,
				Gender:         model.Gender(p.Gender),
				Certifications: p.Certifications,
				WeeklyWindows:  windows,
				Active:         p.Active,
				CreatedAt:      p.CreatedAt,
			})

		case TopicClientUpserted:
			var c clientPayload
			if err := json.Unmarshal(msg.Value, &c); err != nil {
				return fmt.Errorf("decode client event: %w", err)
			}
			windows := make([]model.DayWindow, 0, len(c.PreferredWindows))
			for _, w := range c.PreferredWindows {
				windows = append(windows, model.DayWindow{
					Weekday:    time.Weekday(w.Weekday),
					ClockRange: model.ClockRange{StartMin: w.StartMin, EndMin: w.EndMin},
				})
			}
			logger.Info("client synced", "client_id", c.ID, "org_id", c.OrgID)
			return repo.UpsertClient(ctx, model.Client{
				ID:                       c.ID,
				OrgID:                    c.OrgID,
				Name:                     c.Name,
				Gender:                   model.Gender(c.Gender),
				GenderPreference:         model.Gender(c.GenderPreference),
				WeeklySessions:           c.WeeklySessions,
				PreferredWindows:         windows,
				RequiredCertifications:   c.RequiredCertifications,
				PreferredRoomID:          c.PreferredRoomID,
				RequiredRoomCapabilities: c.RequiredRoomCapabilities,
				Active:                   c.Active,
				CreatedAt:                c.CreatedAt,
			})

		case TopicRoomUpserted:
			var rm roomPayload
			if err := json.Unmarshal(msg.Value, &rm); err != nil {
				return fmt.Errorf("decode room event: %w", err)
			}
			logger.Info("room synced", "room_id", rm.ID, "org_id", rm.OrgID)
			return repo.UpsertRoom(ctx, model.Room{
				ID:           rm.ID,
				OrgID:        rm.OrgID,
				Name:         rm.Name,
				Capabilities: rm.Capabilities,
				Active:       rm.Active,
			})

		case TopicSettingsUpserted:
			var sp settingsPayload
			if err := json.Unmarshal(msg.Value, &sp); err != nil {
				return fmt.Errorf("decode settings event: %w", err)
			}
			settings := model.OrgSettings{
				OrgID:             sp.OrgID,
				BusinessHours:     model.ClockRange{StartMin: sp.BusinessStartMin, EndMin: sp.BusinessEndMin},
				SlotIntervalMin:   sp.SlotIntervalMin,
				DefaultSessionMin: sp.DefaultSessionMin,
				LateCancelWindow:  time.Duration(sp.LateCancelWindowMin) * time.Minute,
				HoldTTL:           time.Duration(sp.HoldTTLMin) * time.Minute,
				RecurringHolidays: sp.RecurringHolidays,
			}
			for _, d := range sp.OneOffHolidays {
				day, err := time.Parse("2006-01-02", d)
				if err != nil {
					return fmt.Errorf("settings %s: bad holiday %q", sp.OrgID, d)
				}
				settings.OneOffHolidays = append(settings.OneOffHolidays, day)
			}
			logger.Info("settings synced", "org_id", sp.OrgID)
			return repo.UpsertOrgSettings(ctx, settings)

		default:
			logger.Warn("unhandled directory topic", "topic", msg.Topic)
			return nil
		}
	}
}
