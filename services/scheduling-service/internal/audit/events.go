// Package audit builds the domain events the service emits through the
// transactional outbox. Payloads are JSON and versioned by topic name.
package audit

import (
	"encoding/json"
	"time"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/outbox"
)

const (
	TopicScheduleGenerated = "scheduling.schedule.generated.v1"
	TopicSchedulePublished = "scheduling.schedule.published.v1"
	TopicDraftCopied       = "scheduling.schedule.draft_copied.v1"
	TopicHoldConverted     = "scheduling.hold.converted.v1"
	TopicGenerationBlocked = "scheduling.generation.blocked.v1"
)

func ScheduleGenerated(orgID, scheduleID string, weekStart time.Time, version, sessions, warnings int) outbox.Event {
	payload, _ := json.Marshal(map[string]any{
		"org_id":      orgID,
		"schedule_id": scheduleID,
		"week_start":  weekStart.Format(time.RFC3339),
		"version":     version,
		"sessions":    sessions,
		"warnings":    warnings,
	})
	return outbox.Event{
		AggregateType: "schedule",
		AggregateID:   scheduleID,
		EventType:     TopicScheduleGenerated,
		Payload:       payload,
	}
}

func SchedulePublished(orgID, scheduleID string, weekStart time.Time, version int, at time.Time) outbox.Event {
	payload, _ := json.Marshal(map[string]any{
		"org_id":       orgID,
		"schedule_id":  scheduleID,
		"week_start":   weekStart.Format(time.RFC3339),
		"version":      version,
		"published_at": at.Format(time.RFC3339),
	})
	return outbox.Event{
		AggregateType: "schedule",
		AggregateID:   scheduleID,
		EventType:     TopicSchedulePublished,
		Payload:       payload,
	}
}

func DraftCopied(orgID, scheduleID, sourceScheduleID string, version, rescheduled, removed int) outbox.Event {
	payload, _ := json.Marshal(map[string]any{
		"org_id":             orgID,
		"schedule_id":        scheduleID,
		"source_schedule_id": sourceScheduleID,
		"version":            version,
		"rescheduled":        rescheduled,
		"removed":            removed,
	})
	return outbox.Event{
		AggregateType: "schedule",
		AggregateID:   scheduleID,
		EventType:     TopicDraftCopied,
		Payload:       payload,
	}
}

func HoldConverted(orgID, holdID, sessionID, clientID string) outbox.Event {
	payload, _ := json.Marshal(map[string]any{
		"org_id":     orgID,
		"hold_id":    holdID,
		"session_id": sessionID,
		"client_id":  clientID,
	})
	return outbox.Event{
		AggregateType: "hold",
		AggregateID:   holdID,
		EventType:     TopicHoldConverted,
		Payload:       payload,
	}
}

func GenerationBlocked(orgID string, weekStart time.Time, ruleIDs []string) outbox.Event {
	payload, _ := json.Marshal(map[string]any{
		"org_id":     orgID,
		"week_start": weekStart.Format(time.RFC3339),
		"rule_ids":   ruleIDs,
	})
	return outbox.Event{
		AggregateType: "schedule",
		AggregateID:   orgID,
		EventType:     TopicGenerationBlocked,
		Payload:       payload,
	}
}
