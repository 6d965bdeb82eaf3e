package model

import "time"

// Hold is a short-lived reservation of a provider and/or room time slot,
// pending conversion into a Session. At least one of ProviderID and
// RoomID is set; a hold contends on every dimension it names.
type Hold struct {
	ID                 string
	OrgID              string
	ProviderID         string
	RoomID             string
	ClientID           string
	StartTime          time.Time
	EndTime            time.Time
	ExpiresAt          time.Time
	ReleasedAt         *time.Time
	ConvertedSessionID string
	IdempotencyKey     string
	CreatedAt          time.Time
}

// Live reports whether the hold still reserves its slot: not expired,
// not released, not converted. Expiry is evaluated at read time; nothing
// depends on a background sweep.
func (h Hold) Live(now time.Time) bool {
	return h.ReleasedAt == nil && h.ConvertedSessionID == "" && now.Before(h.ExpiresAt)
}

func (h Hold) Overlaps(start, end time.Time) bool {
	return h.StartTime.Before(end) && start.Before(h.EndTime)
}
