package model

import "time"

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// AvailabilityException overrides a provider's recurring window for one
// specific date. Only approved exceptions are visible to scheduling;
// pending and rejected rows are kept for the review workflow but ignored
// by resolution.
type AvailabilityException struct {
	ID         string
	OrgID      string
	ProviderID string
	Date       time.Time // midnight, date-only semantics
	// Available false means the provider is out for the whole day.
	// Available true with a non-nil Override replaces the recurring
	// window with Override; with a nil Override it re-opens a holiday.
	Available bool
	Override  *ClockRange
	Status    ApprovalStatus
	Reason    string
	CreatedAt time.Time
}

func (e AvailabilityException) AppliesOn(date time.Time) bool {
	return e.Status == ApprovalApproved && sameDate(e.Date, date)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
