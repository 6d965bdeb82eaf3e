package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
)

type Category string

const (
	CategoryGenderPairing   Category = "gender_pairing"
	CategorySession         Category = "session"
	CategoryAvailability    Category = "availability"
	CategorySpecificPairing Category = "specific_pairing"
	CategoryCertification   Category = "certification"
)

type ReviewStatus string

const (
	ReviewOK     ReviewStatus = "ok"
	ReviewNeeded ReviewStatus = "needs_review"
)

type PairingEffect string

const (
	PairingRequire PairingEffect = "require"
	PairingForbid  PairingEffect = "forbid"
)

// Rule is an organization-scoped scheduling constraint. Logic is a
// closed tagged union keyed by Category: exactly one payload is set and
// it must match the category. Payloads are validated when the rule is
// written, never at match time.
type Rule struct {
	ID           string
	OrgID        string
	Name         string
	Category     Category
	Priority     int // higher wins when rules of one category disagree
	Active       bool
	ReviewStatus ReviewStatus
	ReviewIssues []string
	ReviewedAt   *time.Time
	Logic        Logic
	CreatedAt    time.Time
}

type Logic struct {
	GenderPairing   *GenderPairingLogic
	Session         *SessionLogic
	Availability    *AvailabilityLogic
	SpecificPairing *SpecificPairingLogic
	Certification   *CertificationLogic
}

// GenderPairingLogic restricts which provider genders may be paired with
// clients of a given gender. ClientGender empty means the rule applies
// to every client.
type GenderPairingLogic struct {
	ClientGender           model.Gender
	AllowedProviderGenders []model.Gender
}

func (l GenderPairingLogic) Allows(g model.Gender) bool {
	for _, a := range l.AllowedProviderGenders {
		if a == g {
			return true
		}
	}
	return false
}

// SessionLogic is the soft session-shape preference: exceeding a limit
// lowers a candidate's rank but never eliminates it.
type SessionLogic struct {
	MaxSessionsPerProviderDay int
	MaxSessionsPerClientDay   int
}

// AvailabilityLogic bounds the bookable time of day, optionally to a set
// of weekdays. Empty Weekdays means the window applies every day.
type AvailabilityLogic struct {
	Weekdays []time.Weekday
	Window   model.ClockRange
}

func (l AvailabilityLogic) AppliesOn(day time.Weekday) bool {
	if len(l.Weekdays) == 0 {
		return true
	}
	for _, w := range l.Weekdays {
		if w == day {
			return true
		}
	}
	return false
}

// SpecificPairingLogic pins or excludes one (client, provider) pair.
type SpecificPairingLogic struct {
	ClientID   string
	ProviderID string
	Effect     PairingEffect
}

// CertificationLogic adds certifications a provider must hold to serve a
// client. ClientID empty means the requirement applies to all clients.
type CertificationLogic struct {
	ClientID string
	Required []string
}

// Validate enforces the tagged-union shape and category-specific
// constraints. Called on every write; generation may assume rules in
// storage are well-formed.
func (r Rule) Validate() error {
	if r.OrgID == "" {
		return fmt.Errorf("rule %s: org id required", r.ID)
	}
	n := 0
	if r.Logic.GenderPairing != nil {
		n++
		if r.Category != CategoryGenderPairing {
			return fmt.Errorf("rule %s: gender pairing logic on category %q", r.ID, r.Category)
		}
		if len(r.Logic.GenderPairing.AllowedProviderGenders) == 0 {
			return fmt.Errorf("rule %s: allowed provider genders required", r.ID)
		}
	}
	if r.Logic.Session != nil {
		n++
		if r.Category != CategorySession {
			return fmt.Errorf("rule %s: session logic on category %q", r.ID, r.Category)
		}
		l := r.Logic.Session
		if l.MaxSessionsPerProviderDay < 0 || l.MaxSessionsPerClientDay < 0 {
			return fmt.Errorf("rule %s: session limits must be non-negative", r.ID)
		}
		if l.MaxSessionsPerProviderDay == 0 && l.MaxSessionsPerClientDay == 0 {
			return fmt.Errorf("rule %s: session rule sets no limit", r.ID)
		}
	}
	if r.Logic.Availability != nil {
		n++
		if r.Category != CategoryAvailability {
			return fmt.Errorf("rule %s: availability logic on category %q", r.ID, r.Category)
		}
		if !r.Logic.Availability.Window.Valid() {
			return fmt.Errorf("rule %s: invalid availability window", r.ID)
		}
	}
	if r.Logic.SpecificPairing != nil {
		n++
		if r.Category != CategorySpecificPairing {
			return fmt.Errorf("rule %s: specific pairing logic on category %q", r.ID, r.Category)
		}
		l := r.Logic.SpecificPairing
		if l.ClientID == "" || l.ProviderID == "" {
			return fmt.Errorf("rule %s: specific pairing needs client and provider", r.ID)
		}
		if l.Effect != PairingRequire && l.Effect != PairingForbid {
			return fmt.Errorf("rule %s: unknown pairing effect %q", r.ID, l.Effect)
		}
	}
	if r.Logic.Certification != nil {
		n++
		if r.Category != CategoryCertification {
			return fmt.Errorf("rule %s: certification logic on category %q", r.ID, r.Category)
		}
		if len(r.Logic.Certification.Required) == 0 {
			return fmt.Errorf("rule %s: certification rule lists no certifications", r.ID)
		}
	}
	if n != 1 {
		return fmt.Errorf("rule %s: exactly one logic payload required, got %d", r.ID, n)
	}
	return nil
}

// Set partitions active rules into structurally distinct hard and soft
// classes so invariant checks never depend on incidental list order.
type Set struct {
	Hard HardRules
	Soft SoftRules
}

type HardRules struct {
	GenderPairing   []Rule
	Availability    []Rule
	SpecificPairing []Rule
	Certification   []Rule
}

type SoftRules struct {
	Session []Rule
}

// NewSet keeps only active rules and orders each class by priority
// descending, then rule ID, so evaluation is reproducible.
func NewSet(all []Rule) Set {
	var s Set
	for _, r := range all {
		if !r.Active {
			continue
		}
		switch r.Category {
		case CategoryGenderPairing:
			s.Hard.GenderPairing = append(s.Hard.GenderPairing, r)
		case CategoryAvailability:
			s.Hard.Availability = append(s.Hard.Availability, r)
		case CategorySpecificPairing:
			s.Hard.SpecificPairing = append(s.Hard.SpecificPairing, r)
		case CategoryCertification:
			s.Hard.Certification = append(s.Hard.Certification, r)
		case CategorySession:
			s.Soft.Session = append(s.Soft.Session, r)
		}
	}
	for _, class := range [][]Rule{
		s.Hard.GenderPairing, s.Hard.Availability, s.Hard.SpecificPairing,
		s.Hard.Certification, s.Soft.Session,
	} {
		sortRules(class)
	}
	return s
}

func sortRules(rs []Rule) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Priority != rs[j].Priority {
			return rs[i].Priority > rs[j].Priority
		}
		return rs[i].ID < rs[j].ID
	})
}

// NeedingReview returns the active rules flagged needs_review, in ID
// order. A non-empty result blocks generation.
func NeedingReview(all []Rule) []Rule {
	var blocked []Rule
	for _, r := range all {
		if r.Active && r.ReviewStatus == ReviewNeeded {
			blocked = append(blocked, r)
		}
	}
	sort.Slice(blocked, func(i, j int) bool { return blocked[i].ID < blocked[j].ID })
	return blocked
}

// ReviewRequiredError blocks generation until an administrator resolves
// the flagged rules. It carries enough detail for the caller to act.
type ReviewRequiredError struct {
	Rules []BlockedRule
}

type BlockedRule struct {
	RuleID string
	Name   string
	Issues []string
}

func (e *ReviewRequiredError) Error() string {
	return fmt.Sprintf("%d active rule(s) need review before schedules can be generated", len(e.Rules))
}

func NewReviewRequiredError(blocked []Rule) *ReviewRequiredError {
	e := &ReviewRequiredError{}
	for _, r := range blocked {
		e.Rules = append(e.Rules, BlockedRule{RuleID: r.ID, Name: r.Name, Issues: r.ReviewIssues})
	}
	return e
}
