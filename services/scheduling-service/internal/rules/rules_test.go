package rules

import (
	"testing"
	"time"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
)

func genderRule(id string, clientGender model.Gender, allowed ...model.Gender) Rule {
	return Rule{
		ID: id, OrgID: "org-1", Category: CategoryGenderPairing, Active: true,
		ReviewStatus: ReviewOK,
		Logic: Logic{GenderPairing: &GenderPairingLogic{
			ClientGender:           clientGender,
			AllowedProviderGenders: allowed,
		}},
	}
}

func pairingRule(id, clientID, providerID string, effect PairingEffect) Rule {
	return Rule{
		ID: id, OrgID: "org-1", Category: CategorySpecificPairing, Active: true,
		ReviewStatus: ReviewOK,
		Logic: Logic{SpecificPairing: &SpecificPairingLogic{
			ClientID: clientID, ProviderID: providerID, Effect: effect,
		}},
	}
}

func TestValidateRejectsMismatchedPayload(t *testing.T) {
	r := Rule{
		ID: "r-1", OrgID: "org-1", Category: CategorySession, Active: true,
		Logic: Logic{GenderPairing: &GenderPairingLogic{
			AllowedProviderGenders: []model.Gender{model.GenderFemale},
		}},
	}
	if err := r.Validate(); err == nil {
		t.Fatal("expected payload/category mismatch to fail validation")
	}
}

func TestValidateRejectsEmptyAndDoublePayload(t *testing.T) {
	empty := Rule{ID: "r-1", OrgID: "org-1", Category: CategorySession}
	if err := empty.Validate(); err == nil {
		t.Fatal("expected rule with no payload to fail validation")
	}

	two := genderRule("r-2", model.GenderFemale, model.GenderFemale)
	two.Logic.Session = &SessionLogic{MaxSessionsPerProviderDay: 6}
	if err := two.Validate(); err == nil {
		t.Fatal("expected rule with two payloads to fail validation")
	}
}

func TestValidateAcceptsEachCategory(t *testing.T) {
	cases := []Rule{
		genderRule("r-1", model.GenderFemale, model.GenderFemale),
		{ID: "r-2", OrgID: "org-1", Category: CategorySession,
			Logic: Logic{Session: &SessionLogic{MaxSessionsPerProviderDay: 6}}},
		{ID: "r-3", OrgID: "org-1", Category: CategoryAvailability,
			Logic: Logic{Availability: &AvailabilityLogic{
				Weekdays: []time.Weekday{time.Monday},
				Window:   model.ClockRange{StartMin: 9 * 60, EndMin: 17 * 60},
			}}},
		pairingRule("r-4", "c-1", "p-1", PairingRequire),
		{ID: "r-5", OrgID: "org-1", Category: CategoryCertification,
			Logic: Logic{Certification: &CertificationLogic{Required: []string{"bls"}}}},
	}
	for _, r := range cases {
		if err := r.Validate(); err != nil {
			t.Fatalf("rule %s: unexpected validation error: %v", r.ID, err)
		}
	}
}

func TestNewSetPartitionsAndOrders(t *testing.T) {
	low := genderRule("r-b", model.GenderFemale, model.GenderFemale)
	low.Priority = 1
	high := genderRule("r-a", model.GenderFemale, model.GenderFemale, model.GenderNonbinary)
	high.Priority = 5
	inactive := pairingRule("r-c", "c-1", "p-1", PairingForbid)
	inactive.Active = false
	session := Rule{
		ID: "r-d", OrgID: "org-1", Category: CategorySession, Active: true,
		Logic: Logic{Session: &SessionLogic{MaxSessionsPerClientDay: 2}},
	}

	set := NewSet([]Rule{low, session, inactive, high})
	if len(set.Hard.GenderPairing) != 2 {
		t.Fatalf("expected 2 gender pairing rules, got %d", len(set.Hard.GenderPairing))
	}
	if set.Hard.GenderPairing[0].ID != "r-a" {
		t.Fatalf("expected priority ordering, got %s first", set.Hard.GenderPairing[0].ID)
	}
	if len(set.Hard.SpecificPairing) != 0 {
		t.Fatal("inactive rule must not enter the set")
	}
	if len(set.Soft.Session) != 1 {
		t.Fatalf("expected 1 session rule, got %d", len(set.Soft.Session))
	}
}

func TestNeedingReviewBlocksOnlyActiveFlagged(t *testing.T) {
	flagged := genderRule("r-2", model.GenderFemale, model.GenderFemale)
	flagged.ReviewStatus = ReviewNeeded
	flagged.ReviewIssues = []string{"conflicts with required pairing"}
	inactiveFlagged := pairingRule("r-1", "c-1", "p-1", PairingForbid)
	inactiveFlagged.Active = false
	inactiveFlagged.ReviewStatus = ReviewNeeded

	blocked := NeedingReview([]Rule{flagged, inactiveFlagged, genderRule("r-3", model.GenderMale, model.GenderMale)})
	if len(blocked) != 1 || blocked[0].ID != "r-2" {
		t.Fatalf("expected only r-2 blocked, got %+v", blocked)
	}

	err := NewReviewRequiredError(blocked)
	if len(err.Rules) != 1 || err.Rules[0].RuleID != "r-2" {
		t.Fatalf("unexpected error detail: %+v", err.Rules)
	}
	if err.Error() == "" {
		t.Fatal("expected error message")
	}
}
