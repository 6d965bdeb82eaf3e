package matcher

import (
	"errors"
	"testing"
	"time"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/availability"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/rules"
)

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func slotAt(hour int) Slot {
	return Slot{
		Start: monday.Add(time.Duration(hour) * time.Hour),
		End:   monday.Add(time.Duration(hour+1) * time.Hour),
	}
}

func allDayWindows(ids ...string) map[string][7][]availability.Window {
	out := map[string][7][]availability.Window{}
	for _, id := range ids {
		var days [7][]availability.Window
		for d := 0; d < 7; d++ {
			day := monday.AddDate(0, 0, d)
			days[d] = []availability.Window{{
				Start: day.Add(8 * time.Hour),
				End:   day.Add(18 * time.Hour),
			}}
		}
		out[id] = days
	}
	return out
}

func testMatcher(ruleList []rules.Rule, providerIDs ...string) Matcher {
	return Matcher{
		Rules:     rules.NewSet(ruleList),
		Settings:  model.DefaultOrgSettings("org-1"),
		WeekStart: monday,
		Windows:   allDayWindows(providerIDs...),
	}
}

func emptyState() *BookingState {
	return NewBookingState(nil, nil, monday)
}

var (
	female = model.Provider{ID: "p-f", OrgID: "org-1", Gender: model.GenderFemale, Active: true}
	male   = model.Provider{ID: "p-m", OrgID: "org-1", Gender: model.GenderMale, Active: true}
	client = model.Client{ID: "c-1", OrgID: "org-1", Gender: model.GenderFemale, Active: true}
)

func TestGenderRuleEliminates(t *testing.T) {
	m := testMatcher([]rules.Rule{{
		ID: "r-1", OrgID: "org-1", Category: rules.CategoryGenderPairing, Active: true,
		Logic: rules.Logic{GenderPairing: &rules.GenderPairingLogic{
			ClientGender:           model.GenderFemale,
			AllowedProviderGenders: []model.Gender{model.GenderFemale},
		}},
	}}, "p-f", "p-m")

	cands := m.Candidates(client, slotAt(9), []model.Provider{female, male}, nil, emptyState())
	if len(cands) != 1 || cands[0].Provider.ID != "p-f" {
		t.Fatalf("expected only p-f to pass, got %+v", cands)
	}
}

func TestRequiredPairingOverridesGenderRule(t *testing.T) {
	m := testMatcher([]rules.Rule{
		{
			ID: "r-1", OrgID: "org-1", Category: rules.CategoryGenderPairing, Active: true,
			Logic: rules.Logic{GenderPairing: &rules.GenderPairingLogic{
				ClientGender:           model.GenderFemale,
				AllowedProviderGenders: []model.Gender{model.GenderFemale},
			}},
		},
		{
			ID: "r-2", OrgID: "org-1", Category: rules.CategorySpecificPairing, Active: true,
			Logic: rules.Logic{SpecificPairing: &rules.SpecificPairingLogic{
				ClientID: "c-1", ProviderID: "p-m", Effect: rules.PairingRequire,
			}},
		},
	}, "p-f", "p-m")

	cands := m.Candidates(client, slotAt(9), []model.Provider{female, male}, nil, emptyState())
	if len(cands) != 1 || cands[0].Provider.ID != "p-m" {
		t.Fatalf("required pairing must win for the named pair, got %+v", cands)
	}
}

func TestForbidPairingEliminates(t *testing.T) {
	m := testMatcher([]rules.Rule{{
		ID: "r-1", OrgID: "org-1", Category: rules.CategorySpecificPairing, Active: true,
		Logic: rules.Logic{SpecificPairing: &rules.SpecificPairingLogic{
			ClientID: "c-1", ProviderID: "p-m", Effect: rules.PairingForbid,
		}},
	}}, "p-f", "p-m")

	cands := m.Candidates(client, slotAt(9), []model.Provider{female, male}, nil, emptyState())
	if len(cands) != 1 || cands[0].Provider.ID != "p-f" {
		t.Fatalf("forbidden pairing must be excluded, got %+v", cands)
	}
}

func TestCertificationRequirementEliminates(t *testing.T) {
	needy := client
	needy.RequiredCertifications = []string{"aba"}
	certified := female
	certified.Certifications = []string{"aba"}

	m := testMatcher(nil, "p-f", "p-m")
	cands := m.Candidates(needy, slotAt(9), []model.Provider{certified, male}, nil, emptyState())
	if len(cands) != 1 || cands[0].Provider.ID != "p-f" {
		t.Fatalf("uncertified provider must be excluded, got %+v", cands)
	}
}

func TestOccupancyEliminates(t *testing.T) {
	m := testMatcher(nil, "p-f", "p-m")
	state := emptyState()
	state.Add(model.Session{
		ID: "s-1", ProviderID: "p-f", ClientID: "c-other",
		StartTime: slotAt(9).Start, EndTime: slotAt(9).End,
		Status: model.SessionScheduled,
	})

	cands := m.Candidates(client, slotAt(9), []model.Provider{female, male}, nil, state)
	if len(cands) != 1 || cands[0].Provider.ID != "p-m" {
		t.Fatalf("booked provider must be excluded, got %+v", cands)
	}
}

func TestLiveHoldBlocksProvider(t *testing.T) {
	m := testMatcher(nil, "p-f")
	hold := model.Hold{
		ID: "h-1", ProviderID: "p-f",
		StartTime: slotAt(9).Start, EndTime: slotAt(9).End,
		ExpiresAt: monday.Add(24 * time.Hour),
	}
	state := NewBookingState(nil, []model.Hold{hold}, monday)

	if cands := m.Candidates(client, slotAt(9), []model.Provider{female}, nil, state); len(cands) != 0 {
		t.Fatalf("held slot must be excluded, got %+v", cands)
	}

	expired := hold
	expired.ExpiresAt = monday.Add(-time.Minute)
	state = NewBookingState(nil, []model.Hold{expired}, monday)
	if cands := m.Candidates(client, slotAt(9), []model.Provider{female}, nil, state); len(cands) != 1 {
		t.Fatalf("expired hold must not block, got %+v", cands)
	}
}

func TestRoomRequirementAndCapabilities(t *testing.T) {
	needy := client
	needy.RequiredRoomCapabilities = []string{"sensory"}
	rooms := []model.Room{
		{ID: "rm-1", OrgID: "org-1", Capabilities: []string{"sensory"}, Active: true},
		{ID: "rm-2", OrgID: "org-1", Capabilities: []string{"standard"}, Active: true},
	}

	m := testMatcher(nil, "p-f")
	cands := m.Candidates(needy, slotAt(9), []model.Provider{female}, rooms, emptyState())
	if len(cands) != 1 || cands[0].RoomID() != "rm-1" {
		t.Fatalf("expected only the capable room, got %+v", cands)
	}
}

func TestSoftScoringPrefersLighterLoadAndPreferredWindow(t *testing.T) {
	m := testMatcher(nil, "p-f", "p-m")
	state := emptyState()
	// p-f already carries two sessions this week.
	for i, s := range []Slot{slotAt(10), slotAt(11)} {
		state.Add(model.Session{
			ID: "s-" + string(rune('a'+i)), ProviderID: "p-f", ClientID: "c-x",
			StartTime: s.Start, EndTime: s.End, Status: model.SessionScheduled,
		})
	}

	cands := m.Candidates(client, slotAt(14), []model.Provider{female, male}, nil, state)
	if len(cands) != 2 {
		t.Fatalf("expected both providers, got %+v", cands)
	}
	if cands[0].Provider.ID != "p-m" {
		t.Fatalf("lighter load must rank first, got %s", cands[0].Provider.ID)
	}
}

func TestSessionLimitRuleDemotesButKeeps(t *testing.T) {
	m := testMatcher([]rules.Rule{{
		ID: "r-1", OrgID: "org-1", Category: rules.CategorySession, Active: true,
		Logic: rules.Logic{Session: &rules.SessionLogic{MaxSessionsPerProviderDay: 1}},
	}}, "p-f", "p-m")

	state := emptyState()
	state.Add(model.Session{
		ID: "s-1", ProviderID: "p-f", ClientID: "c-x",
		StartTime: slotAt(9).Start, EndTime: slotAt(9).End,
		Status: model.SessionScheduled,
	})

	cands := m.Candidates(client, slotAt(14), []model.Provider{female, male}, nil, state)
	if len(cands) != 2 {
		t.Fatalf("soft rule must not eliminate, got %d candidates", len(cands))
	}
	if cands[0].Provider.ID != "p-m" || cands[0].Score.LimitPenalty != 0 {
		t.Fatalf("provider at the limit must rank last, got %+v", cands)
	}
	if cands[1].Score.LimitPenalty != 1 {
		t.Fatalf("expected limit penalty on p-f, got %+v", cands[1].Score)
	}
}

func TestTieBreakIsProviderIDAscending(t *testing.T) {
	m := testMatcher(nil, "p-f", "p-m")
	for i := 0; i < 5; i++ {
		cands := m.Candidates(client, slotAt(9), []model.Provider{male, female}, nil, emptyState())
		if len(cands) != 2 || cands[0].Provider.ID != "p-f" {
			t.Fatalf("tie must break by provider ID, got %+v", cands)
		}
	}
}

func TestValidateReportsAllViolations(t *testing.T) {
	inactive := male
	inactive.Active = false
	m := testMatcher([]rules.Rule{{
		ID: "r-1", OrgID: "org-1", Category: rules.CategoryGenderPairing, Active: true,
		Logic: rules.Logic{GenderPairing: &rules.GenderPairingLogic{
			ClientGender:           model.GenderFemale,
			AllowedProviderGenders: []model.Gender{model.GenderFemale},
		}},
	}}, "p-f", "p-m")

	err := m.Validate(client, inactive, "", slotAt(9), nil, emptyState())
	var inv *InvalidAssignmentError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidAssignmentError, got %v", err)
	}
	if len(inv.Violations) < 2 {
		t.Fatalf("expected every violation reported, got %v", inv.Violations)
	}
}

func TestValidateAcceptsLegalAssignment(t *testing.T) {
	m := testMatcher(nil, "p-f")
	if err := m.Validate(client, female, "", slotAt(9), nil, emptyState()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
