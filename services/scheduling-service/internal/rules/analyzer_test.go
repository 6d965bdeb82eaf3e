package rules

import (
	"reflect"
	"testing"
	"time"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
)

func testSnapshot() Snapshot {
	return Snapshot{
		Providers: []model.Provider{
			{ID: "p-1", OrgID: "org-1", Gender: model.GenderMale, Certifications: []string{"bls"}, Active: true},
			{ID: "p-2", OrgID: "org-1", Gender: model.GenderFemale, Certifications: []string{"bls", "aba"}, Active: true},
		},
		Clients: []model.Client{
			{ID: "c-1", OrgID: "org-1", Gender: model.GenderFemale, Active: true},
			{ID: "c-2", OrgID: "org-1", Gender: model.GenderFemale, RequiredCertifications: []string{"aba"}, Active: true},
		},
		Rooms: []model.Room{
			{ID: "rm-1", OrgID: "org-1", Capabilities: []string{"sensory"}, Active: true},
		},
		Settings: model.DefaultOrgSettings("org-1"),
	}
}

func TestAnalyzeRequireForbidConflictIsError(t *testing.T) {
	rep := Analyze("org-1", []Rule{
		pairingRule("r-1", "c-1", "p-1", PairingRequire),
		pairingRule("r-2", "c-1", "p-1", PairingForbid),
	}, testSnapshot(), time.Now())

	if len(rep.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(rep.Conflicts))
	}
	c := rep.Conflicts[0]
	if c.Severity != SeverityError {
		t.Fatalf("expected error severity, got %s", c.Severity)
	}
	if !reflect.DeepEqual(c.RuleIDs, []string{"r-1", "r-2"}) {
		t.Fatalf("unexpected rule ids %v", c.RuleIDs)
	}
}

func TestAnalyzeRequiredPairingAgainstGenderRuleIsWarning(t *testing.T) {
	// c-1 is female, p-1 is male, and the gender rule only allows female
	// providers for female clients. The required pairing still wins for
	// that pair, so the analyzer warns instead of erroring.
	rep := Analyze("org-1", []Rule{
		genderRule("r-1", model.GenderFemale, model.GenderFemale),
		pairingRule("r-2", "c-1", "p-1", PairingRequire),
	}, testSnapshot(), time.Now())

	if len(rep.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(rep.Conflicts))
	}
	c := rep.Conflicts[0]
	if c.Severity != SeverityWarning {
		t.Fatalf("expected warning severity, got %s", c.Severity)
	}
	if c.ClientID != "c-1" {
		t.Fatalf("expected conflict scoped to c-1, got %q", c.ClientID)
	}
}

func TestAnalyzeRequiredProviderMissingCertsIsError(t *testing.T) {
	// c-2 requires aba, p-1 only holds bls.
	rep := Analyze("org-1", []Rule{
		pairingRule("r-1", "c-2", "p-1", PairingRequire),
	}, testSnapshot(), time.Now())

	if len(rep.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(rep.Conflicts))
	}
	if rep.Conflicts[0].Severity != SeverityError {
		t.Fatalf("expected error severity, got %s", rep.Conflicts[0].Severity)
	}
}

func TestAnalyzeDisjointGenderRules(t *testing.T) {
	rep := Analyze("org-1", []Rule{
		genderRule("r-1", model.GenderFemale, model.GenderFemale),
		genderRule("r-2", model.GenderFemale, model.GenderMale),
	}, testSnapshot(), time.Now())

	if len(rep.Conflicts) != 1 || rep.Conflicts[0].Severity != SeverityError {
		t.Fatalf("expected one error conflict, got %+v", rep.Conflicts)
	}
}

func TestAnalyzeDuplicatesIgnoreListOrder(t *testing.T) {
	a := genderRule("r-1", model.GenderFemale, model.GenderFemale, model.GenderNonbinary)
	b := genderRule("r-2", model.GenderFemale, model.GenderNonbinary, model.GenderFemale)
	rep := Analyze("org-1", []Rule{a, b}, testSnapshot(), time.Now())

	if len(rep.Duplicates) != 1 {
		t.Fatalf("expected 1 duplicate, got %d", len(rep.Duplicates))
	}
	if !reflect.DeepEqual(rep.Duplicates[0].RuleIDs, []string{"r-1", "r-2"}) {
		t.Fatalf("unexpected duplicate ids %v", rep.Duplicates[0].RuleIDs)
	}
}

func TestAnalyzeCertificationGap(t *testing.T) {
	snap := testSnapshot()
	rep := Analyze("org-1", []Rule{
		{ID: "r-1", OrgID: "org-1", Category: CategoryCertification, Active: true,
			Logic: Logic{Certification: &CertificationLogic{ClientID: "c-1", Required: []string{"hydrotherapy"}}}},
	}, snap, time.Now())

	if len(rep.Enhancements) != 1 {
		t.Fatalf("expected 1 enhancement, got %d", len(rep.Enhancements))
	}
	e := rep.Enhancements[0]
	if e.Kind != EnhanceCertGap || e.ClientID != "c-1" {
		t.Fatalf("unexpected enhancement %+v", e)
	}
}

func TestAnalyzeRoomCapabilityGap(t *testing.T) {
	snap := testSnapshot()
	snap.Clients[0].RequiredRoomCapabilities = []string{"lift"}
	rep := Analyze("org-1", nil, snap, time.Now())

	if len(rep.Enhancements) != 1 || rep.Enhancements[0].Kind != EnhanceRoomGap {
		t.Fatalf("expected room gap enhancement, got %+v", rep.Enhancements)
	}
}

func TestAnalyzePreferredWindowOutsideHours(t *testing.T) {
	snap := testSnapshot()
	// Business hours are 08:00-18:00; the preference sits entirely after.
	snap.Clients[0].PreferredWindows = []model.DayWindow{{
		Weekday:    time.Monday,
		ClockRange: model.ClockRange{StartMin: 19 * 60, EndMin: 20 * 60},
	}}
	rep := Analyze("org-1", nil, snap, time.Now())

	if len(rep.Enhancements) != 1 || rep.Enhancements[0].Kind != EnhanceWindowOutside {
		t.Fatalf("expected window enhancement, got %+v", rep.Enhancements)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	ruleSet := []Rule{
		genderRule("r-3", model.GenderFemale, model.GenderFemale),
		pairingRule("r-1", "c-1", "p-1", PairingRequire),
		pairingRule("r-2", "c-1", "p-1", PairingForbid),
		pairingRule("r-4", "c-2", "p-1", PairingRequire),
	}
	snap := testSnapshot()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first := Analyze("org-1", ruleSet, snap, at)
	for i := 0; i < 5; i++ {
		// Shuffle-equivalent: reversed input must yield the same report.
		reversed := make([]Rule, len(ruleSet))
		for j, r := range ruleSet {
			reversed[len(ruleSet)-1-j] = r
		}
		again := Analyze("org-1", reversed, snap, at)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("analysis not deterministic:\nfirst: %+v\nagain: %+v", first, again)
		}
	}
}
