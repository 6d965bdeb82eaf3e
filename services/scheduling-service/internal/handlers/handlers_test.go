package handlers

import (
	"reflect"
	"testing"
	"time"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/rules"
)

func TestParseWeekTruncatesToMonday(t *testing.T) {
	week, ok := parseWeek("2026-03-05") // a Thursday
	if !ok {
		t.Fatal("expected date to parse")
	}
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !week.Equal(want) {
		t.Fatalf("week = %v, want %v", week, want)
	}

	week, ok = parseWeek("2026-03-05T14:30:00Z")
	if !ok {
		t.Fatal("expected RFC 3339 timestamp to parse")
	}
	if !week.Equal(want) {
		t.Fatalf("week from timestamp = %v, want %v", week, want)
	}

	if _, ok := parseWeek(""); ok {
		t.Fatal("empty input should not parse")
	}
	if _, ok := parseWeek("next tuesday"); ok {
		t.Fatal("garbage input should not parse")
	}
}

func TestRuleItemRoundTrip(t *testing.T) {
	items := []ruleItem{
		{
			RuleID:   "r-1",
			Name:     "female clients see female providers",
			Category: "gender_pairing",
			Priority: 10,
			Active:   true,
			Logic: ruleLogicPayload{
				ClientGender:           "female",
				AllowedProviderGenders: []string{"female"},
			},
		},
		{
			RuleID:   "r-2",
			Name:     "cap provider days",
			Category: "session",
			Active:   true,
			Logic:    ruleLogicPayload{MaxSessionsPerProviderDay: 6},
		},
		{
			RuleID:   "r-3",
			Name:     "weekday mornings only",
			Category: "availability",
			Active:   true,
			Logic: ruleLogicPayload{
				Weekdays:       []int{1, 2, 3},
				WindowStartMin: 9 * 60,
				WindowEndMin:   12 * 60,
			},
		},
		{
			RuleID:   "r-4",
			Name:     "pin client to provider",
			Category: "specific_pairing",
			Active:   true,
			Logic: ruleLogicPayload{
				ClientID:   "c-1",
				ProviderID: "p-1",
				Effect:     "require",
			},
		},
		{
			RuleID:   "r-5",
			Name:     "needs feeding cert",
			Category: "certification",
			Active:   true,
			Logic: ruleLogicPayload{
				ClientID:               "c-1",
				RequiredCertifications: []string{"feeding"},
			},
		},
	}

	for _, item := range items {
		rule := fromRuleItem("org-1", item)
		if err := rule.Validate(); err != nil {
			t.Fatalf("%s: converted rule invalid: %v", item.RuleID, err)
		}
		back := toRuleItem(rule)
		if back.Category != item.Category {
			t.Fatalf("%s: category = %q, want %q", item.RuleID, back.Category, item.Category)
		}
		if !reflect.DeepEqual(back.Logic, item.Logic) {
			t.Fatalf("%s: logic did not survive the round trip: %+v != %+v", item.RuleID, back.Logic, item.Logic)
		}
	}
}

func TestFromRuleItemMapsPairingEffect(t *testing.T) {
	rule := fromRuleItem("org-1", ruleItem{
		RuleID:   "r-9",
		Name:     "keep apart",
		Category: "specific_pairing",
		Active:   true,
		Logic:    ruleLogicPayload{ClientID: "c-2", ProviderID: "p-2", Effect: "forbid"},
	})
	if rule.Logic.SpecificPairing == nil {
		t.Fatal("expected specific pairing payload")
	}
	if rule.Logic.SpecificPairing.Effect != rules.PairingForbid {
		t.Fatalf("effect = %q, want forbid", rule.Logic.SpecificPairing.Effect)
	}
}
