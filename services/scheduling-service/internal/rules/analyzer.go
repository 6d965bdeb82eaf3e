package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
)

type Severity string

const (
	SeverityError   Severity = "error"   // the pair cannot both be satisfied
	SeverityWarning Severity = "warning" // satisfiable via documented precedence
)

// Report is the analyzer's advisory output. Analysis never mutates
// rules and produces identical reports for identical inputs.
type Report struct {
	OrgID        string
	GeneratedAt  time.Time
	Conflicts    []Conflict
	Duplicates   []Duplicate
	Enhancements []Enhancement
}

type Conflict struct {
	RuleIDs   []string
	Severity  Severity
	ClientID  string // set when the conflict is scoped to one client
	Rationale string
}

type Duplicate struct {
	RuleIDs   []string
	Rationale string
}

type Enhancement struct {
	Kind      string
	ClientID  string
	Rationale string
}

const (
	EnhanceCertGap       = "certification_gap"
	EnhanceRoomGap       = "room_capability_gap"
	EnhanceWindowOutside = "preferred_window_outside_availability"
)

// Snapshot is the directory state the analyzer cross-checks rules
// against.
type Snapshot struct {
	Providers []model.Provider
	Clients   []model.Client
	Rooms     []model.Room
	Settings  model.OrgSettings
}

// Analyze inspects the active rules of one organization against the
// directory snapshot. Findings are sorted so repeated runs over the
// same inputs byte-compare equal apart from GeneratedAt.
func Analyze(orgID string, all []Rule, snap Snapshot, now time.Time) Report {
	set := NewSet(all)
	rep := Report{OrgID: orgID, GeneratedAt: now}

	rep.Conflicts = append(rep.Conflicts, pairingEffectConflicts(set)...)
	rep.Conflicts = append(rep.Conflicts, pairingGenderConflicts(set, snap)...)
	rep.Conflicts = append(rep.Conflicts, pairingCertConflicts(set, snap)...)
	rep.Conflicts = append(rep.Conflicts, genderDisjointConflicts(set)...)
	rep.Duplicates = duplicates(all)
	rep.Enhancements = append(rep.Enhancements, certGaps(set, snap)...)
	rep.Enhancements = append(rep.Enhancements, roomGaps(snap)...)
	rep.Enhancements = append(rep.Enhancements, windowsOutsideHours(set, snap)...)

	sort.Slice(rep.Conflicts, func(i, j int) bool {
		a, b := rep.Conflicts[i], rep.Conflicts[j]
		if ka, kb := strings.Join(a.RuleIDs, ","), strings.Join(b.RuleIDs, ","); ka != kb {
			return ka < kb
		}
		return a.Rationale < b.Rationale
	})
	sort.Slice(rep.Duplicates, func(i, j int) bool {
		return strings.Join(rep.Duplicates[i].RuleIDs, ",") < strings.Join(rep.Duplicates[j].RuleIDs, ",")
	})
	sort.Slice(rep.Enhancements, func(i, j int) bool {
		a, b := rep.Enhancements[i], rep.Enhancements[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.ClientID != b.ClientID {
			return a.ClientID < b.ClientID
		}
		return a.Rationale < b.Rationale
	})
	return rep
}

// pairingEffectConflicts finds require and forbid rules over the same
// (client, provider) pair. Neither precedence nor priority can resolve
// that, so it is always an error.
func pairingEffectConflicts(set Set) []Conflict {
	byPair := map[string][]Rule{}
	for _, r := range set.Hard.SpecificPairing {
		l := r.Logic.SpecificPairing
		byPair[l.ClientID+"/"+l.ProviderID] = append(byPair[l.ClientID+"/"+l.ProviderID], r)
	}
	var out []Conflict
	for _, group := range byPair {
		var req, forb []Rule
		for _, r := range group {
			if r.Logic.SpecificPairing.Effect == PairingRequire {
				req = append(req, r)
			} else {
				forb = append(forb, r)
			}
		}
		for _, a := range req {
			for _, b := range forb {
				out = append(out, Conflict{
					RuleIDs:  pairIDs(a.ID, b.ID),
					Severity: SeverityError,
					ClientID: a.Logic.SpecificPairing.ClientID,
					Rationale: fmt.Sprintf("pairing of client %s with provider %s is both required and forbidden",
						a.Logic.SpecificPairing.ClientID, a.Logic.SpecificPairing.ProviderID),
				})
			}
		}
	}
	return out
}

// pairingGenderConflicts reports a required pairing whose provider's
// gender a gender-pairing rule would exclude for that client. The
// required pairing wins for the named pair, so this is a warning.
func pairingGenderConflicts(set Set, snap Snapshot) []Conflict {
	providers := providerIndex(snap.Providers)
	clients := clientIndex(snap.Clients)
	var out []Conflict
	for _, pr := range set.Hard.SpecificPairing {
		l := pr.Logic.SpecificPairing
		if l.Effect != PairingRequire {
			continue
		}
		p, okP := providers[l.ProviderID]
		c, okC := clients[l.ClientID]
		if !okP || !okC {
			continue
		}
		for _, gr := range set.Hard.GenderPairing {
			gl := gr.Logic.GenderPairing
			if gl.ClientGender != model.GenderUnspecified && gl.ClientGender != c.Gender {
				continue
			}
			if gl.Allows(p.Gender) {
				continue
			}
			out = append(out, Conflict{
				RuleIDs:  pairIDs(pr.ID, gr.ID),
				Severity: SeverityWarning,
				ClientID: c.ID,
				Rationale: fmt.Sprintf("required pairing with provider %s overrides the gender pairing rule for client %s",
					p.ID, c.ID),
			})
		}
	}
	return out
}

// pairingCertConflicts reports a required pairing whose provider lacks
// certifications the client must have covered. Nothing can make that
// assignment valid, so it is an error.
func pairingCertConflicts(set Set, snap Snapshot) []Conflict {
	providers := providerIndex(snap.Providers)
	clients := clientIndex(snap.Clients)
	var out []Conflict
	for _, pr := range set.Hard.SpecificPairing {
		l := pr.Logic.SpecificPairing
		if l.Effect != PairingRequire {
			continue
		}
		p, okP := providers[l.ProviderID]
		c, okC := clients[l.ClientID]
		if !okP || !okC {
			continue
		}
		missing := missingCerts(p, requiredCertsFor(c, set))
		if len(missing) == 0 {
			continue
		}
		out = append(out, Conflict{
			RuleIDs:  []string{pr.ID},
			Severity: SeverityError,
			ClientID: c.ID,
			Rationale: fmt.Sprintf("required provider %s lacks certifications %s needed by client %s",
				p.ID, strings.Join(missing, ", "), c.ID),
		})
	}
	return out
}

// genderDisjointConflicts finds two gender-pairing rules for the same
// client gender whose allowed provider sets do not intersect. Every
// client of that gender would be unmatchable.
func genderDisjointConflicts(set Set) []Conflict {
	var out []Conflict
	gp := set.Hard.GenderPairing
	for i := 0; i < len(gp); i++ {
		for j := i + 1; j < len(gp); j++ {
			a, b := gp[i].Logic.GenderPairing, gp[j].Logic.GenderPairing
			if a.ClientGender != b.ClientGender {
				continue
			}
			if gendersIntersect(a.AllowedProviderGenders, b.AllowedProviderGenders) {
				continue
			}
			out = append(out, Conflict{
				RuleIDs:   pairIDs(gp[i].ID, gp[j].ID),
				Severity:  SeverityError,
				Rationale: "gender pairing rules for the same client gender allow disjoint provider genders",
			})
		}
	}
	return out
}

// duplicates groups rules whose normalized logic is identical. Per-pair
// findings keep the report stable as rules are added.
func duplicates(all []Rule) []Duplicate {
	byKey := map[string][]Rule{}
	for _, r := range all {
		if !r.Active {
			continue
		}
		byKey[normalizeLogic(r)] = append(byKey[normalizeLogic(r)], r)
	}
	var out []Duplicate
	for _, group := range byKey {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		for i := 1; i < len(group); i++ {
			out = append(out, Duplicate{
				RuleIDs:   []string{group[0].ID, group[i].ID},
				Rationale: fmt.Sprintf("rule %s duplicates rule %s", group[i].ID, group[0].ID),
			})
		}
	}
	return out
}

// normalizeLogic renders a rule's payload to a canonical string so
// order of list fields never hides a duplicate.
func normalizeLogic(r Rule) string {
	var b strings.Builder
	b.WriteString(string(r.Category))
	b.WriteByte('|')
	switch {
	case r.Logic.GenderPairing != nil:
		l := r.Logic.GenderPairing
		genders := make([]string, len(l.AllowedProviderGenders))
		for i, g := range l.AllowedProviderGenders {
			genders[i] = string(g)
		}
		sort.Strings(genders)
		fmt.Fprintf(&b, "%s|%s", l.ClientGender, strings.Join(genders, ","))
	case r.Logic.Session != nil:
		l := r.Logic.Session
		fmt.Fprintf(&b, "%d|%d", l.MaxSessionsPerProviderDay, l.MaxSessionsPerClientDay)
	case r.Logic.Availability != nil:
		l := r.Logic.Availability
		days := make([]int, len(l.Weekdays))
		for i, d := range l.Weekdays {
			days[i] = int(d)
		}
		sort.Ints(days)
		fmt.Fprintf(&b, "%v|%s", days, l.Window)
	case r.Logic.SpecificPairing != nil:
		l := r.Logic.SpecificPairing
		fmt.Fprintf(&b, "%s|%s|%s", l.ClientID, l.ProviderID, l.Effect)
	case r.Logic.Certification != nil:
		l := r.Logic.Certification
		certs := append([]string(nil), l.Required...)
		sort.Strings(certs)
		fmt.Fprintf(&b, "%s|%s", l.ClientID, strings.Join(certs, ","))
	}
	return b.String()
}

// certGaps reports clients whose required certifications no active
// provider holds in full.
func certGaps(set Set, snap Snapshot) []Enhancement {
	var out []Enhancement
	for _, c := range snap.Clients {
		if !c.Active {
			continue
		}
		required := requiredCertsFor(c, set)
		if len(required) == 0 {
			continue
		}
		qualified := false
		for _, p := range snap.Providers {
			if p.Active && len(missingCerts(p, required)) == 0 {
				qualified = true
				break
			}
		}
		if qualified {
			continue
		}
		out = append(out, Enhancement{
			Kind:     EnhanceCertGap,
			ClientID: c.ID,
			Rationale: fmt.Sprintf("no active provider holds all certifications required for client %s: %s",
				c.ID, strings.Join(required, ", ")),
		})
	}
	return out
}

// roomGaps reports clients whose required room capabilities no active
// room provides.
func roomGaps(snap Snapshot) []Enhancement {
	var out []Enhancement
	for _, c := range snap.Clients {
		if !c.Active || len(c.RequiredRoomCapabilities) == 0 {
			continue
		}
		found := false
		for _, r := range snap.Rooms {
			if r.Active && r.HasCapabilities(c.RequiredRoomCapabilities) {
				found = true
				break
			}
		}
		if found {
			continue
		}
		out = append(out, Enhancement{
			Kind:     EnhanceRoomGap,
			ClientID: c.ID,
			Rationale: fmt.Sprintf("no active room offers capabilities required for client %s: %s",
				c.ID, strings.Join(c.RequiredRoomCapabilities, ", ")),
		})
	}
	return out
}

// windowsOutsideHours reports client preferred windows that fall
// entirely outside business hours and every availability-rule window,
// so the preference can never be honored.
func windowsOutsideHours(set Set, snap Snapshot) []Enhancement {
	var out []Enhancement
	for _, c := range snap.Clients {
		if !c.Active {
			continue
		}
		for _, w := range c.PreferredWindows {
			if windowReachable(w, set, snap.Settings) {
				continue
			}
			out = append(out, Enhancement{
				Kind:     EnhanceWindowOutside,
				ClientID: c.ID,
				Rationale: fmt.Sprintf("preferred window %s %s for client %s is outside bookable hours",
					w.Weekday, w.ClockRange, c.ID),
			})
		}
	}
	return out
}

func windowReachable(w model.DayWindow, set Set, settings model.OrgSettings) bool {
	if !settings.BusinessHours.Overlaps(w.ClockRange) {
		return false
	}
	if len(set.Hard.Availability) == 0 {
		return true
	}
	for _, r := range set.Hard.Availability {
		l := r.Logic.Availability
		if l.AppliesOn(w.Weekday) && l.Window.Overlaps(w.ClockRange) {
			return true
		}
	}
	return false
}

// RequiredCertifications merges the client's own certification needs
// with every applicable certification rule, deduplicated and sorted.
func RequiredCertifications(c model.Client, set Set) []string {
	return requiredCertsFor(c, set)
}

func requiredCertsFor(c model.Client, set Set) []string {
	seen := map[string]bool{}
	var out []string
	add := func(cert string) {
		if !seen[cert] {
			seen[cert] = true
			out = append(out, cert)
		}
	}
	for _, cert := range c.RequiredCertifications {
		add(cert)
	}
	for _, r := range set.Hard.Certification {
		l := r.Logic.Certification
		if l.ClientID != "" && l.ClientID != c.ID {
			continue
		}
		for _, cert := range l.Required {
			add(cert)
		}
	}
	sort.Strings(out)
	return out
}

func missingCerts(p model.Provider, required []string) []string {
	held := map[string]bool{}
	for _, cert := range p.Certifications {
		held[cert] = true
	}
	var missing []string
	for _, cert := range required {
		if !held[cert] {
			missing = append(missing, cert)
		}
	}
	return missing
}

func gendersIntersect(a, b []model.Gender) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func providerIndex(ps []model.Provider) map[string]model.Provider {
	idx := make(map[string]model.Provider, len(ps))
	for _, p := range ps {
		idx[p.ID] = p
	}
	return idx
}

func clientIndex(cs []model.Client) map[string]model.Client {
	idx := make(map[string]model.Client, len(cs))
	for _, c := range cs {
		idx[c.ID] = c
	}
	return idx
}

func pairIDs(a, b string) []string {
	if a < b {
		return []string{a, b}
	}
	return []string{b, a}
}
