// Package rules selects the rule that fires for an inbound event and renders
// its reply. Everything here is pure: no I/O, no clocks except the ones passed in.
package rules

import (
	"sort"
	"time"

	"autoreply/internal/domain"
)

// Select returns the highest-priority active rule of the event's account whose
// trigger matches. At most one rule fires per event.
func Select(ev domain.NormalizedEvent, rules []domain.Rule) (domain.Rule, bool) {
	for _, r := range Candidates(ev, rules) {
		if Matches(r.Trigger, ev) {
			return r, true
		}
	}
	return domain.Rule{}, false
}

// Candidates filters rules to the active ones owned by the event's account and
// platform, ordered by priority descending then creation ascending.
func Candidates(ev domain.NormalizedEvent, rules []domain.Rule) []domain.Rule {
	out := make([]domain.Rule, 0, len(rules))
	for _, r := range rules {
		if !r.IsActive || r.Platform != ev.Platform || r.AccountID != ev.Metadata.AccountID {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Match is a selected rule together with its rendered action.
type Match struct {
	Rule   domain.Rule
	Action domain.ActionConfig
}

// Evaluate runs Select and renders the winning rule's action.
func Evaluate(ev domain.NormalizedEvent, rules []domain.Rule, rc RenderContext) (Match, bool) {
	r, ok := Select(ev, rules)
	if !ok {
		return Match{}, false
	}
	if tt, ok := r.Trigger.(domain.TimeTrigger); ok && rc.Location == nil && tt.Timezone != "" {
		if loc, err := time.LoadLocation(tt.Timezone); err == nil {
			rc.Location = loc
		}
	}
	return Match{Rule: r, Action: Render(r.Action, rc)}, true
}
