package rules

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoreply/internal/domain"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func rule(id string, priority int, trig domain.Trigger) domain.Rule {
	return domain.Rule{
		ID:        id,
		Platform:  domain.PlatformInstagram,
		AccountID: "acc-1",
		IsActive:  true,
		Priority:  priority,
		Trigger:   trig,
		Action:    domain.ActionConfig{Type: domain.ActionReply, Message: "thanks {userName}"},
		CreatedAt: base,
	}
}

func igComment(content string) domain.NormalizedEvent {
	return domain.NormalizedEvent{
		Platform:   domain.PlatformInstagram,
		Type:       domain.EventComment,
		ExternalID: "c-1",
		SenderName: "ana",
		Content:    content,
		Timestamp:  base,
		Metadata:   domain.EventMetadata{AccountID: "acc-1"},
	}
}

func TestSelectPrefersHigherPriorityKeyword(t *testing.T) {
	rules := []domain.Rule{
		rule("low", 3, domain.EventTrigger{Event: domain.EventComment}),
		rule("high", 8, domain.KeywordTrigger{Keywords: []string{"love"}}),
	}
	got, ok := Select(igComment("love this!"), rules)
	require.True(t, ok)
	require.Equal(t, "high", got.ID)
}

func TestSelectFallsThroughToLowerPriority(t *testing.T) {
	rules := []domain.Rule{
		rule("low", 3, domain.EventTrigger{Event: domain.EventComment}),
		rule("high", 8, domain.KeywordTrigger{Keywords: []string{"price"}}),
	}
	got, ok := Select(igComment("love this!"), rules)
	require.True(t, ok)
	require.Equal(t, "low", got.ID)
}

func TestSelectTieBrokenByCreationOrder(t *testing.T) {
	older := rule("older", 5, domain.EventTrigger{Event: domain.EventComment})
	newer := rule("newer", 5, domain.EventTrigger{Event: domain.EventComment})
	newer.CreatedAt = base.Add(time.Minute)

	got, ok := Select(igComment("hi"), []domain.Rule{newer, older})
	require.True(t, ok)
	require.Equal(t, "older", got.ID)
}

func TestSelectSkipsInactiveForeignAndOtherPlatform(t *testing.T) {
	inactive := rule("inactive", 9, domain.EventTrigger{Event: domain.EventComment})
	inactive.IsActive = false
	foreign := rule("foreign", 9, domain.EventTrigger{Event: domain.EventComment})
	foreign.AccountID = "acc-2"
	fb := rule("fb", 9, domain.EventTrigger{Event: domain.EventComment})
	fb.Platform = domain.PlatformFacebook

	_, ok := Select(igComment("hi"), []domain.Rule{inactive, foreign, fb})
	require.False(t, ok)
}

func TestSelectReturnsHighestMatchingForAnyRuleSet(t *testing.T) {
	ev := igComment("big sale")
	var rules []domain.Rule
	for i := 1; i <= 10; i++ {
		var trig domain.Trigger = domain.KeywordTrigger{Keywords: []string{"nomatch"}}
		if i%3 == 0 {
			trig = domain.KeywordTrigger{Keywords: []string{"sale"}}
		}
		rules = append(rules, rule(fmt.Sprintf("r%d", i), i, trig))
	}
	got, ok := Select(ev, rules)
	require.True(t, ok)
	require.Equal(t, "r9", got.ID)

	matches := 0
	for _, r := range Candidates(ev, rules) {
		if Matches(r.Trigger, ev) && r.Priority > got.Priority {
			matches++
		}
	}
	require.Zero(t, matches)
}

func TestKeywordCaseInsensitive(t *testing.T) {
	trig := domain.KeywordTrigger{Keywords: []string{"sale"}}
	require.True(t, Matches(trig, igComment("Big SALE today!")))
	require.False(t, Matches(trig, igComment("no match here")))
}

func TestEmptyKeywordsNeverMatch(t *testing.T) {
	for _, content := range []string{"", "anything", "sale"} {
		require.False(t, Matches(domain.KeywordTrigger{}, igComment(content)))
		require.False(t, Matches(domain.KeywordTrigger{Keywords: []string{"", "  "}}, igComment(content)))
	}
}

func TestEventTriggerMatchesType(t *testing.T) {
	ev := igComment("x")
	require.True(t, Matches(domain.EventTrigger{Event: domain.EventComment}, ev))
	require.False(t, Matches(domain.EventTrigger{Event: domain.EventMessage}, ev))
	require.False(t, Matches(domain.EventTrigger{Event: domain.EventMention}, ev))
}

func TestTimeWindowWrapsMidnight(t *testing.T) {
	trig := domain.TimeTrigger{StartTime: "22:00", EndTime: "06:00", Timezone: "UTC"}
	at := func(h, m int) domain.NormalizedEvent {
		ev := igComment("x")
		ev.Timestamp = time.Date(2024, 3, 1, h, m, 0, 0, time.UTC)
		return ev
	}
	require.True(t, Matches(trig, at(23, 30)))
	require.True(t, Matches(trig, at(2, 0)))
	require.False(t, Matches(trig, at(12, 0)))
	require.False(t, Matches(trig, at(6, 0)))
	require.True(t, Matches(trig, at(22, 0)))
}

func TestTimeWindowUsesTimezone(t *testing.T) {
	trig := domain.TimeTrigger{StartTime: "09:00", EndTime: "17:00", Timezone: "America/New_York"}
	ev := igComment("x")
	// 14:00 UTC is 10:00 in New York (EDT) on this date.
	ev.Timestamp = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	require.True(t, Matches(trig, ev))
	ev.Timestamp = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	require.False(t, Matches(trig, ev))
}

func TestTimeWindowInvalidConfigNeverMatches(t *testing.T) {
	ev := igComment("x")
	require.False(t, Matches(domain.TimeTrigger{StartTime: "25:00", EndTime: "06:00"}, ev))
	require.False(t, Matches(domain.TimeTrigger{StartTime: "08:00", EndTime: "x"}, ev))
	require.False(t, Matches(domain.TimeTrigger{StartTime: "08:00", EndTime: "10:00", Timezone: "Mars/Base"}, ev))
}

func TestEvaluateRendersAction(t *testing.T) {
	r := rule("r", 5, domain.KeywordTrigger{Keywords: []string{"link"}})
	r.Action = domain.ActionConfig{Type: domain.ActionReply, Message: "Hi {userName}! {unknown}", IncludeLink: true}

	m, ok := Evaluate(igComment("send the link"), []domain.Rule{r}, RenderContext{
		UserName:    "ana",
		LinkPageURL: "https://l.example/shop",
		Now:         base,
	})
	require.True(t, ok)
	require.Equal(t, "Hi ana! {unknown}\nhttps://l.example/shop", m.Action.Message)
	require.Equal(t, "r", m.Rule.ID)
}
