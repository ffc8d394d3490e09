package rules

import (
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // rule timezones must resolve in minimal images

	"autoreply/internal/domain"
)

// Matches reports whether trigger t fires for ev.
func Matches(t domain.Trigger, ev domain.NormalizedEvent) bool {
	switch tr := t.(type) {
	case domain.EventTrigger:
		return ev.Type == tr.Event
	case domain.KeywordTrigger:
		return matchKeywords(tr.Keywords, ev.Content)
	case domain.TimeTrigger:
		return matchWindow(tr, ev.Timestamp)
	default:
		return false
	}
}

// An empty keyword list is a misconfiguration and never matches.
func matchKeywords(keywords []string, content string) bool {
	text := strings.ToLower(content)
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func matchWindow(tr domain.TimeTrigger, at time.Time) bool {
	start, ok := clockSeconds(tr.StartTime)
	if !ok {
		return false
	}
	end, ok := clockSeconds(tr.EndTime)
	if !ok {
		return false
	}
	loc := time.UTC
	if tr.Timezone != "" {
		l, err := time.LoadLocation(tr.Timezone)
		if err != nil {
			return false
		}
		loc = l
	}
	local := at.In(loc)
	now := local.Hour()*3600 + local.Minute()*60 + local.Second()

	if start <= end {
		return now >= start && now < end
	}
	// window crosses midnight
	return now >= start || now < end
}

// clockSeconds parses "HH:MM" or "HH:MM:SS" into seconds since midnight.
func clockSeconds(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	limits := []int{23, 59, 59}
	mult := []int{3600, 60, 1}
	total := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, false
		}
		total += n * mult[i]
	}
	return total, true
}
