package rules

import (
	"strings"
	"time"

	"autoreply/internal/domain"
	"autoreply/internal/util"
)

// RenderContext holds the request-time values for template variables.
type RenderContext struct {
	UserName    string
	LinkPageURL string
	Now         time.Time
	Location    *time.Location
}

// NewRenderContext builds the context for an event dispatched at now.
func NewRenderContext(ev domain.NormalizedEvent, linkPageURL string, now time.Time) RenderContext {
	name := ev.SenderName
	if name == "" {
		name = "there"
	}
	return RenderContext{UserName: name, LinkPageURL: linkPageURL, Now: now}
}

// Vars returns the substitution map for {userName}, {linkPageUrl}, {date} and {time}.
func (rc RenderContext) Vars() map[string]string {
	now := rc.Now
	if rc.Location != nil {
		now = now.In(rc.Location)
	}
	return map[string]string{
		"userName":    rc.UserName,
		"linkPageUrl": rc.LinkPageURL,
		"date":        now.Format("2006-01-02"),
		"time":        now.Format("15:04"),
	}
}

// Render substitutes template variables in the action message. LINK_SHARE
// actions and actions with IncludeLink get the link page appended when the
// message does not already carry it.
func Render(a domain.ActionConfig, rc RenderContext) domain.ActionConfig {
	out := a
	out.Message = util.RenderTemplate(a.Message, rc.Vars())
	wantLink := a.IncludeLink || a.Type == domain.ActionLinkShare
	if wantLink && rc.LinkPageURL != "" && !strings.Contains(out.Message, rc.LinkPageURL) {
		if out.Message == "" {
			out.Message = rc.LinkPageURL
		} else {
			out.Message += "\n" + rc.LinkPageURL
		}
	}
	return out
}
