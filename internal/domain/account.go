package domain

import "time"

// SocialAccount is a connected page, business account or phone number.
// Platform and ExternalID never change after creation.
type SocialAccount struct {
	ID          string
	UserID      string
	Platform    Platform
	ExternalID  string
	Name        string
	AccessToken string
	// LinkPageURL is the owner's public link page, used by {linkPageUrl}.
	LinkPageURL string
	CreatedAt   time.Time
}

// Plan names the owner's subscription tier; limits live in config.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanPro      Plan = "pro"
	PlanBusiness Plan = "business"
)
