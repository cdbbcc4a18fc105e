package domain

import (
	"fmt"
	"strings"
)

// Platform identifies an external ticketing or communication system.
// Adding a case requires a matching adapter and a factory branch.
type Platform string

const (
	PlatformJira       Platform = "JIRA"
	PlatformServiceNow Platform = "SERVICENOW"
	PlatformSlack      Platform = "SLACK"
	PlatformTeams      Platform = "TEAMS"
	PlatformEmail      Platform = "EMAIL"
)

// Platforms lists every supported platform.
var Platforms = []Platform{PlatformJira, PlatformServiceNow, PlatformSlack, PlatformTeams, PlatformEmail}

// ParsePlatform accepts a case-insensitive platform name.
func ParsePlatform(raw string) (Platform, error) {
	candidate := Platform(strings.ToUpper(strings.TrimSpace(raw)))
	for _, p := range Platforms {
		if p == candidate {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", raw)
}

// IsTicketing reports whether the platform tracks tickets.
func (p Platform) IsTicketing() bool {
	return p == PlatformJira || p == PlatformServiceNow
}

// IsMessaging reports whether the platform delivers messages.
func (p Platform) IsMessaging() bool {
	return p == PlatformSlack || p == PlatformTeams || p == PlatformEmail
}
