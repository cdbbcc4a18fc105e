package mapper

import (
	"fmt"
	"strings"

	"github.com/spec-kit/integration-service/internal/domain"
)

// OriginalPriorityField is the custom field that records the internal priority
// whenever a platform table collapses two priorities onto one native tier.
const OriginalPriorityField = "internal_priority"

// PriorityTable maps internal priorities to one platform's native names.
type PriorityTable map[domain.Priority]string

// Static tables. Overrides from the field-schema file are merged on top.
var (
	JiraPriorities = PriorityTable{
		domain.PriorityCritical: "Highest",
		domain.PriorityHigh:     "High",
		domain.PriorityMedium:   "Medium",
		domain.PriorityLow:      "Low",
	}
	ServiceNowPriorities = PriorityTable{
		domain.PriorityCritical: "1 - Critical",
		domain.PriorityHigh:     "2 - High",
		domain.PriorityMedium:   "3 - Moderate",
		domain.PriorityLow:      "4 - Low",
	}
	// Slack has no native priority; the tier becomes a header label.
	SlackPriorities = PriorityTable{
		domain.PriorityCritical: ":red_circle: Critical",
		domain.PriorityHigh:     ":large_orange_circle: High",
		domain.PriorityMedium:   ":large_yellow_circle: Medium",
		domain.PriorityLow:      ":white_circle: Low",
	}
	// Teams importance only knows urgent/high/normal: CRITICAL and HIGH
	// both render as "high", the original tier is recorded alongside.
	TeamsPriorities = PriorityTable{
		domain.PriorityCritical: "high",
		domain.PriorityHigh:     "high",
		domain.PriorityMedium:   "normal",
		domain.PriorityLow:      "normal",
	}
	// X-Priority header values.
	EmailPriorities = PriorityTable{
		domain.PriorityCritical: "1 (Highest)",
		domain.PriorityHigh:     "2 (High)",
		domain.PriorityMedium:   "3 (Normal)",
		domain.PriorityLow:      "5 (Lowest)",
	}
)

// TableFor returns the static table of a platform.
func TableFor(platform domain.Platform) (PriorityTable, error) {
	switch platform {
	case domain.PlatformJira:
		return JiraPriorities, nil
	case domain.PlatformServiceNow:
		return ServiceNowPriorities, nil
	case domain.PlatformSlack:
		return SlackPriorities, nil
	case domain.PlatformTeams:
		return TeamsPriorities, nil
	case domain.PlatformEmail:
		return EmailPriorities, nil
	}
	return nil, fmt.Errorf("no priority table for platform %q", platform)
}

// WithOverrides returns a copy of t with the given internal→native overrides
// applied. Unknown internal priority names are rejected.
func (t PriorityTable) WithOverrides(overrides map[string]string) (PriorityTable, error) {
	out := make(PriorityTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	for name, native := range overrides {
		p := domain.Priority(strings.ToUpper(strings.TrimSpace(name)))
		if !p.Valid() {
			return nil, fmt.Errorf("unknown priority %q in override", name)
		}
		out[p] = native
	}
	return out, nil
}

// Native returns the platform name for p. A missing entry falls back to the
// nearest higher tier that is defined, so severity is never understated.
func (t PriorityTable) Native(p domain.Priority) (string, error) {
	if native, ok := t[p]; ok && native != "" {
		return native, nil
	}
	for rank := p.Rank() + 1; rank >= 1 && rank < len(domain.Priorities); rank++ {
		if native, ok := t[domain.Priorities[rank]]; ok && native != "" {
			return native, nil
		}
	}
	return "", fmt.Errorf("priority %q has no native mapping", p)
}

// Collapsed reports whether p shares its native name with another priority.
func (t PriorityTable) Collapsed(p domain.Priority) bool {
	native, err := t.Native(p)
	if err != nil {
		return false
	}
	for _, other := range domain.Priorities {
		if other == p {
			continue
		}
		if n, err := t.Native(other); err == nil && n == native {
			return true
		}
	}
	return false
}

// Internal reverses the table. When several priorities share a native name
// the highest one wins.
func (t PriorityTable) Internal(native string) (domain.Priority, bool) {
	for i := len(domain.Priorities) - 1; i >= 0; i-- {
		p := domain.Priorities[i]
		if n, ok := t[p]; ok && strings.EqualFold(n, native) {
			return p, true
		}
	}
	return "", false
}

// ToPlatformPriority maps p to platform's native vocabulary using the static table.
func ToPlatformPriority(p domain.Priority, platform domain.Platform) (string, error) {
	table, err := TableFor(platform)
	if err != nil {
		return "", err
	}
	return table.Native(p)
}

// FromPlatformPriority maps a native name back to an internal priority.
func FromPlatformPriority(native string, platform domain.Platform) (domain.Priority, bool) {
	table, err := TableFor(platform)
	if err != nil {
		return "", false
	}
	return table.Internal(native)
}

// AnnotateCollapsed records the internal priority in fields when the table
// folds it into a shared native tier. fields may be nil.
func AnnotateCollapsed(t PriorityTable, p domain.Priority, fields map[string]any) map[string]any {
	if !t.Collapsed(p) {
		return fields
	}
	if fields == nil {
		fields = make(map[string]any, 1)
	}
	fields[OriginalPriorityField] = string(p)
	return fields
}
