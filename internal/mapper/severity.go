// Package mapper translates vulnerability severity into platform-neutral
// priorities and those priorities into each platform's native vocabulary.
// Everything here is pure: no I/O and no shared mutable state.
package mapper

import (
	"github.com/spec-kit/integration-service/internal/domain"
	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

// Band lower bounds are inclusive, so a boundary score lands in the higher band.
const (
	criticalFloor = 9.0
	highFloor     = 7.0
	mediumFloor   = 4.0
)

// ToInternalPriority maps a CVSS-style score in [0.0, 10.0] to a Priority.
func ToInternalPriority(score float64) (domain.Priority, error) {
	if err := domain.ValidateSeverity(score); err != nil {
		return "", apperrors.NewValidationError(err.Error(), map[string]any{"severity_score": score})
	}
	switch {
	case score >= criticalFloor:
		return domain.PriorityCritical, nil
	case score >= highFloor:
		return domain.PriorityHigh, nil
	case score >= mediumFloor:
		return domain.PriorityMedium, nil
	default:
		return domain.PriorityLow, nil
	}
}

// ToMessagePriority derives a notification urgency from a ticket priority.
func ToMessagePriority(p domain.Priority) domain.MessagePriority {
	switch p {
	case domain.PriorityCritical:
		return domain.MessagePriorityUrgent
	case domain.PriorityHigh:
		return domain.MessagePriorityHigh
	case domain.PriorityMedium:
		return domain.MessagePriorityNormal
	default:
		return domain.MessagePriorityLow
	}
}

// FromMessagePriority is the inverse of ToMessagePriority. Unknown values
// read as MEDIUM.
func FromMessagePriority(p domain.MessagePriority) domain.Priority {
	switch p {
	case domain.MessagePriorityUrgent:
		return domain.PriorityCritical
	case domain.MessagePriorityHigh:
		return domain.PriorityHigh
	case domain.MessagePriorityLow:
		return domain.PriorityLow
	default:
		return domain.PriorityMedium
	}
}
