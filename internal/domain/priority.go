package domain

// Priority is the platform-neutral urgency derived from a severity score.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Priorities lists ticket priorities from lowest to highest.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// Rank orders priorities; unknown values rank below LOW.
func (p Priority) Rank() int {
	for i, candidate := range Priorities {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p.Rank() >= 0
}

// MessagePriority is the urgency attached to a notification.
type MessagePriority string

const (
	MessagePriorityLow    MessagePriority = "LOW"
	MessagePriorityNormal MessagePriority = "NORMAL"
	MessagePriorityHigh   MessagePriority = "HIGH"
	MessagePriorityUrgent MessagePriority = "URGENT"
)

// Valid reports whether p is a known message priority.
func (p MessagePriority) Valid() bool {
	switch p {
	case MessagePriorityLow, MessagePriorityNormal, MessagePriorityHigh, MessagePriorityUrgent:
		return true
	}
	return false
}
