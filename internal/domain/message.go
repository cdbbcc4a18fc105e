package domain

// MessageFormat describes how a message body is encoded.
type MessageFormat string

const (
	FormatPlain        MessageFormat = "PLAIN"
	FormatMarkdown     MessageFormat = "MARKDOWN"
	FormatHTML         MessageFormat = "HTML"
	FormatAdaptiveCard MessageFormat = "ADAPTIVE_CARD"
)

// Message is a notification addressed to a channel, user or mailbox.
// Target semantics depend on the platform.
type Message struct {
	Platform    Platform
	Target      string
	Subject     string
	Body        string
	Format      MessageFormat
	Priority    MessagePriority
	Attachments []Attachment
}

// FormatSet is the set of formats an adapter accepts.
type FormatSet map[MessageFormat]struct{}

// NewFormatSet builds a set from the given formats.
func NewFormatSet(formats ...MessageFormat) FormatSet {
	set := make(FormatSet, len(formats))
	for _, f := range formats {
		set[f] = struct{}{}
	}
	return set
}

// Supports reports whether f is in the set.
func (s FormatSet) Supports(f MessageFormat) bool {
	_, ok := s[f]
	return ok
}
