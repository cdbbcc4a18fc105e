package domain

// ErrorKind classifies why an integration call did not fully succeed.
type ErrorKind string

const (
	ErrorKindNone               ErrorKind = ""
	ErrorKindConfiguration      ErrorKind = "CONFIGURATION_ERROR"
	ErrorKindValidation         ErrorKind = "VALIDATION_FAILED"
	ErrorKindTransientNetwork   ErrorKind = "TRANSIENT_NETWORK_ERROR"
	ErrorKindTimeout            ErrorKind = "TIMEOUT"
	ErrorKindPermanentRejection ErrorKind = "PERMANENT_REJECTION"
	ErrorKindUnmappableStatus   ErrorKind = "UNMAPPABLE_STATUS"
	ErrorKindPartialSuccess     ErrorKind = "PARTIAL_SUCCESS"
	ErrorKindInternal           ErrorKind = "INTERNAL_ERROR"
)

// TicketResponse is the outcome of a ticketing operation.
// Success implies ExternalID is set; failure implies ErrorKind is set.
// A PARTIAL_SUCCESS response is successful and carries a Warning.
type TicketResponse struct {
	Success            bool
	ExternalID         string
	ExternalURL        string
	Priority           Priority
	Status             Status
	ErrorKind          ErrorKind
	ErrorDetail        string
	Warning            string
	RawPlatformPayload []byte
}

// MessageResponse is the outcome of a send operation.
type MessageResponse struct {
	Success     bool
	MessageID   string
	ErrorKind   ErrorKind
	ErrorDetail string
	Warning     string
}
