package servicenow

// recordResponse wraps a single Table API record.
type recordResponse struct {
	Result map[string]any `json:"result"`
}

// errorResponse is the Table API failure envelope.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	} `json:"error"`
	Status string `json:"status"`
}

// Incident state codes of the incident table.
const (
	stateNew        = "1"
	stateInProgress = "2"
	stateOnHold     = "3"
	stateResolved   = "6"
	stateClosed     = "7"
	stateCanceled   = "8"
)

// Default resolution fields required by the incident table when resolving.
const (
	defaultCloseCode  = "Solved (Permanently)"
	defaultCloseNotes = "Resolved by security remediation workflow"
)
