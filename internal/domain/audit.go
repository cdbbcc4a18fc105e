package domain

import "time"

// Operation names a facade call for auditing.
type Operation string

const (
	OperationCreateTicket Operation = "create_ticket"
	OperationUpdateTicket Operation = "update_ticket"
	OperationAddComment   Operation = "add_comment"
	OperationAttachFile   Operation = "attach_file"
	OperationGetTicket    Operation = "get_ticket"
	OperationSendMessage  Operation = "send_message"
)

// AuditRecord is emitted once per facade call.
type AuditRecord struct {
	ID             string
	Platform       Platform
	Operation      Operation
	ExternalID     *string
	IdempotencyKey string
	Success        bool
	LatencyMS      int64
	ErrorKind      *ErrorKind
	Timestamp      time.Time
}
