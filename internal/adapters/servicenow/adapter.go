// Package servicenow implements the ticket sink for the ServiceNow Table API.
package servicenow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spec-kit/integration-service/internal/config"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/mapper"
	"github.com/spec-kit/integration-service/internal/transport"
	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

// IdempotencyHeader carries the idempotency key to the instance.
const IdempotencyHeader = "X-Idempotency-Key"

// timeLayout is the Table API's datetime format.
const timeLayout = "2006-01-02 15:04:05"

// reserved columns are owned by the adapter and never overwritten by custom fields.
var reserved = map[string]struct{}{
	"sys_id": {}, "number": {}, "state": {}, "priority": {}, "urgency": {}, "impact": {},
	"short_description": {}, "description": {},
}

// Adapter implements integration.TicketSink for ServiceNow.
type Adapter struct {
	client          *transport.Client
	instanceURL     string
	table           string
	authHeader      string
	assignmentGroup string
	category        string
	priorities      mapper.PriorityTable
}

// NewAdapter builds a ServiceNow adapter. Credentials are validated by the factory.
func NewAdapter(cfg config.ServiceNowConfig, client *transport.Client) (*Adapter, error) {
	priorities, err := mapper.ServiceNowPriorities.WithOverrides(cfg.Priorities)
	if err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("servicenow priorities: %v", err), nil)
	}
	table := cfg.Table
	if table == "" {
		table = "incident"
	}
	auth := "Bearer " + cfg.BearerToken
	if cfg.BearerToken == "" {
		auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Username+":"+cfg.Password))
	}
	return &Adapter{
		client:          client,
		instanceURL:     strings.TrimRight(cfg.InstanceURL, "/"),
		table:           table,
		authHeader:      auth,
		assignmentGroup: cfg.AssignmentGroup,
		category:        cfg.Category,
		priorities:      priorities,
	}, nil
}

// Platform returns domain.PlatformServiceNow.
func (a *Adapter) Platform() domain.Platform {
	return domain.PlatformServiceNow
}

// CreateTicket inserts a record with one POST. Custom fields become columns.
func (a *Adapter) CreateTicket(ctx context.Context, ticket domain.Ticket) (*domain.TicketResponse, error) {
	native, err := a.priorities.Native(ticket.Priority)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}
	code := priorityCode(native)

	record := map[string]any{}
	for k, v := range mapper.AnnotateCollapsed(a.priorities, ticket.Priority, domain.CloneFields(ticket.CustomFields)) {
		if _, ok := reserved[k]; !ok {
			record[k] = v
		}
	}
	record["short_description"] = ticket.Title
	record["description"] = ticket.Description
	record["priority"] = code
	record["urgency"] = impactFor(code)
	record["impact"] = impactFor(code)
	record["state"] = stateNew
	if ticket.FindingID != "" {
		record["correlation_id"] = ticket.FindingID
	}
	if a.category != "" {
		record["category"] = a.category
	}
	if a.assignmentGroup != "" {
		record["assignment_group"] = a.assignmentGroup
	}

	result, raw, err := a.send(ctx, http.MethodPost, a.tablePath(""), record)
	if err != nil {
		return nil, fmt.Errorf("creating servicenow record: %w", err)
	}
	sysID, _ := result["sys_id"].(string)
	if sysID == "" {
		return nil, apperrors.NewPermanentRejection("servicenow response has no sys_id", 0)
	}
	return &domain.TicketResponse{
		Success:            true,
		ExternalID:         sysID,
		ExternalURL:        a.recordURL(sysID),
		Priority:           ticket.Priority,
		Status:             domain.StatusOpen,
		RawPlatformPayload: raw,
	}, nil
}

// UpdateTicket patches state and fields in a single call.
func (a *Adapter) UpdateTicket(ctx context.Context, externalID string, status domain.Status, fields map[string]any) (*domain.TicketResponse, error) {
	state, err := stateFor(status)
	if err != nil {
		return nil, err
	}
	patch := map[string]any{}
	for k, v := range fields {
		if _, ok := reserved[k]; !ok {
			patch[k] = v
		}
	}
	patch["state"] = state
	switch status {
	case domain.StatusResolved:
		setDefault(patch, "close_code", defaultCloseCode)
		setDefault(patch, "close_notes", defaultCloseNotes)
	case domain.StatusReopened:
		setDefault(patch, "work_notes", "Finding reopened")
	}

	result, raw, err := a.send(ctx, http.MethodPatch, a.tablePath(externalID), patch)
	if err != nil {
		return nil, fmt.Errorf("updating servicenow record %s: %w", externalID, err)
	}
	resp := &domain.TicketResponse{
		Success:            true,
		ExternalID:         externalID,
		ExternalURL:        a.recordURL(externalID),
		Status:             status,
		RawPlatformPayload: raw,
	}
	if ticket, err := a.ParseRecord(result); err == nil {
		resp.Priority = ticket.Priority
	}
	return resp, nil
}

// AddComment appends to the customer-visible comments journal.
func (a *Adapter) AddComment(ctx context.Context, externalID, text string) (*domain.TicketResponse, error) {
	_, raw, err := a.send(ctx, http.MethodPatch, a.tablePath(externalID), map[string]any{"comments": text})
	if err != nil {
		return nil, fmt.Errorf("commenting on servicenow record %s: %w", externalID, err)
	}
	return &domain.TicketResponse{
		Success:            true,
		ExternalID:         externalID,
		ExternalURL:        a.recordURL(externalID),
		RawPlatformPayload: raw,
	}, nil
}

// AttachFile uploads through the Attachment API.
func (a *Adapter) AttachFile(ctx context.Context, externalID string, blob domain.Attachment) (*domain.TicketResponse, error) {
	query := url.Values{}
	query.Set("table_name", a.table)
	query.Set("table_sys_id", externalID)
	query.Set("file_name", blob.FileName)
	mimeType := blob.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	resp, err := a.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    a.instanceURL + "/api/now/attachment/file?" + query.Encode(),
		Header: http.Header{
			"Authorization": {a.authHeader},
			"Accept":        {"application/json"},
			"Content-Type":  {mimeType},
		},
		Body:              blob.Content,
		IdempotencyKey:    transport.IdempotencyKeyFrom(ctx),
		IdempotencyHeader: IdempotencyHeader,
	})
	if err != nil {
		return nil, fmt.Errorf("attaching %s to servicenow record %s: %w", blob.FileName, externalID, describe(err))
	}
	return &domain.TicketResponse{
		Success:            true,
		ExternalID:         externalID,
		ExternalURL:        a.recordURL(externalID),
		RawPlatformPayload: resp.Body,
	}, nil
}

// GetTicket reads the record and normalizes it.
func (a *Adapter) GetTicket(ctx context.Context, externalID string) (*domain.Ticket, error) {
	result, _, err := a.send(ctx, http.MethodGet, a.tablePath(externalID), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching servicenow record %s: %w", externalID, err)
	}
	return a.ParseRecord(result)
}

// ParseRecord converts a Table API record into a domain.Ticket. A new-state
// record that has been reopened before is REOPENED.
func (a *Adapter) ParseRecord(record map[string]any) (*domain.Ticket, error) {
	ticket := &domain.Ticket{
		Platform:     domain.PlatformServiceNow,
		CustomFields: map[string]any{},
	}
	ticket.ExternalID = stringField(record, "sys_id")
	ticket.Title = stringField(record, "short_description")
	ticket.Description = stringField(record, "description")
	ticket.FindingID = stringField(record, "correlation_id")

	state := stringField(record, "state")
	switch state {
	case stateNew:
		ticket.Status = domain.StatusOpen
		if n, _ := strconv.Atoi(stringField(record, "reopen_count")); n > 0 {
			ticket.Status = domain.StatusReopened
		}
	case stateInProgress, stateOnHold:
		ticket.Status = domain.StatusInProgress
	case stateResolved:
		ticket.Status = domain.StatusResolved
	case stateClosed, stateCanceled:
		ticket.Status = domain.StatusClosed
	default:
		return nil, apperrors.NewUnmappableStatus(domain.PlatformServiceNow, state)
	}

	if original := stringField(record, mapper.OriginalPriorityField); domain.Priority(original).Valid() {
		ticket.Priority = domain.Priority(original)
	} else {
		ticket.Priority = a.priorityFromCode(stringField(record, "priority"))
	}

	ticket.CreatedAt, _ = time.Parse(timeLayout, stringField(record, "sys_created_on"))
	ticket.UpdatedAt, _ = time.Parse(timeLayout, stringField(record, "sys_updated_on"))
	return ticket, nil
}

func (a *Adapter) priorityFromCode(value string) domain.Priority {
	if p, ok := a.priorities.Internal(value); ok {
		return p
	}
	for i := len(domain.Priorities) - 1; i >= 0; i-- {
		p := domain.Priorities[i]
		if native, err := a.priorities.Native(p); err == nil && priorityCode(native) == value {
			return p
		}
	}
	return ""
}

func (a *Adapter) send(ctx context.Context, method, path string, body map[string]any) (map[string]any, []byte, error) {
	req := transport.Request{
		Method: method,
		URL:    a.instanceURL + path,
		Header: http.Header{
			"Authorization": {a.authHeader},
			"Accept":        {"application/json"},
		},
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshaling request body: %w", err)
		}
		req.Body = data
		req.Header.Set("Content-Type", "application/json")
		req.IdempotencyKey = transport.IdempotencyKeyFrom(ctx)
		req.IdempotencyHeader = IdempotencyHeader
	}

	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return nil, nil, describe(err)
	}
	var decoded recordResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, resp.Body, apperrors.NewPermanentRejection(fmt.Sprintf("unmarshaling servicenow response: %v", err), resp.StatusCode)
	}
	return decoded.Result, resp.Body, nil
}

func describe(err error) error {
	statusErr, ok := transport.AsStatusError(err)
	if !ok {
		return err
	}
	var snErr errorResponse
	if json.Unmarshal(statusErr.Response.Body, &snErr) != nil || snErr.Error.Message == "" {
		return err
	}
	return fmt.Errorf("servicenow rejected request (%s: %s): %w", snErr.Error.Message, snErr.Error.Detail, err)
}

func (a *Adapter) tablePath(sysID string) string {
	path := "/api/now/table/" + url.PathEscape(a.table)
	if sysID != "" {
		path += "/" + url.PathEscape(sysID)
	}
	return path
}

func (a *Adapter) recordURL(sysID string) string {
	return fmt.Sprintf("%s/nav_to.do?uri=%s.do?sys_id=%s", a.instanceURL, a.table, sysID)
}

func stateFor(status domain.Status) (string, error) {
	switch status {
	case domain.StatusOpen, domain.StatusReopened:
		return stateNew, nil
	case domain.StatusInProgress:
		return stateInProgress, nil
	case domain.StatusResolved:
		return stateResolved, nil
	case domain.StatusClosed:
		return stateClosed, nil
	}
	return "", apperrors.NewValidationError(fmt.Sprintf("status %q has no servicenow state", status), nil)
}

// priorityCode extracts "1" from a display value such as "1 - Critical".
func priorityCode(native string) string {
	code, _, _ := strings.Cut(native, "-")
	return strings.TrimSpace(code)
}

// impactFor folds a priority code into the 1-3 impact/urgency scale.
func impactFor(code string) string {
	n, err := strconv.Atoi(code)
	if err != nil || n > 3 {
		return "3"
	}
	if n < 1 {
		return "1"
	}
	return strconv.Itoa(n)
}

func setDefault(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

// stringField reads a column that may be a plain value or a
// {"value": ..., "display_value": ...} pair.
func stringField(record map[string]any, key string) string {
	switch v := record[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]any:
		s, _ := v["value"].(string)
		return s
	}
	return ""
}
