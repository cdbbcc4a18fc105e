// Package jira implements the ticket sink for Jira Cloud REST v3.
package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spec-kit/integration-service/internal/config"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/mapper"
	"github.com/spec-kit/integration-service/internal/transport"
	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

// defaultStatuses maps common Jira workflow status names to local statuses.
var defaultStatuses = map[string]domain.Status{
	"open":        domain.StatusOpen,
	"to do":       domain.StatusOpen,
	"backlog":     domain.StatusOpen,
	"new":         domain.StatusOpen,
	"in progress": domain.StatusInProgress,
	"in review":   domain.StatusInProgress,
	"resolved":    domain.StatusResolved,
	"done":        domain.StatusResolved,
	"closed":      domain.StatusClosed,
	"reopened":    domain.StatusReopened,
}

// Adapter implements integration.TicketSink for Jira.
type Adapter struct {
	client       *transport.Client
	baseURL      string
	authHeader   string
	projectKey   string
	issueType    string
	customFields map[string]string
	priorities   mapper.PriorityTable
	statuses     map[string]domain.Status
}

// NewAdapter builds a Jira adapter. Credentials are validated by the factory.
func NewAdapter(cfg config.JiraConfig, client *transport.Client) (*Adapter, error) {
	priorities, err := mapper.JiraPriorities.WithOverrides(cfg.Priorities)
	if err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("jira priorities: %v", err), nil)
	}

	statuses := make(map[string]domain.Status, len(defaultStatuses)+len(cfg.Statuses))
	for name, status := range defaultStatuses {
		statuses[name] = status
	}
	for name, raw := range cfg.Statuses {
		status := domain.Status(strings.ToUpper(raw))
		if !status.Valid() {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("jira status %q maps to unknown status %q", name, raw), nil)
		}
		statuses[strings.ToLower(name)] = status
	}

	issueType := cfg.IssueType
	if issueType == "" {
		issueType = "Bug"
	}

	return &Adapter{
		client:       client,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		authHeader:   authHeader(cfg),
		projectKey:   cfg.ProjectKey,
		issueType:    issueType,
		customFields: cfg.CustomFields,
		priorities:   priorities,
		statuses:     statuses,
	}, nil
}

func authHeader(cfg config.JiraConfig) string {
	if cfg.BearerToken != "" {
		return "Bearer " + cfg.BearerToken
	}
	creds := base64.StdEncoding.EncodeToString([]byte(cfg.Email + ":" + cfg.APIToken))
	return "Basic " + creds
}

// Platform returns domain.PlatformJira.
func (a *Adapter) Platform() domain.Platform {
	return domain.PlatformJira
}

// CreateTicket posts the issue, then uploads attachments one by one. A failed
// upload never rolls back the issue; it is reported as PARTIAL_SUCCESS.
func (a *Adapter) CreateTicket(ctx context.Context, ticket domain.Ticket) (*domain.TicketResponse, error) {
	fields, err := a.issueFields(ticket)
	if err != nil {
		return nil, err
	}

	var created createdIssue
	raw, err := a.send(ctx, http.MethodPost, "/rest/api/3/issue", createIssueRequest{Fields: fields}, &created, transport.IdempotencyKeyFrom(ctx))
	if err != nil {
		return nil, fmt.Errorf("creating jira issue: %w", err)
	}
	if created.Key == "" {
		return nil, apperrors.NewPermanentRejection("jira issue-create response has no key", 0)
	}

	resp := &domain.TicketResponse{
		Success:            true,
		ExternalID:         created.Key,
		ExternalURL:        a.browseURL(created.Key),
		Priority:           ticket.Priority,
		Status:             domain.StatusOpen,
		RawPlatformPayload: raw,
	}

	var failed []string
	for _, att := range ticket.Attachments {
		subCtx := transport.WithIdempotencyKey(ctx, transport.SubKey(transport.IdempotencyKeyFrom(ctx), "attachment", att.FileName))
		if _, err := a.upload(subCtx, created.Key, att); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", att.FileName, err))
		}
	}
	if len(failed) > 0 {
		resp.ErrorKind = domain.ErrorKindPartialSuccess
		resp.Warning = fmt.Sprintf("issue %s created but %d attachment(s) failed: %s",
			created.Key, len(failed), strings.Join(failed, "; "))
	}
	return resp, nil
}

// UpdateTicket transitions the issue to status, then writes fields. A field
// write failing after a successful transition is PARTIAL_SUCCESS.
func (a *Adapter) UpdateTicket(ctx context.Context, externalID string, status domain.Status, fields map[string]any) (*domain.TicketResponse, error) {
	key := transport.IdempotencyKeyFrom(ctx)

	transition, err := a.findTransition(ctx, externalID, status)
	if err != nil {
		return nil, err
	}
	var body transitionRequest
	body.Transition.ID = transition.ID
	path := fmt.Sprintf("/rest/api/3/issue/%s/transitions", url.PathEscape(externalID))
	if _, err := a.send(ctx, http.MethodPost, path, body, nil, transport.SubKey(key, "transition")); err != nil {
		return nil, fmt.Errorf("transitioning jira issue %s: %w", externalID, err)
	}

	resp := &domain.TicketResponse{
		Success:     true,
		ExternalID:  externalID,
		ExternalURL: a.browseURL(externalID),
		Status:      status,
	}
	if len(fields) == 0 {
		return resp, nil
	}

	wire, unregistered := a.mapCustomFields(fields)
	if len(wire) > 0 {
		path := fmt.Sprintf("/rest/api/3/issue/%s", url.PathEscape(externalID))
		if _, err := a.send(ctx, http.MethodPut, path, createIssueRequest{Fields: wire}, nil, transport.SubKey(key, "fields")); err != nil {
			resp.ErrorKind = domain.ErrorKindPartialSuccess
			resp.Warning = fmt.Sprintf("status changed but field update failed: %v", err)
			return resp, nil
		}
	}
	if len(unregistered) > 0 {
		resp.ErrorKind = domain.ErrorKindPartialSuccess
		resp.Warning = "fields without a registered jira id were not written: " + strings.Join(sortedKeys(unregistered), ", ")
	}
	return resp, nil
}

// AddComment posts a plain-text comment.
func (a *Adapter) AddComment(ctx context.Context, externalID, text string) (*domain.TicketResponse, error) {
	path := fmt.Sprintf("/rest/api/3/issue/%s/comment", url.PathEscape(externalID))
	var comment Comment
	raw, err := a.send(ctx, http.MethodPost, path, map[string]any{"body": adfDocument(text)}, &comment, transport.IdempotencyKeyFrom(ctx))
	if err != nil {
		return nil, fmt.Errorf("commenting on jira issue %s: %w", externalID, err)
	}
	return &domain.TicketResponse{
		Success:            true,
		ExternalID:         externalID,
		ExternalURL:        a.browseURL(externalID),
		RawPlatformPayload: raw,
	}, nil
}

// AttachFile uploads one attachment to an existing issue.
func (a *Adapter) AttachFile(ctx context.Context, externalID string, blob domain.Attachment) (*domain.TicketResponse, error) {
	raw, err := a.upload(ctx, externalID, blob)
	if err != nil {
		return nil, err
	}
	return &domain.TicketResponse{
		Success:            true,
		ExternalID:         externalID,
		ExternalURL:        a.browseURL(externalID),
		RawPlatformPayload: raw,
	}, nil
}

// GetTicket fetches the issue and normalizes it to a domain.Ticket.
func (a *Adapter) GetTicket(ctx context.Context, externalID string) (*domain.Ticket, error) {
	path := fmt.Sprintf("/rest/api/3/issue/%s", url.PathEscape(externalID))
	var issue Issue
	if _, err := a.send(ctx, http.MethodGet, path, nil, &issue, ""); err != nil {
		return nil, fmt.Errorf("fetching jira issue %s: %w", externalID, err)
	}
	return a.ParseIssue(issue)
}

// ParseIssue converts a Jira issue into a domain.Ticket.
func (a *Adapter) ParseIssue(issue Issue) (*domain.Ticket, error) {
	fields := issue.Fields
	ticket := &domain.Ticket{
		ExternalID:   issue.Key,
		Platform:     domain.PlatformJira,
		CustomFields: map[string]any{},
	}
	ticket.Title, _ = fields["summary"].(string)
	ticket.Description = adfText(fields["description"])

	statusName := nestedName(fields["status"])
	status, ok := a.statuses[strings.ToLower(statusName)]
	if !ok {
		return nil, apperrors.NewUnmappableStatus(domain.PlatformJira, statusName)
	}
	ticket.Status = status

	for local, id := range a.customFields {
		if v, ok := fields[id]; ok && v != nil {
			ticket.CustomFields[local] = v
		}
	}
	if original, ok := ticket.CustomFields[mapper.OriginalPriorityField].(string); ok && domain.Priority(original).Valid() {
		ticket.Priority = domain.Priority(original)
	} else if p, ok := a.priorities.Internal(nestedName(fields["priority"])); ok {
		ticket.Priority = p
	}

	ticket.CreatedAt = parseJiraTime(fields["created"])
	ticket.UpdatedAt = parseJiraTime(fields["updated"])
	return ticket, nil
}

// issueFields maps a ticket to the issue-create field set. Custom fields
// without a registered ID are appended to the description so nothing is lost.
func (a *Adapter) issueFields(ticket domain.Ticket) (map[string]any, error) {
	native, err := a.priorities.Native(ticket.Priority)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}
	custom := mapper.AnnotateCollapsed(a.priorities, ticket.Priority, domain.CloneFields(ticket.CustomFields))
	wire, unregistered := a.mapCustomFields(custom)

	description := ticket.Description
	if len(unregistered) > 0 {
		var b strings.Builder
		b.WriteString(description)
		b.WriteString("\n\nAdditional fields:")
		for _, k := range sortedKeys(unregistered) {
			fmt.Fprintf(&b, "\n%s: %v", k, unregistered[k])
		}
		description = b.String()
	}

	fields := map[string]any{
		"project":     map[string]string{"key": a.projectKey},
		"issuetype":   map[string]string{"name": a.issueType},
		"summary":     ticket.Title,
		"description": adfDocument(description),
		"priority":    map[string]string{"name": native},
		"labels":      []string{"security"},
	}
	for id, v := range wire {
		fields[id] = v
	}
	return fields, nil
}

func (a *Adapter) mapCustomFields(fields map[string]any) (wire, unregistered map[string]any) {
	wire = map[string]any{}
	unregistered = map[string]any{}
	for k, v := range fields {
		if id, ok := a.customFields[k]; ok {
			wire[id] = v
		} else {
			unregistered[k] = v
		}
	}
	return wire, unregistered
}

func (a *Adapter) findTransition(ctx context.Context, externalID string, status domain.Status) (*Transition, error) {
	path := fmt.Sprintf("/rest/api/3/issue/%s/transitions", url.PathEscape(externalID))
	var resp TransitionsResponse
	if _, err := a.send(ctx, http.MethodGet, path, nil, &resp, ""); err != nil {
		return nil, fmt.Errorf("fetching transitions for %s: %w", externalID, err)
	}
	for i := range resp.Transitions {
		t := resp.Transitions[i]
		if a.statuses[strings.ToLower(t.To.Name)] == status {
			return &t, nil
		}
	}
	return nil, apperrors.NewPermanentRejection(
		fmt.Sprintf("jira workflow offers no transition from issue %s to %s", externalID, status), 0)
}

func (a *Adapter) upload(ctx context.Context, externalID string, att domain.Attachment) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, att.FileName))
	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := part.Write(att.Content); err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}

	resp, err := a.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    a.baseURL + fmt.Sprintf("/rest/api/3/issue/%s/attachments", url.PathEscape(externalID)),
		Header: http.Header{
			"Authorization":     {a.authHeader},
			"Accept":            {"application/json"},
			"Content-Type":      {writer.FormDataContentType()},
			"X-Atlassian-Token": {"no-check"},
		},
		Body:           buf.Bytes(),
		IdempotencyKey: transport.IdempotencyKeyFrom(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("uploading %s to jira issue %s: %w", att.FileName, externalID, err)
	}
	return resp.Body, nil
}

// send executes a JSON call and decodes the response into result when given.
func (a *Adapter) send(ctx context.Context, method, path string, body, result any, key string) ([]byte, error) {
	req := transport.Request{
		Method: method,
		URL:    a.baseURL + path,
		Header: http.Header{
			"Authorization": {a.authHeader},
			"Accept":        {"application/json"},
		},
		IdempotencyKey: key,
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		req.Body = data
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return nil, describe(err)
	}
	if result != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return resp.Body, apperrors.NewPermanentRejection(fmt.Sprintf("unmarshaling response from %s %s: %v", method, path, err), resp.StatusCode)
		}
	}
	return resp.Body, nil
}

// describe enriches a rejection with Jira's own error messages.
func describe(err error) error {
	statusErr, ok := transport.AsStatusError(err)
	if !ok {
		return err
	}
	var jiraErr ErrorResponse
	if json.Unmarshal(statusErr.Response.Body, &jiraErr) != nil ||
		(len(jiraErr.ErrorMessages) == 0 && len(jiraErr.Errors) == 0) {
		return err
	}
	parts := append([]string{}, jiraErr.ErrorMessages...)
	for _, field := range sortedKeys(jiraErr.Errors) {
		parts = append(parts, fmt.Sprintf("%s: %s", field, jiraErr.Errors[field]))
	}
	return fmt.Errorf("jira rejected request (%s): %w", strings.Join(parts, "; "), err)
}

func (a *Adapter) browseURL(key string) string {
	return a.baseURL + "/browse/" + key
}

func nestedName(v any) string {
	if m, ok := v.(map[string]any); ok {
		name, _ := m["name"].(string)
		return name
	}
	return ""
}

// parseJiraTime parses Jira's "2006-01-02T15:04:05.000-0700" timestamps.
func parseJiraTime(v any) time.Time {
	s, _ := v.(string)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
