package service

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/integration-service/internal/async"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/integration"
	"github.com/spec-kit/integration-service/internal/mapper"
	"github.com/spec-kit/integration-service/internal/observability"
	"github.com/spec-kit/integration-service/internal/transport"
	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

// IntegrationService is the single entry point for ticketing and messaging.
// It validates requests before any I/O, derives idempotency keys, converts
// adapter errors into responses and emits one audit record per call.
// It holds no per-call state and is safe for concurrent use.
type IntegrationService struct {
	tickets  map[domain.Platform]integration.TicketSink
	messages map[domain.Platform]integration.MessageSink
	audit    observability.AuditHook
	now      func() time.Time
}

// IntegrationDependencies bundles the sinks and hooks of the facade.
type IntegrationDependencies struct {
	TicketSinks  []integration.TicketSink
	MessageSinks []integration.MessageSink
	Audit        observability.AuditHook
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewIntegrationService constructs the facade.
func NewIntegrationService(deps IntegrationDependencies) *IntegrationService {
	s := &IntegrationService{
		tickets:  make(map[domain.Platform]integration.TicketSink, len(deps.TicketSinks)),
		messages: make(map[domain.Platform]integration.MessageSink, len(deps.MessageSinks)),
		audit:    deps.Audit,
		now:      deps.Now,
	}
	for _, sink := range deps.TicketSinks {
		s.tickets[sink.Platform()] = sink
	}
	for _, sink := range deps.MessageSinks {
		s.messages[sink.Platform()] = sink
	}
	if s.audit == nil {
		s.audit = observability.MultiAuditHook(nil)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// TicketPlatforms lists the configured ticket platforms.
func (s *IntegrationService) TicketPlatforms() []domain.Platform {
	var out []domain.Platform
	for _, p := range domain.Platforms {
		if _, ok := s.tickets[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// MessagePlatforms lists the configured message platforms.
func (s *IntegrationService) MessagePlatforms() []domain.Platform {
	var out []domain.Platform
	for _, p := range domain.Platforms {
		if _, ok := s.messages[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// CreateTicket derives the priority from the severity score and opens the
// ticket on ticket.Platform. Priority and Status on the input are ignored.
func (s *IntegrationService) CreateTicket(ctx context.Context, ticket domain.Ticket) *domain.TicketResponse {
	call := s.begin(ticket.Platform, domain.OperationCreateTicket)

	sink, err := s.ticketSink(ticket.Platform)
	if err == nil {
		err = validateTicket(ticket)
	}
	if err == nil {
		ticket.Priority, err = mapper.ToInternalPriority(ticket.SeverityScore)
	}
	if err != nil {
		return s.finishTicket(ctx, call, nil, err)
	}

	ticket.Status = domain.StatusOpen
	ticket.ExternalID = ""
	ticket.CustomFields = domain.CloneFields(ticket.CustomFields)
	identity := ticket.FindingID
	if identity == "" {
		identity = ticket.Title
	}
	call.key = transport.IdempotencyKey(ticket.Platform, domain.OperationCreateTicket, identity, digest(ticketPayload(ticket)))

	resp, err := guard(func() (*domain.TicketResponse, error) {
		return sink.CreateTicket(transport.WithIdempotencyKey(ctx, call.key), ticket)
	})
	return s.finishTicket(ctx, call, resp, err)
}

// UpdateTicket moves the ticket from ref.Status to status and writes fields.
// Illegal transitions fail with VALIDATION_FAILED before any I/O.
func (s *IntegrationService) UpdateTicket(ctx context.Context, platform domain.Platform, ref domain.TicketRef, status domain.Status, fields map[string]any) *domain.TicketResponse {
	call := s.begin(platform, domain.OperationUpdateTicket)
	call.externalID = ref.ExternalID

	sink, err := s.ticketSink(platform)
	if err == nil {
		err = validateTransition(ref, status)
	}
	if err != nil {
		return s.finishTicket(ctx, call, nil, err)
	}

	fields = domain.CloneFields(fields)
	call.key = transport.IdempotencyKey(platform, domain.OperationUpdateTicket, ref.ExternalID,
		digest(map[string]any{"from": ref.Status, "to": status, "fields": fields}))

	resp, err := guard(func() (*domain.TicketResponse, error) {
		return sink.UpdateTicket(transport.WithIdempotencyKey(ctx, call.key), ref.ExternalID, status, fields)
	})
	return s.finishTicket(ctx, call, resp, err)
}

// AddComment appends text to the ticket's discussion.
func (s *IntegrationService) AddComment(ctx context.Context, platform domain.Platform, externalID, text string) *domain.TicketResponse {
	call := s.begin(platform, domain.OperationAddComment)
	call.externalID = externalID

	sink, err := s.ticketSink(platform)
	if err == nil {
		err = requireExternalID(externalID)
	}
	if err == nil && strings.TrimSpace(text) == "" {
		err = apperrors.NewValidationError("comment text is required", nil)
	}
	if err != nil {
		return s.finishTicket(ctx, call, nil, err)
	}

	call.key = transport.IdempotencyKey(platform, domain.OperationAddComment, externalID, []byte(text))
	resp, err := guard(func() (*domain.TicketResponse, error) {
		return sink.AddComment(transport.WithIdempotencyKey(ctx, call.key), externalID, text)
	})
	return s.finishTicket(ctx, call, resp, err)
}

// AttachFile uploads blob to the ticket.
func (s *IntegrationService) AttachFile(ctx context.Context, platform domain.Platform, externalID string, blob domain.Attachment) *domain.TicketResponse {
	call := s.begin(platform, domain.OperationAttachFile)
	call.externalID = externalID

	sink, err := s.ticketSink(platform)
	if err == nil {
		err = requireExternalID(externalID)
	}
	if err == nil {
		err = validateAttachment(blob)
	}
	if err != nil {
		return s.finishTicket(ctx, call, nil, err)
	}

	call.key = transport.IdempotencyKey(platform, domain.OperationAttachFile, externalID,
		digest(map[string]any{"name": blob.FileName, "type": blob.MimeType, "sha256": sha256.Sum256(blob.Content)}))
	resp, err := guard(func() (*domain.TicketResponse, error) {
		return sink.AttachFile(transport.WithIdempotencyKey(ctx, call.key), externalID, blob)
	})
	return s.finishTicket(ctx, call, resp, err)
}

// GetTicket reads the external record. Unlike the mutating calls it returns
// an error, always a *util.DomainError.
func (s *IntegrationService) GetTicket(ctx context.Context, platform domain.Platform, externalID string) (*domain.Ticket, error) {
	call := s.begin(platform, domain.OperationGetTicket)
	call.externalID = externalID

	sink, err := s.ticketSink(platform)
	if err == nil {
		err = requireExternalID(externalID)
	}
	var ticket *domain.Ticket
	if err == nil {
		ticket, err = guard(func() (*domain.Ticket, error) {
			return sink.GetTicket(ctx, externalID)
		})
	}
	s.emit(ctx, call, err == nil, apperrors.KindOf(err))
	if err != nil {
		return nil, apperrors.ToDomainError(err)
	}
	return ticket, nil
}

// SendMessage delivers msg on msg.Platform. Formats the platform does not
// declare fail with VALIDATION_FAILED before any I/O. An empty format means
// PLAIN and an empty priority NORMAL.
func (s *IntegrationService) SendMessage(ctx context.Context, msg domain.Message) *domain.MessageResponse {
	call := s.begin(msg.Platform, domain.OperationSendMessage)

	if msg.Format == "" {
		msg.Format = domain.FormatPlain
	}
	if msg.Priority == "" {
		msg.Priority = domain.MessagePriorityNormal
	}

	sink, err := s.messageSink(msg.Platform)
	if err == nil {
		err = validateMessage(msg, sink.SupportedFormats())
	}
	if err != nil {
		return s.finishMessage(ctx, call, nil, err)
	}

	call.key = transport.IdempotencyKey(msg.Platform, domain.OperationSendMessage, msg.Target, digest(messagePayload(msg)))
	resp, err := guard(func() (*domain.MessageResponse, error) {
		return sink.SendMessage(transport.WithIdempotencyKey(ctx, call.key), msg)
	})
	return s.finishMessage(ctx, call, resp, err)
}

// CreateTicketAsync runs CreateTicket off the caller's goroutine.
func (s *IntegrationService) CreateTicketAsync(ctx context.Context, ticket domain.Ticket) *async.Future[*domain.TicketResponse] {
	return async.Go(ctx, func(ctx context.Context) (*domain.TicketResponse, error) {
		return s.CreateTicket(ctx, ticket), nil
	})
}

// UpdateTicketAsync runs UpdateTicket off the caller's goroutine.
func (s *IntegrationService) UpdateTicketAsync(ctx context.Context, platform domain.Platform, ref domain.TicketRef, status domain.Status, fields map[string]any) *async.Future[*domain.TicketResponse] {
	fields = domain.CloneFields(fields)
	return async.Go(ctx, func(ctx context.Context) (*domain.TicketResponse, error) {
		return s.UpdateTicket(ctx, platform, ref, status, fields), nil
	})
}

// AddCommentAsync runs AddComment off the caller's goroutine.
func (s *IntegrationService) AddCommentAsync(ctx context.Context, platform domain.Platform, externalID, text string) *async.Future[*domain.TicketResponse] {
	return async.Go(ctx, func(ctx context.Context) (*domain.TicketResponse, error) {
		return s.AddComment(ctx, platform, externalID, text), nil
	})
}

// SendMessageAsync runs SendMessage off the caller's goroutine. Email
// submission is synchronous SMTP, so this is the usual way to send mail.
func (s *IntegrationService) SendMessageAsync(ctx context.Context, msg domain.Message) *async.Future[*domain.MessageResponse] {
	return async.Go(ctx, func(ctx context.Context) (*domain.MessageResponse, error) {
		return s.SendMessage(ctx, msg), nil
	})
}

func (s *IntegrationService) ticketSink(platform domain.Platform) (integration.TicketSink, error) {
	sink, ok := s.tickets[platform]
	if !ok {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("no ticket integration configured for %q", platform), nil)
	}
	return sink, nil
}

func (s *IntegrationService) messageSink(platform domain.Platform) (integration.MessageSink, error) {
	sink, ok := s.messages[platform]
	if !ok {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("no message integration configured for %q", platform), nil)
	}
	return sink, nil
}

// callInfo carries audit data through one facade call.
type callInfo struct {
	platform   domain.Platform
	operation  domain.Operation
	externalID string
	key        string
	started    time.Time
}

func (s *IntegrationService) begin(platform domain.Platform, op domain.Operation) *callInfo {
	return &callInfo{platform: platform, operation: op, started: s.now()}
}

func (s *IntegrationService) finishTicket(ctx context.Context, call *callInfo, resp *domain.TicketResponse, err error) *domain.TicketResponse {
	if err != nil {
		de := apperrors.ToDomainError(err)
		resp = &domain.TicketResponse{
			Success:     false,
			ExternalID:  call.externalID,
			ErrorKind:   de.Kind(),
			ErrorDetail: err.Error(),
		}
	} else if resp == nil {
		resp = &domain.TicketResponse{Success: true, ExternalID: call.externalID}
	}
	if resp.ExternalID != "" {
		call.externalID = resp.ExternalID
	}
	s.emit(ctx, call, resp.Success, resp.ErrorKind)
	return resp
}

func (s *IntegrationService) finishMessage(ctx context.Context, call *callInfo, resp *domain.MessageResponse, err error) *domain.MessageResponse {
	if err != nil {
		de := apperrors.ToDomainError(err)
		resp = &domain.MessageResponse{
			Success:     false,
			ErrorKind:   de.Kind(),
			ErrorDetail: err.Error(),
		}
	} else if resp == nil {
		resp = &domain.MessageResponse{Success: true}
	}
	if resp.MessageID != "" {
		call.externalID = resp.MessageID
	}
	s.emit(ctx, call, resp.Success, resp.ErrorKind)
	return resp
}

func (s *IntegrationService) emit(ctx context.Context, call *callInfo, success bool, kind domain.ErrorKind) {
	rec := domain.AuditRecord{
		ID:             uuid.NewString(),
		Platform:       call.platform,
		Operation:      call.operation,
		IdempotencyKey: call.key,
		Success:        success,
		LatencyMS:      s.now().Sub(call.started).Milliseconds(),
		Timestamp:      call.started.UTC(),
	}
	if call.externalID != "" {
		id := call.externalID
		rec.ExternalID = &id
	}
	if kind != domain.ErrorKindNone {
		rec.ErrorKind = &kind
	}
	s.audit.Record(ctx, rec)
}

// guard turns an adapter panic into INTERNAL_ERROR.
func guard[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewInternalError(fmt.Errorf("adapter panic: %v", r))
		}
	}()
	return fn()
}

func validateTicket(ticket domain.Ticket) error {
	if strings.TrimSpace(ticket.Title) == "" {
		return apperrors.NewValidationError("ticket title is required", nil)
	}
	for _, att := range ticket.Attachments {
		if err := validateAttachment(att); err != nil {
			return err
		}
	}
	return nil
}

func validateTransition(ref domain.TicketRef, status domain.Status) error {
	if err := requireExternalID(ref.ExternalID); err != nil {
		return err
	}
	if !ref.Status.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown current status %q", ref.Status), nil)
	}
	if !status.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown status %q", status), nil)
	}
	if !ref.Status.CanTransition(status) {
		return apperrors.NewValidationError(
			fmt.Sprintf("transition %s -> %s is not allowed", ref.Status, status),
			map[string]any{"from": string(ref.Status), "to": string(status)},
		)
	}
	return nil
}

func validateAttachment(att domain.Attachment) error {
	if strings.TrimSpace(att.FileName) == "" {
		return apperrors.NewValidationError("attachment file name is required", nil)
	}
	return nil
}

func validateMessage(msg domain.Message, formats domain.FormatSet) error {
	if !formats.Supports(msg.Format) {
		return apperrors.NewValidationError(
			fmt.Sprintf("%s does not support %s messages", msg.Platform, msg.Format),
			map[string]any{"platform": string(msg.Platform), "format": string(msg.Format)},
		)
	}
	if !msg.Priority.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown message priority %q", msg.Priority), nil)
	}
	if strings.TrimSpace(msg.Body) == "" {
		return apperrors.NewValidationError("message body is required", nil)
	}
	for _, att := range msg.Attachments {
		if err := validateAttachment(att); err != nil {
			return err
		}
	}
	return nil
}

func requireExternalID(id string) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.NewValidationError("external id is required", nil)
	}
	return nil
}

// ticketPayload is the part of a ticket that defines a distinct request.
func ticketPayload(t domain.Ticket) map[string]any {
	attachments := make([]map[string]any, len(t.Attachments))
	for i, a := range t.Attachments {
		attachments[i] = map[string]any{"name": a.FileName, "type": a.MimeType, "sha256": sha256.Sum256(a.Content)}
	}
	return map[string]any{
		"title":       t.Title,
		"description": t.Description,
		"severity":    t.SeverityScore,
		"fields":      t.CustomFields,
		"attachments": attachments,
	}
}

func messagePayload(m domain.Message) map[string]any {
	attachments := make([]map[string]any, len(m.Attachments))
	for i, a := range m.Attachments {
		attachments[i] = map[string]any{"name": a.FileName, "type": a.MimeType, "sha256": sha256.Sum256(a.Content)}
	}
	return map[string]any{
		"subject":     m.Subject,
		"body":        m.Body,
		"format":      m.Format,
		"priority":    m.Priority,
		"attachments": attachments,
	}
}

// digest canonicalizes v as JSON; map keys are sorted by encoding/json.
func digest(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf("%v", v))
	}
	return data
}
