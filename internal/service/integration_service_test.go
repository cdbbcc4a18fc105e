package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spec-kit/integration-service/internal/adapters/jira"
	"github.com/spec-kit/integration-service/internal/adapters/slack"
	"github.com/spec-kit/integration-service/internal/config"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/integration"
	"github.com/spec-kit/integration-service/internal/observability"
	"github.com/spec-kit/integration-service/internal/transport"
)

// fakeTicketSink records calls and returns scripted results.
type fakeTicketSink struct {
	mu      sync.Mutex
	calls   int
	keys    []string
	last    domain.Ticket
	status  domain.Status
	err     error
	panics  bool
	nextKey int
}

func (f *fakeTicketSink) Platform() domain.Platform { return domain.PlatformJira }

func (f *fakeTicketSink) record(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.keys = append(f.keys, transport.IdempotencyKeyFrom(ctx))
	if f.panics {
		panic("adapter bug")
	}
	return f.err
}

func (f *fakeTicketSink) CreateTicket(ctx context.Context, ticket domain.Ticket) (*domain.TicketResponse, error) {
	if err := f.record(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.last = ticket
	f.nextKey++
	key := fmt.Sprintf("SEC-%d", f.nextKey)
	f.mu.Unlock()
	return &domain.TicketResponse{Success: true, ExternalID: key, Priority: ticket.Priority, Status: ticket.Status}, nil
}

func (f *fakeTicketSink) UpdateTicket(ctx context.Context, externalID string, status domain.Status, _ map[string]any) (*domain.TicketResponse, error) {
	if err := f.record(ctx); err != nil {
		return nil, err
	}
	f.status = status
	return &domain.TicketResponse{Success: true, ExternalID: externalID, Status: status}, nil
}

func (f *fakeTicketSink) AddComment(ctx context.Context, externalID, _ string) (*domain.TicketResponse, error) {
	if err := f.record(ctx); err != nil {
		return nil, err
	}
	return &domain.TicketResponse{Success: true, ExternalID: externalID}, nil
}

func (f *fakeTicketSink) AttachFile(ctx context.Context, externalID string, _ domain.Attachment) (*domain.TicketResponse, error) {
	if err := f.record(ctx); err != nil {
		return nil, err
	}
	return &domain.TicketResponse{Success: true, ExternalID: externalID}, nil
}

func (f *fakeTicketSink) GetTicket(ctx context.Context, externalID string) (*domain.Ticket, error) {
	if err := f.record(ctx); err != nil {
		return nil, err
	}
	return &domain.Ticket{ExternalID: externalID, Status: domain.StatusOpen, Platform: domain.PlatformJira}, nil
}

// auditLog collects audit records.
type auditLog struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

func (a *auditLog) Record(_ context.Context, rec domain.AuditRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
}

func (a *auditLog) last(t *testing.T) domain.AuditRecord {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.records) == 0 {
		t.Fatal("no audit records")
	}
	return a.records[len(a.records)-1]
}

func newFacade(sink integration.TicketSink, audit observability.AuditHook, messages ...integration.MessageSink) *IntegrationService {
	return NewIntegrationService(IntegrationDependencies{
		TicketSinks:  []integration.TicketSink{sink},
		MessageSinks: messages,
		Audit:        audit,
	})
}

func testClient() *transport.Client {
	return transport.NewClient(transport.Options{
		Policy:  transport.DefaultPolicy(),
		Dedup:   transport.NewDeduplicator(transport.NewMemoryStore(), time.Minute),
		Sleeper: func(context.Context, time.Duration) error { return nil },
	})
}

func TestCreateTicketRejectsOutOfRangeSeverityBeforeIO(t *testing.T) {
	sink := &fakeTicketSink{}
	audit := &auditLog{}
	svc := newFacade(sink, audit)

	for _, score := range []float64{-0.1, 10.01, math.NaN(), math.Inf(1)} {
		resp := svc.CreateTicket(context.Background(), domain.Ticket{Title: "x", SeverityScore: score, Platform: domain.PlatformJira})
		if resp.Success || resp.ErrorKind != domain.ErrorKindValidation {
			t.Errorf("score %v: response %+v", score, resp)
		}
	}
	if sink.calls != 0 {
		t.Errorf("adapter called %d times", sink.calls)
	}
	if rec := audit.last(t); rec.ErrorKind == nil || *rec.ErrorKind != domain.ErrorKindValidation || rec.Success {
		t.Errorf("audit = %+v", rec)
	}
}

func TestCreateTicketDerivesPriorityAndKey(t *testing.T) {
	sink := &fakeTicketSink{}
	audit := &auditLog{}
	svc := newFacade(sink, audit)

	resp := svc.CreateTicket(context.Background(), domain.Ticket{
		FindingID:     "F-1",
		Title:         "RCE in api-gateway",
		SeverityScore: 9.5,
		Priority:      domain.PriorityLow,
		Platform:      domain.PlatformJira,
	})
	if !resp.Success || resp.Priority != domain.PriorityCritical {
		t.Fatalf("response %+v", resp)
	}
	if sink.last.Status != domain.StatusOpen || sink.last.Priority != domain.PriorityCritical {
		t.Errorf("adapter saw %+v", sink.last)
	}
	if sink.keys[0] == "" {
		t.Error("adapter received no idempotency key")
	}
	rec := audit.last(t)
	if rec.IdempotencyKey != sink.keys[0] || rec.ExternalID == nil || *rec.ExternalID != "SEC-1" || !rec.Success {
		t.Errorf("audit = %+v", rec)
	}
}

func TestIdempotencyKeyStableAcrossCalls(t *testing.T) {
	sink := &fakeTicketSink{}
	svc := newFacade(sink, nil)
	ticket := domain.Ticket{FindingID: "F-1", Title: "x", SeverityScore: 5, Platform: domain.PlatformJira}

	svc.CreateTicket(context.Background(), ticket)
	svc.CreateTicket(context.Background(), ticket)
	ticket.Description = "changed"
	svc.CreateTicket(context.Background(), ticket)

	if sink.keys[0] != sink.keys[1] {
		t.Error("identical requests produced different keys")
	}
	if sink.keys[0] == sink.keys[2] {
		t.Error("different payloads produced the same key")
	}
}

func TestDuplicateCreateOpensOneJiraIssue(t *testing.T) {
	var posts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&posts, 1)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id":"100%d","key":"SEC-%d","self":"x"}`, n, n)
	}))
	defer server.Close()

	adapter, err := jira.NewAdapter(config.JiraConfig{
		BaseURL: server.URL, Email: "bot@example.com", APIToken: "t", ProjectKey: "SEC",
	}, testClient())
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	svc := newFacade(adapter, nil)
	ticket := domain.Ticket{FindingID: "F-9", Title: "SQL injection", SeverityScore: 8.1, Platform: domain.PlatformJira}

	var wg sync.WaitGroup
	responses := make([]*domain.TicketResponse, 2)
	for i := range responses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i] = svc.CreateTicket(context.Background(), ticket)
		}(i)
	}
	wg.Wait()

	if atomic.LoadInt32(&posts) != 1 {
		t.Errorf("jira received %d creates, want 1", posts)
	}
	if responses[0].ExternalID != "SEC-1" || responses[1].ExternalID != "SEC-1" {
		t.Errorf("responses %+v / %+v", responses[0], responses[1])
	}
}

func TestUpdateTicketValidatesTransitionBeforeIO(t *testing.T) {
	sink := &fakeTicketSink{}
	svc := newFacade(sink, nil)

	tests := []struct {
		from, to domain.Status
		ok       bool
	}{
		{domain.StatusOpen, domain.StatusInProgress, true},
		{domain.StatusInProgress, domain.StatusResolved, true},
		{domain.StatusResolved, domain.StatusClosed, true},
		{domain.StatusResolved, domain.StatusReopened, true},
		{domain.StatusClosed, domain.StatusReopened, true},
		{domain.StatusReopened, domain.StatusOpen, true},
		{domain.StatusReopened, domain.StatusInProgress, false},
		{domain.StatusClosed, domain.StatusInProgress, false},
		{domain.StatusOpen, domain.StatusClosed, false},
		{domain.StatusOpen, domain.StatusOpen, false},
		{domain.StatusOpen, domain.Status("WONTFIX"), false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			before := sink.calls
			resp := svc.UpdateTicket(context.Background(), domain.PlatformJira, domain.TicketRef{ExternalID: "SEC-1", Status: tt.from}, tt.to, nil)
			if resp.Success != tt.ok {
				t.Fatalf("response %+v", resp)
			}
			if !tt.ok {
				if resp.ErrorKind != domain.ErrorKindValidation {
					t.Errorf("ErrorKind = %s", resp.ErrorKind)
				}
				if sink.calls != before {
					t.Error("adapter called for an illegal transition")
				}
			}
		})
	}
}

func TestSlackAdaptiveCardFailsBeforeNetwork(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	svc := newFacade(&fakeTicketSink{}, nil, slack.NewAdapter(config.SlackConfig{WebhookURL: server.URL}, testClient()))
	resp := svc.SendMessage(context.Background(), domain.Message{
		Platform: domain.PlatformSlack,
		Body:     `{"type":"AdaptiveCard"}`,
		Format:   domain.FormatAdaptiveCard,
		Priority: domain.MessagePriorityUrgent,
	})
	if resp.Success || resp.ErrorKind != domain.ErrorKindValidation {
		t.Fatalf("response %+v", resp)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Errorf("slack called %d times", hits)
	}
}

func TestSendMessageDefaultsAndDelivers(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	audit := &auditLog{}
	svc := newFacade(&fakeTicketSink{}, audit, slack.NewAdapter(config.SlackConfig{WebhookURL: server.URL}, testClient()))
	resp := svc.SendMessage(context.Background(), domain.Message{Platform: domain.PlatformSlack, Target: "#sec", Body: "hello"})
	if !resp.Success || resp.MessageID == "" {
		t.Fatalf("response %+v", resp)
	}
	rec := audit.last(t)
	if rec.Operation != domain.OperationSendMessage || rec.ExternalID == nil || *rec.ExternalID != resp.MessageID {
		t.Errorf("audit = %+v", rec)
	}
}

func TestAdapterErrorsAreNormalized(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	tests := []struct {
		name string
		sink *fakeTicketSink
		want domain.ErrorKind
	}{
		{"plain error", &fakeTicketSink{err: errors.New("boom")}, domain.ErrorKindInternal},
		{"deadline", &fakeTicketSink{err: ctx.Err()}, domain.ErrorKindTimeout},
		{"panic", &fakeTicketSink{panics: true}, domain.ErrorKindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFacade(tt.sink, nil)
			resp := svc.AddComment(context.Background(), domain.PlatformJira, "SEC-1", "note")
			if resp.Success || resp.ErrorKind != tt.want || resp.ErrorDetail == "" {
				t.Errorf("response %+v", resp)
			}
		})
	}
}

func TestUnconfiguredPlatformIsConfigurationError(t *testing.T) {
	svc := newFacade(&fakeTicketSink{}, nil)
	resp := svc.CreateTicket(context.Background(), domain.Ticket{Title: "x", SeverityScore: 5, Platform: domain.PlatformServiceNow})
	if resp.ErrorKind != domain.ErrorKindConfiguration {
		t.Errorf("response %+v", resp)
	}
	msg := svc.SendMessage(context.Background(), domain.Message{Platform: domain.PlatformTeams, Body: "x"})
	if msg.ErrorKind != domain.ErrorKindConfiguration {
		t.Errorf("message response %+v", msg)
	}
}

func TestGetTicketAndAttachFile(t *testing.T) {
	sink := &fakeTicketSink{}
	svc := newFacade(sink, nil)

	ticket, err := svc.GetTicket(context.Background(), domain.PlatformJira, "SEC-7")
	if err != nil || ticket.ExternalID != "SEC-7" {
		t.Fatalf("GetTicket = %+v, %v", ticket, err)
	}
	if _, err := svc.GetTicket(context.Background(), domain.PlatformJira, " "); err == nil {
		t.Error("expected validation error for blank id")
	}

	resp := svc.AttachFile(context.Background(), domain.PlatformJira, "SEC-7", domain.Attachment{FileName: "", Content: []byte("x")})
	if resp.ErrorKind != domain.ErrorKindValidation {
		t.Errorf("nameless attachment: %+v", resp)
	}
	resp = svc.AttachFile(context.Background(), domain.PlatformJira, "SEC-7", domain.Attachment{FileName: "a.txt", Content: []byte("x")})
	if !resp.Success {
		t.Errorf("attach: %+v", resp)
	}
}

func TestAsyncVariantsComplete(t *testing.T) {
	sink := &fakeTicketSink{}
	svc := newFacade(sink, nil)
	ctx := context.Background()

	created, err := svc.CreateTicketAsync(ctx, domain.Ticket{Title: "x", SeverityScore: 7, Platform: domain.PlatformJira}).Await(ctx)
	if err != nil || !created.Success || created.Priority != domain.PriorityHigh {
		t.Fatalf("create: %+v %v", created, err)
	}
	updated, err := svc.UpdateTicketAsync(ctx, domain.PlatformJira, domain.TicketRef{ExternalID: created.ExternalID, Status: domain.StatusOpen}, domain.StatusInProgress, nil).Await(ctx)
	if err != nil || !updated.Success {
		t.Fatalf("update: %+v %v", updated, err)
	}
	commented, err := svc.AddCommentAsync(ctx, domain.PlatformJira, created.ExternalID, "working on it").Await(ctx)
	if err != nil || !commented.Success {
		t.Fatalf("comment: %+v %v", commented, err)
	}
}
