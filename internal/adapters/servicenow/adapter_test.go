package servicenow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/integration-service/internal/config"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/transport"
	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

// fakeInstance is an in-memory incident table.
type fakeInstance struct {
	mu       sync.Mutex
	records  map[string]map[string]any
	keys     []string
	uploads  []string
	creates  int
	lastBody map[string]any
}

func newFakeInstance() *fakeInstance {
	return &fakeInstance{records: map[string]map[string]any{}}
}

func (f *fakeInstance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, r.Header.Get(IdempotencyHeader))

	if r.URL.Path == "/api/now/attachment/file" {
		body, _ := io.ReadAll(r.Body)
		f.uploads = append(f.uploads, fmt.Sprintf("%s:%s:%d", r.URL.Query().Get("table_sys_id"), r.URL.Query().Get("file_name"), len(body)))
		writeJSON(w, http.StatusCreated, map[string]any{"result": map[string]any{"sys_id": "att-1"}})
		return
	}

	rest, ok := strings.CutPrefix(r.URL.Path, "/api/now/table/incident")
	if !ok {
		http.NotFound(w, r)
		return
	}
	sysID := strings.TrimPrefix(rest, "/")

	switch r.Method {
	case http.MethodPost:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.creates++
		id := fmt.Sprintf("sys%d", f.creates)
		body["sys_id"] = id
		body["number"] = fmt.Sprintf("INC%07d", f.creates)
		body["reopen_count"] = "0"
		body["sys_created_on"] = "2026-03-01 10:00:00"
		f.records[id] = body
		f.lastBody = body
		writeJSON(w, http.StatusCreated, map[string]any{"result": body})
	case http.MethodPatch:
		record, ok := f.records[sysID]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error":  map[string]any{"message": "No Record found", "detail": "Record doesn't exist"},
				"status": "failure",
			})
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastBody = body
		if record["state"] == stateResolved && body["state"] == stateNew {
			record["reopen_count"] = "1"
		}
		for k, v := range body {
			record[k] = v
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": record})
	case http.MethodGet:
		record, ok := f.records[sysID]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": record})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestAdapter(t *testing.T, url string, cfg config.ServiceNowConfig) *Adapter {
	t.Helper()
	cfg.InstanceURL = url
	cfg.Username = "integration"
	cfg.Password = "secret"
	client := transport.NewClient(transport.Options{
		Policy:  transport.DefaultPolicy(),
		Dedup:   transport.NewDeduplicator(transport.NewMemoryStore(), time.Minute),
		Sleeper: func(context.Context, time.Duration) error { return nil },
	})
	adapter, err := NewAdapter(cfg, client)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return adapter
}

func TestCreateTicketRoundTrip(t *testing.T) {
	fake := newFakeInstance()
	server := httptest.NewServer(fake)
	defer server.Close()
	adapter := newTestAdapter(t, server.URL, config.ServiceNowConfig{AssignmentGroup: "secops"})

	for _, priority := range domain.Priorities {
		ticket := domain.Ticket{
			FindingID:    "F-" + string(priority),
			Title:        "Exposed admin panel",
			Description:  "Admin console reachable from the internet",
			Priority:     priority,
			CustomFields: map[string]any{"u_cve": "CVE-2026-1234"},
		}
		resp, err := adapter.CreateTicket(context.Background(), ticket)
		if err != nil {
			t.Fatalf("CreateTicket(%s): %v", priority, err)
		}
		if !strings.Contains(resp.ExternalURL, resp.ExternalID) {
			t.Errorf("ExternalURL %q does not reference %q", resp.ExternalURL, resp.ExternalID)
		}

		got, err := adapter.GetTicket(context.Background(), resp.ExternalID)
		if err != nil {
			t.Fatalf("GetTicket: %v", err)
		}
		if got.Priority != priority {
			t.Errorf("priority round trip: got %s, want %s", got.Priority, priority)
		}
		if got.Status != domain.StatusOpen {
			t.Errorf("status = %s, want OPEN", got.Status)
		}
		if got.Title != ticket.Title || got.Description != ticket.Description || got.FindingID != ticket.FindingID {
			t.Errorf("unexpected ticket %+v", got)
		}
	}

	if fake.lastBody["assignment_group"] != "secops" || fake.lastBody["u_cve"] != "CVE-2026-1234" {
		t.Errorf("record body = %v", fake.lastBody)
	}
}

func TestCreateTicketMapsPriorityCode(t *testing.T) {
	fake := newFakeInstance()
	server := httptest.NewServer(fake)
	defer server.Close()
	adapter := newTestAdapter(t, server.URL, config.ServiceNowConfig{})

	if _, err := adapter.CreateTicket(context.Background(), domain.Ticket{Title: "x", Priority: domain.PriorityCritical}); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if fake.lastBody["priority"] != "1" || fake.lastBody["urgency"] != "1" || fake.lastBody["state"] != stateNew {
		t.Errorf("record body = %v", fake.lastBody)
	}
}

func TestCreateTicketSendsIdempotencyHeader(t *testing.T) {
	fake := newFakeInstance()
	server := httptest.NewServer(fake)
	defer server.Close()
	adapter := newTestAdapter(t, server.URL, config.ServiceNowConfig{})

	ctx := transport.WithIdempotencyKey(context.Background(), "key-123")
	if _, err := adapter.CreateTicket(ctx, domain.Ticket{Title: "x", Priority: domain.PriorityLow}); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if len(fake.keys) != 1 || fake.keys[0] != "key-123" {
		t.Errorf("idempotency headers = %v", fake.keys)
	}
}

func TestUpdateTicketLifecycle(t *testing.T) {
	fake := newFakeInstance()
	server := httptest.NewServer(fake)
	defer server.Close()
	adapter := newTestAdapter(t, server.URL, config.ServiceNowConfig{})
	ctx := context.Background()

	created, err := adapter.CreateTicket(ctx, domain.Ticket{Title: "x", Priority: domain.PriorityHigh})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	// A new-state record with a reopen history reads back as REOPENED.
	steps := []struct{ status, want domain.Status }{
		{domain.StatusInProgress, domain.StatusInProgress},
		{domain.StatusResolved, domain.StatusResolved},
		{domain.StatusReopened, domain.StatusReopened},
		{domain.StatusOpen, domain.StatusReopened},
		{domain.StatusInProgress, domain.StatusInProgress},
		{domain.StatusResolved, domain.StatusResolved},
		{domain.StatusClosed, domain.StatusClosed},
	}
	for _, step := range steps {
		status := step.status
		if _, err := adapter.UpdateTicket(ctx, created.ExternalID, status, nil); err != nil {
			t.Fatalf("UpdateTicket(%s): %v", status, err)
		}
		if status == domain.StatusResolved && fake.lastBody["close_code"] != defaultCloseCode {
			t.Errorf("resolve body = %v", fake.lastBody)
		}
		got, err := adapter.GetTicket(ctx, created.ExternalID)
		if err != nil {
			t.Fatalf("GetTicket: %v", err)
		}
		if got.Status != step.want {
			t.Errorf("after %s: status = %s, want %s", status, got.Status, step.want)
		}
	}
}

func TestUpdateTicketMissingRecordIsPermanent(t *testing.T) {
	server := httptest.NewServer(newFakeInstance())
	defer server.Close()
	adapter := newTestAdapter(t, server.URL, config.ServiceNowConfig{})

	_, err := adapter.UpdateTicket(context.Background(), "nope", domain.StatusInProgress, nil)
	if !apperrors.IsKind(err, domain.ErrorKindPermanentRejection) {
		t.Fatalf("expected permanent rejection, got %v", err)
	}
	if !strings.Contains(err.Error(), "No Record found") {
		t.Errorf("error lacks servicenow detail: %v", err)
	}
}

func TestAttachFileAndComment(t *testing.T) {
	fake := newFakeInstance()
	server := httptest.NewServer(fake)
	defer server.Close()
	adapter := newTestAdapter(t, server.URL, config.ServiceNowConfig{})
	ctx := context.Background()

	created, err := adapter.CreateTicket(ctx, domain.Ticket{Title: "x", Priority: domain.PriorityLow})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if _, err := adapter.AttachFile(ctx, created.ExternalID, domain.Attachment{FileName: "scan.txt", MimeType: "text/plain", Content: []byte("hello")}); err != nil {
		t.Fatalf("AttachFile: %v", err)
	}
	if len(fake.uploads) != 1 || fake.uploads[0] != created.ExternalID+":scan.txt:5" {
		t.Errorf("uploads = %v", fake.uploads)
	}
	if _, err := adapter.AddComment(ctx, created.ExternalID, "patched in 1.2.3"); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if fake.lastBody["comments"] != "patched in 1.2.3" {
		t.Errorf("comment body = %v", fake.lastBody)
	}
}

func TestParseRecordCanceledIsClosed(t *testing.T) {
	adapter := newTestAdapter(t, "http://unused", config.ServiceNowConfig{})
	ticket, err := adapter.ParseRecord(map[string]any{"sys_id": "a", "state": stateCanceled})
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	if ticket.Status != domain.StatusClosed {
		t.Errorf("status = %s, want CLOSED", ticket.Status)
	}
}

func TestParseRecordUnmappableState(t *testing.T) {
	adapter := newTestAdapter(t, "http://unused", config.ServiceNowConfig{})
	_, err := adapter.ParseRecord(map[string]any{"sys_id": "a", "state": "99"})
	if !apperrors.IsKind(err, domain.ErrorKindUnmappableStatus) {
		t.Fatalf("expected unmappable status, got %v", err)
	}
}

func TestParseRecordDisplayValues(t *testing.T) {
	adapter := newTestAdapter(t, "http://unused", config.ServiceNowConfig{})
	ticket, err := adapter.ParseRecord(map[string]any{
		"sys_id":   "a",
		"state":    map[string]any{"value": "3", "display_value": "On Hold"},
		"priority": map[string]any{"value": "2", "display_value": "2 - High"},
	})
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	if ticket.Status != domain.StatusInProgress || ticket.Priority != domain.PriorityHigh {
		t.Errorf("ticket = %+v", ticket)
	}
}
