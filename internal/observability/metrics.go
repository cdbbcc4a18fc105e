package observability

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/integration-service/internal/domain"
)

// Metrics provides basic in-memory counters for the HTTP surface and for
// outbound integration calls.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	callCount    map[string]int64
	callLatency  map[string]time.Duration
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		callCount:    make(map[string]int64),
		callLatency:  make(map[string]time.Duration),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// Record implements AuditHook, counting calls per platform, operation and
// outcome. The outcome is "ok" or the error kind.
func (m *Metrics) Record(_ context.Context, rec domain.AuditRecord) {
	if m == nil {
		return
	}
	outcome := "ok"
	if rec.ErrorKind != nil {
		outcome = string(*rec.ErrorKind)
	}
	key := string(rec.Platform) + "|" + string(rec.Operation) + "|" + outcome
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount[key]++
	m.callLatency[key] += time.Duration(rec.LatencyMS) * time.Millisecond
}

// CallStat is one integration counter.
type CallStat struct {
	Platform     string  `json:"platform"`
	Operation    string  `json:"operation"`
	Outcome      string  `json:"outcome"`
	Count        int64   `json:"count"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Requests map[string]int64 `json:"requests"`
	Errors   map[string]int64 `json:"errors"`
	Calls    []CallStat       `json:"calls"`
}

// Snapshot copies the counters. Calls are sorted by key.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Requests: make(map[string]int64, len(m.requestCount)),
		Errors:   make(map[string]int64, len(m.errorCount)),
	}
	for k, v := range m.requestCount {
		snap.Requests[k] = v
	}
	for k, v := range m.errorCount {
		snap.Errors[k] = v
	}

	keys := make([]string, 0, len(m.callCount))
	for k := range m.callCount {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		platform, operation, outcome := splitKey(k)
		count := m.callCount[k]
		snap.Calls = append(snap.Calls, CallStat{
			Platform:     platform,
			Operation:    operation,
			Outcome:      outcome,
			Count:        count,
			AvgLatencyMS: float64(m.callLatency[k].Milliseconds()) / float64(count),
		})
	}
	return snap
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}

func splitKey(key string) (string, string, string) {
	parts := strings.SplitN(key, "|", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return parts[0], parts[1], parts[2]
}
