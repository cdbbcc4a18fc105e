package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/integration-service/internal/domain"
)

// AuditHook receives one record per facade call. Implementations must not
// block for long and must not fail the call they observe.
type AuditHook interface {
	Record(ctx context.Context, rec domain.AuditRecord)
}

// AuditHookFunc adapts a function to AuditHook.
type AuditHookFunc func(ctx context.Context, rec domain.AuditRecord)

// Record calls f.
func (f AuditHookFunc) Record(ctx context.Context, rec domain.AuditRecord) {
	f(ctx, rec)
}

// MultiAuditHook fans a record out to every hook in order.
type MultiAuditHook []AuditHook

// Record forwards rec to each non-nil hook.
func (m MultiAuditHook) Record(ctx context.Context, rec domain.AuditRecord) {
	for _, hook := range m {
		if hook != nil {
			hook.Record(ctx, rec)
		}
	}
}

// ZapAuditHook writes records as structured log lines.
type ZapAuditHook struct {
	logger *zap.Logger
}

// NewZapAuditHook builds a hook logging to logger.
func NewZapAuditHook(logger *zap.Logger) *ZapAuditHook {
	return &ZapAuditHook{logger: logger}
}

// Record logs rec at info level, or warn when the call failed.
func (h *ZapAuditHook) Record(_ context.Context, rec domain.AuditRecord) {
	fields := []zap.Field{
		zap.String("audit_id", rec.ID),
		zap.String("platform", string(rec.Platform)),
		zap.String("operation", string(rec.Operation)),
		zap.String("idempotency_key", rec.IdempotencyKey),
		zap.Bool("success", rec.Success),
		zap.Int64("latency_ms", rec.LatencyMS),
		zap.Time("timestamp", rec.Timestamp),
	}
	if rec.ExternalID != nil {
		fields = append(fields, zap.String("external_id", *rec.ExternalID))
	}
	if rec.ErrorKind != nil {
		fields = append(fields, zap.String("error_kind", string(*rec.ErrorKind)))
	}
	if rec.Success {
		h.logger.Info("integration call", fields...)
		return
	}
	h.logger.Warn("integration call failed", fields...)
}

// AuditWriter persists audit records.
type AuditWriter interface {
	Insert(ctx context.Context, rec domain.AuditRecord) error
}

// StoreAuditHook persists records through an AuditWriter on a background
// goroutine. Record only enqueues; when the buffer is full the record is
// dropped with a warning. Each write is bounded by timeout and failures are
// logged and dropped.
type StoreAuditHook struct {
	writer  AuditWriter
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	records chan domain.AuditRecord
	done    chan struct{}
}

// NewStoreAuditHook builds a persisting hook and starts its writer. Call
// Close to flush pending records.
func NewStoreAuditHook(writer AuditWriter, logger *zap.Logger) *StoreAuditHook {
	return newStoreAuditHook(writer, logger, 1024)
}

func newStoreAuditHook(writer AuditWriter, logger *zap.Logger, buffer int) *StoreAuditHook {
	h := &StoreAuditHook{
		writer:  writer,
		logger:  logger,
		timeout: 5 * time.Second,
		records: make(chan domain.AuditRecord, buffer),
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

// Record enqueues rec without waiting for the database.
func (h *StoreAuditHook) Record(_ context.Context, rec domain.AuditRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.logger.Warn("audit store closed, dropping record", zap.String("audit_id", rec.ID))
		return
	}
	select {
	case h.records <- rec:
	default:
		h.logger.Warn("audit buffer full, dropping record", zap.String("audit_id", rec.ID))
	}
}

// Close stops accepting records and waits for queued ones to be written or
// for ctx to end.
func (h *StoreAuditHook) Close(ctx context.Context) error {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.records)
	}
	h.mu.Unlock()

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flushing audit records: %w", ctx.Err())
	}
}

func (h *StoreAuditHook) run() {
	defer close(h.done)
	for rec := range h.records {
		h.write(rec)
	}
}

func (h *StoreAuditHook) write(rec domain.AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.writer.Insert(ctx, rec); err != nil {
		h.logger.Warn("persisting audit record failed", zap.String("audit_id", rec.ID), zap.Error(err))
	}
}
