package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ipflow/relay/id"
)

// Recorder builds entries and hands them to a Sink. Sink errors and panics
// are logged and dropped. A nil Recorder is a no-op.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder returns a Recorder for sink. A nil sink yields a no-op recorder.
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, logger: logger, now: time.Now}
}

// WithClock returns a copy of r using now as its time source.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	if r == nil {
		return nil
	}
	cp := *r
	cp.now = now
	return &cp
}

// Record emits an entry. It never fails.
func (r *Recorder) Record(ctx context.Context, tenantID string, action Action, actorID, resourceID string, metadata map[string]string) {
	if r == nil || r.sink == nil {
		return
	}

	e := &Entry{
		ID:         id.NewAuditID(),
		TenantID:   tenantID,
		Action:     action,
		ActorID:    actorID,
		ResourceID: resourceID,
		Metadata:   metadata,
		CreatedAt:  r.now().UTC(),
	}

	// The audited operation may finish and cancel its context before a slow
	// sink does.
	ctx = context.WithoutCancel(ctx)

	if err := r.safeRecord(ctx, e); err != nil {
		r.logger.WarnContext(ctx, "audit sink failed",
			"action", string(action),
			"tenant_id", tenantID,
			"resource_id", resourceID,
			"error", err,
		)
	}
}

func (r *Recorder) safeRecord(ctx context.Context, e *Entry) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("audit: sink panic: %v", rec)
		}
	}()
	return r.sink.Record(ctx, e)
}
