package audit

import (
	"context"
	"errors"
	"log/slog"
)

// StoreSink writes entries to a Store.
type StoreSink struct {
	store Store
}

// NewStoreSink returns a Sink persisting to store.
func NewStoreSink(store Store) *StoreSink {
	return &StoreSink{store: store}
}

// Record implements Sink.
func (s *StoreSink) Record(ctx context.Context, e *Entry) error {
	return s.store.CreateAuditEntry(ctx, e)
}

// LogSink writes entries as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a Sink logging at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Record implements Sink.
func (s *LogSink) Record(ctx context.Context, e *Entry) error {
	s.logger.InfoContext(ctx, "audit",
		"action", string(e.Action),
		"tenant_id", e.TenantID,
		"actor_id", e.ActorID,
		"resource_id", e.ResourceID,
	)
	return nil
}

// MultiSink fans an entry out to every sink and joins their errors.
type MultiSink []Sink

// Record implements Sink.
func (m MultiSink) Record(ctx context.Context, e *Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
