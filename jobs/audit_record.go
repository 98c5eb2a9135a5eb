package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
)

// AuditWriter persists audit events; *audit.Recorder satisfies it.
type AuditWriter interface {
	Record(ctx context.Context, e audit.Event) error
}

// AuditRecordJob writes queued audit events to the audit log.
type AuditRecordJob struct {
	Writer AuditWriter
	Logger *slog.Logger
}

// NewAuditRecordJob initialises the audit record handler.
func NewAuditRecordJob(writer AuditWriter, logger *slog.Logger) *AuditRecordJob {
	return &AuditRecordJob{Writer: writer, Logger: logger}
}

// Handle executes one audit:record task. Malformed payloads are dropped
// without retry; storage errors are retried by asynq.
func (j *AuditRecordJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Writer == nil {
		return errors.New("audit record: handler not configured")
	}
	e, err := audit.DecodeRecordTask(t.Payload())
	if err != nil {
		j.logger().Warn("drop malformed audit task", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := j.Writer.Record(ctx, e); err != nil {
		return fmt.Errorf("audit record: %w", err)
	}
	return nil
}

func (j *AuditRecordJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
