package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit receives audit events from the HTTP server.
	QueueAudit = "audit"

	// TaskAuditRecord persists one audit event.
	TaskAuditRecord = audit.TaskRecord
	// TaskAttachmentsPurge retries deletes of stored attachment objects.
	TaskAttachmentsPurge = "attachments:purge"
	// TaskAttachmentsSweep removes attachments that never gained an owner.
	TaskAttachmentsSweep = "attachments:sweep"
)

// PurgePayload bounds one purge run.
type PurgePayload struct {
	Limit int `json:"limit,omitempty"`
}

// SweepPayload bounds one orphan sweep. A zero Grace uses the worker default.
type SweepPayload struct {
	Grace time.Duration `json:"grace,omitempty"`
	Limit int           `json:"limit,omitempty"`
}

// NewPurgeTask constructs an attachments:purge task.
func NewPurgeTask(payload PurgePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAttachmentsPurge, data, asynq.Queue(QueueDefault), asynq.MaxRetry(1), asynq.Unique(4*time.Minute)), nil
}

// NewSweepTask constructs an attachments:sweep task.
func NewSweepTask(payload SweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAttachmentsSweep, data, asynq.Queue(QueueDefault), asynq.MaxRetry(1), asynq.Unique(time.Hour)), nil
}

func decodePayload(t *asynq.Task, target any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload(), target); err != nil {
		return asynq.SkipRetry
	}
	return nil
}
