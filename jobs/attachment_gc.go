package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// PurgeCron retries pending object deletes.
	PurgeCron = "*/5 * * * *"
	// SweepCron removes orphaned uploads once a day.
	SweepCron = "0 3 * * *"

	defaultPurgeLimit = 200
	defaultSweepLimit = 500
)

// AttachmentCollector is the part of the attachment manager used by the
// maintenance jobs.
type AttachmentCollector interface {
	ProcessPurges(ctx context.Context, limit int) (int, error)
	SweepOrphans(ctx context.Context, grace time.Duration, limit int) (int, error)
}

// AttachmentGCJob retries stored-object deletes and sweeps orphaned uploads.
type AttachmentGCJob struct {
	Collector AttachmentCollector
	Grace     time.Duration
	Logger    *slog.Logger
}

// NewAttachmentGCJob initialises the attachment maintenance handlers.
func NewAttachmentGCJob(collector AttachmentCollector, grace time.Duration, logger *slog.Logger) *AttachmentGCJob {
	if grace <= 0 {
		grace = 24 * time.Hour
	}
	return &AttachmentGCJob{Collector: collector, Grace: grace, Logger: logger}
}

// HandlePurge processes attachments:purge tasks.
func (j *AttachmentGCJob) HandlePurge(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Collector == nil {
		return errors.New("attachment purge: handler not configured")
	}
	var payload PurgePayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultPurgeLimit
	}
	done, err := j.Collector.ProcessPurges(ctx, payload.Limit)
	if err != nil {
		j.logger().Error("attachment purge failed", slog.Any("error", err))
		return err
	}
	if done > 0 {
		j.logger().Info("attachment objects purged", slog.Int("count", done))
	}
	return nil
}

// HandleSweep processes attachments:sweep tasks.
func (j *AttachmentGCJob) HandleSweep(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Collector == nil {
		return errors.New("attachment sweep: handler not configured")
	}
	var payload SweepPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	if payload.Grace <= 0 {
		payload.Grace = j.Grace
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultSweepLimit
	}
	swept, err := j.Collector.SweepOrphans(ctx, payload.Grace, payload.Limit)
	if err != nil {
		j.logger().Error("orphan sweep failed", slog.Any("error", err))
		return err
	}
	j.logger().Info("orphan sweep finished", slog.Int("deleted", swept), slog.Duration("grace", payload.Grace))
	return nil
}

// Handlers returns the task handlers of the job.
func (j *AttachmentGCJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskAttachmentsPurge, Handler: j.HandlePurge},
		{Type: TaskAttachmentsSweep, Handler: j.HandleSweep},
	}
}

// AttachmentCron schedules the purge retry and the nightly orphan sweep.
func AttachmentCron() ([]CronRegistration, error) {
	purge, err := NewPurgeTask(PurgePayload{})
	if err != nil {
		return nil, err
	}
	sweep, err := NewSweepTask(SweepPayload{})
	if err != nil {
		return nil, err
	}
	return []CronRegistration{
		{Spec: PurgeCron, Task: purge},
		{Spec: SweepCron, Task: sweep},
	}, nil
}

func (j *AttachmentGCJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
