package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TaskRecord adalah tipe task asynq untuk menyimpan event audit.
const TaskRecord = "audit:record"

// Sink menerima event audit. Emit bersifat fire-and-forget: kegagalan
// dicatat di log, tidak dikembalikan ke pemanggil.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Discard membuang semua event.
type Discard struct{}

// Emit implements Sink.
func (Discard) Emit(context.Context, Event) {}

// Recorder menulis event ke tabel audit_logs.
type Recorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRecorder membuat Recorder baru.
func NewRecorder(pool *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{pool: pool, logger: logger}
}

// Emit implements Sink.
func (r *Recorder) Emit(ctx context.Context, e Event) {
	if err := r.Record(ctx, e); err != nil {
		r.logger.Error("audit record", slog.String("action", string(e.Action)), slog.String("entity", e.Entity), slog.Any("error", err))
	}
}

// Record menyimpan satu event dan mengembalikan error. Event dengan ID yang
// sudah tersimpan diabaikan, sehingga retry task tidak menggandakan baris.
func (r *Recorder) Record(ctx context.Context, e Event) error {
	if r == nil || r.pool == nil {
		return errors.New("audit: recorder not initialised")
	}
	e = e.withID()
	if err := e.validate(); err != nil {
		return err
	}
	meta, err := json.Marshal(e.storedMeta())
	if err != nil {
		return err
	}
	var actor, impersonator *int64
	if e.ActorID > 0 {
		actor = &e.ActorID
	}
	if e.ImpersonatorID > 0 {
		impersonator = &e.ImpersonatorID
	}
	tag, err := r.pool.Exec(ctx, `INSERT INTO audit_logs (event_id, actor_id, impersonator_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))
ON CONFLICT (event_id) DO NOTHING`,
		e.ID, actor, impersonator, string(e.Action), e.Entity, e.EntityID, meta, nullTime(e))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		r.logger.Debug("audit event already recorded", slog.String("event_id", e.ID))
	}
	return nil
}

// QueueSink mengirim event ke worker lewat asynq. Bila enqueue gagal, event
// diteruskan ke fallback.
type QueueSink struct {
	client   *asynq.Client
	fallback Sink
	logger   *slog.Logger
}

// NewQueueSink membuat QueueSink. fallback boleh nil.
func NewQueueSink(client *asynq.Client, fallback Sink, logger *slog.Logger) *QueueSink {
	if logger == nil {
		logger = slog.Default()
	}
	if fallback == nil {
		fallback = Discard{}
	}
	return &QueueSink{client: client, fallback: fallback, logger: logger}
}

// Emit implements Sink.
func (q *QueueSink) Emit(ctx context.Context, e Event) {
	e = e.withID()
	task, err := NewRecordTask(e)
	if err == nil {
		_, err = q.client.EnqueueContext(ctx, task, asynq.Queue("audit"), asynq.MaxRetry(5), asynq.TaskID(e.ID))
	}
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return
	}
	if err != nil {
		q.logger.Warn("audit enqueue failed, using fallback", slog.String("action", string(e.Action)), slog.Any("error", err))
		q.fallback.Emit(ctx, e)
	}
}

// NewRecordTask membungkus event menjadi task asynq. Event tanpa ID diberi ID
// baru agar setiap percobaan ulang menulis baris yang sama.
func NewRecordTask(e Event) (*asynq.Task, error) {
	e = e.withID()
	if err := e.validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecord, payload), nil
}

// DecodeRecordTask membaca event dari payload task.
func DecodeRecordTask(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, fmt.Errorf("audit: decode task: %w", err)
	}
	return e, e.validate()
}

// LogSink menulis event ke log terstruktur.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (l LogSink) Emit(_ context.Context, e Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("audit event",
		slog.String("action", string(e.Action)),
		slog.String("entity", e.Entity),
		slog.String("entity_id", e.EntityID),
		slog.Int64("actor_id", e.ActorID),
		slog.Int64("impersonator_id", e.ImpersonatorID),
	)
}

func (e Event) validate() error {
	if e.Action == "" || e.Entity == "" || e.EntityID == "" {
		return errors.New("audit: event requires action/entity/entity_id")
	}
	if _, err := uuid.Parse(e.ID); e.ID != "" && err != nil {
		return fmt.Errorf("audit: invalid event id %q", e.ID)
	}
	return nil
}

func (e Event) withID() Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return e
}

func (e Event) storedMeta() map[string]any {
	meta := make(map[string]any, len(e.Meta)+3)
	for k, v := range e.Meta {
		meta[k] = v
	}
	if e.Before != nil {
		meta["before"] = e.Before
	}
	if e.After != nil {
		meta["after"] = e.After
	}
	if e.Before != nil || e.After != nil {
		meta["changes"] = Diff(e.Before, e.After)
	}
	return meta
}

func nullTime(e Event) any {
	if e.At.IsZero() {
		return nil
	}
	return e.At
}
