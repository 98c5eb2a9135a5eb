package attachments

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/blob"
)

// DefaultMaxBytes caps uploads when Config.MaxBytes is unset.
const DefaultMaxBytes int64 = 10 << 20

// Observer receives attachment metrics.
type Observer interface {
	AttachmentOp(op, result string)
	PurgeResult(result string)
}

type nopObserver struct{}

func (nopObserver) AttachmentOp(string, string) {}
func (nopObserver) PurgeResult(string)          {}

// Config tunes the Manager.
type Config struct {
	MaxBytes int64
	Allowed  []string
}

// Manager owns the attachment lifecycle: upload, attach, reference counted
// detach and the deferred removal of stored objects.
type Manager struct {
	repo     Repository
	store    blob.Store
	sniffer  Sniffer
	allow    AllowList
	maxBytes int64
	sink     audit.Sink
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Manager.
type Option func(*Manager)

// WithSniffer replaces the content sniffer.
func WithSniffer(s Sniffer) Option {
	return func(m *Manager) { m.sniffer = s }
}

// WithObserver installs a metrics observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithSink installs the audit sink.
func WithSink(s audit.Sink) Option {
	return func(m *Manager) {
		if s != nil {
			m.sink = s
		}
	}
}

// WithClock overrides time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager wires a Manager.
func NewManager(repo Repository, store blob.Store, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	m := &Manager{
		repo:     repo,
		store:    store,
		sniffer:  MimetypeSniffer{},
		allow:    NewAllowList(cfg.Allowed),
		maxBytes: maxBytes,
		sink:     audit.Discard{},
		observer: nopObserver{},
		logger:   logger.With(slog.String("component", "attachments")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxBytes returns the upload size limit.
func (m *Manager) MaxBytes() int64 {
	return m.maxBytes
}

// Upload stores the content and creates its record. The stored type is
// always the sniffed one.
func (m *Manager) Upload(ctx context.Context, in UploadInput) (a Attachment, err error) {
	defer func() { m.observer.AttachmentOp("upload", result(err)) }()

	if in.Reader == nil {
		return Attachment{}, ErrEmptyUpload
	}
	collection, err := normalizeCollection(in.Collection)
	if err != nil {
		return Attachment{}, err
	}
	data, err := io.ReadAll(io.LimitReader(in.Reader, m.maxBytes+1))
	if err != nil {
		return Attachment{}, fmt.Errorf("attachments: read upload: %w", err)
	}
	if len(data) == 0 {
		return Attachment{}, ErrEmptyUpload
	}
	if int64(len(data)) > m.maxBytes {
		return Attachment{}, ErrTooLarge
	}

	mimeType, ext := m.sniffer.Sniff(data)
	if !m.allow.Allows(mimeType) {
		return Attachment{}, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mimeType)
	}

	sum := blake3.Sum256(data)
	now := m.now().UTC()
	key := fmt.Sprintf("%s/%04d/%02d/%s%s", collection, now.Year(), int(now.Month()), uuid.NewString(), ext)
	path, err := m.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mimeType)
	if err != nil {
		return Attachment{}, err
	}

	meta := make(map[string]any, len(in.Metadata)+1)
	for k, v := range in.Metadata {
		meta[k] = v
	}
	if declared := baseType(in.DeclaredType); declared != "" {
		meta["declared_type"] = declared
	}

	a, err = m.repo.Create(ctx, Attachment{
		Path:             path,
		OriginalFilename: cleanFilename(in.Filename),
		MimeType:         mimeType,
		Size:             int64(len(data)),
		Checksum:         hex.EncodeToString(sum[:]),
		Collection:       collection,
		Metadata:         meta,
	})
	if err != nil {
		if delErr := m.store.Delete(context.WithoutCancel(ctx), path); delErr != nil {
			m.logger.Warn("remove blob after failed insert", slog.String("path", path), slog.Any("error", delErr))
		}
		return Attachment{}, fmt.Errorf("attachments: create record: %w", err)
	}

	m.sink.Emit(ctx, audit.NewEvent(ctx, audit.ActionCreated, "attachments", idString(a.ID)).
		WithChange(nil, snapshot(a)))
	return a, nil
}

// UploadFor uploads and links the result to owner. When the link fails the
// fresh upload is removed again.
func (m *Manager) UploadFor(ctx context.Context, owner Owner, in UploadInput) (Attachment, error) {
	if err := owner.Validate(); err != nil {
		return Attachment{}, err
	}
	a, err := m.Upload(ctx, in)
	if err != nil {
		return Attachment{}, err
	}
	if err := m.Attach(ctx, owner, a.ID); err != nil {
		if purge, perr := m.repo.PurgeOrphan(context.WithoutCancel(ctx), a.ID); perr == nil && purge != nil {
			_ = m.purge(context.WithoutCancel(ctx), *purge)
		}
		return Attachment{}, err
	}
	return a, nil
}

// Attach links owner to the attachment. Linking an existing pair is a no-op.
func (m *Manager) Attach(ctx context.Context, owner Owner, id int64) (err error) {
	defer func() { m.observer.AttachmentOp("attach", result(err)) }()
	if err := owner.Validate(); err != nil {
		return err
	}
	if err := m.repo.Attach(ctx, owner, id); err != nil {
		return err
	}
	m.sink.Emit(ctx, audit.NewEvent(ctx, audit.ActionAttached, "attachments", idString(id)).
		WithMeta("owner", owner.String()))
	return nil
}

// Detach unlinks owner and reports whether a link was removed. When no
// owner remains the record is deleted and the stored object removed; a
// storage failure returns ErrStorage and leaves the purge queued for retry.
func (m *Manager) Detach(ctx context.Context, owner Owner, id int64) (removed bool, err error) {
	defer func() { m.observer.AttachmentOp("detach", result(err)) }()
	if err := owner.Validate(); err != nil {
		return false, err
	}
	res, err := m.repo.Detach(ctx, owner, id)
	if err != nil {
		return false, err
	}
	if !res.Removed {
		return false, nil
	}
	m.sink.Emit(ctx, audit.NewEvent(ctx, audit.ActionDetached, "attachments", idString(id)).
		WithMeta("owner", owner.String()))
	if !res.Deleted {
		return true, nil
	}
	m.sink.Emit(ctx, audit.NewEvent(ctx, audit.ActionDeleted, "attachments", idString(id)).
		WithMeta("path", res.Purge.Path))
	if err := m.purge(ctx, res.Purge); err != nil {
		return true, err
	}
	return true, nil
}

// DetachAll detaches every attachment of owner, optionally limited to one
// collection, in ascending id order. It returns the number of links removed.
func (m *Manager) DetachAll(ctx context.Context, owner Owner, collection string) (int, error) {
	if err := owner.Validate(); err != nil {
		return 0, err
	}
	if collection != "" {
		c, err := normalizeCollection(collection)
		if err != nil {
			return 0, err
		}
		collection = c
	}
	ids, err := m.repo.OwnedIDs(ctx, owner, collection)
	if err != nil {
		return 0, err
	}
	count := 0
	var errs []error
	for _, id := range ids {
		removed, err := m.Detach(ctx, owner, id)
		if removed {
			count++
		}
		if err != nil {
			if !errors.Is(err, ErrStorage) {
				return count, err
			}
			errs = append(errs, err)
		}
	}
	return count, errors.Join(errs...)
}

// List returns the attachments of owner.
func (m *Manager) List(ctx context.Context, owner Owner, collection string) ([]Attachment, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if collection != "" {
		c, err := normalizeCollection(collection)
		if err != nil {
			return nil, err
		}
		collection = c
	}
	return m.repo.List(ctx, owner, collection)
}

// Get loads one attachment.
func (m *Manager) Get(ctx context.Context, id int64) (Attachment, error) {
	return m.repo.Get(ctx, id)
}

// Owners lists the owners linked to the attachment.
func (m *Manager) Owners(ctx context.Context, id int64) ([]Owner, error) {
	if _, err := m.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return m.repo.Owners(ctx, id)
}

// Open streams the stored content of an attachment.
func (m *Manager) Open(ctx context.Context, id int64) (Attachment, io.ReadCloser, error) {
	a, err := m.repo.Get(ctx, id)
	if err != nil {
		return Attachment{}, nil, err
	}
	rc, err := m.store.Open(ctx, a.Path)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return Attachment{}, nil, ErrNotFound
		}
		return Attachment{}, nil, err
	}
	return a, rc, nil
}

// ProcessPurges retries queued object removals and returns how many
// completed.
func (m *Manager) ProcessPurges(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	pending, err := m.repo.PendingPurges(ctx, limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := m.purge(ctx, p); err != nil {
			continue
		}
		done++
	}
	return done, nil
}

// SweepOrphans deletes attachments that were never linked, or lost their
// links outside Detach, and are older than grace.
func (m *Manager) SweepOrphans(ctx context.Context, grace time.Duration, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	ids, err := m.repo.Orphans(ctx, m.now().Add(-grace), limit)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, id := range ids {
		purge, err := m.repo.PurgeOrphan(ctx, id)
		if err != nil {
			return swept, err
		}
		if purge == nil {
			continue
		}
		swept++
		m.sink.Emit(ctx, audit.NewEvent(ctx, audit.ActionDeleted, "attachments", idString(id)).
			WithMeta("reason", "orphan"))
		_ = m.purge(ctx, *purge)
	}
	return swept, nil
}

func (m *Manager) purge(ctx context.Context, p Purge) error {
	if err := m.store.Delete(ctx, p.Path); err != nil {
		m.observer.PurgeResult("error")
		m.logger.Warn("delete stored object", slog.Int64("purge_id", p.ID), slog.String("path", p.Path), slog.Any("error", err))
		if ferr := m.repo.FailPurge(context.WithoutCancel(ctx), p.ID, err.Error()); ferr != nil {
			m.logger.Error("record purge failure", slog.Int64("purge_id", p.ID), slog.Any("error", ferr))
		}
		if !errors.Is(err, ErrStorage) {
			err = fmt.Errorf("%w: %v", ErrStorage, err)
		}
		return err
	}
	m.observer.PurgeResult("ok")
	if err := m.repo.CompletePurge(context.WithoutCancel(ctx), p.ID); err != nil {
		m.logger.Warn("clear purge", slog.Int64("purge_id", p.ID), slog.Any("error", err))
	}
	return nil
}

func snapshot(a Attachment) map[string]any {
	return map[string]any{
		"path":       a.Path,
		"filename":   a.OriginalFilename,
		"mime_type":  a.MimeType,
		"size":       a.Size,
		"checksum":   a.Checksum,
		"collection": a.Collection,
	}
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
