package attachments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
)

// Repository is the persistence surface of the Manager.
type Repository interface {
	Create(ctx context.Context, a Attachment) (Attachment, error)
	Get(ctx context.Context, id int64) (Attachment, error)
	Attach(ctx context.Context, owner Owner, id int64) error
	Detach(ctx context.Context, owner Owner, id int64) (DetachResult, error)
	OwnedIDs(ctx context.Context, owner Owner, collection string) ([]int64, error)
	List(ctx context.Context, owner Owner, collection string) ([]Attachment, error)
	Owners(ctx context.Context, id int64) ([]Owner, error)
	PurgeOrphan(ctx context.Context, id int64) (*Purge, error)
	Orphans(ctx context.Context, before time.Time, limit int) ([]int64, error)
	PendingPurges(ctx context.Context, limit int) ([]Purge, error)
	CompletePurge(ctx context.Context, id int64) error
	FailPurge(ctx context.Context, id int64, reason string) error
}

// PgRepository implements Repository on PostgreSQL. Every operation that
// reads or changes the owner count of an attachment first locks the
// attachment row, so attach, detach and orphan purges serialize per
// attachment while different attachments proceed in parallel.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

var _ Repository = (*PgRepository)(nil)

var readCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

const attachmentColumns = `a.id, a.path, a.original_filename, a.mime_type, a.size, a.checksum, a.collection, a.metadata, a.created_at`

func scanAttachment(row pgx.Row) (Attachment, error) {
	var a Attachment
	var meta []byte
	if err := row.Scan(&a.ID, &a.Path, &a.OriginalFilename, &a.MimeType, &a.Size, &a.Checksum, &a.Collection, &meta, &a.CreatedAt); err != nil {
		return Attachment{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Metadata); err != nil {
			return Attachment{}, err
		}
	}
	return a, nil
}

// Create inserts the attachment record.
func (r *PgRepository) Create(ctx context.Context, a Attachment) (Attachment, error) {
	meta := a.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return Attachment{}, err
	}
	created, err := scanAttachment(r.pool.QueryRow(ctx, `INSERT INTO attachments AS a (path, original_filename, mime_type, size, checksum, collection, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+attachmentColumns,
		a.Path, a.OriginalFilename, a.MimeType, a.Size, a.Checksum, a.Collection, raw))
	if err != nil {
		return Attachment{}, db.MapError(err)
	}
	return created, nil
}

// Get loads one attachment.
func (r *PgRepository) Get(ctx context.Context, id int64) (Attachment, error) {
	a, err := scanAttachment(r.pool.QueryRow(ctx, `SELECT `+attachmentColumns+` FROM attachments a WHERE a.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Attachment{}, ErrNotFound
		}
		return Attachment{}, err
	}
	return a, nil
}

// Attach links owner to the attachment. A link that already exists is left
// alone. ErrNotFound means the attachment is gone, possibly deleted by a
// concurrent detach of its last owner.
func (r *PgRepository) Attach(ctx context.Context, owner Owner, id int64) error {
	return db.WithTxOptions(ctx, r.pool, readCommitted, func(tx pgx.Tx) error {
		if _, err := lockAttachment(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO attachables (attachment_id, owner_type, owner_id) VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING`, id, owner.Type, owner.ID)
		return db.MapError(err)
	})
}

// Detach removes the link and, when it was the last one, deletes the
// attachment and queues its stored object for purging in the same
// transaction.
func (r *PgRepository) Detach(ctx context.Context, owner Owner, id int64) (DetachResult, error) {
	var res DetachResult
	err := db.WithTxOptions(ctx, r.pool, readCommitted, func(tx pgx.Tx) error {
		res = DetachResult{}
		path, err := lockAttachment(ctx, tx, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM attachables WHERE attachment_id = $1 AND owner_type = $2 AND owner_id = $3`, id, owner.Type, owner.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		res.Removed = true
		purge, err := deleteIfUnowned(ctx, tx, id, path)
		if err != nil {
			return err
		}
		if purge != nil {
			res.Deleted = true
			res.Purge = *purge
		}
		return nil
	})
	if err != nil {
		return DetachResult{}, err
	}
	return res, nil
}

// PurgeOrphan deletes an attachment that has no owners. It returns nil when
// the attachment is owned or already gone.
func (r *PgRepository) PurgeOrphan(ctx context.Context, id int64) (*Purge, error) {
	var purge *Purge
	err := db.WithTxOptions(ctx, r.pool, readCommitted, func(tx pgx.Tx) error {
		purge = nil
		path, err := lockAttachment(ctx, tx, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		purge, err = deleteIfUnowned(ctx, tx, id, path)
		return err
	})
	return purge, err
}

func lockAttachment(ctx context.Context, tx pgx.Tx, id int64) (string, error) {
	var path string
	err := tx.QueryRow(ctx, `SELECT path FROM attachments WHERE id = $1 FOR UPDATE`, id).Scan(&path)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return path, err
}

func deleteIfUnowned(ctx context.Context, tx pgx.Tx, id int64, path string) (*Purge, error) {
	var remaining int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM attachables WHERE attachment_id = $1`, id).Scan(&remaining); err != nil {
		return nil, err
	}
	if remaining > 0 {
		return nil, nil
	}
	if _, err := tx.Exec(ctx, `DELETE FROM attachments WHERE id = $1`, id); err != nil {
		return nil, db.MapError(err)
	}
	purge := &Purge{Path: path}
	if err := tx.QueryRow(ctx, `INSERT INTO attachment_purges (path) VALUES ($1) RETURNING id`, path).Scan(&purge.ID); err != nil {
		return nil, err
	}
	return purge, nil
}

// OwnedIDs lists attachment ids linked to owner in ascending order.
func (r *PgRepository) OwnedIDs(ctx context.Context, owner Owner, collection string) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id FROM attachables j
JOIN attachments a ON a.id = j.attachment_id
WHERE j.owner_type = $1 AND j.owner_id = $2 AND ($3 = '' OR a.collection = $3)
ORDER BY a.id`, owner.Type, owner.ID, collection)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// List returns the attachments linked to owner.
func (r *PgRepository) List(ctx context.Context, owner Owner, collection string) ([]Attachment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+attachmentColumns+` FROM attachables j
JOIN attachments a ON a.id = j.attachment_id
WHERE j.owner_type = $1 AND j.owner_id = $2 AND ($3 = '' OR a.collection = $3)
ORDER BY a.id`, owner.Type, owner.ID, collection)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Attachment, error) {
		return scanAttachment(row)
	})
}

// Owners lists every owner linked to the attachment.
func (r *PgRepository) Owners(ctx context.Context, id int64) ([]Owner, error) {
	rows, err := r.pool.Query(ctx, `SELECT owner_type, owner_id FROM attachables WHERE attachment_id = $1 ORDER BY owner_type, owner_id`, id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Owner])
}

// Orphans lists attachments without owners created before the cutoff.
func (r *PgRepository) Orphans(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id FROM attachments a
WHERE a.created_at < $1
AND NOT EXISTS (SELECT 1 FROM attachables j WHERE j.attachment_id = a.id)
ORDER BY a.id
LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// PendingPurges returns queued purges, oldest first. Deleting a stored
// object twice is harmless, so concurrent workers need no row locks here.
func (r *PgRepository) PendingPurges(ctx context.Context, limit int) ([]Purge, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, path, attempts FROM attachment_purges ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Purge])
}

// CompletePurge removes a processed purge.
func (r *PgRepository) CompletePurge(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM attachment_purges WHERE id = $1`, id)
	return err
}

// FailPurge records a failed attempt.
func (r *PgRepository) FailPurge(ctx context.Context, id int64, reason string) error {
	_, err := r.pool.Exec(ctx, `UPDATE attachment_purges SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, reason)
	return err
}
