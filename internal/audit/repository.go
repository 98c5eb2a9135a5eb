package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository menyediakan akses data yang dibutuhkan service.
type Repository interface {
	TimelineWindow(ctx context.Context, q WindowQuery) ([]TimelineRow, error)
	TimelineAll(ctx context.Context, f TimelineFilters) ([]TimelineRow, error)
}

// PgRepository membaca audit_logs dari PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository membuat repository audit.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const timelineSelect = `SELECT a.id, a.occurred_at, COALESCE(a.actor_id, 0), COALESCE(u.email, ''),
COALESCE(a.impersonator_id, 0), a.action, a.entity, a.entity_id, a.meta
FROM audit_logs a
LEFT JOIN users u ON u.id = a.actor_id`

// TimelineWindow mengambil satu halaman timeline.
func (r *PgRepository) TimelineWindow(ctx context.Context, q WindowQuery) ([]TimelineRow, error) {
	where, args := timelineWhere(q.Filters)
	args = append(args, q.Limit, q.Offset)
	sql := fmt.Sprintf("%s%s ORDER BY a.occurred_at DESC, a.id DESC LIMIT $%d OFFSET $%d", timelineSelect, where, len(args)-1, len(args))
	return r.query(ctx, sql, args...)
}

// TimelineAll mengambil seluruh baris tanpa paging.
func (r *PgRepository) TimelineAll(ctx context.Context, f TimelineFilters) ([]TimelineRow, error) {
	where, args := timelineWhere(f)
	return r.query(ctx, timelineSelect+where+" ORDER BY a.occurred_at DESC, a.id DESC", args...)
}

func (r *PgRepository) query(ctx context.Context, sql string, args ...any) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var tr TimelineRow
		var meta []byte
		if err := row.Scan(&tr.ID, &tr.At, &tr.ActorID, &tr.Actor, &tr.ImpersonatorID, &tr.Action, &tr.Entity, &tr.EntityID, &meta); err != nil {
			return TimelineRow{}, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &tr.Meta); err != nil {
				return TimelineRow{}, err
			}
		}
		return tr, nil
	})
}

func timelineWhere(f TimelineFilters) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if !f.From.IsZero() {
		add("a.occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		// To is a date; include the whole day.
		add("a.occurred_at < $%d", f.To.Add(24*time.Hour))
	}
	if f.ActorID > 0 {
		add("(a.actor_id = $%[1]d OR a.impersonator_id = $%[1]d)", f.ActorID)
	}
	if v := strings.TrimSpace(f.Entity); v != "" {
		add("a.entity = $%d", v)
	}
	if v := strings.TrimSpace(f.EntityID); v != "" {
		add("a.entity_id = $%d", v)
	}
	if v := strings.TrimSpace(f.Action); v != "" {
		add("a.action = $%d", v)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
