package users

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

const userColumns = `id, email, name, is_active, created_at, updated_at`

func scanUser(row pgx.Row, extra ...any) (User, error) {
	var u User
	dest := append([]any{&u.ID, &u.Email, &u.Name, &u.IsActive, &u.CreatedAt, &u.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// ListUsers returns one page of users ordered by id and the total count.
func (r *Repository) ListUsers(ctx context.Context, f ListFilter, offset, limit int) ([]User, int, error) {
	pattern := "%"
	if s := strings.TrimSpace(f.Search); s != "" {
		pattern = "%" + strings.ToLower(s) + "%"
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE lower(email) LIKE $1 OR lower(name) LIKE $1`, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users
WHERE lower(email) LIKE $1 OR lower(name) LIKE $1
ORDER BY id
OFFSET $2 LIMIT $3`, pattern, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (User, error) {
		return scanUser(row)
	})
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// GetUser loads a user by id.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// FindByEmail loads a user and its password hash.
func (r *Repository) FindByEmail(ctx context.Context, email string) (Credentials, error) {
	var c Credentials
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+`, password_hash FROM users WHERE lower(email) = lower($1)`, email), &c.PasswordHash)
	if err != nil {
		return Credentials{}, err
	}
	c.User = u
	return c, nil
}
