package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConstraintViolation reports a unique, foreign key or check failure.
	ErrConstraintViolation = errors.New("platform/db: constraint violation")
	// ErrNoRows mirrors pgx.ErrNoRows so callers need not import pgx.
	ErrNoRows = pgx.ErrNoRows
)

// Integrity constraint violation codes (SQLSTATE class 23).
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeNotNullViolation    = "23502"
	CodeCheckViolation      = "23514"
)

// ConstraintError carries the constraint that rejected a write.
type ConstraintError struct {
	Code       string
	Constraint string
	Detail     string
}

func (e *ConstraintError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%s: %s (%s)", ErrConstraintViolation.Error(), e.Constraint, e.Code)
	}
	return fmt.Sprintf("%s (%s)", ErrConstraintViolation.Error(), e.Code)
}

// Is lets errors.Is match ErrConstraintViolation.
func (e *ConstraintError) Is(target error) bool {
	return target == ErrConstraintViolation
}

// MapError translates integrity violations raised by PostgreSQL into
// ConstraintError. Other errors are returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return &ConstraintError{Code: pgErr.Code, Constraint: pgErr.ConstraintName, Detail: pgErr.Detail}
	}
	return err
}

// IsUniqueViolation reports whether err is a unique key violation.
func IsUniqueViolation(err error) bool {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce.Code == CodeUniqueViolation
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == CodeUniqueViolation
}
