// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/blob"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
)

// Sentinel errors shared by handlers.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)

// Mapping binds a domain error to a problem status and title.
type Mapping struct {
	Target error
	Status int
	Title  string
}

var baseMappings = []Mapping{
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrValidation, Status: http.StatusUnprocessableEntity, Title: "Validation Failed"},
	{Target: ErrForbidden, Status: http.StatusForbidden, Title: "Forbidden"},
	{Target: ErrUnauthorized, Status: http.StatusUnauthorized, Title: "Unauthorized"},
	{Target: ErrBadRequest, Status: http.StatusBadRequest, Title: "Bad Request"},
	{Target: db.ErrNoRows, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: db.ErrConstraintViolation, Status: http.StatusConflict, Title: "Conflict"},
	{Target: blob.ErrStorage, Status: http.StatusBadGateway, Title: "Storage Unavailable"},
}

// RespondError maps err to an RFC7807 response. Package specific mappings
// are consulted before the shared ones; unknown errors become a 500 without
// detail and are logged when logger is set.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error, mappings ...Mapping) {
	for _, list := range [][]Mapping{mappings, baseMappings} {
		for _, m := range list {
			if errors.Is(err, m.Target) {
				detail := err.Error()
				if m.Status >= http.StatusInternalServerError {
					detail = ""
					logError(logger, err)
				}
				Problem(w, m.Status, m.Title, detail)
				return
			}
		}
	}
	logError(logger, err)
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

func logError(logger *slog.Logger, err error) {
	if logger != nil {
		logger.Error("request failed", slog.Any("error", err))
	}
}
