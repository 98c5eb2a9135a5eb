package attachments

import (
	"errors"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/blob"
)

var (
	// ErrNotFound is returned when an attachment does not exist.
	ErrNotFound = errors.New("attachments: not found")
	// ErrInvalidOwner reports a malformed or unsupported owner reference.
	ErrInvalidOwner = errors.New("attachments: invalid owner")
	// ErrInvalidInput reports a malformed collection or request.
	ErrInvalidInput = errors.New("attachments: invalid input")
	// ErrEmptyUpload is returned for zero-byte uploads.
	ErrEmptyUpload = errors.New("attachments: empty upload")
	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("attachments: upload too large")
	// ErrUnsupportedMediaType is returned when the sniffed type is not allowed.
	ErrUnsupportedMediaType = errors.New("attachments: unsupported media type")
	// ErrStorage wraps failures of the binary storage service.
	ErrStorage = blob.ErrStorage
)
