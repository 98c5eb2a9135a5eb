// Package attachments manages uploaded files that any entity can reference.
// Owners link to attachments through join rows; an attachment and its stored
// object are removed when the last owner detaches.
package attachments

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
)

// DefaultCollection is used when an upload names no collection.
const DefaultCollection = "default"

var (
	ownerTypePattern  = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)
	collectionPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
)

// Owner identifies the entity an attachment is linked to.
type Owner struct {
	Type string `json:"owner_type"`
	ID   int64  `json:"owner_id"`
}

func (o Owner) String() string {
	return fmt.Sprintf("%s:%d", o.Type, o.ID)
}

// Validate checks the owner reference shape.
func (o Owner) Validate() error {
	if !ownerTypePattern.MatchString(o.Type) || o.ID <= 0 {
		return fmt.Errorf("%w: %q/%d", ErrInvalidOwner, o.Type, o.ID)
	}
	return nil
}

// Attachment is the stored file record.
type Attachment struct {
	ID               int64          `json:"id"`
	Path             string         `json:"path"`
	OriginalFilename string         `json:"original_filename"`
	MimeType         string         `json:"mime_type"`
	Size             int64          `json:"size"`
	Checksum         string         `json:"checksum"`
	Collection       string         `json:"collection"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// UploadInput carries an uploaded file. DeclaredType is recorded but never
// trusted for the allow-list decision.
type UploadInput struct {
	Reader       io.Reader
	Filename     string
	DeclaredType string
	Collection   string
	Metadata     map[string]any
}

// Purge is a pending deletion of a stored object.
type Purge struct {
	ID       int64
	Path     string
	Attempts int
}

// DetachResult reports what a detach changed.
type DetachResult struct {
	// Removed is true when a join row was deleted.
	Removed bool
	// Deleted is true when the attachment lost its last owner and its
	// record was deleted; Purge then names the object to remove.
	Deleted bool
	Purge   Purge
}

func normalizeCollection(c string) (string, error) {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return DefaultCollection, nil
	}
	if !collectionPattern.MatchString(c) {
		return "", fmt.Errorf("%w: collection %q", ErrInvalidInput, c)
	}
	return c, nil
}

func cleanFilename(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if len(name) > 255 {
		name = name[:255]
	}
	return name
}
