package attachments

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-admin/internal/crud"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
)

const entityType = "attachments"

var errorMappings = []httpx.Mapping{
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: crud.ErrUnknownEntityType, Status: http.StatusBadRequest, Title: "Unknown Owner Type"},
	{Target: ErrInvalidOwner, Status: http.StatusBadRequest, Title: "Invalid Owner"},
	{Target: ErrInvalidInput, Status: http.StatusBadRequest, Title: "Invalid Input"},
	{Target: ErrEmptyUpload, Status: http.StatusBadRequest, Title: "Empty Upload"},
	{Target: ErrTooLarge, Status: http.StatusRequestEntityTooLarge, Title: "Upload Too Large"},
	{Target: ErrUnsupportedMediaType, Status: http.StatusUnsupportedMediaType, Title: "Unsupported Media Type"},
	{Target: errForbidden, Status: http.StatusForbidden, Title: "Forbidden"},
}

var errForbidden = errors.New("attachments: forbidden")

// Handler exposes the attachment lifecycle over HTTP. Owner types are
// resolved through the entity registry: only registered types that declare
// attachable fields may own attachments, and linking requires the owner's
// update permission.
type Handler struct {
	logger   *slog.Logger
	manager  *Manager
	registry *crud.Registry
	rbac     rbac.Middleware
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, manager *Manager, registry *crud.Registry, mw rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, manager: manager, registry: registry, rbac: mw}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	view := h.permission(crud.ActionView)
	create := h.permission(crud.ActionCreate)
	update := h.permission(crud.ActionUpdate)

	r.Route("/attachments", func(r chi.Router) {
		r.With(h.rbac.RequireAny(create)).Post("/", h.upload)
		r.With(h.rbac.RequireAny(view)).Get("/{attachmentID}", h.show)
		r.With(h.rbac.RequireAny(view)).Get("/{attachmentID}/content", h.content)
		r.With(h.rbac.RequireAny(update)).Post("/{attachmentID}/owners", h.attach)
		r.With(h.rbac.RequireAny(update)).Delete("/{attachmentID}/owners/{ownerType}/{ownerID}", h.detach)
	})
	r.Route("/owners/{ownerType}/{ownerID}/attachments", func(r chi.Router) {
		r.Use(h.rbac.Checker)
		r.Get("/", h.list)
		r.Delete("/", h.detachAll)
	})
}

func (h *Handler) permission(action string) string {
	if h.registry != nil {
		if p, err := h.registry.Permission(entityType, action); err == nil {
			return p
		}
	}
	return entityType + "." + action
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.manager.MaxBytes()+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, ErrTooLarge)
			return
		}
		h.fail(w, fmt.Errorf("%w: file: %v", ErrInvalidInput, err))
		return
	}
	defer file.Close()

	in := UploadInput{
		Reader:       file,
		Filename:     header.Filename,
		DeclaredType: header.Header.Get("Content-Type"),
		Collection:   r.FormValue("collection"),
	}
	if title := strings.TrimSpace(r.FormValue("title")); title != "" {
		in.Metadata = map[string]any{"title": title}
	}

	ownerType := r.FormValue("owner_type")
	if ownerType == "" {
		a, err := h.manager.Upload(r.Context(), in)
		if err != nil {
			h.fail(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, a)
		return
	}

	ownerID, err := strconv.ParseInt(r.FormValue("owner_id"), 10, 64)
	if err != nil {
		h.fail(w, fmt.Errorf("%w: owner_id", ErrInvalidOwner))
		return
	}
	owner := Owner{Type: ownerType, ID: ownerID}
	collection, err := h.authorizeOwner(r, owner, crud.ActionUpdate, in.Collection)
	if err != nil {
		h.fail(w, err)
		return
	}
	in.Collection = collection
	a, err := h.manager.UploadFor(r.Context(), owner, in)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "attachmentID")
	if err != nil {
		h.fail(w, err)
		return
	}
	a, err := h.manager.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	owners, err := h.manager.Owners(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"attachment": a, "owners": owners})
}

func (h *Handler) content(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "attachmentID")
	if err != nil {
		h.fail(w, err)
		return
	}
	a, rc, err := h.manager.Open(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", a.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if a.OriginalFilename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.OriginalFilename))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("stream attachment", slog.Int64("attachment_id", id), slog.Any("error", err))
	}
}

func (h *Handler) attach(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "attachmentID")
	if err != nil {
		h.fail(w, err)
		return
	}
	var owner Owner
	if err := httpx.DecodeJSON(r, &owner); err != nil {
		h.fail(w, err)
		return
	}
	if _, err := h.authorizeOwner(r, owner, crud.ActionUpdate, ""); err != nil {
		h.fail(w, err)
		return
	}
	if err := h.manager.Attach(r.Context(), owner, id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) detach(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "attachmentID")
	if err != nil {
		h.fail(w, err)
		return
	}
	owner, err := ownerParam(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if _, err := h.authorizeOwner(r, owner, crud.ActionUpdate, ""); err != nil {
		h.fail(w, err)
		return
	}
	removed, err := h.manager.Detach(r.Context(), owner, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if _, err := h.authorizeOwner(r, owner, crud.ActionView, ""); err != nil {
		h.fail(w, err)
		return
	}
	items, err := h.manager.List(r.Context(), owner, r.URL.Query().Get("collection"))
	if err != nil {
		h.fail(w, err)
		return
	}
	if items == nil {
		items = []Attachment{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) detachAll(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if _, err := h.authorizeOwner(r, owner, crud.ActionUpdate, ""); err != nil {
		h.fail(w, err)
		return
	}
	count, err := h.manager.DetachAll(r.Context(), owner, r.URL.Query().Get("collection"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"removed": count})
}

// authorizeOwner checks that owner's type may hold attachments in
// collection and that the caller holds the owner's action permission. It
// returns the effective collection: an empty one resolves to the first
// attachable field of the owner type.
func (h *Handler) authorizeOwner(r *http.Request, owner Owner, action, collection string) (string, error) {
	if err := owner.Validate(); err != nil {
		return "", err
	}
	cfg, err := h.registry.Get(owner.Type)
	if err != nil {
		return "", err
	}
	if len(cfg.Attachable) == 0 {
		return "", fmt.Errorf("%w: %s has no attachable fields", ErrInvalidOwner, owner.Type)
	}
	collection = strings.ToLower(strings.TrimSpace(collection))
	if collection == "" {
		collection = cfg.Attachable[0]
	} else if !slices.Contains(cfg.Attachable, collection) {
		return "", fmt.Errorf("%w: collection %q not attachable to %s", ErrInvalidInput, collection, owner.Type)
	}

	checker := rbac.CheckerFromContext(r.Context())
	if checker == nil {
		return "", errForbidden
	}
	ok, err := checker.HasPermission(r.Context(), cfg.Permission(action))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", errForbidden, cfg.Permission(action))
	}
	return collection, nil
}

func ownerParam(r *http.Request) (Owner, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "ownerID"), 10, 64)
	if err != nil {
		return Owner{}, fmt.Errorf("%w: owner id", ErrInvalidOwner)
	}
	return Owner{Type: chi.URLParam(r, "ownerType"), ID: id}, nil
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	httpx.RespondError(w, h.logger, err, errorMappings...)
}
