package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

const (
	permRolesView       = "roles.view"
	permRolesCreate     = "roles.create"
	permRolesUpdate     = "roles.update"
	permRolesDelete     = "roles.delete"
	permPermissionsView = "permissions.view"
	permUsersView       = "users.view"
)

var errorMappings = []httpx.Mapping{
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrInvalidPrincipal, Status: http.StatusNotFound, Title: "Unknown Principal"},
	{Target: ErrInvalidInput, Status: http.StatusUnprocessableEntity, Title: "Invalid Input"},
}

// Handler exposes role, permission and assignment management over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/roles", func(r chi.Router) {
		r.With(h.rbac.RequireAny(permRolesView)).Get("/", h.listRoles)
		r.With(h.rbac.RequireAny(permRolesCreate)).Post("/", h.createRole)
		r.With(h.rbac.RequireAny(permRolesView)).Get("/{roleID}", h.getRole)
		r.With(h.rbac.RequireAny(permRolesUpdate)).Put("/{roleID}", h.updateRole)
		r.With(h.rbac.RequireAny(permRolesDelete)).Delete("/{roleID}", h.deleteRole)
		r.With(h.rbac.RequireAny(permRolesUpdate)).Put("/{roleID}/permissions", h.setRolePermissions)
	})
	r.With(h.rbac.RequireAny(permPermissionsView)).Get("/permissions", h.listPermissions)
	r.Route("/users/{userID}", func(r chi.Router) {
		r.With(h.rbac.RequireAny(permUsersView)).Get("/permissions", h.userPermissions)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermRolesAssign))
			r.Post("/roles", h.assignRole)
			r.Delete("/roles/{roleID}", h.removeRole)
			r.Post("/permissions", h.grantPermission)
			r.Delete("/permissions/{permission}", h.revokePermission)
		})
	})
	r.With(h.rbac.Checker).Get("/me/permissions", h.myPermissions)
}

type roleView struct {
	Role
	Label RoleText `json:"label"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	locale := r.URL.Query().Get("locale")
	out := make([]roleView, 0, len(roles))
	for _, role := range roles {
		out = append(out, roleView{Role: role, Label: role.Localized(locale)})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := httpx.IDParam(r, "roleID")
	if err != nil {
		h.fail(w, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), roleID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roleView{Role: role, Label: role.Localized(r.URL.Query().Get("locale"))})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var in RoleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := httpx.IDParam(r, "roleID")
	if err != nil {
		h.fail(w, err)
		return
	}
	var in RoleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, err)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), roleID, in)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := httpx.IDParam(r, "roleID")
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), roleID); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, err := httpx.IDParam(r, "roleID")
	if err != nil {
		h.fail(w, err)
		return
	}
	var body struct {
		Permissions []string `json:"permissions"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.fail(w, err)
		return
	}
	if err := h.service.SetRolePermissions(r.Context(), roleID, body.Permissions); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		h.fail(w, err)
		return
	}
	perms, err := h.service.EffectivePermissions(r.Context(), userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "permissions": perms})
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	c := CheckerFromContext(r.Context())
	perms, err := c.Permissions(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	roles, err := c.Roles(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": c.PrincipalID(), "roles": roles, "permissions": perms})
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		h.fail(w, err)
		return
	}
	var body struct {
		RoleID int64 `json:"role_id"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.fail(w, err)
		return
	}
	if body.RoleID <= 0 {
		h.fail(w, ErrInvalidInput)
		return
	}
	if err := h.service.AssignRole(r.Context(), userID, body.RoleID); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		h.fail(w, err)
		return
	}
	roleID, err := httpx.IDParam(r, "roleID")
	if err != nil {
		h.fail(w, err)
		return
	}
	removed, err := h.service.RemoveRole(r.Context(), userID, roleID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		h.fail(w, err)
		return
	}
	var body struct {
		Permission string `json:"permission"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.fail(w, err)
		return
	}
	if strings.TrimSpace(body.Permission) == "" {
		h.fail(w, ErrInvalidInput)
		return
	}
	if err := h.service.GrantPermission(r.Context(), userID, body.Permission); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		h.fail(w, err)
		return
	}
	revoked, err := h.service.RevokePermission(r.Context(), userID, chi.URLParam(r, "permission"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	httpx.RespondError(w, h.logger, err, errorMappings...)
}
