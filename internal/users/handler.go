package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

const permUsersView = "users.view"

var errorMappings = []httpx.Mapping{
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrInvalidCredentials, Status: http.StatusUnauthorized, Title: "Invalid Credentials"},
	{Target: ErrCannotImpersonate, Status: http.StatusForbidden, Title: "Cannot Impersonate"},
	{Target: ErrNotImpersonating, Status: http.StatusConflict, Title: "Not Impersonating"},
}

// Handler manages user, sign-in and impersonation endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	sessions *shared.SessionManager
	rbac     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, sessions: sessions, rbac: rbac}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/session", h.login)
	r.Delete("/session", h.logout)
	r.Get("/session", h.current)

	r.With(h.rbac.RequireAny(permUsersView)).Get("/users", h.listUsers)
	r.With(h.rbac.RequireAny(permUsersView)).Get("/users/{userID}", h.getUser)
	r.With(h.rbac.RequireAny(shared.PermUsersImpersonate)).Post("/users/{userID}/impersonate", h.impersonate)
	r.Delete("/impersonation", h.stopImpersonation)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.ListUsers(r.Context(), ListFilter{
		Search:  strings.TrimSpace(r.URL.Query().Get("q")),
		Page:    httpx.IntQuery(r, "page", 1),
		PerPage: httpx.IntQuery(r, "per_page", shared.DefaultPerPage),
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "userID")
	if err != nil {
		h.fail(w, err)
		return
	}
	u, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.fail(w, err)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.fail(w, shared.ErrUnauthenticated)
		return
	}
	u, err := h.service.Authenticate(r.Context(), body.Email, body.Password)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.sessions.Renew(r.Context(), sess); err != nil {
		h.fail(w, err)
		return
	}
	sess.SetUser(u.ID)
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Destroy(shared.SessionFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		h.fail(w, shared.ErrUnauthenticated)
		return
	}
	u, err := h.service.GetUser(r.Context(), actor.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": u, "impersonator_id": actor.ImpersonatorID})
}

func (h *Handler) impersonate(w http.ResponseWriter, r *http.Request) {
	targetID, err := httpx.IDParam(r, "userID")
	if err != nil {
		h.fail(w, err)
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		h.fail(w, shared.ErrUnauthenticated)
		return
	}
	target, err := h.service.StartImpersonation(r.Context(), shared.SessionFromContext(r.Context()), actor.UserID, targetID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": target, "impersonator_id": actor.UserID})
}

func (h *Handler) stopImpersonation(w http.ResponseWriter, r *http.Request) {
	original, err := h.service.StopImpersonation(r.Context(), shared.SessionFromContext(r.Context()))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"user_id": original})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, shared.ErrUnauthenticated) {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	httpx.RespondError(w, h.logger, err, errorMappings...)
}
