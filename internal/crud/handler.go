package crud

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
)

var errorMappings = []httpx.Mapping{
	{Target: ErrUnknownEntityType, Status: http.StatusNotFound, Title: "Unknown Entity Type"},
	{Target: errForbidden, Status: http.StatusForbidden, Title: "Forbidden"},
}

var errForbidden = errors.New("crud: forbidden")

// Handler publishes the registered entity configs to admin clients. Each
// config is only visible to principals holding its view permission.
type Handler struct {
	logger   *slog.Logger
	registry *Registry
	rbac     rbac.Middleware
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, registry *Registry, mw rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, registry: registry, rbac: mw}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/entities", func(r chi.Router) {
		r.Use(h.rbac.Checker)
		r.Get("/", h.list)
		r.Get("/{entityType}", h.show)
		r.Post("/{entityType}/validate", h.validate)
	})
}

type entitySummary struct {
	Type     string `json:"type"`
	Singular string `json:"singular"`
	Plural   string `json:"plural"`
	Locale   string `json:"locale,omitempty"`
}

type entityView struct {
	EntityConfig
	Locale      string            `json:"locale,omitempty"`
	Permissions map[string]bool   `json:"permissions"`
	CreateRules map[string]string `json:"create_rules"`
	UpdateRules map[string]string `json:"update_rules"`
}

type validateRequest struct {
	ID     int64          `json:"id"`
	Locale string         `json:"locale"`
	Data   map[string]any `json:"data"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	checker := rbac.CheckerFromContext(r.Context())
	out := []entitySummary{}
	for _, cfg := range h.registry.Configs() {
		ok, err := checker.HasPermission(r.Context(), cfg.Permission(ActionView))
		if err != nil {
			h.fail(w, err)
			return
		}
		if !ok {
			continue
		}
		out = append(out, entitySummary{
			Type:     cfg.Type,
			Singular: cfg.Singular,
			Plural:   cfg.Plural,
			Locale:   MatchLocale(cfg, r.Header.Get("Accept-Language")),
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.authorized(r, ActionView)
	if err != nil {
		h.fail(w, err)
		return
	}
	locale := h.locale(r, cfg, r.URL.Query().Get("locale"))

	checker := rbac.CheckerFromContext(r.Context())
	perms := make(map[string]bool)
	names := make([]string, 0, len(StandardActions())+len(cfg.Actions))
	for _, action := range StandardActions() {
		names = append(names, cfg.Permission(action))
	}
	for _, a := range cfg.Actions {
		if a.Permission != "" {
			names = append(names, a.Permission)
		}
	}
	for _, name := range names {
		ok, err := checker.HasPermission(r.Context(), name)
		if err != nil {
			h.fail(w, err)
			return
		}
		perms[name] = ok
	}

	createRules, err := h.registry.ValidationRules(cfg.Type, Record{}, locale)
	if err != nil {
		h.fail(w, err)
		return
	}
	updateRules, err := h.registry.ValidationRules(cfg.Type, Record{ID: 1}, locale)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entityView{
		EntityConfig: cfg,
		Locale:       locale,
		Permissions:  perms,
		CreateRules:  createRules,
		UpdateRules:  updateRules,
	})
}

// validate runs the save hook and the validation rules without persisting
// anything, so forms can report errors before submitting.
func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if req.ID < 0 {
		h.fail(w, fmt.Errorf("%w: negative id", httpx.ErrBadRequest))
		return
	}
	action := ActionCreate
	if req.ID > 0 {
		action = ActionUpdate
	}
	cfg, err := h.authorized(r, action)
	if err != nil {
		h.fail(w, err)
		return
	}
	locale := h.locale(r, cfg, req.Locale)

	rec, err := h.registry.BeforeSave(cfg.Type, Record{ID: req.ID}, req.Data)
	if err != nil {
		h.fail(w, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err))
		return
	}
	if err := h.registry.Validate(cfg.Type, rec, locale, rec.Values); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			httpx.ValidationProblem(w, verr.Fields)
			return
		}
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"valid": true, "locale": locale, "values": rec.Values})
}

func (h *Handler) authorized(r *http.Request, action string) (EntityConfig, error) {
	cfg, err := h.registry.Get(chi.URLParam(r, "entityType"))
	if err != nil {
		return EntityConfig{}, err
	}
	ok, err := rbac.CheckerFromContext(r.Context()).HasPermission(r.Context(), cfg.Permission(action))
	if err != nil {
		return EntityConfig{}, err
	}
	if !ok {
		return EntityConfig{}, fmt.Errorf("%w: %s", errForbidden, cfg.Permission(action))
	}
	return cfg, nil
}

func (h *Handler) locale(r *http.Request, cfg EntityConfig, explicit string) string {
	if explicit != "" {
		return ResolveLocale(cfg, explicit)
	}
	return MatchLocale(cfg, r.Header.Get("Accept-Language"))
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	httpx.RespondError(w, h.logger, err, errorMappings...)
}
