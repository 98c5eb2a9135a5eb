package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require("require any", perms, func(ctx context.Context, c *Checker, names []string) (bool, error) {
		return c.HasAnyPermission(ctx, names...)
	})
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require("require all", perms, func(ctx context.Context, c *Checker, names []string) (bool, error) {
		return c.HasAllPermissions(ctx, names...)
	})
}

// RequireRole ensures the current user holds at least one of roles.
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return m.require("require role", roles, func(ctx context.Context, c *Checker, names []string) (bool, error) {
		return c.HasAnyRole(ctx, names...)
	})
}

// Checker resolves the request checker and stores it in the request
// context so handlers can run further checks without reloading.
func (m Middleware) Checker(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := m.checker(w, r, "load checker")
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(WithChecker(r.Context(), c)))
	})
}

func (m Middleware) require(op string, names []string, allowed func(context.Context, *Checker, []string) (bool, error)) func(http.Handler) http.Handler {
	normalized := normalizePermissions(names)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			c, ok := m.checker(w, r, op)
			if !ok {
				return
			}
			ctx := WithChecker(r.Context(), c)
			ok, err := allowed(ctx, c, normalized)
			if err != nil {
				m.logError(op, err)
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if !ok {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing permission")
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (m Middleware) checker(w http.ResponseWriter, r *http.Request, op string) (*Checker, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return nil, false
	}
	c, err := m.Resolver.For(r.Context(), actor.UserID)
	if err != nil {
		if errors.Is(err, ErrInvalidPrincipal) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
			return nil, false
		}
		m.logError(op, err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return nil, false
	}
	return c, true
}

func (m Middleware) logError(op string, err error) {
	if m.Logger != nil {
		m.Logger.Error("rbac "+op, slog.Any("error", err))
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		addNormalized(unique, p)
	}
	return sortedSet(unique)
}
