package rbac

import (
	"context"
	"sync"
)

// Observer receives the outcome of every authorization check.
type Observer interface {
	ObserveAuthz(kind string, allowed bool)
}

// Checker answers permission and role checks for one principal from a
// snapshot of its effective sets. A checker belongs to a single request;
// after Invalidate the next check reloads the snapshot.
type Checker struct {
	principalID int64
	load        func(context.Context) (Grants, error)
	observer    Observer

	mu    sync.Mutex
	perms map[string]struct{}
	roles map[string]struct{}
	stale bool
}

func newChecker(principalID int64, grants Grants, load func(context.Context) (Grants, error), observer Observer) *Checker {
	c := &Checker{principalID: principalID, load: load, observer: observer}
	c.apply(grants)
	return c
}

// PrincipalID returns the principal the checker was built for.
func (c *Checker) PrincipalID() int64 {
	return c.principalID
}

// Invalidate marks the snapshot stale after an assignment change.
func (c *Checker) Invalidate() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

// Refresh reloads the snapshot now.
func (c *Checker) Refresh(ctx context.Context) error {
	grants, err := c.load(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.apply(grants)
	c.mu.Unlock()
	return nil
}

// HasPermission reports whether name is in the effective permission set.
func (c *Checker) HasPermission(ctx context.Context, name string) (bool, error) {
	return c.check(ctx, "permission", func() bool {
		_, ok := c.perms[normalizeName(name)]
		return ok
	})
}

// HasAnyPermission is false for an empty list and stops at the first match.
func (c *Checker) HasAnyPermission(ctx context.Context, names ...string) (bool, error) {
	return c.check(ctx, "any_permission", func() bool { return anyIn(c.perms, names) })
}

// HasAllPermissions is true for an empty list and stops at the first miss.
func (c *Checker) HasAllPermissions(ctx context.Context, names ...string) (bool, error) {
	return c.check(ctx, "all_permissions", func() bool { return allIn(c.perms, names) })
}

// HasRole reports whether the role is assigned.
func (c *Checker) HasRole(ctx context.Context, name string) (bool, error) {
	return c.check(ctx, "role", func() bool {
		_, ok := c.roles[normalizeName(name)]
		return ok
	})
}

// HasAnyRole is false for an empty list.
func (c *Checker) HasAnyRole(ctx context.Context, names ...string) (bool, error) {
	return c.check(ctx, "any_role", func() bool { return anyIn(c.roles, names) })
}

// HasAllRoles is true for an empty list.
func (c *Checker) HasAllRoles(ctx context.Context, names ...string) (bool, error) {
	return c.check(ctx, "all_roles", func() bool { return allIn(c.roles, names) })
}

// Permissions returns the effective permission set sorted.
func (c *Checker) Permissions(ctx context.Context) ([]string, error) {
	if err := c.ensureFresh(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedSet(c.perms), nil
}

// Roles returns the assigned role names sorted.
func (c *Checker) Roles(ctx context.Context) ([]string, error) {
	if err := c.ensureFresh(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedSet(c.roles), nil
}

func (c *Checker) check(ctx context.Context, kind string, fn func() bool) (bool, error) {
	if err := c.ensureFresh(ctx); err != nil {
		return false, err
	}
	c.mu.Lock()
	allowed := fn()
	c.mu.Unlock()
	if c.observer != nil {
		c.observer.ObserveAuthz(kind, allowed)
	}
	return allowed, nil
}

func (c *Checker) ensureFresh(ctx context.Context) error {
	c.mu.Lock()
	stale := c.stale
	c.mu.Unlock()
	if !stale {
		return nil
	}
	return c.Refresh(ctx)
}

// apply must be called with mu held or before the checker is shared.
func (c *Checker) apply(g Grants) {
	perms := make(map[string]struct{})
	for _, p := range g.Direct {
		addNormalized(perms, p)
	}
	roles := make(map[string]struct{}, len(g.Roles))
	for role, rolePerms := range g.Roles {
		addNormalized(roles, role)
		for _, p := range rolePerms {
			addNormalized(perms, p)
		}
	}
	c.perms = perms
	c.roles = roles
	c.stale = false
}

func anyIn(set map[string]struct{}, names []string) bool {
	for _, n := range names {
		if _, ok := set[normalizeName(n)]; ok {
			return true
		}
	}
	return false
}

func allIn(set map[string]struct{}, names []string) bool {
	for _, n := range names {
		if _, ok := set[normalizeName(n)]; !ok {
			return false
		}
	}
	return true
}

type checkerContextKey struct{}

// WithChecker stores c in ctx for reuse by later checks of the same request.
func WithChecker(ctx context.Context, c *Checker) context.Context {
	return context.WithValue(ctx, checkerContextKey{}, c)
}

// CheckerFromContext returns the request checker, or nil.
func CheckerFromContext(ctx context.Context) *Checker {
	c, _ := ctx.Value(checkerContextKey{}).(*Checker)
	return c
}
