package rbac

import (
	"context"
	"errors"
	"fmt"
)

// GrantStore loads the grants of a principal. Unknown principals yield ErrNotFound.
type GrantStore interface {
	PrincipalGrants(ctx context.Context, principalID int64) (Grants, error)
}

// Resolver builds Checkers and answers one-off checks.
type Resolver struct {
	store    GrantStore
	observer Observer
}

// NewResolver constructs a Resolver. observer may be nil.
func NewResolver(store GrantStore, observer Observer) *Resolver {
	return &Resolver{store: store, observer: observer}
}

// For returns the checker for principalID. A checker already stored in ctx
// for the same principal is reused.
func (r *Resolver) For(ctx context.Context, principalID int64) (*Checker, error) {
	if principalID <= 0 {
		return nil, fmt.Errorf("%w: id %d", ErrInvalidPrincipal, principalID)
	}
	if c := CheckerFromContext(ctx); c != nil && c.PrincipalID() == principalID {
		return c, nil
	}
	load := func(ctx context.Context) (Grants, error) {
		return r.grants(ctx, principalID)
	}
	grants, err := load(ctx)
	if err != nil {
		return nil, err
	}
	return newChecker(principalID, grants, load, r.observer), nil
}

// HasPermission reports whether the principal holds name.
func (r *Resolver) HasPermission(ctx context.Context, principalID int64, name string) (bool, error) {
	c, err := r.For(ctx, principalID)
	if err != nil {
		return false, err
	}
	return c.HasPermission(ctx, name)
}

// HasAnyPermission reports whether the principal holds at least one of names.
func (r *Resolver) HasAnyPermission(ctx context.Context, principalID int64, names ...string) (bool, error) {
	c, err := r.For(ctx, principalID)
	if err != nil {
		return false, err
	}
	return c.HasAnyPermission(ctx, names...)
}

// HasAllPermissions reports whether the principal holds every name.
func (r *Resolver) HasAllPermissions(ctx context.Context, principalID int64, names ...string) (bool, error) {
	c, err := r.For(ctx, principalID)
	if err != nil {
		return false, err
	}
	return c.HasAllPermissions(ctx, names...)
}

// HasRole reports whether the principal is assigned role.
func (r *Resolver) HasRole(ctx context.Context, principalID int64, role string) (bool, error) {
	c, err := r.For(ctx, principalID)
	if err != nil {
		return false, err
	}
	return c.HasRole(ctx, role)
}

// HasAnyRole reports whether the principal is assigned at least one role.
func (r *Resolver) HasAnyRole(ctx context.Context, principalID int64, roles ...string) (bool, error) {
	c, err := r.For(ctx, principalID)
	if err != nil {
		return false, err
	}
	return c.HasAnyRole(ctx, roles...)
}

// HasAllRoles reports whether the principal is assigned every role.
func (r *Resolver) HasAllRoles(ctx context.Context, principalID int64, roles ...string) (bool, error) {
	c, err := r.For(ctx, principalID)
	if err != nil {
		return false, err
	}
	return c.HasAllRoles(ctx, roles...)
}

func (r *Resolver) grants(ctx context.Context, principalID int64) (Grants, error) {
	grants, err := r.store.PrincipalGrants(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Grants{}, fmt.Errorf("%w: id %d", ErrInvalidPrincipal, principalID)
		}
		return Grants{}, fmt.Errorf("rbac: load grants: %w", err)
	}
	return grants, nil
}
