package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
)

// Bumper invalidates the shared grant cache.
type Bumper interface {
	Bump(ctx context.Context) error
}

// Service orchestrates role and permission management. Every mutation bumps
// the shared grant cache, invalidates the request checker and emits an audit
// event.
type Service struct {
	repo     RepositoryPort
	resolver *Resolver
	cache    Bumper
	sink     audit.Sink
	logger   *slog.Logger
}

// NewService constructs a Service. cache and sink may be nil.
func NewService(repo RepositoryPort, resolver *Resolver, cache Bumper, sink audit.Sink, logger *slog.Logger) *Service {
	if sink == nil {
		sink = audit.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, resolver: resolver, cache: cache, sink: sink, logger: logger.With(slog.String("component", "rbac"))}
}

// RoleInput is the writable part of a role.
type RoleInput struct {
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Translations map[string]RoleText `json:"translations"`
}

func (in RoleInput) normalize() (Role, error) {
	role := Role{
		Name:         strings.TrimSpace(in.Name),
		Description:  strings.TrimSpace(in.Description),
		Translations: make(map[string]RoleText, len(in.Translations)),
	}
	if role.Name == "" {
		return Role{}, fmt.Errorf("%w: role name required", ErrInvalidInput)
	}
	for locale, text := range in.Translations {
		tag, err := language.Parse(locale)
		if err != nil {
			return Role{}, fmt.Errorf("%w: locale %q", ErrInvalidInput, locale)
		}
		role.Translations[tag.String()] = RoleText{
			Name:        strings.TrimSpace(text.Name),
			Description: strings.TrimSpace(text.Description),
		}
	}
	return role, nil
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role with its permissions.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, in RoleInput) (Role, error) {
	role, err := in.normalize()
	if err != nil {
		return Role{}, err
	}
	created, err := s.repo.CreateRole(ctx, role)
	if err != nil {
		return Role{}, fmt.Errorf("rbac: create role: %w", err)
	}
	s.sink.Emit(ctx, audit.NewEvent(ctx, audit.ActionCreated, "roles", idString(created.ID)).
		WithChange(nil, roleSnapshot(created)))
	return created, nil
}

// UpdateRole updates an existing role.
func (s *Service) UpdateRole(ctx context.Context, roleID int64, in RoleInput) (Role, error) {
	role, err := in.normalize()
	if err != nil {
		return Role{}, err
	}
	before, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	role.ID = roleID
	updated, err := s.repo.UpdateRole(ctx, role)
	if err != nil {
		return Role{}, fmt.Errorf("rbac: update role: %w", err)
	}
	s.changed(ctx, 0)
	s.sink.Emit(ctx, audit.NewEvent(ctx, audit.ActionUpdated, "roles", idString(roleID)).
		WithChange(roleSnapshot(before), roleSnapshot(updated)))
	return updated, nil
}

// DeleteRole removes a role and its assignments.
func (s *Service) DeleteRole(ctx context.Context, roleID int64) error {
	before, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteRole(ctx, roleID); err != nil {
		return fmt.Errorf("rbac: delete role: %w", err)
	}
	s.changed(ctx, 0)
	s.sink.Emit(ctx, audit.NewEvent(ctx, audit.ActionDeleted, "roles", idString(roleID)).
		WithChange(roleSnapshot(before), nil))
	return nil
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// EnsurePermission upserts a permission.
func (s *Service) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	name = normalizeName(name)
	if name == "" {
		return Permission{}, fmt.Errorf("%w: permission name required", ErrInvalidInput)
	}
	return s.repo.EnsurePermission(ctx, name, strings.TrimSpace(description))
}

// SyncPermissions ensures every name exists. Existing descriptions are kept.
func (s *Service) SyncPermissions(ctx context.Context, names []string) (int, error) {
	count := 0
	for _, name := range names {
		if _, err := s.EnsurePermission(ctx, name, ""); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// SetRolePermissions replaces the permissions of a role.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, names []string) error {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		addNormalized(set, n)
	}
	normalized := sortedSet(set)
	before, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.repo.SetRolePermissions(ctx, roleID, normalized); err != nil {
		return fmt.Errorf("rbac: set role permissions: %w", err)
	}
	s.changed(ctx, 0)
	s.sink.Emit(ctx, audit.NewEvent(ctx, audit.ActionUpdated, "roles", idString(roleID)).
		WithChange(map[string]any{"permissions": before.Permissions}, map[string]any{"permissions": normalized}))
	return nil
}

// AssignRole gives a user a role.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	if err := s.repo.AssignRole(ctx, userID, roleID); err != nil {
		return fmt.Errorf("rbac: assign role: %w", err)
	}
	s.changed(ctx, userID)
	s.sink.Emit(ctx, audit.NewEvent(ctx, audit.ActionAssigned, "users", idString(userID)).
		WithMeta("role_id", roleID))
	return nil
}

// RemoveRole takes a role from a user. It reports whether anything changed.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID int64) (bool, error) {
	removed, err := s.repo.RemoveRole(ctx, userID, roleID)
	if err != nil {
		return false, fmt.Errorf("rbac: remove role: %w", err)
	}
	if removed {
		s.changed(ctx, userID)
		s.sink.Emit(ctx, audit.NewEvent(ctx, audit.ActionRevoked, "users", idString(userID)).
			WithMeta("role_id", roleID))
	}
	return removed, nil
}

// GrantPermission gives a user a permission directly.
func (s *Service) GrantPermission(ctx context.Context, userID int64, name string) error {
	name = normalizeName(name)
	if err := s.repo.GrantPermission(ctx, userID, name); err != nil {
		return fmt.Errorf("rbac: grant permission: %w", err)
	}
	s.changed(ctx, userID)
	s.sink.Emit(ctx, audit.NewEvent(ctx, audit.ActionAssigned, "users", idString(userID)).
		WithMeta("permission", name))
	return nil
}

// RevokePermission removes a direct grant.
func (s *Service) RevokePermission(ctx context.Context, userID int64, name string) (bool, error) {
	name = normalizeName(name)
	revoked, err := s.repo.RevokePermission(ctx, userID, name)
	if err != nil {
		return false, fmt.Errorf("rbac: revoke permission: %w", err)
	}
	if revoked {
		s.changed(ctx, userID)
		s.sink.Emit(ctx, audit.NewEvent(ctx, audit.ActionRevoked, "users", idString(userID)).
			WithMeta("permission", name))
	}
	return revoked, nil
}

// EffectivePermissions lists every permission userID holds.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	c, err := s.resolver.For(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.Permissions(ctx)
}

// changed bumps the shared cache and invalidates the request checker. A
// userID of zero means the change may affect any principal.
func (s *Service) changed(ctx context.Context, userID int64) {
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("grants cache bump failed", slog.Any("error", err))
		}
	}
	if c := CheckerFromContext(ctx); c != nil && (userID == 0 || c.PrincipalID() == userID) {
		c.Invalidate()
	}
}

func roleSnapshot(r Role) map[string]any {
	return map[string]any{
		"name":         r.Name,
		"description":  r.Description,
		"translations": r.Translations,
	}
}

func idString(v int64) string {
	return strconv.FormatInt(v, 10)
}
