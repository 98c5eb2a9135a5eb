package rbac

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
)

type memRepo struct {
	mu        sync.Mutex
	users     map[int64]bool
	roles     map[int64]*Role
	perms     map[string]Permission
	userRoles map[int64]map[int64]bool
	direct    map[int64]map[string]bool
	nextID    int64
	loads     int
}

func newMemRepo(users ...int64) *memRepo {
	m := &memRepo{
		users:     map[int64]bool{},
		roles:     map[int64]*Role{},
		perms:     map[string]Permission{},
		userRoles: map[int64]map[int64]bool{},
		direct:    map[int64]map[string]bool{},
	}
	for _, u := range users {
		m.users[u] = true
	}
	return m
}

func (m *memRepo) PrincipalGrants(_ context.Context, userID int64) (Grants, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if !m.users[userID] {
		return Grants{}, ErrNotFound
	}
	g := Grants{Roles: map[string][]string{}}
	for p := range m.direct[userID] {
		g.Direct = append(g.Direct, p)
	}
	for roleID := range m.userRoles[userID] {
		role := m.roles[roleID]
		g.Roles[role.Name] = append([]string{}, role.Permissions...)
	}
	return g, nil
}

func (m *memRepo) ListRoles(context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Role
	for _, r := range m.roles {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRepo) GetRole(_ context.Context, id int64) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return *r, nil
}

func (m *memRepo) CreateRole(_ context.Context, role Role) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == role.Name {
			return Role{}, &db.ConstraintError{Code: db.CodeUniqueViolation, Constraint: "roles_name_key"}
		}
	}
	m.nextID++
	role.ID = m.nextID
	role.CreatedAt = time.Now()
	role.UpdatedAt = role.CreatedAt
	m.roles[role.ID] = &role
	return role, nil
}

func (m *memRepo) UpdateRole(_ context.Context, role Role) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.roles[role.ID]
	if !ok {
		return Role{}, ErrNotFound
	}
	existing.Name, existing.Description, existing.Translations = role.Name, role.Description, role.Translations
	return *existing, nil
}

func (m *memRepo) DeleteRole(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	for _, assigned := range m.userRoles {
		delete(assigned, id)
	}
	return nil
}

func (m *memRepo) ListPermissions(context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for _, p := range m.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRepo) EnsurePermission(_ context.Context, name, description string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.perms[name]; ok {
		if description != "" {
			p.Description = description
			m.perms[name] = p
		}
		return p, nil
	}
	m.nextID++
	p := Permission{ID: m.nextID, Name: name, Description: description}
	m.perms[name] = p
	return p, nil
}

func (m *memRepo) SetRolePermissions(_ context.Context, roleID int64, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	for _, n := range names {
		if _, ok := m.perms[n]; !ok {
			return ErrNotFound
		}
	}
	role.Permissions = append([]string{}, names...)
	return nil
}

func (m *memRepo) AssignRole(_ context.Context, userID, roleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.users[userID] || m.roles[roleID] == nil {
		return &db.ConstraintError{Code: db.CodeForeignKeyViolation}
	}
	if m.userRoles[userID] == nil {
		m.userRoles[userID] = map[int64]bool{}
	}
	m.userRoles[userID][roleID] = true
	return nil
}

func (m *memRepo) RemoveRole(_ context.Context, userID, roleID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.userRoles[userID][roleID] {
		return false, nil
	}
	delete(m.userRoles[userID], roleID)
	return true, nil
}

func (m *memRepo) GrantPermission(_ context.Context, userID int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.perms[name]; !ok {
		return ErrNotFound
	}
	if m.direct[userID] == nil {
		m.direct[userID] = map[string]bool{}
	}
	m.direct[userID][name] = true
	return nil
}

func (m *memRepo) RevokePermission(_ context.Context, userID int64, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.direct[userID][name] {
		return false, nil
	}
	delete(m.direct[userID], name)
	return true, nil
}

func (m *memRepo) loadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureSink) Emit(_ context.Context, e audit.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

type countingBumper struct{ bumps int }

func (b *countingBumper) Bump(context.Context) error {
	b.bumps++
	return nil
}

type staticStore map[int64]Grants

func (s staticStore) PrincipalGrants(_ context.Context, id int64) (Grants, error) {
	g, ok := s[id]
	if !ok {
		return Grants{}, ErrNotFound
	}
	return g, nil
}
