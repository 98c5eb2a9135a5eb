package rbac

import (
	"sort"
	"strings"
	"time"
)

// Role represents a high-level permission grouping.
type Role struct {
	ID           int64               `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Translations map[string]RoleText `json:"translations,omitempty"`
	Permissions  []string            `json:"permissions,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// RoleText is the display text of a role in one locale.
type RoleText struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Localized returns the role text for locale. An exact locale wins, then the
// base language ("pt" for "pt-BR"), then the untranslated name.
func (r Role) Localized(locale string) RoleText {
	locale = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(locale), "_", "-"))
	candidates := []string{locale}
	if base, _, ok := strings.Cut(locale, "-"); ok {
		candidates = append(candidates, base)
	}
	for _, c := range candidates {
		for key, text := range r.Translations {
			if strings.ToLower(key) == c && text.Name != "" {
				if text.Description == "" {
					text.Description = r.Description
				}
				return text
			}
		}
	}
	return RoleText{Name: r.Name, Description: r.Description}
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Grants is everything assigned to one principal: permissions granted
// directly and the permission list of every assigned role.
type Grants struct {
	Direct []string            `json:"direct"`
	Roles  map[string][]string `json:"roles"`
}

// RoleNames returns the assigned role names sorted.
func (g Grants) RoleNames() []string {
	names := make([]string, 0, len(g.Roles))
	for name := range g.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Effective returns the union of direct and role permissions, normalized and sorted.
func (g Grants) Effective() []string {
	set := make(map[string]struct{})
	for _, p := range g.Direct {
		addNormalized(set, p)
	}
	for _, perms := range g.Roles {
		for _, p := range perms {
			addNormalized(set, p)
		}
	}
	return sortedSet(set)
}

// Principal describes the authenticated actor.
type Principal interface {
	GetID() int64
}

func normalizeName(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}

func addNormalized(set map[string]struct{}, name string) {
	if n := normalizeName(name); n != "" {
		set[n] = struct{}{}
	}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
