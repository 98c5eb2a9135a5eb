// Package crud holds the declarative configuration of every entity type the
// admin panel manages: fields, table columns, search targets, validation rules,
// sorting, filters and row actions. Generic CRUD orchestration reads these
// configs instead of hard coding per-entity behaviour.
package crud

import (
	"slices"
	"strings"
)

// Standard actions every entity type exposes. The permission guarding an
// action is "<prefix>.<action>".
const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// StandardActions lists the actions derived for every registered entity type.
func StandardActions() []string {
	return []string{ActionView, ActionCreate, ActionUpdate, ActionDelete}
}

// SortDirection orders table rows.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Sort is the default ordering of an entity listing.
type Sort struct {
	Field     string        `json:"field" yaml:"field"`
	Direction SortDirection `json:"direction" yaml:"direction"`
}

// Dir returns the direction, defaulting to ascending.
func (s Sort) Dir() SortDirection {
	if s.Direction == "" {
		return SortAsc
	}
	return s.Direction
}

// Field describes one form input.
type Field struct {
	Name  string `json:"name" yaml:"name"`
	Label string `json:"label,omitempty" yaml:"label"`
	Type  string `json:"type" yaml:"type"`
	// Rule is a go-playground/validator tag list, e.g. "required,email,max=255".
	Rule string `json:"rule,omitempty" yaml:"rule"`
	// Translatable values are maps keyed by locale code.
	Translatable bool `json:"translatable,omitempty" yaml:"translatable"`
	// RequiredOnCreate fields are mandatory for new records and optional on update.
	RequiredOnCreate bool     `json:"required_on_create,omitempty" yaml:"required_on_create"`
	Options          []string `json:"options,omitempty" yaml:"options"`
}

// Column describes one table column.
type Column struct {
	Name     string `json:"name" yaml:"name"`
	Label    string `json:"label,omitempty" yaml:"label"`
	Sortable bool   `json:"sortable,omitempty" yaml:"sortable"`
	Format   string `json:"format,omitempty" yaml:"format"`
}

// Filter describes a listing filter control.
type Filter struct {
	Name    string   `json:"name" yaml:"name"`
	Label   string   `json:"label,omitempty" yaml:"label"`
	Type    string   `json:"type" yaml:"type"`
	Options []string `json:"options,omitempty" yaml:"options"`
}

// RowAction is a custom per-row action next to the standard ones.
type RowAction struct {
	Name       string `json:"name" yaml:"name"`
	Label      string `json:"label,omitempty" yaml:"label"`
	Permission string `json:"permission,omitempty" yaml:"permission"`
	Confirm    string `json:"confirm,omitempty" yaml:"confirm"`
}

// Record is the instance a rule or save hook works on. ID zero means the
// record has not been persisted yet.
type Record struct {
	ID     int64          `json:"id"`
	Values map[string]any `json:"values"`
}

// IsNew reports whether the record is being created.
func (r Record) IsNew() bool {
	return r.ID == 0
}

// Clone returns a record with a shallow copy of Values.
func (r Record) Clone() Record {
	values := make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	return Record{ID: r.ID, Values: values}
}

// RulesFunc generates validation rules for a record in a locale.
type RulesFunc func(rec Record, locale string) map[string]string

// BeforeSaveFunc transforms a record before the caller persists it. It must
// not perform I/O.
type BeforeSaveFunc func(rec Record, data map[string]any) (Record, error)

// Hooks customise rule generation and pre-save transformation.
type Hooks struct {
	Rules      RulesFunc
	BeforeSave BeforeSaveFunc
}

// EntityConfig is the declarative configuration of one manageable entity type.
type EntityConfig struct {
	Type             string      `json:"type"`
	Singular         string      `json:"singular"`
	Plural           string      `json:"plural"`
	Fields           []Field     `json:"fields"`
	Columns          []Column    `json:"columns"`
	Searchable       []string    `json:"searchable,omitempty"`
	With             []string    `json:"with,omitempty"`
	DefaultSort      Sort        `json:"default_sort"`
	PermissionPrefix string      `json:"permission_prefix"`
	Attachable       []string    `json:"attachable,omitempty"`
	Locales          []string    `json:"locales,omitempty"`
	Filters          []Filter    `json:"filters,omitempty"`
	Actions          []RowAction `json:"actions,omitempty"`
	Hooks            Hooks       `json:"-"`
}

// clone returns a copy of c that shares no slice backing arrays with it.
func (c EntityConfig) clone() EntityConfig {
	out := c
	if c.Fields != nil {
		out.Fields = make([]Field, len(c.Fields))
		for i, f := range c.Fields {
			f.Options = slices.Clone(f.Options)
			out.Fields[i] = f
		}
	}
	out.Columns = slices.Clone(c.Columns)
	out.Searchable = slices.Clone(c.Searchable)
	out.With = slices.Clone(c.With)
	out.Attachable = slices.Clone(c.Attachable)
	out.Locales = slices.Clone(c.Locales)
	if c.Filters != nil {
		out.Filters = make([]Filter, len(c.Filters))
		for i, f := range c.Filters {
			f.Options = slices.Clone(f.Options)
			out.Filters[i] = f
		}
	}
	out.Actions = slices.Clone(c.Actions)
	return out
}

// Permission returns the permission name guarding action on this entity type.
func (c EntityConfig) Permission(action string) string {
	return strings.TrimSpace(c.PermissionPrefix) + "." + action
}

// Field returns the field named name.
func (c EntityConfig) Field(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// TranslatableFields lists the names of translatable fields.
func (c EntityConfig) TranslatableFields() []string {
	var names []string
	for _, f := range c.Fields {
		if f.Translatable {
			names = append(names, f.Name)
		}
	}
	return names
}
