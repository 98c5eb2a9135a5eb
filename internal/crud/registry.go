package crud

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var typePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// systemColumns may appear as table columns without a matching form field.
var systemColumns = map[string]bool{"id": true, "created_at": true, "updated_at": true}

// Registry holds every EntityConfig of the application. It is filled at
// startup and sealed before serving; reads are safe from any goroutine.
type Registry struct {
	mu       sync.RWMutex
	configs  map[string]EntityConfig
	order    []string
	sealed   bool
	validate *validator.Validate
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		configs:  make(map[string]EntityConfig),
		validate: validator.New(),
	}
}

// Register adds cfg. It fails with ErrDuplicateEntityType when the type is
// already known and ErrInvalidConfig when cfg is malformed.
func (r *Registry) Register(cfg EntityConfig) error {
	if err := r.check(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: cannot register %q", ErrRegistrySealed, cfg.Type)
	}
	if _, exists := r.configs[cfg.Type]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateEntityType, cfg.Type)
	}
	r.configs[cfg.Type] = cfg.clone()
	r.order = append(r.order, cfg.Type)
	return nil
}

// MustRegister registers every config and panics on the first error. Meant
// for static configuration at process start.
func (r *Registry) MustRegister(cfgs ...EntityConfig) {
	for _, cfg := range cfgs {
		if err := r.Register(cfg); err != nil {
			panic(err)
		}
	}
}

// Seal forbids further registrations.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Get returns the config registered for entityType.
func (r *Registry) Get(entityType string) (EntityConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[entityType]
	if !ok {
		return EntityConfig{}, fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
	}
	return cfg.clone(), nil
}

// Types returns the registered type identifiers sorted by name.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.configs))
	for t := range r.configs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Configs returns the configs in registration order.
func (r *Registry) Configs() []EntityConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EntityConfig, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.configs[t].clone())
	}
	return out
}

// Permission returns the permission guarding action on entityType.
func (r *Registry) Permission(entityType, action string) (string, error) {
	cfg, err := r.Get(entityType)
	if err != nil {
		return "", err
	}
	return cfg.Permission(action), nil
}

// PermissionNames lists every permission derived from the registered
// configs: the standard actions per prefix plus custom row-action permissions.
func (r *Registry) PermissionNames() []string {
	seen := make(map[string]struct{})
	for _, cfg := range r.Configs() {
		for _, action := range StandardActions() {
			seen[cfg.Permission(action)] = struct{}{}
		}
		for _, a := range cfg.Actions {
			if p := strings.TrimSpace(a.Permission); p != "" {
				seen[strings.ToLower(p)] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidationRules returns the rules for rec in locale. The config's Rules
// hook wins over the default generator.
func (r *Registry) ValidationRules(entityType string, rec Record, locale string) (map[string]string, error) {
	cfg, err := r.Get(entityType)
	if err != nil {
		return nil, err
	}
	locale = ResolveLocale(cfg, locale)
	if cfg.Hooks.Rules != nil {
		return cfg.Hooks.Rules(rec, locale), nil
	}
	return DefaultRules(cfg, rec, locale), nil
}

// BeforeSave copies the declared fields of data onto a clone of rec and then
// applies the config's BeforeSave hook. Undeclared keys are dropped.
func (r *Registry) BeforeSave(entityType string, rec Record, data map[string]any) (Record, error) {
	cfg, err := r.Get(entityType)
	if err != nil {
		return Record{}, err
	}
	out := rec.Clone()
	for _, f := range cfg.Fields {
		if v, ok := data[f.Name]; ok {
			out.Values[f.Name] = v
		}
	}
	if cfg.Hooks.BeforeSave == nil {
		return out, nil
	}
	saved, err := cfg.Hooks.BeforeSave(out, data)
	if err != nil {
		return Record{}, fmt.Errorf("crud: before save %s: %w", entityType, err)
	}
	return saved, nil
}

func (r *Registry) check(cfg EntityConfig) error {
	if !typePattern.MatchString(cfg.Type) {
		return fmt.Errorf("%w: type %q must match %s", ErrInvalidConfig, cfg.Type, typePattern.String())
	}
	if strings.TrimSpace(cfg.PermissionPrefix) == "" {
		return fmt.Errorf("%w: %s: permission prefix required", ErrInvalidConfig, cfg.Type)
	}
	fields := make(map[string]struct{}, len(cfg.Fields))
	for _, f := range cfg.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%w: %s: field without name", ErrInvalidConfig, cfg.Type)
		}
		if _, dup := fields[f.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate field %q", ErrInvalidConfig, cfg.Type, f.Name)
		}
		fields[f.Name] = struct{}{}
		if f.Rule != "" {
			if err := r.checkRule(f.Rule); err != nil {
				return fmt.Errorf("%s.%s: %w", cfg.Type, f.Name, err)
			}
		}
	}
	for _, c := range cfg.Columns {
		if _, ok := fields[c.Name]; !ok && !systemColumns[c.Name] {
			return fmt.Errorf("%w: %s: column %q is not a field", ErrInvalidConfig, cfg.Type, c.Name)
		}
	}
	for _, name := range cfg.Searchable {
		if _, ok := fields[name]; !ok {
			return fmt.Errorf("%w: %s: searchable %q is not a field", ErrInvalidConfig, cfg.Type, name)
		}
	}
	for _, name := range cfg.Attachable {
		if _, ok := fields[name]; !ok {
			return fmt.Errorf("%w: %s: attachable %q is not a field", ErrInvalidConfig, cfg.Type, name)
		}
	}
	switch cfg.DefaultSort.Direction {
	case "", SortAsc, SortDesc:
	default:
		return fmt.Errorf("%w: %s: sort direction %q", ErrInvalidConfig, cfg.Type, cfg.DefaultSort.Direction)
	}
	if sf := cfg.DefaultSort.Field; sf != "" && !hasColumnOrField(cfg, sf) {
		return fmt.Errorf("%w: %s: sort field %q is neither a column nor a field", ErrInvalidConfig, cfg.Type, sf)
	}
	if err := checkLocales(cfg.Locales); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, cfg.Type, err)
	}
	actions := make(map[string]struct{}, len(cfg.Actions))
	for _, a := range cfg.Actions {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("%w: %s: row action without name", ErrInvalidConfig, cfg.Type)
		}
		if _, dup := actions[a.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate row action %q", ErrInvalidConfig, cfg.Type, a.Name)
		}
		actions[a.Name] = struct{}{}
	}
	return nil
}

func hasColumnOrField(cfg EntityConfig, name string) bool {
	if _, ok := cfg.Field(name); ok {
		return true
	}
	for _, c := range cfg.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}
