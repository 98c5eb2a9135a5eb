package crud

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type definitionFile struct {
	Entities []definition `yaml:"entities"`
}

type definition struct {
	Type             string      `yaml:"type"`
	Singular         string      `yaml:"singular"`
	Plural           string      `yaml:"plural"`
	Fields           []Field     `yaml:"fields"`
	Columns          []Column    `yaml:"columns"`
	Searchable       []string    `yaml:"searchable"`
	With             []string    `yaml:"with"`
	DefaultSort      Sort        `yaml:"default_sort"`
	PermissionPrefix string      `yaml:"permission_prefix"`
	Attachable       []string    `yaml:"attachable"`
	Locales          []string    `yaml:"locales"`
	Filters          []Filter    `yaml:"filters"`
	Actions          []RowAction `yaml:"actions"`
	BeforeSave       []string    `yaml:"before_save"`
}

// LoadDefinitions decodes YAML entity definitions. Hook specs in before_save
// take the form "name:arg:arg" and are resolved against hooks; a nil table
// means DefaultHooks.
func LoadDefinitions(r io.Reader, hooks map[string]HookFactory) ([]EntityConfig, error) {
	if hooks == nil {
		hooks = DefaultHooks()
	}
	var file definitionFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: decode definitions: %v", ErrInvalidConfig, err)
	}

	configs := make([]EntityConfig, 0, len(file.Entities))
	for _, def := range file.Entities {
		cfg := EntityConfig{
			Type:             def.Type,
			Singular:         def.Singular,
			Plural:           def.Plural,
			Fields:           def.Fields,
			Columns:          def.Columns,
			Searchable:       def.Searchable,
			With:             def.With,
			DefaultSort:      def.DefaultSort,
			PermissionPrefix: def.PermissionPrefix,
			Attachable:       def.Attachable,
			Locales:          def.Locales,
			Filters:          def.Filters,
			Actions:          def.Actions,
		}
		if cfg.PermissionPrefix == "" {
			cfg.PermissionPrefix = def.Type
		}
		if len(def.BeforeSave) > 0 {
			fns := make([]BeforeSaveFunc, 0, len(def.BeforeSave))
			for _, spec := range def.BeforeSave {
				fn, err := resolveHook(hooks, spec)
				if err != nil {
					return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, def.Type, err)
				}
				fns = append(fns, fn)
			}
			cfg.Hooks.BeforeSave = ChainBeforeSave(fns...)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// LoadFile reads definitions from path and registers them.
func (r *Registry) LoadFile(path string, hooks map[string]HookFactory) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("crud: open definitions: %w", err)
	}
	defer f.Close()
	configs, err := LoadDefinitions(f, hooks)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, cfg := range configs {
		if err := r.Register(cfg); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func resolveHook(hooks map[string]HookFactory, spec string) (BeforeSaveFunc, error) {
	parts := strings.Split(strings.TrimSpace(spec), ":")
	factory, ok := hooks[parts[0]]
	if !ok {
		return nil, fmt.Errorf("unknown hook %q", parts[0])
	}
	return factory(parts[1:])
}
