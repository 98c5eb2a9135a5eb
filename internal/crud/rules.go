package crud

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultRules derives validation rules from the declared fields. Fields
// flagged RequiredOnCreate get "required" on new records and "omitempty" on
// existing ones. Translatable fields are keyed "<field>.<locale>".
func DefaultRules(cfg EntityConfig, rec Record, locale string) map[string]string {
	rules := make(map[string]string, len(cfg.Fields))
	for _, f := range cfg.Fields {
		rule := strings.TrimSpace(f.Rule)
		if f.RequiredOnCreate {
			prefix := "omitempty"
			if rec.IsNew() {
				prefix = "required"
			}
			rule = joinRule(prefix, stripPresence(rule))
		}
		if rule == "" {
			continue
		}
		key := f.Name
		if f.Translatable && locale != "" {
			key = f.Name + "." + locale
		}
		rules[key] = rule
	}
	return rules
}

// Validate checks data against the rules generated for rec in locale and
// returns a *ValidationError listing every failing key.
func (r *Registry) Validate(entityType string, rec Record, locale string, data map[string]any) error {
	rules, err := r.ValidationRules(entityType, rec, locale)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	failed := FieldErrors{}
	for _, key := range keys {
		tag, err := r.runRule(lookup(data, key), rules[key])
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if tag != "" {
			failed[key] = tag
		}
	}
	if len(failed) > 0 {
		return &ValidationError{Fields: failed}
	}
	return nil
}

// runRule returns the failed tag, or "" when value passes. Unknown tags make
// the validator panic; that is reported as ErrInvalidConfig.
func (r *Registry) runRule(value any, rule string) (tag string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: rule %q: %v", ErrInvalidConfig, rule, p)
		}
	}()
	verr := r.validate.Var(value, rule)
	if verr == nil {
		return "", nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(verr, &fieldErrs) && len(fieldErrs) > 0 {
		return fieldErrs[0].Tag(), nil
	}
	return "", fmt.Errorf("%w: rule %q: %v", ErrInvalidConfig, rule, verr)
}

func (r *Registry) checkRule(rule string) error {
	_, err := r.runRule(nil, rule)
	return err
}

func lookup(data map[string]any, key string) any {
	var current any = data
	for _, part := range strings.Split(key, ".") {
		switch m := current.(type) {
		case map[string]any:
			v, ok := m[part]
			if !ok {
				return nil
			}
			current = v
		case map[string]string:
			v, ok := m[part]
			if !ok {
				return nil
			}
			current = v
		default:
			return nil
		}
	}
	return current
}

func stripPresence(rule string) string {
	parts := strings.Split(rule, ",")
	kept := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || p == "required" || p == "omitempty" {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, ",")
}

func joinRule(prefix, rule string) string {
	if rule == "" {
		return prefix
	}
	return prefix + "," + rule
}
