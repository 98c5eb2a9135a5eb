package crud

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slugify lowercases s, strips diacritics and joins alphanumeric runs with "-".
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// SlugFrom fills target from source when target is empty. Translatable
// sources use the value of the first locale in sorted order.
func SlugFrom(source, target string) BeforeSaveFunc {
	return func(rec Record, _ map[string]any) (Record, error) {
		if s, _ := rec.Values[target].(string); strings.TrimSpace(s) != "" {
			return rec, nil
		}
		text := stringValue(rec.Values[source])
		if text == "" {
			return rec, nil
		}
		rec.Values[target] = Slugify(text)
		return rec, nil
	}
}

// Lowercase lowercases the named string fields.
func Lowercase(fields ...string) BeforeSaveFunc {
	return func(rec Record, _ map[string]any) (Record, error) {
		for _, f := range fields {
			if s, ok := rec.Values[f].(string); ok {
				rec.Values[f] = strings.ToLower(strings.TrimSpace(s))
			}
		}
		return rec, nil
	}
}

// ChainBeforeSave runs fns in order, feeding each the previous result.
func ChainBeforeSave(fns ...BeforeSaveFunc) BeforeSaveFunc {
	return func(rec Record, data map[string]any) (Record, error) {
		var err error
		for _, fn := range fns {
			if rec, err = fn(rec, data); err != nil {
				return Record{}, err
			}
		}
		return rec, nil
	}
}

// HookFactory builds a save hook from the arguments of a "name:arg:arg" spec.
type HookFactory func(args []string) (BeforeSaveFunc, error)

// DefaultHooks is the hook table definition files may reference.
func DefaultHooks() map[string]HookFactory {
	return map[string]HookFactory{
		"slug": func(args []string) (BeforeSaveFunc, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("slug takes source and target, got %d args", len(args))
			}
			return SlugFrom(args[0], args[1]), nil
		},
		"lowercase": func(args []string) (BeforeSaveFunc, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("lowercase needs at least one field")
			}
			return Lowercase(args...), nil
		},
	}
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case map[string]any:
		for _, k := range sortedKeys(val) {
			if s, ok := val[k].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	case map[string]string:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s := strings.TrimSpace(val[k]); s != "" {
				return s
			}
		}
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
