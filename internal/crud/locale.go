package crud

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

func checkLocales(locales []string) error {
	seen := make(map[string]struct{}, len(locales))
	for _, l := range locales {
		tag, err := language.Parse(l)
		if err != nil {
			return fmt.Errorf("locale %q: %v", l, err)
		}
		key := tag.String()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate locale %q", l)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// ResolveLocale returns the config locale equal to locale, or the first
// configured locale when locale is not supported. Configs without locales
// resolve to "".
func ResolveLocale(cfg EntityConfig, locale string) string {
	if len(cfg.Locales) == 0 {
		return ""
	}
	want := normalizeLocale(locale)
	for _, l := range cfg.Locales {
		if normalizeLocale(l) == want {
			return l
		}
	}
	return cfg.Locales[0]
}

// MatchLocale picks the config locale that best serves an Accept-Language
// header value, falling back to the first configured locale.
func MatchLocale(cfg EntityConfig, acceptLanguage string) string {
	if len(cfg.Locales) == 0 {
		return ""
	}
	supported := make([]language.Tag, 0, len(cfg.Locales))
	for _, l := range cfg.Locales {
		supported = append(supported, language.Make(l))
	}
	desired, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(desired) == 0 {
		return cfg.Locales[0]
	}
	_, idx, confidence := language.NewMatcher(supported).Match(desired...)
	if confidence == language.No {
		return cfg.Locales[0]
	}
	return cfg.Locales[idx]
}

func normalizeLocale(l string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(l), "_", "-"))
}
