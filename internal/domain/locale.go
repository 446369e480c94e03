package domain

import "strings"

const DefaultLocale = "en"

var supportedLocales = map[string]struct{}{
	"en": {},
	"fr": {},
	"es": {},
}

// NormalizeLocale maps "fr-CA", "es_MX", " FR " and friends onto a supported locale,
// falling back to DefaultLocale.
func NormalizeLocale(locale string) string {
	locale = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(locale)), "_", "-")
	if base, _, found := strings.Cut(locale, "-"); found {
		locale = base
	}
	if _, ok := supportedLocales[locale]; ok {
		return locale
	}
	return DefaultLocale
}
