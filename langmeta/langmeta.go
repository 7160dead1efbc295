// Package langmeta provides language display metadata (native names and
// emoji flags) for the languages katakana loanwords come from, and splits
// the "<lang>: <word>" glosses the structured backend produces.
package langmeta

import "strings"

// Meta describes language display metadata.
type Meta struct {
	Name string
	Flag string
}

// Registry contains canonical language metadata.
// Locale variants are resolved in Resolve() via normalization and base fallback.
var Registry = map[string]Meta{
	"ar":    {Name: "العربية", Flag: "🇸🇦"},
	"de":    {Name: "Deutsch", Flag: "🇩🇪"},
	"el":    {Name: "Ελληνικά", Flag: "🇬🇷"},
	"en":    {Name: "English", Flag: "🇺🇸"},
	"en-GB": {Name: "English (UK)", Flag: "🇬🇧"},
	"en-US": {Name: "English (US)", Flag: "🇺🇸"},
	"es":    {Name: "Español", Flag: "🇪🇸"},
	"fi":    {Name: "Suomi", Flag: "🇫🇮"},
	"fr":    {Name: "Français", Flag: "🇫🇷"},
	"hi":    {Name: "हिन्दी", Flag: "🇮🇳"},
	"id":    {Name: "Bahasa Indonesia", Flag: "🇮🇩"},
	"it":    {Name: "Italiano", Flag: "🇮🇹"},
	"ja":    {Name: "日本語", Flag: "🇯🇵"},
	"ko":    {Name: "한국어", Flag: "🇰🇷"},
	"la":    {Name: "Latina", Flag: "🇻🇦"},
	"nl":    {Name: "Nederlands", Flag: "🇳🇱"},
	"no":    {Name: "Norsk", Flag: "🇳🇴"},
	"pl":    {Name: "Polski", Flag: "🇵🇱"},
	"pt":    {Name: "Português", Flag: "🇵🇹"},
	"pt-BR": {Name: "Português (Brasil)", Flag: "🇧🇷"},
	"ru":    {Name: "Русский", Flag: "🇷🇺"},
	"sa":    {Name: "संस्कृतम्", Flag: "🇮🇳"},
	"sv":    {Name: "Svenska", Flag: "🇸🇪"},
	"th":    {Name: "ไทย", Flag: "🇹🇭"},
	"tr":    {Name: "Türkçe", Flag: "🇹🇷"},
	"uk":    {Name: "Українська", Flag: "🇺🇦"},
	"vi":    {Name: "Tiếng Việt", Flag: "🇻🇳"},
	"zh":    {Name: "中文", Flag: "🇨🇳"},
	"zh-CN": {Name: "简体中文", Flag: "🇨🇳"},
	"zh-TW": {Name: "繁體中文", Flag: "🇹🇼"},
}

func canonicalize(lang string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if normalized == "" {
		return ""
	}
	parts := strings.Split(normalized, "-")
	parts[0] = strings.ToLower(parts[0])
	if len(parts) >= 2 {
		parts[1] = strings.ToUpper(parts[1])
	}
	return strings.Join(parts, "-")
}

// Resolve returns best-effort language metadata for language codes,
// supporting variants like pt_BR, pt-BR, and locale fallbacks.
func Resolve(lang string) Meta {
	if m, ok := Registry[lang]; ok {
		return m
	}
	normalized := canonicalize(lang)
	if m, ok := Registry[normalized]; ok {
		return m
	}
	if parts := strings.SplitN(normalized, "-", 2); len(parts) == 2 {
		if m, ok := Registry[parts[0]]; ok {
			return m
		}
	}
	return Meta{Name: lang, Flag: ""}
}

// Label renders a language code for the CLI, e.g. "🇯🇵 ja (日本語)".
func Label(lang string) string {
	m := Resolve(lang)
	var b strings.Builder
	if m.Flag != "" {
		b.WriteString(m.Flag)
		b.WriteByte(' ')
	}
	b.WriteString(lang)
	if m.Name != lang {
		b.WriteString(" (")
		b.WriteString(m.Name)
		b.WriteByte(')')
	}
	return b.String()
}

// SplitTagged splits a "<lang>: <word>" gloss. ok is false when the gloss
// has no two- or three-letter language tag, as lexicon glosses never do.
func SplitTagged(gloss string) (lang, word string, ok bool) {
	tag, rest, found := strings.Cut(gloss, ":")
	if !found {
		return "", gloss, false
	}
	tag = strings.TrimSpace(tag)
	if len(tag) < 2 || len(tag) > 3 {
		return "", gloss, false
	}
	for _, r := range tag {
		if r < 'a' || r > 'z' {
			return "", gloss, false
		}
	}
	return tag, strings.TrimSpace(rest), true
}
