// Package i18n provides internationalization support for kataterm's own
// messages.
//
// It wraps the gotext library to provide simple T() and N() functions
// for translating the CLI's user-facing strings. Translations are embedded
// in the binary via //go:embed and loaded at startup via Init().
//
// Usage:
//
//	import "github.com/minios-linux/kataterm/i18n"
//
//	func main() {
//	    i18n.Init("")  // auto-detect from LANGUAGE/LC_ALL/LC_MESSAGES/LANG
//	    fmt.Println(i18n.T("Annotated document written to %s"))
//	    fmt.Println(i18n.N("%d phrase", "%d phrases", count))
//	}
package i18n

import (
	"embed"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/leonelquinteros/gotext"
)

// locales embeds the compiled .po/.mo translation files.
// Directory structure: locales/{lang}/LC_MESSAGES/kataterm.po
//
//go:embed all:locales
var locales embed.FS

// domain is the gettext domain name.
const domain = "kataterm"

// po is the gotext locale object used for translations.
var po *gotext.Locale

// Init initializes the i18n system. If lang is empty, it auto-detects
// from the environment variables LANGUAGE, LC_ALL, LC_MESSAGES, LANG
// (in that order, matching GNU gettext behavior).
//
// Init should be called once at program startup, before any T() or N() calls.
func Init(lang string) {
	if lang == "" {
		lang = detectLanguage()
	}

	po = gotext.NewLocaleFSWithPath(lang, locales, "locales")
	po.AddDomain(domain)
	po.SetDomain(domain)
}

// noArgs keeps gotext from formatting: a msgid is returned with its verbs
// intact for the caller to fill in.
var noArgs []any

// T translates a string. If no translation is available, returns the
// original string unchanged (standard gettext passthrough behavior).
func T(msgid string) string {
	if po == nil {
		return msgid
	}
	return po.Get(msgid, noArgs...)
}

// N translates a string with plural forms. The singular form is used
// when n == 1, the plural form otherwise (exact rules depend on the
// target language's plural formula).
func N(singular, plural string, n int) string {
	if po == nil {
		if n == 1 {
			return singular
		}
		return plural
	}
	return po.GetN(singular, plural, n, noArgs...)
}

// Languages lists the languages the CLI speaks: the untranslated "en"
// plus every embedded catalog.
func Languages() []string {
	langs := []string{"en"}
	entries, err := fs.ReadDir(locales, "locales")
	if err != nil {
		return langs
	}
	for _, e := range entries {
		if e.IsDir() && e.Name() != "en" {
			langs = append(langs, e.Name())
		}
	}
	sort.Strings(langs[1:])
	return langs
}

// detectLanguage reads environment variables to determine the user's
// preferred language, following GNU gettext conventions.
func detectLanguage() string {
	// GNU gettext priority: LANGUAGE > LC_ALL > LC_MESSAGES > LANG
	for _, env := range []string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		if val := os.Getenv(env); val != "" {
			// LANGUAGE can be a colon-separated list; take the first
			if env == "LANGUAGE" {
				parts := strings.SplitN(val, ":", 2)
				val = parts[0]
			}
			// Strip encoding suffix (e.g. "ru_RU.UTF-8" -> "ru_RU")
			if idx := strings.IndexByte(val, '.'); idx >= 0 {
				val = val[:idx]
			}
			// "C" and "POSIX" mean no translation
			if val == "C" || val == "POSIX" || val == "" {
				continue
			}
			return val
		}
	}
	return "en"
}
