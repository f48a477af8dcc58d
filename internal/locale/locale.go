// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package locale translates user-facing messages.
package locale

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/cloud"
)

// Message keys.
const (
	ErrAuth      = "errors.auth"
	ErrTimeout   = "errors.timeout"
	ErrRateLimit = "errors.rateLimit"
	ErrUnknown   = "errors.unknown"
	ErrQueued    = "errors.queued"
)

var translations = map[language.Tag]map[string]string{
	language.English: {
		ErrAuth:      "Your session has expired. Please sign in again.",
		ErrTimeout:   "The request timed out. Please try again.",
		ErrRateLimit: "Too many requests. Please wait a moment and try again.",
		ErrUnknown:   "Something went wrong. Please try again.",
		ErrQueued:    "You are offline. The message was queued and will be sent when the connection returns.",
	},
	language.Polish: {
		ErrAuth:      "Sesja wygasła. Zaloguj się ponownie.",
		ErrTimeout:   "Przekroczono czas oczekiwania. Spróbuj ponownie.",
		ErrRateLimit: "Zbyt wiele żądań. Odczekaj chwilę i spróbuj ponownie.",
		ErrUnknown:   "Coś poszło nie tak. Spróbuj ponownie.",
		ErrQueued:    "Brak połączenia. Wiadomość trafiła do kolejki i zostanie wysłana po przywróceniu połączenia.",
	},
}

// Catalog resolves message keys for one language.
type Catalog struct {
	tag     language.Tag
	printer *message.Printer
}

var (
	builder   = newBuilder()
	supported = builder.Languages()
	matcher   = language.NewMatcher(supported)
)

func newBuilder() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, msgs := range translations {
		for key, msg := range msgs {
			// Keys and messages are static and valid.
			_ = b.SetString(tag, key, msg)
		}
	}
	return b
}

// New returns a catalog for the best supported match of lang (e.g. "pl",
// "en-US", "pl_PL.UTF-8"). Unknown or empty values fall back to English.
func New(lang string) *Catalog {
	tag := Match(lang)
	return &Catalog{tag: tag, printer: message.NewPrinter(tag, message.Catalog(builder))}
}

// Match returns the supported language closest to lang.
func Match(lang string) language.Tag {
	lang = normalize(lang)
	if lang == "" {
		return language.English
	}
	requested, _, err := language.ParseAcceptLanguage(lang)
	if err != nil || len(requested) == 0 {
		return language.English
	}
	_, idx, conf := matcher.Match(requested...)
	if conf == language.No {
		return language.English
	}
	return supported[idx]
}

// Tag returns the resolved language.
func (c *Catalog) Tag() language.Tag {
	return c.tag
}

// T returns the translation for key, or key itself if it is unknown.
func (c *Catalog) T(key string) string {
	if c == nil {
		return key
	}
	return c.printer.Sprintf(key)
}

// ErrorKey maps a request failure to its message key.
func ErrorKey(err error) string {
	switch cloud.KindOf(err) {
	case cloud.KindAuth:
		return ErrAuth
	case cloud.KindTimeout:
		return ErrTimeout
	case cloud.KindRateLimit:
		return ErrRateLimit
	default:
		return ErrUnknown
	}
}

// Error returns the user-facing message for a request failure.
func (c *Catalog) Error(err error) string {
	return c.T(ErrorKey(err))
}

// Supported lists the languages with translations.
func Supported() []language.Tag {
	return append([]language.Tag(nil), supported...)
}

// normalize turns POSIX locale strings like "pl_PL.UTF-8" into BCP 47.
func normalize(lang string) string {
	lang = strings.TrimSpace(lang)
	if i := strings.IndexAny(lang, ".@"); i >= 0 {
		lang = lang[:i]
	}
	if lang == "C" || lang == "POSIX" {
		return ""
	}
	return strings.ReplaceAll(lang, "_", "-")
}
