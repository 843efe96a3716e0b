package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/language"

	"github.com/bazaarbd/storefront/internal/platform/requestctx"
)

// Supported UI languages.
const (
	English = "en"
	Bengali = "bn"
)

//go:embed locales/*.json
var locales embed.FS

// Bundle holds the message catalogue for every supported language.
type Bundle struct {
	dict     map[string]map[string]string
	fallback string
	matcher  language.Matcher
	tags     []string
}

// Load reads the embedded catalogues. English is the fallback.
func Load() (*Bundle, error) {
	b := &Bundle{
		dict:     map[string]map[string]string{},
		fallback: English,
		tags:     []string{English, Bengali},
	}
	for _, lang := range b.tags {
		raw, err := locales.ReadFile("locales/" + lang + ".json")
		if err != nil {
			return nil, fmt.Errorf("i18n: load locale %s: %w", lang, err)
		}
		var m map[string]string
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("i18n: unmarshal %s: %w", lang, err)
		}
		b.dict[lang] = m
	}
	b.matcher = language.NewMatcher([]language.Tag{language.English, language.Bengali})
	return b, nil
}

// MustLoad is Load for program initialisation.
func MustLoad() *Bundle {
	b, err := Load()
	if err != nil {
		panic(err)
	}
	return b
}

// T returns the message for key in lang, falling back to English and finally the key itself.
func (b *Bundle) T(lang, key string) string {
	if b == nil {
		return key
	}
	if v, ok := b.dict[lang][key]; ok {
		return v
	}
	if v, ok := b.dict[b.fallback][key]; ok {
		return v
	}
	return key
}

// Resolve picks the best supported language for an Accept-Language header value.
func (b *Bundle) Resolve(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return b.fallback
	}
	_, index, confidence := b.matcher.Match(tags...)
	if confidence == language.No {
		return b.fallback
	}
	return b.tags[index]
}

// Normalize maps free-form input ("bn-BD", "Bangla", "EN") to a supported language, or "".
func (b *Bundle) Normalize(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "":
		return ""
	case "bangla", "bengali":
		return Bengali
	case "english":
		return English
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return ""
	}
	base, _ := tag.Base()
	for _, supported := range b.tags {
		if base.String() == supported {
			return supported
		}
	}
	return ""
}

// Middleware stores the request language on the context. An explicit ?lang=
// wins over Accept-Language so the storefront language toggle is honoured.
func (b *Bundle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang := b.Normalize(r.URL.Query().Get("lang"))
		if lang == "" {
			lang = b.Resolve(r.Header.Get("Accept-Language"))
		}
		w.Header().Set("Content-Language", lang)
		next.ServeHTTP(w, r.WithContext(requestctx.WithLanguage(r.Context(), lang)))
	})
}
