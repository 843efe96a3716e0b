package services

import (
	"container/list"
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/bazaarbd/storefront/internal/platform/i18n"
)

const defaultTranslationCacheSize = 1024

// Translator calls a machine translation backend.
type Translator interface {
	Translate(ctx context.Context, text, target string) (string, error)
}

// LanguageServiceDeps wires the message bundle and the translation backend.
type LanguageServiceDeps struct {
	Bundle     *i18n.Bundle
	Translator Translator
	CacheSize  int
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type languageService struct {
	bundle     *i18n.Bundle
	translator Translator
	logger     func(ctx context.Context, event string, fields map[string]any)
	cache      *translationCache
}

// NewLanguageService constructs a LanguageService.
func NewLanguageService(deps LanguageServiceDeps) (LanguageService, error) {
	if deps.Bundle == nil {
		return nil, errors.New("language service: bundle is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	size := deps.CacheSize
	if size <= 0 {
		size = defaultTranslationCacheSize
	}
	return &languageService{
		bundle:     deps.Bundle,
		translator: deps.Translator,
		logger:     logger,
		cache:      newTranslationCache(size),
	}, nil
}

func (s *languageService) Message(lang, key string) string {
	return s.bundle.T(s.language(lang), key)
}

// Translate returns text rendered in lang. Any failure yields the input
// unchanged; only successful translations are cached.
func (s *languageService) Translate(ctx context.Context, text, lang string) string {
	if strings.TrimSpace(text) == "" || s.translator == nil {
		return text
	}
	target := s.bundle.Normalize(lang)
	if target == "" {
		return text
	}

	key := target + "\x00" + text
	if cached, ok := s.cache.get(key); ok {
		return cached
	}
	translated, err := s.translator.Translate(ctx, text, target)
	if err != nil {
		s.logger(ctx, "language.translate_failed", map[string]any{
			"target": target,
			"chars":  len([]rune(text)),
			"error":  err.Error(),
		})
		return text
	}
	s.cache.put(key, translated)
	return translated
}

func (s *languageService) language(lang string) string {
	if normalized := s.bundle.Normalize(lang); normalized != "" {
		return normalized
	}
	return i18n.English
}

// translationCache is a fixed-size LRU keyed by target language and text.
type translationCache struct {
	mu    sync.Mutex
	limit int
	order *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	key   string
	value string
}

func newTranslationCache(limit int) *translationCache {
	return &translationCache{
		limit: limit,
		order: list.New(),
		items: make(map[string]*list.Element, limit),
	}
}

func (c *translationCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).value, true
}

func (c *translationCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		elem.Value.(*cacheEntry).value = value
		c.order.MoveToFront(elem)
		return
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, value: value})
	for c.order.Len() > c.limit {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *translationCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
