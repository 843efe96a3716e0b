package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaarbd/storefront/internal/platform/i18n"
)

type stubTranslator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubTranslator) Translate(_ context.Context, text, target string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "[" + target + "] " + text, nil
}

func (s *stubTranslator) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestLanguageService(t *testing.T, translator Translator, size int) LanguageService {
	t.Helper()
	bundle, err := i18n.Load()
	require.NoError(t, err)
	svc, err := NewLanguageService(LanguageServiceDeps{Bundle: bundle, Translator: translator, CacheSize: size})
	require.NoError(t, err)
	return svc
}

func TestLanguageMessageFallsBackToEnglish(t *testing.T) {
	svc := newTestLanguageService(t, nil, 0)

	assert.Equal(t, "Your cart is empty.", svc.Message("fr", "checkout.cart_empty"))
	assert.NotEqual(t, svc.Message("en", "checkout.cart_empty"), svc.Message("bn-BD", "checkout.cart_empty"))
	assert.Equal(t, "no.such.key", svc.Message("bn", "no.such.key"))
}

func TestTranslateCachesSuccessfulResults(t *testing.T) {
	translator := &stubTranslator{}
	svc := newTestLanguageService(t, translator, 0)

	assert.Equal(t, "[bn] Saree", svc.Translate(context.Background(), "Saree", "Bangla"))
	assert.Equal(t, "[bn] Saree", svc.Translate(context.Background(), "Saree", "bn"))
	assert.Equal(t, 1, translator.count())

	assert.Equal(t, "[en] Saree", svc.Translate(context.Background(), "Saree", "en"))
	assert.Equal(t, 2, translator.count())
}

func TestTranslateFallsBackToInput(t *testing.T) {
	translator := &stubTranslator{err: errors.New("quota exceeded")}
	svc := newTestLanguageService(t, translator, 0)

	assert.Equal(t, "Saree", svc.Translate(context.Background(), "Saree", "bn"))
	assert.Equal(t, "Saree", svc.Translate(context.Background(), "Saree", "bn"))
	assert.Equal(t, 2, translator.count(), "failures are not cached")

	assert.Equal(t, "Saree", svc.Translate(context.Background(), "Saree", "klingon"))
	assert.Equal(t, "", svc.Translate(context.Background(), "", "bn"))
	assert.Equal(t, 2, translator.count())

	noBackend := newTestLanguageService(t, nil, 0)
	assert.Equal(t, "Saree", noBackend.Translate(context.Background(), "Saree", "bn"))
}

func TestTranslationCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache := newTranslationCache(2)
	cache.put("a", "1")
	cache.put("b", "2")
	_, _ = cache.get("a")
	cache.put("c", "3")

	_, ok := cache.get("b")
	assert.False(t, ok)
	v, ok := cache.get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Equal(t, 2, cache.len())
}
