package translate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaarbd/storefront/internal/platform/config"
)

func TestTranslateSendsTextAndTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Add to cart", r.URL.Query().Get("text"))
		assert.Equal(t, "bn", r.URL.Query().Get("target"))
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		_, _ = w.Write([]byte(`{"translation":"কার্টে যোগ করুন"}`))
	}))
	defer srv.Close()

	client := NewClient(config.TranslationConfig{Endpoint: srv.URL + "/translate", APIKey: "secret"})
	got, err := client.Translate(context.Background(), "Add to cart", "bn")
	require.NoError(t, err)
	assert.Equal(t, "কার্টে যোগ করুন", got)
}

func TestTranslateErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("text") == "empty" {
			_, _ = w.Write([]byte(`{"translation":"  "}`))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(config.TranslationConfig{Endpoint: srv.URL})
	_, err := client.Translate(context.Background(), "hello", "bn")
	require.Error(t, err)

	_, err = client.Translate(context.Background(), "empty", "bn")
	require.Error(t, err)

	_, err = NewClient(config.TranslationConfig{}).Translate(context.Background(), "hello", "bn")
	require.ErrorIs(t, err, ErrNotConfigured)
}
