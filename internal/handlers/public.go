package handlers

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/bazaarbd/storefront/internal/platform/httpx"
	"github.com/bazaarbd/storefront/internal/platform/requestctx"
	"github.com/bazaarbd/storefront/internal/services"
)

const maxTranslateChars = 2000

// PublicHandlers serves unauthenticated storefront data.
type PublicHandlers struct {
	settings services.SettingsService
	language services.LanguageService
}

// NewPublicHandlers constructs public endpoints.
func NewPublicHandlers(settings services.SettingsService, language services.LanguageService) *PublicHandlers {
	return &PublicHandlers{settings: settings, language: language}
}

// Routes wires the /public endpoints onto the provided router.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/shipping-options", h.listShippingOptions)
	r.Get("/translate", h.translate)
}

type shippingOptionsResponse struct {
	Items []shippingOptionPayload `json:"items"`
}

func (h *PublicHandlers) listShippingOptions(w http.ResponseWriter, r *http.Request) {
	if h.settings == nil {
		writeServiceUnavailable(r.Context(), w, "settings_unavailable", "settings service is unavailable")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	httpx.WriteJSON(w, http.StatusOK, shippingOptionsResponse{
		Items: buildShippingOptions(h.settings.Current().ShippingOptions),
	})
}

type translateResponse struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

func (h *PublicHandlers) translate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	text := r.URL.Query().Get("text")
	if strings.TrimSpace(text) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "text is required", http.StatusBadRequest))
		return
	}
	if utf8.RuneCountInString(text) > maxTranslateChars {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "text is too long", http.StatusBadRequest))
		return
	}
	lang := strings.TrimSpace(r.URL.Query().Get("lang"))
	if lang == "" {
		lang = requestctx.Language(ctx)
	}

	translated := text
	if h.language != nil {
		translated = h.language.Translate(ctx, text, lang)
	}
	httpx.WriteJSON(w, http.StatusOK, translateResponse{Text: translated, Lang: lang})
}
