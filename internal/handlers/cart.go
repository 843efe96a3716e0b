package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bazaarbd/storefront/internal/platform/auth"
	"github.com/bazaarbd/storefront/internal/platform/httpx"
	"github.com/bazaarbd/storefront/internal/platform/requestctx"
	"github.com/bazaarbd/storefront/internal/services"
)

const maxCartBodySize = 4 * 1024

// CartHandlers exposes the session cart of the authenticated (possibly anonymous) shopper.
type CartHandlers struct {
	authn    *auth.Authenticator
	carts    services.CartService
	messages services.LanguageService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, messages services.LanguageService) *CartHandlers {
	return &CartHandlers{authn: authn, carts: carts, messages: messages}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Put("/items/{productId}", h.updateItem)
	r.Delete("/items/{productId}", h.removeItem)
}

type addCartItemRequest struct {
	ProductID string `json:"productId"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	quote, err := h.carts.Quote(ctx, identity.UID, strings.TrimSpace(r.URL.Query().Get("shipping")))
	h.respond(ctx, w, quote, err)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	var req addCartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId is required", http.StatusBadRequest))
		return
	}
	quote, err := h.carts.AddItem(ctx, identity.UID, req.ProductID)
	h.respond(ctx, w, quote, err)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	var req updateCartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", h.message(ctx, "cart.quantity_invalid"), http.StatusBadRequest))
		return
	}
	quote, err := h.carts.UpdateQuantity(ctx, identity.UID, chi.URLParam(r, "productId"), *req.Quantity)
	h.respond(ctx, w, quote, err)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	quote, err := h.carts.RemoveItem(ctx, identity.UID, chi.URLParam(r, "productId"))
	h.respond(ctx, w, quote, err)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	if err := h.carts.Clear(ctx, identity.UID); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) ready(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart_service_unavailable", "cart service is unavailable")
		return nil, false
	}
	return requireIdentity(ctx, w)
}

func (h *CartHandlers) respond(ctx context.Context, w http.ResponseWriter, quote services.CartQuote, err error) {
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: buildCartPayload(quote)})
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", h.message(ctx, "cart.product_not_found"), http.StatusNotFound))
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartUnavailable):
		writeServiceUnavailable(ctx, w, "cart_service_unavailable", h.message(ctx, "common.unavailable"))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to update cart", http.StatusInternalServerError))
	}
}

func (h *CartHandlers) message(ctx context.Context, key string) string {
	if h.messages == nil {
		return key
	}
	return h.messages.Message(requestctx.Language(ctx), key)
}
