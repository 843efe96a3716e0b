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

const maxCheckoutBodySize = 16 * 1024

// CheckoutHandlers turns a cart or a single product into a cash-on-delivery order.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	messages services.LanguageService
}

// NewCheckoutHandlers constructs checkout endpoints.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, messages services.LanguageService) *CheckoutHandlers {
	return &CheckoutHandlers{authn: authn, checkout: checkout, messages: messages}
}

// Routes wires the /checkout endpoint onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.submit)
}

type checkoutRequest struct {
	Source           string `json:"source"`
	ProductID        string `json:"productId"`
	ShippingOptionID string `json:"shippingOptionId"`
	Name             string `json:"name"`
	Phone            string `json:"phone"`
	Address          string `json:"address"`
	Note             string `json:"note"`
}

type checkoutResponse struct {
	Order   orderPayload `json:"order"`
	Message string       `json:"message"`
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w, "checkout_unavailable", "checkout service is unavailable")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req checkoutRequest
	if !decodeJSONBody(w, r, maxCheckoutBodySize, &req) {
		return
	}

	lang := requestctx.Language(ctx)
	flow := services.NewCheckoutFlow(h.checkout)
	flow.Open()
	order, err := flow.Submit(ctx, services.CheckoutCommand{
		UserID:           identity.UID,
		Language:         lang,
		Source:           services.CheckoutSource(strings.ToLower(strings.TrimSpace(req.Source))),
		ProductID:        req.ProductID,
		ShippingOptionID: req.ShippingOptionID,
		Name:             req.Name,
		Phone:            req.Phone,
		Address:          req.Address,
		Note:             req.Note,
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	setNoStore(w)
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, checkoutResponse{
		Order:   buildOrderPayload(order),
		Message: h.message(lang, "checkout.success"),
	})
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	lang := requestctx.Language(ctx)
	var verr *services.CheckoutValidationError
	switch {
	case errors.As(err, &verr):
		fields := make(map[string]any, len(verr.Fields))
		for name, msg := range verr.Fields {
			fields[name] = msg
		}
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", "checkout details are incomplete", http.StatusBadRequest).
			WithDetails(map[string]any{"fields": fields}))
	case errors.Is(err, services.ErrCheckoutCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", h.message(lang, "checkout.cart_empty"), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_in_progress", "a checkout is already being submitted", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		writeServiceUnavailable(ctx, w, "checkout_unavailable", h.message(lang, "checkout.failed"))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", h.message(lang, "checkout.failed"), http.StatusInternalServerError))
	}
}

func (h *CheckoutHandlers) message(lang, key string) string {
	if h.messages == nil {
		return key
	}
	return h.messages.Message(lang, key)
}
