package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/bazaarbd/storefront/internal/domain"
	"github.com/bazaarbd/storefront/internal/platform/auth"
	"github.com/bazaarbd/storefront/internal/platform/requestctx"
	"github.com/bazaarbd/storefront/internal/services"
)

func TestCartHandlersGetCartSuccess(t *testing.T) {
	inside := domain.ShippingOption{ID: "a", Label: "Inside Dhaka", Price: domain.Taka(70, 0)}
	service := &stubCartService{
		quoteFunc: func(_ context.Context, sessionID, shippingID string) (services.CartQuote, error) {
			if sessionID != "user-7" {
				t.Fatalf("unexpected session id %q", sessionID)
			}
			if shippingID != "a" {
				t.Fatalf("expected shipping option a, got %q", shippingID)
			}
			return services.CartQuote{
				Items: []domain.CartLineItem{
					{ProductID: "saree", Name: "Jamdani Saree", UnitPrice: domain.Taka(1200, 0), Quantity: 2},
					{ProductID: "gamcha", Name: "Gamcha", UnitPrice: domain.Taka(750, 0), Quantity: 1},
				},
				Count:           3,
				ShippingOptions: []domain.ShippingOption{inside},
				Shipping:        &inside,
				Totals: domain.CheckoutTotals{
					Subtotal:     domain.Taka(3150, 0),
					ShippingCost: domain.Taka(70, 0),
					Total:        domain.Taka(3220, 0),
				},
			}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/cart", NewCartHandlers(nil, service, nil).Routes)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/cart?shipping=a", nil), "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if cc := rr.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("expected no-store cache control, got %q", cc)
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cart.Count != 3 || len(resp.Cart.Items) != 2 {
		t.Fatalf("unexpected cart contents %#v", resp.Cart)
	}
	if resp.Cart.Items[0].LineTotal != domain.Taka(2400, 0) {
		t.Fatalf("expected line total 2400.00, got %s", resp.Cart.Items[0].LineTotal)
	}
	if resp.Cart.Totals.Total != domain.Taka(3220, 0) {
		t.Fatalf("expected total 3220.00, got %s", resp.Cart.Totals.Total)
	}
	if resp.Cart.Shipping == nil || resp.Cart.Shipping.ID != "a" {
		t.Fatalf("expected selected shipping a, got %#v", resp.Cart.Shipping)
	}
	if !strings.Contains(rr.Body.String(), `"total":"3220.00"`) {
		t.Fatalf("expected money encoded as decimal string, got %s", rr.Body.String())
	}
}

func TestCartHandlersUnauthenticated(t *testing.T) {
	handler := NewCartHandlers(nil, &stubCartService{}, nil)
	rr := httptest.NewRecorder()
	handler.getCart(rr, httptest.NewRequest(http.MethodGet, "/cart", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersServiceUnavailable(t *testing.T) {
	handler := NewCartHandlers(nil, nil, nil)
	rr := httptest.NewRecorder()
	handler.getCart(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/cart", nil), "user-1"))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	var added string
	service := &stubCartService{
		addFunc: func(_ context.Context, sessionID, productID string) (services.CartQuote, error) {
			added = productID
			return services.CartQuote{
				Items: []domain.CartLineItem{{ProductID: productID, Name: "Gamcha", UnitPrice: domain.Taka(750, 0), Quantity: 1}},
				Count: 1,
			}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/cart", NewCartHandlers(nil, service, nil).Routes)

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"productId":"gamcha"}`)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if added != "gamcha" {
		t.Fatalf("expected gamcha to be added, got %q", added)
	}
}

func TestCartHandlersAddItemErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{name: "missing product", body: `{}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "invalid json", body: `{`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "empty body", body: ``, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown product", body: `{"productId":"nope"}`, err: services.ErrCartProductNotFound, status: http.StatusNotFound, code: "product_not_found"},
		{name: "store unavailable", body: `{"productId":"saree"}`, err: services.ErrCartUnavailable, status: http.StatusServiceUnavailable, code: "cart_service_unavailable"},
		{name: "unexpected", body: `{"productId":"saree"}`, err: errors.New("boom"), status: http.StatusInternalServerError, code: "cart_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubCartService{
				addFunc: func(context.Context, string, string) (services.CartQuote, error) {
					return services.CartQuote{}, tc.err
				},
			}
			router := chi.NewRouter()
			router.Route("/cart", NewCartHandlers(nil, service, nil).Routes)

			req := withIdentity(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(tc.body)), "user-1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("expected error code %q, got %q", tc.code, code)
			}
		})
	}
}

func TestCartHandlersProductNotFoundLocalized(t *testing.T) {
	service := &stubCartService{
		addFunc: func(context.Context, string, string) (services.CartQuote, error) {
			return services.CartQuote{}, fmt.Errorf("%w: nope", services.ErrCartProductNotFound)
		},
	}
	messages := &stubLanguageService{messages: map[string]string{"bn:cart.product_not_found": "পণ্যটি পাওয়া যায়নি"}}
	router := chi.NewRouter()
	router.Route("/cart", NewCartHandlers(nil, service, messages).Routes)

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"productId":"nope"}`)), "user-1")
	req = req.WithContext(requestctx.WithLanguage(req.Context(), "bn"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["message"] != "পণ্যটি পাওয়া যায়নি" {
		t.Fatalf("expected bengali message, got %v", body["message"])
	}
}

func TestCartHandlersUpdateQuantity(t *testing.T) {
	var gotProduct string
	var gotQuantity int
	service := &stubCartService{
		updateFunc: func(_ context.Context, _ string, productID string, quantity int) (services.CartQuote, error) {
			gotProduct, gotQuantity = productID, quantity
			if quantity > 999 {
				return services.CartQuote{}, services.ErrCartInvalidInput
			}
			return services.CartQuote{}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/cart", NewCartHandlers(nil, service, nil).Routes)

	req := withIdentity(httptest.NewRequest(http.MethodPut, "/cart/items/saree", strings.NewReader(`{"quantity":0}`)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if gotProduct != "saree" || gotQuantity != 0 {
		t.Fatalf("unexpected update %q x%d", gotProduct, gotQuantity)
	}

	req = withIdentity(httptest.NewRequest(http.MethodPut, "/cart/items/saree", strings.NewReader(`{}`)), "user-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for missing quantity, got %d", rr.Code)
	}

	req = withIdentity(httptest.NewRequest(http.MethodPut, "/cart/items/saree", strings.NewReader(`{"quantity":1000}`)), "user-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for oversize quantity, got %d", rr.Code)
	}
}

func TestCartHandlersRemoveAndClear(t *testing.T) {
	var removed string
	cleared := false
	service := &stubCartService{
		removeFunc: func(_ context.Context, _ string, productID string) (services.CartQuote, error) {
			removed = productID
			return services.CartQuote{}, nil
		},
		clearFunc: func(context.Context, string) error {
			cleared = true
			return nil
		},
	}
	router := chi.NewRouter()
	router.Route("/cart", NewCartHandlers(nil, service, nil).Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodDelete, "/cart/items/gamcha", nil), "user-1"))
	if rr.Code != http.StatusOK || removed != "gamcha" {
		t.Fatalf("expected gamcha removed with 200, got %d %q", rr.Code, removed)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodDelete, "/cart", nil), "user-1"))
	if rr.Code != http.StatusNoContent || !cleared {
		t.Fatalf("expected cart cleared with 204, got %d", rr.Code)
	}
}

func withIdentity(req *http.Request, uid string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body %q: %v", rr.Body.String(), err)
	}
	code, _ := body["error"].(string)
	return code
}

type stubCartService struct {
	quoteFunc  func(ctx context.Context, sessionID, shippingOptionID string) (services.CartQuote, error)
	addFunc    func(ctx context.Context, sessionID, productID string) (services.CartQuote, error)
	updateFunc func(ctx context.Context, sessionID, productID string, quantity int) (services.CartQuote, error)
	removeFunc func(ctx context.Context, sessionID, productID string) (services.CartQuote, error)
	clearFunc  func(ctx context.Context, sessionID string) error
}

func (s *stubCartService) Quote(ctx context.Context, sessionID, shippingOptionID string) (services.CartQuote, error) {
	if s.quoteFunc != nil {
		return s.quoteFunc(ctx, sessionID, shippingOptionID)
	}
	return services.CartQuote{}, nil
}

func (s *stubCartService) AddItem(ctx context.Context, sessionID, productID string) (services.CartQuote, error) {
	if s.addFunc != nil {
		return s.addFunc(ctx, sessionID, productID)
	}
	return services.CartQuote{}, nil
}

func (s *stubCartService) UpdateQuantity(ctx context.Context, sessionID, productID string, quantity int) (services.CartQuote, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, sessionID, productID, quantity)
	}
	return services.CartQuote{}, nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, sessionID, productID string) (services.CartQuote, error) {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, sessionID, productID)
	}
	return services.CartQuote{}, nil
}

func (s *stubCartService) Clear(ctx context.Context, sessionID string) error {
	if s.clearFunc != nil {
		return s.clearFunc(ctx, sessionID)
	}
	return nil
}

func (s *stubCartService) RemoveOrdered(context.Context, string, []domain.CartLineItem) error {
	return nil
}

func (s *stubCartService) Items(context.Context, string) ([]domain.CartLineItem, error) {
	return nil, nil
}

func (s *stubCartService) Sweep(context.Context) int { return 0 }

func (s *stubCartService) Close(context.Context) error { return nil }

type stubLanguageService struct {
	messages map[string]string
}

func (s *stubLanguageService) Message(lang, key string) string {
	if msg, ok := s.messages[lang+":"+key]; ok {
		return msg
	}
	return key
}

func (s *stubLanguageService) Translate(_ context.Context, text, lang string) string {
	if msg, ok := s.messages[lang+":"+text]; ok {
		return msg
	}
	return text
}
