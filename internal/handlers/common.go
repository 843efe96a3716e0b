package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/bazaarbd/storefront/internal/domain"
	"github.com/bazaarbd/storefront/internal/platform/auth"
	"github.com/bazaarbd/storefront/internal/platform/httpx"
	"github.com/bazaarbd/storefront/internal/services"
)

const defaultMaxBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and decodes a bounded JSON body, writing the error
// response itself when it fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return false
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, http.StatusServiceUnavailable))
}

func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
}

type shippingOptionPayload struct {
	ID    string       `json:"id"`
	Label string       `json:"label"`
	Price domain.Money `json:"price"`
}

type cartItemPayload struct {
	ProductID string       `json:"productId"`
	Name      string       `json:"name"`
	UnitPrice domain.Money `json:"unitPrice"`
	ImageURL  string       `json:"imageUrl,omitempty"`
	Quantity  int          `json:"quantity"`
	LineTotal domain.Money `json:"lineTotal"`
}

type totalsPayload struct {
	Subtotal     domain.Money `json:"subtotal"`
	ShippingCost domain.Money `json:"shippingCost"`
	Total        domain.Money `json:"total"`
}

type cartPayload struct {
	Items           []cartItemPayload       `json:"items"`
	Count           int                     `json:"count"`
	ShippingOptions []shippingOptionPayload `json:"shippingOptions"`
	Shipping        *shippingOptionPayload  `json:"shipping,omitempty"`
	Totals          totalsPayload           `json:"totals"`
}

type orderItemPayload struct {
	ProductID string       `json:"productId"`
	Name      string       `json:"name"`
	Quantity  int          `json:"quantity"`
	Price     domain.Money `json:"price"`
	ImageURL  string       `json:"imageUrl,omitempty"`
}

type orderCustomerPayload struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type orderShippingPayload struct {
	ID    string       `json:"id"`
	Label string       `json:"label"`
	Cost  domain.Money `json:"cost"`
}

type orderPayload struct {
	ID        string                `json:"id"`
	Status    string                `json:"status"`
	Customer  orderCustomerPayload  `json:"customer"`
	Shipping  *orderShippingPayload `json:"shipping,omitempty"`
	Note      string                `json:"note,omitempty"`
	Subtotal  domain.Money          `json:"subtotal"`
	Total     domain.Money          `json:"total"`
	Items     []orderItemPayload    `json:"items"`
	CreatedAt string                `json:"createdAt"`
	UpdatedAt string                `json:"updatedAt,omitempty"`
}

func buildShippingOptions(options []domain.ShippingOption) []shippingOptionPayload {
	out := make([]shippingOptionPayload, 0, len(options))
	for _, option := range options {
		out = append(out, shippingOptionPayload{ID: option.ID, Label: option.Label, Price: option.Price})
	}
	return out
}

func buildCartPayload(quote services.CartQuote) cartPayload {
	payload := cartPayload{
		Items:           make([]cartItemPayload, 0, len(quote.Items)),
		Count:           quote.Count,
		ShippingOptions: buildShippingOptions(quote.ShippingOptions),
		Totals: totalsPayload{
			Subtotal:     quote.Totals.Subtotal,
			ShippingCost: quote.Totals.ShippingCost,
			Total:        quote.Totals.Total,
		},
	}
	for _, item := range quote.Items {
		payload.Items = append(payload.Items, cartItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			ImageURL:  item.ImageURL,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal(),
		})
	}
	if quote.Shipping != nil {
		payload.Shipping = &shippingOptionPayload{ID: quote.Shipping.ID, Label: quote.Shipping.Label, Price: quote.Shipping.Price}
	}
	return payload
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:     order.ID,
		Status: string(order.Status),
		Customer: orderCustomerPayload{
			Name:    order.Customer.Name,
			Phone:   order.Customer.Phone,
			Address: order.Customer.Address,
		},
		Note:      order.Note,
		Subtotal:  order.Subtotal,
		Total:     order.Total,
		Items:     make([]orderItemPayload, 0, len(order.Items)),
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}
	if order.Shipping.OptionID != "" {
		payload.Shipping = &orderShippingPayload{
			ID:    order.Shipping.OptionID,
			Label: order.Shipping.Label,
			Cost:  order.Shipping.Cost,
		}
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.Price,
			ImageURL:  item.ImageURL,
		})
	}
	return payload
}

func buildOrderList(orders []domain.Order) []orderPayload {
	out := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		out = append(out, buildOrderPayload(order))
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
