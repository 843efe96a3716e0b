package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bazaarbd/storefront/internal/platform/auth"
	"github.com/bazaarbd/storefront/internal/platform/httpx"
	"github.com/bazaarbd/storefront/internal/platform/requestctx"
	"github.com/bazaarbd/storefront/internal/services"
)

const defaultStreamKeepAlive = 25 * time.Second

// OrderHandlers serves the shopper's order history.
type OrderHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	messages  services.LanguageService
	keepAlive time.Duration
}

// NewOrderHandlers constructs order endpoints.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, messages services.LanguageService) *OrderHandlers {
	return &OrderHandlers{authn: authn, orders: orders, messages: messages, keepAlive: defaultStreamKeepAlive}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/stream", h.streamOrders)
	r.Get("/{orderId}", h.getOrder)
	r.Post("/{orderId}:cancel", h.cancelOrder)
}

type orderListResponse struct {
	Items []orderPayload `json:"items"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderStreamEvent struct {
	Loading bool           `json:"loading"`
	Items   []orderPayload `json:"items"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	limit, ok := parseLimit(ctx, w, r)
	if !ok {
		return
	}
	orders, err := h.orders.ListOrders(ctx, identity.UID, limit)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{Items: buildOrderList(orders)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, identity.UID, chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	order, err := h.orders.CancelOrder(ctx, identity.UID, chi.URLParam(r, "orderId"))
	if errors.Is(err, services.ErrOrderInvalidState) {
		httpx.WriteError(ctx, w, httpx.NewError("cancel_not_allowed", h.message(ctx, "orders.cancel_not_allowed"), http.StatusConflict))
		return
	}
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// streamOrders pushes the order history as server-sent events: one "orders"
// event per snapshot, starting with a loading event, and an "error" event
// before closing when the subscription fails.
func (h *OrderHandlers) streamOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	limit, ok := parseLimit(ctx, w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("streaming_unsupported", "streaming is not supported", http.StatusInternalServerError))
		return
	}
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	stream := h.orders.WatchOrders(ctx, identity.UID, limit)
	defer stream.Stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snap, open := <-stream.Updates():
			if !open {
				return
			}
			if snap.Err != nil {
				requestctx.Logger(ctx).Warn("order stream ended")
				writeSSE(w, "error", map[string]string{"message": h.message(ctx, "common.unavailable")})
				flusher.Flush()
				return
			}
			if err := writeSSE(w, "orders", orderStreamEvent{Loading: snap.Loading, Items: buildOrderList(snap.Data)}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func (h *OrderHandlers) ready(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order_service_unavailable", "order service is unavailable")
		return nil, false
	}
	return requireIdentity(ctx, w)
}

func (h *OrderHandlers) writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	writeOrderError(ctx, w, err, h.message)
}

func (h *OrderHandlers) message(ctx context.Context, key string) string {
	if h.messages == nil {
		return key
	}
	return h.messages.Message(requestctx.Language(ctx), key)
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error, message func(context.Context, string) string) {
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", message(ctx, "orders.not_found"), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message(ctx, "orders.status_invalid"), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", message(ctx, "orders.transition_invalid"), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		writeServiceUnavailable(ctx, w, "order_service_unavailable", message(ctx, "common.unavailable"))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order", http.StatusInternalServerError))
	}
}

func parseLimit(ctx context.Context, w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a non-negative integer", http.StatusBadRequest))
		return 0, false
	}
	return limit, true
}
