package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/bazaarbd/storefront/internal/domain"
	"github.com/bazaarbd/storefront/internal/platform/auth"
	"github.com/bazaarbd/storefront/internal/platform/httpx"
	"github.com/bazaarbd/storefront/internal/platform/storage"
	"github.com/bazaarbd/storefront/internal/services"
)

const (
	maxAdminBodySize  = 32 * 1024
	maxUploadBodySize = 6 << 20
)

// ImageUploader stores catalogue images.
type ImageUploader interface {
	Upload(ctx context.Context, purpose storage.ImagePurpose, contentType string, body io.Reader) (storage.UploadResult, error)
}

// AdminHandlers serves staff-only order and settings management.
type AdminHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	settings services.SettingsService
	uploader ImageUploader
}

// NewAdminHandlers constructs admin endpoints restricted to staff and admin roles.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, settings services.SettingsService, uploader ImageUploader) *AdminHandlers {
	return &AdminHandlers{authn: authn, orders: orders, settings: settings, uploader: uploader}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Patch("/orders/{orderId}", h.updateOrderStatus)
	r.Get("/settings", h.getSettings)
	r.Put("/settings", h.putSettings)
	r.Post("/uploads", h.uploadImage)
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

type settingsPayload struct {
	ShippingOptions []shippingOptionPayload `json:"shippingOptions"`
	Greetings       map[string]string       `json:"greetings"`
	UpdatedAt       string                  `json:"updatedAt,omitempty"`
}

type settingsResponse struct {
	Settings settingsPayload `json:"settings"`
}

type uploadResponse struct {
	Object string `json:"object"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
}

func (h *AdminHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order_service_unavailable", "order service is unavailable")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req updateOrderStatusRequest
	if !decodeJSONBody(w, r, maxAdminBodySize, &req) {
		return
	}
	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID: chi.URLParam(r, "orderId"),
		Status:  req.Status,
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err, func(_ context.Context, key string) string { return adminMessages[key] })
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

var adminMessages = map[string]string{
	"orders.not_found":          "order not found",
	"orders.status_invalid":     "status is not a recognised order status",
	"orders.transition_invalid": "order cannot move to the requested status",
	"common.unavailable":        "order service is unavailable",
}

func (h *AdminHandlers) getSettings(w http.ResponseWriter, r *http.Request) {
	if h.settings == nil {
		writeServiceUnavailable(r.Context(), w, "settings_unavailable", "settings service is unavailable")
		return
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, settingsResponse{Settings: buildSettingsPayload(h.settings.Current())})
}

func (h *AdminHandlers) putSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		writeServiceUnavailable(ctx, w, "settings_unavailable", "settings service is unavailable")
		return
	}
	var req settingsPayload
	if !decodeJSONBody(w, r, maxAdminBodySize, &req) {
		return
	}
	input := domain.StoreSettings{
		ShippingOptions: make([]domain.ShippingOption, 0, len(req.ShippingOptions)),
		Greetings:       make(map[domain.OrderStatus]string, len(req.Greetings)),
	}
	for _, option := range req.ShippingOptions {
		input.ShippingOptions = append(input.ShippingOptions, domain.ShippingOption{ID: option.ID, Label: option.Label, Price: option.Price})
	}
	for status, greeting := range req.Greetings {
		input.Greetings[domain.OrderStatus(status)] = greeting
	}

	saved, err := h.settings.Save(ctx, input)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSettingsInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_settings", err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrSettingsUnavailable):
			writeServiceUnavailable(ctx, w, "settings_unavailable", "settings could not be saved")
		default:
			httpx.WriteError(ctx, w, httpx.NewError("settings_error", "failed to save settings", http.StatusInternalServerError))
		}
		return
	}
	httpx.WriteJSON(w, http.StatusOK, settingsResponse{Settings: buildSettingsPayload(saved)})
}

func (h *AdminHandlers) uploadImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.uploader == nil {
		writeServiceUnavailable(ctx, w, "uploads_unavailable", "image uploads are not configured")
		return
	}
	purpose, ok := storage.ParsePurpose(r.URL.Query().Get("purpose"))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "purpose must be product or banner", http.StatusBadRequest))
		return
	}
	contentType := strings.TrimSpace(r.Header.Get("Content-Type"))
	if contentType == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "Content-Type header is required", http.StatusBadRequest))
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxUploadBodySize)
	defer body.Close()
	result, err := h.uploader.Upload(ctx, purpose, contentType, body)
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, storage.ErrContentTypeDenied):
			httpx.WriteError(ctx, w, httpx.NewError("unsupported_media_type", "only jpeg, png, webp and gif images are accepted", http.StatusUnsupportedMediaType))
		case errors.Is(err, storage.ErrImageTooLarge), errors.As(err, &maxErr):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "image exceeds the upload limit", http.StatusRequestEntityTooLarge))
		default:
			writeServiceUnavailable(ctx, w, "upload_failed", "image could not be stored")
		}
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, uploadResponse{Object: result.Object, URL: result.URL, Size: result.Size})
}

func buildSettingsPayload(settings domain.StoreSettings) settingsPayload {
	payload := settingsPayload{
		ShippingOptions: buildShippingOptions(settings.ShippingOptions),
		Greetings:       make(map[string]string, len(settings.Greetings)),
	}
	for status, greeting := range settings.Greetings {
		payload.Greetings[string(status)] = greeting
	}
	if !settings.UpdatedAt.IsZero() {
		payload.UpdatedAt = settings.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return payload
}
