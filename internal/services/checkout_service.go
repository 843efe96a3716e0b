package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	domain "github.com/bazaarbd/storefront/internal/domain"
	"github.com/bazaarbd/storefront/internal/platform/metrics"
	"github.com/bazaarbd/storefront/internal/platform/textutil"
	"github.com/bazaarbd/storefront/internal/repositories"
)

const (
	maxCheckoutNoteLength     = 1000
	defaultCheckoutPhoneCode  = "880"
	checkoutFieldName         = "name"
	checkoutFieldPhone        = "phone"
	checkoutFieldAddress      = "address"
	checkoutFieldNote         = "note"
	checkoutFieldShipping     = "shippingOptionId"
	checkoutFieldProduct      = "productId"
	checkoutFieldSource       = "source"
	checkoutMessageFallbackLn = "en"
)

var (
	// ErrCheckoutInvalidInput indicates the submission failed validation.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutCartEmpty indicates there is nothing to order.
	ErrCheckoutCartEmpty = errors.New("checkout: cart empty")
	// ErrCheckoutUnavailable indicates the order could not be written.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutInProgress indicates the session already has a submission in flight.
	ErrCheckoutInProgress = errors.New("checkout: submission in progress")
)

var checkoutTracer = otel.Tracer("github.com/bazaarbd/storefront/internal/services")

// CheckoutValidationError lists the fields that failed validation with
// messages in the shopper's language.
type CheckoutValidationError struct {
	Fields map[string]string
}

func (e *CheckoutValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("%s: %s", ErrCheckoutInvalidInput.Error(), strings.Join(names, ", "))
}

// Unwrap lets errors.Is match ErrCheckoutInvalidInput.
func (e *CheckoutValidationError) Unwrap() error { return ErrCheckoutInvalidInput }

// MessageCatalog resolves localised UI messages.
type MessageCatalog interface {
	Message(lang, key string) string
}

// CheckoutServiceDeps wires the collaborators of checkout submission.
type CheckoutServiceDeps struct {
	Orders        repositories.OrderRepository
	Products      repositories.ProductRepository
	Carts         CartService
	Settings      ShippingOptionSource
	Notifications NotificationService
	Messages      MessageCatalog
	Metrics       *metrics.Metrics
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
	IDGenerator   func() string
	CountryCode   string
}

type checkoutService struct {
	orders        repositories.OrderRepository
	products      repositories.ProductRepository
	carts         CartService
	settings      ShippingOptionSource
	notifications NotificationService
	messages      MessageCatalog
	metrics       *metrics.Metrics
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
	newID         func() string
	countryCode   string
	sanitizer     *bluemonday.Policy

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	code := strings.TrimSpace(deps.CountryCode)
	if code == "" {
		code = defaultCheckoutPhoneCode
	}

	return &checkoutService{
		orders:        deps.Orders,
		products:      deps.Products,
		carts:         deps.Carts,
		settings:      deps.Settings,
		notifications: deps.Notifications,
		messages:      deps.Messages,
		metrics:       deps.Metrics,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:      logger,
		newID:       idGen,
		countryCode: code,
		sanitizer:   bluemonday.StrictPolicy(),
		inFlight:    make(map[string]struct{}),
	}, nil
}

// Submit validates the recipient, prices the chosen items and writes an
// "order placed" order. Cart checkouts clear the cart afterwards. The
// notification is dispatched without waiting for delivery.
func (s *checkoutService) Submit(ctx context.Context, cmd CheckoutCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	source := cmd.Source
	if source == "" {
		source = CheckoutSourceCart
	}

	recipient, note, verr := s.validate(cmd, source)
	if verr != nil {
		return Order{}, verr
	}

	if !s.begin(userID) {
		return Order{}, ErrCheckoutInProgress
	}
	defer s.end(userID)

	ctx, span := checkoutTracer.Start(ctx, "checkout.submit")
	defer span.End()
	span.SetAttributes(attribute.String("checkout.source", string(source)))

	items, err := s.lineItems(ctx, userID, source, cmd)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Order{}, err
	}

	resolver := NewShippingResolver()
	if s.settings != nil {
		resolver.SetOptions(s.settings.Current().ShippingOptions)
	}
	if id := strings.TrimSpace(cmd.ShippingOptionID); id != "" && !resolver.Select(id) {
		return Order{}, s.invalid(cmd.Language, checkoutFieldShipping, "checkout.shipping_unknown")
	}
	totals := CalculateTotals(items, resolver.Cost())

	now := s.now()
	order := Order{
		ID:        s.newID(),
		UserID:    userID,
		Status:    domain.OrderStatusPlaced,
		Customer:  recipient,
		Note:      note,
		Subtotal:  totals.Subtotal,
		Total:     totals.Total,
		Items:     orderItems(items),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if selected, ok := resolver.Selected(); ok {
		order.Shipping = domain.OrderShipping{OptionID: selected.ID, Label: selected.Label, Cost: selected.Price}
	}
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.Int("order.items", len(order.Items)))

	if err := s.orders.Insert(ctx, order); err != nil {
		s.logger(ctx, "checkout.order_write_failed", map[string]any{
			"userID":  userID,
			"orderID": order.ID,
			"error":   err.Error(),
		})
		span.SetStatus(codes.Error, "order write failed")
		return Order{}, ErrCheckoutUnavailable
	}

	if source == CheckoutSourceCart {
		if err := s.carts.RemoveOrdered(ctx, userID, items); err != nil {
			s.logger(ctx, "checkout.cart_clear_failed", map[string]any{
				"userID":  userID,
				"orderID": order.ID,
				"error":   err.Error(),
			})
		}
	}

	s.metrics.OrderPlaced(string(source))
	if s.notifications != nil {
		s.notifications.Notify(ctx, order, domain.OrderStatusPlaced)
	}
	s.logger(ctx, "checkout.order_placed", map[string]any{
		"userID":  userID,
		"orderID": order.ID,
		"source":  string(source),
		"total":   order.Total.String(),
	})
	return order, nil
}

func (s *checkoutService) validate(cmd CheckoutCommand, source CheckoutSource) (domain.Recipient, string, error) {
	fields := map[string]string{}
	add := func(field, key string) {
		if _, exists := fields[field]; !exists {
			fields[field] = s.message(cmd.Language, key)
		}
	}

	recipient := domain.Recipient{
		Name:    strings.TrimSpace(cmd.Name),
		Phone:   strings.TrimSpace(cmd.Phone),
		Address: strings.TrimSpace(cmd.Address),
	}
	if recipient.Name == "" {
		add(checkoutFieldName, "checkout.name_required")
	}
	if recipient.Phone == "" {
		add(checkoutFieldPhone, "checkout.phone_required")
	} else if _, ok := textutil.NormalizePhone(recipient.Phone, s.countryCode); !ok {
		add(checkoutFieldPhone, "checkout.phone_invalid")
	}
	if recipient.Address == "" {
		add(checkoutFieldAddress, "checkout.address_required")
	}

	note := strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(cmd.Note)))
	if len([]rune(note)) > maxCheckoutNoteLength {
		add(checkoutFieldNote, "checkout.note_too_long")
	}

	switch source {
	case CheckoutSourceCart:
	case CheckoutSourceBuyNow:
		if strings.TrimSpace(cmd.ProductID) == "" {
			add(checkoutFieldProduct, "checkout.product_unavailable")
		}
	default:
		add(checkoutFieldSource, "checkout.failed")
	}

	if len(fields) > 0 {
		return domain.Recipient{}, "", &CheckoutValidationError{Fields: fields}
	}
	return recipient, note, nil
}

func (s *checkoutService) lineItems(ctx context.Context, userID string, source CheckoutSource, cmd CheckoutCommand) ([]CartLineItem, error) {
	if source == CheckoutSourceBuyNow {
		product, err := s.products.FindByID(ctx, strings.TrimSpace(cmd.ProductID))
		if err != nil {
			if isRepoNotFound(err) {
				return nil, s.invalid(cmd.Language, checkoutFieldProduct, "checkout.product_unavailable")
			}
			s.logger(ctx, "checkout.product_lookup_failed", map[string]any{
				"productID": cmd.ProductID,
				"error":     err.Error(),
			})
			return nil, ErrCheckoutUnavailable
		}
		return BuyNowItems(product), nil
	}

	items, err := s.carts.Items(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCartUnavailable) {
			return nil, ErrCheckoutUnavailable
		}
		return nil, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	if len(items) == 0 {
		return nil, ErrCheckoutCartEmpty
	}
	return items, nil
}

func (s *checkoutService) invalid(lang, field, key string) error {
	return &CheckoutValidationError{Fields: map[string]string{field: s.message(lang, key)}}
}

func (s *checkoutService) message(lang, key string) string {
	if s.messages == nil {
		return key
	}
	if strings.TrimSpace(lang) == "" {
		lang = checkoutMessageFallbackLn
	}
	return s.messages.Message(lang, key)
}

func (s *checkoutService) begin(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[userID]; busy {
		return false
	}
	s.inFlight[userID] = struct{}{}
	return true
}

func (s *checkoutService) end(userID string) {
	s.mu.Lock()
	delete(s.inFlight, userID)
	s.mu.Unlock()
}

func orderItems(items []CartLineItem) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.UnitPrice,
			ImageURL:  item.ImageURL,
		})
	}
	return out
}

// CheckoutState is the phase of a checkout dialog.
type CheckoutState int

const (
	// CheckoutClosed means no checkout is in progress.
	CheckoutClosed CheckoutState = iota
	// CheckoutOpen means the shopper is filling in the form.
	CheckoutOpen
	// CheckoutSubmitting means an order write is in flight.
	CheckoutSubmitting
)

func (s CheckoutState) String() string {
	switch s {
	case CheckoutOpen:
		return "open"
	case CheckoutSubmitting:
		return "submitting"
	default:
		return "closed"
	}
}

// ErrCheckoutNotOpen is returned when Submit is called outside the open state.
var ErrCheckoutNotOpen = errors.New("checkout: not open")

// CheckoutFlow drives one checkout dialog: Closed, Open, Submitting, then
// Closed on success or Open with the error kept on failure.
type CheckoutFlow struct {
	service CheckoutService

	mu    sync.Mutex
	state CheckoutState
	err   error
}

// NewCheckoutFlow returns a closed flow submitting through service.
func NewCheckoutFlow(service CheckoutService) *CheckoutFlow {
	return &CheckoutFlow{service: service}
}

// Open moves a closed flow to open and clears the previous error.
func (f *CheckoutFlow) Open() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == CheckoutClosed {
		f.state = CheckoutOpen
		f.err = nil
	}
}

// Cancel closes an open flow. It has no effect while submitting.
func (f *CheckoutFlow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == CheckoutOpen {
		f.state = CheckoutClosed
		f.err = nil
	}
}

// Submit runs the checkout. Only one submission may run at a time.
func (f *CheckoutFlow) Submit(ctx context.Context, cmd CheckoutCommand) (Order, error) {
	f.mu.Lock()
	if f.state != CheckoutOpen {
		state := f.state
		f.mu.Unlock()
		if state == CheckoutSubmitting {
			return Order{}, ErrCheckoutInProgress
		}
		return Order{}, ErrCheckoutNotOpen
	}
	f.state = CheckoutSubmitting
	f.err = nil
	f.mu.Unlock()

	order, err := f.service.Submit(ctx, cmd)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.state = CheckoutOpen
		f.err = err
		return Order{}, err
	}
	f.state = CheckoutClosed
	return order, nil
}

// State returns the current phase.
func (f *CheckoutFlow) State() CheckoutState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the error of the last failed submission.
func (f *CheckoutFlow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
