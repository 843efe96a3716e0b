package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/bazaarbd/storefront/internal/domain"
	"github.com/bazaarbd/storefront/internal/repositories"
)

const defaultCartTTL = 30 * 24 * time.Hour

// CartRepository keeps session carts in Redis as JSON under cart:{session}.
// Every save refreshes the expiry so abandoned carts age out.
type CartRepository struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Redis-backed cart repository. A zero ttl uses thirty days.
func NewCartRepository(client *redis.Client, ttl time.Duration) (*CartRepository, error) {
	if client == nil {
		return nil, errors.New("cart repository requires redis client")
	}
	if ttl <= 0 {
		ttl = defaultCartTTL
	}
	return &CartRepository{client: client, ttl: ttl, now: time.Now}, nil
}

// Load returns the stored cart; a missing key is a not-found error.
func (r *CartRepository) Load(ctx context.Context, sessionID string) (domain.Cart, error) {
	sessionID = strings.TrimSpace(sessionID)
	data, err := r.client.Get(ctx, cartKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Cart{}, &repoError{op: "cart.load", err: err, notFound: true}
	}
	if err != nil {
		return domain.Cart{}, wrap("cart.load", err)
	}

	var payload cartPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.Cart{}, fmt.Errorf("cart.load: unmarshal cart: %w", err)
	}
	cart := payload.toDomain()
	cart.SessionID = sessionID
	return cart, nil
}

// Save overwrites the cart and resets its expiry.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) error {
	sessionID := strings.TrimSpace(cart.SessionID)
	if sessionID == "" {
		return errors.New("cart repository: session id is required")
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = r.now()
	}
	data, err := json.Marshal(newCartPayload(cart))
	if err != nil {
		return fmt.Errorf("cart.save: marshal cart: %w", err)
	}
	if err := r.client.Set(ctx, cartKey(sessionID), data, r.ttl).Err(); err != nil {
		return wrap("cart.save", err)
	}
	return nil
}

// Ping reports whether Redis answers.
func (r *CartRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return wrap("cart.ping", err)
	}
	return nil
}

func cartKey(sessionID string) string {
	return fmt.Sprintf("cart:%s", sessionID)
}

type cartPayload struct {
	Items     []cartItemPayload `json:"items"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

type cartItemPayload struct {
	ProductID string       `json:"productId"`
	Name      string       `json:"name"`
	UnitPrice domain.Money `json:"unitPrice"`
	ImageURL  string       `json:"imageUrl,omitempty"`
	Quantity  int          `json:"quantity"`
}

func newCartPayload(cart domain.Cart) cartPayload {
	payload := cartPayload{
		Items:     make([]cartItemPayload, 0, len(cart.Items)),
		UpdatedAt: cart.UpdatedAt.UTC(),
	}
	for _, item := range cart.Items {
		payload.Items = append(payload.Items, cartItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			ImageURL:  item.ImageURL,
			Quantity:  item.Quantity,
		})
	}
	return payload
}

func (p cartPayload) toDomain() domain.Cart {
	cart := domain.Cart{UpdatedAt: p.UpdatedAt}
	seen := make(map[string]struct{}, len(p.Items))
	for _, item := range p.Items {
		if item.ProductID == "" || item.Quantity <= 0 {
			continue
		}
		if _, dup := seen[item.ProductID]; dup {
			continue
		}
		seen[item.ProductID] = struct{}{}
		cart.Items = append(cart.Items, domain.CartLineItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			ImageURL:  item.ImageURL,
			Quantity:  item.Quantity,
		})
	}
	return cart
}

type repoError struct {
	op          string
	err         error
	notFound    bool
	unavailable bool
}

func (e *repoError) Error() string       { return e.op + ": " + e.err.Error() }
func (e *repoError) Unwrap() error       { return e.err }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return false }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

func wrap(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &repoError{op: op, err: err, unavailable: true}
}
