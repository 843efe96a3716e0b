package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/bazaarbd/storefront/internal/domain"
	pfirestore "github.com/bazaarbd/storefront/internal/platform/firestore"
	"github.com/bazaarbd/storefront/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists session carts keyed by the Firebase UID.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
	now  func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base: pfirestore.NewBaseRepository[cartDocument](provider, cartCollection),
		now:  time.Now,
	}, nil
}

// Load returns the stored cart; a missing document is a not-found error.
func (r *CartRepository) Load(ctx context.Context, sessionID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	sessionID = strings.TrimSpace(sessionID)
	doc, err := r.base.Get(ctx, sessionID)
	if err != nil {
		return domain.Cart{}, err
	}
	cart := decodeCart(doc.Data)
	cart.SessionID = sessionID
	return cart, nil
}

// Save overwrites the whole cart document.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	sessionID := strings.TrimSpace(cart.SessionID)
	if sessionID == "" {
		return errors.New("cart repository: session id is required")
	}
	updatedAt := cart.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = r.now().UTC()
	}
	return r.base.Set(ctx, sessionID, encodeCart(cart, updatedAt))
}

type cartDocument struct {
	Items      []cartItemDocument `firestore:"items"`
	ItemsCount int                `firestore:"itemsCount"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	ImageURL  string `firestore:"imageUrl,omitempty"`
	Quantity  int    `firestore:"quantity"`
}

func encodeCart(cart domain.Cart, updatedAt time.Time) cartDocument {
	doc := cartDocument{
		Items:     make([]cartItemDocument, 0, len(cart.Items)),
		UpdatedAt: updatedAt,
	}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: int64(item.UnitPrice),
			ImageURL:  item.ImageURL,
			Quantity:  item.Quantity,
		})
		doc.ItemsCount += item.Quantity
	}
	return doc
}

// decodeCart drops malformed lines so a damaged document never breaks the
// one-line-per-product and positive-quantity rules.
func decodeCart(doc cartDocument) domain.Cart {
	cart := domain.Cart{UpdatedAt: doc.UpdatedAt}
	seen := make(map[string]struct{}, len(doc.Items))
	for _, item := range doc.Items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" || item.Quantity <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		cart.Items = append(cart.Items, domain.CartLineItem{
			ProductID: id,
			Name:      item.Name,
			UnitPrice: domain.Money(item.UnitPrice),
			ImageURL:  item.ImageURL,
			Quantity:  item.Quantity,
		})
	}
	return cart
}
