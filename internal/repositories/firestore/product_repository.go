package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/bazaarbd/storefront/internal/domain"
	pfirestore "github.com/bazaarbd/storefront/internal/platform/firestore"
	"github.com/bazaarbd/storefront/internal/repositories"
)

const productCollection = "products"

// ProductRepository reads the product catalogue.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		base: pfirestore.NewBaseRepository[productDocument](provider, productCollection),
	}, nil
}

// FindByID loads a product. Inactive products are reported as not found.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	product := decodeProduct(doc.ID, doc.Data)
	if !product.Active {
		return domain.Product{}, pfirestore.NotFound(r.base.Collection()+".get", "product "+doc.ID+" is not active")
	}
	return product, nil
}

type productDocument struct {
	Name     string `firestore:"name"`
	NameBn   string `firestore:"nameBn,omitempty"`
	Price    int64  `firestore:"price"`
	ImageURL string `firestore:"imageUrl,omitempty"`
	Active   *bool  `firestore:"active,omitempty"`
}

func decodeProduct(id string, doc productDocument) domain.Product {
	active := true
	if doc.Active != nil {
		active = *doc.Active
	}
	return domain.Product{
		ID:       id,
		Name:     strings.TrimSpace(doc.Name),
		NameBn:   strings.TrimSpace(doc.NameBn),
		Price:    domain.Money(doc.Price),
		ImageURL: strings.TrimSpace(doc.ImageURL),
		Active:   active,
	}
}
