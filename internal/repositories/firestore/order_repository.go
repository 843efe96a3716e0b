package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/bazaarbd/storefront/internal/domain"
	pfirestore "github.com/bazaarbd/storefront/internal/platform/firestore"
	"github.com/bazaarbd/storefront/internal/repositories"
)

const (
	orderCollection   = "orders"
	defaultOrderLimit = 50
	maxOrderLimit     = 200
)

// OrderRepository persists cash-on-delivery orders.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, orderCollection),
	}, nil
}

// Insert creates the order document; an existing id is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	return r.base.Create(ctx, order.ID, encodeOrder(order))
}

// FindByID loads one order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	docs, err := r.base.Query(ctx, userOrdersQuery(userID, limit))
	if err != nil {
		return nil, err
	}
	return decodeOrders(docs), nil
}

// WatchByUser streams the user's order history until ctx ends.
func (r *OrderRepository) WatchByUser(ctx context.Context, userID string, limit int, emit func([]domain.Order)) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	return r.base.Watch(ctx, userOrdersQuery(userID, limit), func(docs []pfirestore.Document[orderDocument]) {
		emit(decodeOrders(docs))
	})
}

// UpdateStatus changes the status inside a transaction so concurrent admin
// actions cannot skip a lifecycle step.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, at time.Time) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}

	var updated domain.Order
	err = r.base.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}
		order := decodeOrder(doc.ID, doc.Data)
		if order.Status != from {
			return pfirestore.Conflict(orderCollection+".update_status",
				fmt.Sprintf("order %s is %q, expected %q", order.ID, order.Status, from))
		}
		at = at.UTC()
		if err := tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(to)},
			{Path: "updatedAt", Value: at},
		}); err != nil {
			return err
		}
		order.Status = to
		order.UpdatedAt = at
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

func userOrdersQuery(userID string, limit int) pfirestore.QueryBuilder {
	if limit <= 0 {
		limit = defaultOrderLimit
	}
	if limit > maxOrderLimit {
		limit = maxOrderLimit
	}
	uid := strings.TrimSpace(userID)
	return func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", uid).OrderBy("createdAt", firestore.Desc).Limit(limit)
	}
}

type orderDocument struct {
	UserID    string              `firestore:"userId"`
	Status    string              `firestore:"status"`
	Customer  orderCustomerDoc    `firestore:"customer"`
	Shipping  *orderShippingDoc   `firestore:"shipping,omitempty"`
	Note      string              `firestore:"note,omitempty"`
	Subtotal  int64               `firestore:"subtotal"`
	Total     int64               `firestore:"total"`
	Items     []orderItemDocument `firestore:"items"`
	CreatedAt time.Time           `firestore:"createdAt"`
	UpdatedAt time.Time           `firestore:"updatedAt"`
}

type orderCustomerDoc struct {
	Name    string `firestore:"name"`
	Phone   string `firestore:"phone"`
	Address string `firestore:"address"`
}

type orderShippingDoc struct {
	ID    string `firestore:"id"`
	Label string `firestore:"label"`
	Cost  int64  `firestore:"cost"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"quantity"`
	Price     int64  `firestore:"price"`
	ImageURL  string `firestore:"imageUrl,omitempty"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		UserID: order.UserID,
		Status: string(order.Status),
		Customer: orderCustomerDoc{
			Name:    order.Customer.Name,
			Phone:   order.Customer.Phone,
			Address: order.Customer.Address,
		},
		Note:      order.Note,
		Subtotal:  int64(order.Subtotal),
		Total:     int64(order.Total),
		Items:     make([]orderItemDocument, 0, len(order.Items)),
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
	if order.Shipping.OptionID != "" {
		doc.Shipping = &orderShippingDoc{
			ID:    order.Shipping.OptionID,
			Label: order.Shipping.Label,
			Cost:  int64(order.Shipping.Cost),
		}
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     int64(item.Price),
			ImageURL:  item.ImageURL,
		})
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	status, ok := domain.ParseOrderStatus(doc.Status)
	if !ok {
		status = domain.OrderStatus(strings.TrimSpace(doc.Status))
	}
	order := domain.Order{
		ID:     id,
		UserID: doc.UserID,
		Status: status,
		Customer: domain.Recipient{
			Name:    doc.Customer.Name,
			Phone:   doc.Customer.Phone,
			Address: doc.Customer.Address,
		},
		Note:      doc.Note,
		Subtotal:  domain.Money(doc.Subtotal),
		Total:     domain.Money(doc.Total),
		Items:     make([]domain.OrderItem, 0, len(doc.Items)),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if doc.Shipping != nil {
		order.Shipping = domain.OrderShipping{
			OptionID: doc.Shipping.ID,
			Label:    doc.Shipping.Label,
			Cost:     domain.Money(doc.Shipping.Cost),
		}
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     domain.Money(item.Price),
			ImageURL:  item.ImageURL,
		})
	}
	return order
}

func decodeOrders(docs []pfirestore.Document[orderDocument]) []domain.Order {
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrder(doc.ID, doc.Data))
	}
	return orders
}
