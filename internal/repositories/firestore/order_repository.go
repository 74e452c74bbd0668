package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	domain "github.com/parcelhub/api/internal/domain"
	pfirestore "github.com/parcelhub/api/internal/platform/firestore"
	"github.com/parcelhub/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists parcel orders in Firestore.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{base: base}, nil
}

// Insert stores a new order, failing with a conflict when the id already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}

	doc := fromDomainOrder(order)
	if tx, ok := transactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		return pfirestore.WrapError("orders.create", tx.Create(ref, doc))
	}
	_, err := r.base.Create(ctx, order.ID, doc)
	return err
}

// Update overwrites the stored order.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}

	doc := fromDomainOrder(order)
	if tx, ok := transactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		return pfirestore.WrapError("orders.set", tx.Set(ref, doc))
	}
	_, err := r.base.Set(ctx, order.ID, doc)
	return err
}

// Delete removes the order document.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if tx, ok := transactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		return pfirestore.WrapError("orders.delete", tx.Delete(ref))
	}
	return r.base.Delete(ctx, orderID)
}

// FindByID loads the order by its identifier.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}

	if tx, ok := transactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.get", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.get", err)
		}
		return toDomainOrder(snap.Ref.ID, doc), nil
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc.ID, doc.Data), nil
}

// List returns a page of orders matching the filter, newest first. The keyword
// predicate is applied after fetching because Firestore has no substring operator.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.Page[domain.Order]{}, errors.New("order repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Status != nil {
			q = q.Where("status", "==", int(*filter.Status))
		}
		if createdBy := strings.TrimSpace(filter.CreatedBy); createdBy != "" {
			q = q.Where("createdBy", "==", createdBy)
		}
		return q.OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	keyword := strings.ToLower(strings.TrimSpace(filter.Keyword))
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order := toDomainOrder(doc.ID, doc.Data)
		if keyword != "" && !orderMatchesKeyword(order, keyword) {
			continue
		}
		orders = append(orders, order)
	}

	page, pageSize := normalisePage(filter.Page, filter.PageSize)
	total := int64(len(orders))
	start := (page - 1) * pageSize
	if start > len(orders) {
		start = len(orders)
	}
	end := start + pageSize
	if end > len(orders) {
		end = len(orders)
	}

	return domain.Page[domain.Order]{
		Items:    orders[start:end],
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// Count returns the number of orders matching the filter using a server-side aggregation.
func (r *OrderRepository) Count(ctx context.Context, filter repositories.OrderCountFilter) (int64, error) {
	if r == nil || r.base == nil {
		return 0, errors.New("order repository not initialised")
	}
	return r.base.Count(ctx, func(q firestore.Query) firestore.Query {
		if filter.Status != nil {
			q = q.Where("status", "==", int(*filter.Status))
		}
		if filter.CreatedAfter != nil {
			q = q.Where("createdAt", ">=", filter.CreatedAfter.UTC())
		}
		return q
	})
}

// Recent returns the most recently created orders.
func (r *OrderRepository) Recent(ctx context.Context, limit int) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	if limit <= 0 {
		limit = 10
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, toDomainOrder(doc.ID, doc.Data))
	}
	return orders, nil
}

type orderDocument struct {
	SenderInfo     string    `firestore:"senderInfo"`
	ReceiverInfo   string    `firestore:"receiverInfo"`
	ItemType       string    `firestore:"itemType"`
	CurrentStoreID string    `firestore:"currentStoreId"`
	Status         int       `firestore:"status"`
	CreatedBy      string    `firestore:"createdBy"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	return orderDocument{
		SenderInfo:     order.SenderInfo,
		ReceiverInfo:   order.ReceiverInfo,
		ItemType:       strings.TrimSpace(order.ItemType),
		CurrentStoreID: strings.TrimSpace(order.CurrentStoreID),
		Status:         int(order.Status),
		CreatedBy:      strings.TrimSpace(order.CreatedBy),
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
	}
}

func toDomainOrder(id string, doc orderDocument) domain.Order {
	return domain.Order{
		ID:             id,
		SenderInfo:     doc.SenderInfo,
		ReceiverInfo:   doc.ReceiverInfo,
		ItemType:       doc.ItemType,
		CurrentStoreID: doc.CurrentStoreID,
		Status:         domain.OrderStatus(doc.Status),
		CreatedBy:      doc.CreatedBy,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

func orderMatchesKeyword(order domain.Order, keyword string) bool {
	for _, field := range []string{order.ID, order.SenderInfo, order.ReceiverInfo, order.ItemType} {
		if strings.Contains(strings.ToLower(field), keyword) {
			return true
		}
	}
	return false
}

func normalisePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
