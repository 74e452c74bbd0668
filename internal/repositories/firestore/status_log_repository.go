package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	domain "github.com/parcelhub/api/internal/domain"
	pfirestore "github.com/parcelhub/api/internal/platform/firestore"
)

const statusLogCollection = "order_status_logs"

// StatusLogRepository stores the append-only order transition trail.
type StatusLogRepository struct {
	base *pfirestore.BaseRepository[statusLogDocument]
}

// NewStatusLogRepository constructs a Firestore-backed status log repository.
func NewStatusLogRepository(provider *pfirestore.Provider) (*StatusLogRepository, error) {
	if provider == nil {
		return nil, errors.New("status log repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[statusLogDocument](provider, statusLogCollection, nil, nil)
	return &StatusLogRepository{base: base}, nil
}

// Append writes a transition entry. Entries are immutable once written.
func (r *StatusLogRepository) Append(ctx context.Context, entry domain.OrderStatusLog) error {
	if r == nil || r.base == nil {
		return errors.New("status log repository not initialised")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("status log id is required")
	}

	doc := fromDomainStatusLog(entry)
	if tx, ok := transactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, entry.ID)
		if err != nil {
			return err
		}
		return pfirestore.WrapError("order_status_logs.create", tx.Create(ref, doc))
	}
	_, err := r.base.Create(ctx, entry.ID, doc)
	return err
}

// ListByOrder returns the transition trail for an order, oldest first.
func (r *StatusLogRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderStatusLog, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("status log repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	entries := make([]domain.OrderStatusLog, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, toDomainStatusLog(doc.ID, doc.Data))
	}
	return entries, nil
}

type statusLogDocument struct {
	OrderID    string    `firestore:"orderId"`
	OldStatus  int       `firestore:"oldStatus"`
	NewStatus  int       `firestore:"newStatus"`
	OperatorID string    `firestore:"operatorId"`
	StoreID    string    `firestore:"storeId,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func fromDomainStatusLog(entry domain.OrderStatusLog) statusLogDocument {
	return statusLogDocument{
		OrderID:    strings.TrimSpace(entry.OrderID),
		OldStatus:  int(entry.OldStatus),
		NewStatus:  int(entry.NewStatus),
		OperatorID: strings.TrimSpace(entry.OperatorID),
		StoreID:    strings.TrimSpace(entry.StoreID),
		CreatedAt:  entry.CreatedAt.UTC(),
	}
}

func toDomainStatusLog(id string, doc statusLogDocument) domain.OrderStatusLog {
	return domain.OrderStatusLog{
		ID:         id,
		OrderID:    doc.OrderID,
		OldStatus:  domain.OrderStatus(doc.OldStatus),
		NewStatus:  domain.OrderStatus(doc.NewStatus),
		OperatorID: doc.OperatorID,
		StoreID:    doc.StoreID,
		CreatedAt:  doc.CreatedAt,
	}
}
