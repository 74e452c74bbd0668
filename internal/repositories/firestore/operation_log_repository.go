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

const operationLogCollection = "operation_logs"

// OperationLogRepository stores the append-only administrative action trail.
type OperationLogRepository struct {
	base *pfirestore.BaseRepository[operationLogDocument]
}

// NewOperationLogRepository constructs a Firestore-backed operation log repository.
func NewOperationLogRepository(provider *pfirestore.Provider) (*OperationLogRepository, error) {
	if provider == nil {
		return nil, errors.New("operation log repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[operationLogDocument](provider, operationLogCollection, nil, nil)
	return &OperationLogRepository{base: base}, nil
}

// Append writes an operation entry. Entries are immutable once written.
func (r *OperationLogRepository) Append(ctx context.Context, entry domain.OperationLog) error {
	if r == nil || r.base == nil {
		return errors.New("operation log repository not initialised")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("operation log id is required")
	}

	doc := fromDomainOperationLog(entry)
	if tx, ok := transactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, entry.ID)
		if err != nil {
			return err
		}
		return pfirestore.WrapError("operation_logs.create", tx.Create(ref, doc))
	}
	_, err := r.base.Create(ctx, entry.ID, doc)
	return err
}

// List returns a page of operation entries, newest first.
func (r *OperationLogRepository) List(ctx context.Context, filter repositories.OperationLogFilter) (domain.Page[domain.OperationLog], error) {
	if r == nil || r.base == nil {
		return domain.Page[domain.OperationLog]{}, errors.New("operation log repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if operatorID := strings.TrimSpace(filter.OperatorID); operatorID != "" {
			q = q.Where("operatorId", "==", operatorID)
		}
		if targetID := strings.TrimSpace(filter.TargetID); targetID != "" {
			q = q.Where("targetId", "==", targetID)
		}
		return q.OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return domain.Page[domain.OperationLog]{}, err
	}

	entries := make([]domain.OperationLog, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, toDomainOperationLog(doc.ID, doc.Data))
	}

	page, pageSize := normalisePage(filter.Page, filter.PageSize)
	total := int64(len(entries))
	start := (page - 1) * pageSize
	if start > len(entries) {
		start = len(entries)
	}
	end := start + pageSize
	if end > len(entries) {
		end = len(entries)
	}

	return domain.Page[domain.OperationLog]{
		Items:    entries[start:end],
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

type operationLogDocument struct {
	OperatorID    string    `firestore:"operatorId"`
	OperationType string    `firestore:"operationType"`
	TargetID      string    `firestore:"targetId"`
	Detail        string    `firestore:"detail"`
	IPAddress     string    `firestore:"ipAddress,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

func fromDomainOperationLog(entry domain.OperationLog) operationLogDocument {
	return operationLogDocument{
		OperatorID:    strings.TrimSpace(entry.OperatorID),
		OperationType: strings.TrimSpace(entry.OperationType),
		TargetID:      strings.TrimSpace(entry.TargetID),
		Detail:        entry.Detail,
		IPAddress:     strings.TrimSpace(entry.IPAddress),
		CreatedAt:     entry.CreatedAt.UTC(),
	}
}

func toDomainOperationLog(id string, doc operationLogDocument) domain.OperationLog {
	return domain.OperationLog{
		ID:            id,
		OperatorID:    doc.OperatorID,
		OperationType: doc.OperationType,
		TargetID:      doc.TargetID,
		Detail:        doc.Detail,
		IPAddress:     doc.IPAddress,
		CreatedAt:     doc.CreatedAt,
	}
}
