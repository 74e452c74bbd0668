package repositories

import (
	"context"
	"time"

	domain "github.com/parcelhub/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order records keyed by their externally visible identifier.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[domain.Order], error)
	Count(ctx context.Context, filter OrderCountFilter) (int64, error)
	Recent(ctx context.Context, limit int) ([]domain.Order, error)
}

// OrderStatusLogRepository stores the append-only transition trail per order.
type OrderStatusLogRepository interface {
	Append(ctx context.Context, entry domain.OrderStatusLog) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderStatusLog, error)
}

// OperationLogRepository stores the append-only administrative action trail.
type OperationLogRepository interface {
	Append(ctx context.Context, entry domain.OperationLog) error
	List(ctx context.Context, filter OperationLogFilter) (domain.Page[domain.OperationLog], error)
}

// UserRepository stores account records and supports username lookups for login.
type UserRepository interface {
	Insert(ctx context.Context, user domain.User) error
	Update(ctx context.Context, user domain.User) error
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByUsername(ctx context.Context, username string) (domain.User, error)
	List(ctx context.Context, filter UserListFilter) (domain.Page[domain.User], error)
}

// Filter DTOs shared across repositories ------------------------------------

// OrderListFilter narrows order listings with typed predicates. Keyword is matched
// against the order id and the opaque sender/receiver payloads.
type OrderListFilter struct {
	Keyword   string
	Status    *domain.OrderStatus
	CreatedBy string
	Page      int
	PageSize  int
}

// OrderCountFilter restricts aggregate counts by status and creation window.
type OrderCountFilter struct {
	Status       *domain.OrderStatus
	CreatedAfter *time.Time
}

// OperationLogFilter narrows operation log listings.
type OperationLogFilter struct {
	OperatorID string
	TargetID   string
	Page       int
	PageSize   int
}

// UserListFilter narrows user listings. Keyword matches the username.
type UserListFilter struct {
	Keyword  string
	Page     int
	PageSize int
}
