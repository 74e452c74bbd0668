package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/parcelhub/api/internal/domain"
	"github.com/parcelhub/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status_changed"
	orderEventDeleted       = "order.deleted"

	orderIDPrefix     = "ord_"
	statusLogIDPrefix = "osl_"

	operationTypeOrderCreate  = "order create"
	operationTypeStatusUpdate = "order status update"
	operationTypeOrderDelete  = "order delete"

	defaultRecentLimit = 10
	maxRecentLimit     = 50

	roleAdmin = "admin"
	roleStaff = "staff"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or is not
	// visible to the caller. Both cases are deliberately indistinguishable.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates duplicate identifiers or concurrent updates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrInvalidStatus indicates the target status is outside the known set.
	ErrInvalidStatus = errors.New("order: invalid status")
	// ErrNoOpTransition indicates the order already holds the target status.
	ErrNoOpTransition = errors.New("order: status unchanged")
	// ErrDeleteGuard indicates a delete was attempted after collection started.
	ErrDeleteGuard = errors.New("order: only newly created orders can be deleted")
	// ErrStorage indicates a transient persistence failure.
	ErrStorage = errors.New("order: storage unavailable")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	StatusLogs    repositories.OrderStatusLogRepository
	OperationLogs repositories.OperationLogRepository
	Identity      IdentityService
	UnitOfWork    repositories.UnitOfWork
	Clock         func() time.Time
	IDGenerator   func() string
	Events        OrderEventPublisher
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	statusLogs    repositories.OrderStatusLogRepository
	operationLogs repositories.OperationLogRepository
	identity      IdentityService
	unitOfWork    repositories.UnitOfWork
	clock         func() time.Time
	newID         func() string
	events        OrderEventPublisher
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.StatusLogs == nil {
		return nil, errors.New("order service: status log repository is required")
	}
	if deps.OperationLogs == nil {
		return nil, errors.New("order service: operation log repository is required")
	}
	if deps.Identity == nil {
		return nil, errors.New("order service: identity service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:        deps.Orders,
		statusLogs:    deps.StatusLogs,
		operationLogs: deps.OperationLogs,
		identity:      deps.Identity,
		unitOfWork:    unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	actor, err := s.identity.Resolve(ctx, cmd.Subject)
	if err != nil {
		return domain.Order{}, err
	}
	if strings.TrimSpace(cmd.SenderInfo) == "" {
		return domain.Order{}, fmt.Errorf("%w: sender info is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.ReceiverInfo) == "" {
		return domain.Order{}, fmt.Errorf("%w: receiver info is required", ErrOrderInvalidInput)
	}

	now := s.now()
	order := domain.Order{
		ID:             s.nextOrderID(),
		SenderInfo:     cmd.SenderInfo,
		ReceiverInfo:   cmd.ReceiverInfo,
		ItemType:       strings.TrimSpace(cmd.ItemType),
		CurrentStoreID: strings.TrimSpace(cmd.CurrentStoreID),
		Status:         domain.OrderStatusCreated,
		CreatedBy:      actor.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		entry := domain.OperationLog{
			ID:            operationLogIDPrefix + s.newID(),
			OperatorID:    actor.UserID,
			OperationType: operationTypeOrderCreate,
			TargetID:      order.ID,
			Detail:        fmt.Sprintf("order created with status %s", order.Status.Label()),
			IPAddress:     strings.TrimSpace(cmd.IPAddress),
			CreatedAt:     now,
		}
		if err := s.operationLogs.Append(txCtx, entry); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.publishEvent(ctx, OrderEventMessage{
		Type:       orderEventCreated,
		OrderID:    order.ID,
		ActorID:    actor.UserID,
		OccurredAt: now,
		Payload: map[string]any{
			"status": int(order.Status),
		},
	})

	return order, nil
}

// UpdateStatus moves the order to the target status. The read, both audit
// entries, and the order write share one transaction so a transition either
// lands with its full trail or not at all.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := cmd.TargetStatus
	if !target.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, int(target))
	}

	var (
		actor     Identity
		oldStatus domain.OrderStatus
	)
	now := s.now()

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		// Order existence is settled before the subject resolves: a missing
		// order reports not-found even when the caller is unknown too.
		actor, err = s.identity.Resolve(txCtx, cmd.Subject)
		if err != nil {
			return err
		}
		if order.Status == target {
			return fmt.Errorf("%w: order is already %s", ErrNoOpTransition, order.Status.Label())
		}
		oldStatus = order.Status

		statusEntry := domain.OrderStatusLog{
			ID:         statusLogIDPrefix + s.newID(),
			OrderID:    order.ID,
			OldStatus:  oldStatus,
			NewStatus:  target,
			OperatorID: actor.UserID,
			StoreID:    order.CurrentStoreID,
			CreatedAt:  now,
		}
		operationEntry := domain.OperationLog{
			ID:            operationLogIDPrefix + s.newID(),
			OperatorID:    actor.UserID,
			OperationType: operationTypeStatusUpdate,
			TargetID:      order.ID,
			Detail:        fmt.Sprintf("status %s -> %s", oldStatus.Label(), target.Label()),
			IPAddress:     strings.TrimSpace(cmd.IPAddress),
			CreatedAt:     now,
		}

		order.Status = target
		order.UpdatedAt = now

		if err := s.statusLogs.Append(txCtx, statusEntry); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.operationLogs.Append(txCtx, operationEntry); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publishEvent(ctx, OrderEventMessage{
		Type:       orderEventStatusChanged,
		OrderID:    orderID,
		ActorID:    actor.UserID,
		OccurredAt: now,
		Payload: map[string]any{
			"oldStatus": int(oldStatus),
			"newStatus": int(target),
		},
	})

	return nil
}

func (s *orderService) Get(ctx context.Context, subject, orderID string) (domain.Order, error) {
	actor, err := s.identity.Resolve(ctx, subject)
	if err != nil {
		return domain.Order{}, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if !canViewOrder(actor, order) {
		return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// Delete removes an order that has not yet been collected. The guard check,
// the delete, and the operation entry share one transaction.
func (s *orderService) Delete(ctx context.Context, cmd DeleteOrderCommand) error {
	actor, err := s.identity.Resolve(ctx, cmd.Subject)
	if err != nil {
		return err
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.now()

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !canViewOrder(actor, order) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if order.Status != domain.OrderStatusCreated {
			return fmt.Errorf("%w: order is %s", ErrDeleteGuard, order.Status.Label())
		}

		entry := domain.OperationLog{
			ID:            operationLogIDPrefix + s.newID(),
			OperatorID:    actor.UserID,
			OperationType: operationTypeOrderDelete,
			TargetID:      order.ID,
			Detail:        "order deleted before collection",
			IPAddress:     strings.TrimSpace(cmd.IPAddress),
			CreatedAt:     now,
		}
		if err := s.operationLogs.Append(txCtx, entry); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.orders.Delete(txCtx, orderID); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publishEvent(ctx, OrderEventMessage{
		Type:       orderEventDeleted,
		OrderID:    orderID,
		ActorID:    actor.UserID,
		OccurredAt: now,
	})

	return nil
}

// List returns orders matching the query. Callers without a back-office role
// only ever see their own orders regardless of the filter.
func (s *orderService) List(ctx context.Context, subject string, query OrderListQuery) (domain.Page[domain.Order], error) {
	actor, err := s.identity.Resolve(ctx, subject)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}
	if query.Status != nil && !query.Status.Valid() {
		return domain.Page[domain.Order]{}, fmt.Errorf("%w: %d", ErrInvalidStatus, int(*query.Status))
	}

	filter := repositories.OrderListFilter{
		Keyword:  strings.TrimSpace(query.Keyword),
		Status:   query.Status,
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	if !isBackOffice(actor) {
		filter.CreatedBy = actor.UserID
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.Page[domain.Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListMine(ctx context.Context, subject string, query PageQuery) (domain.Page[domain.Order], error) {
	actor, err := s.identity.Resolve(ctx, subject)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		CreatedBy: actor.UserID,
		Page:      query.Page,
		PageSize:  query.PageSize,
	})
	if err != nil {
		return domain.Page[domain.Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) Stats(ctx context.Context, subject string) (domain.OrderStats, error) {
	if _, err := s.identity.Resolve(ctx, subject); err != nil {
		return domain.OrderStats{}, err
	}

	total, err := s.orders.Count(ctx, repositories.OrderCountFilter{})
	if err != nil {
		return domain.OrderStats{}, s.mapRepositoryError(err)
	}

	counts := make(map[domain.OrderStatus]int64, len(domain.OrderStatuses))
	for _, status := range domain.OrderStatuses {
		status := status
		count, err := s.orders.Count(ctx, repositories.OrderCountFilter{Status: &status})
		if err != nil {
			return domain.OrderStats{}, s.mapRepositoryError(err)
		}
		counts[status] = count
	}

	midnight := s.now().Truncate(24 * time.Hour)
	today, err := s.orders.Count(ctx, repositories.OrderCountFilter{CreatedAfter: &midnight})
	if err != nil {
		return domain.OrderStats{}, s.mapRepositoryError(err)
	}

	return domain.OrderStats{
		Total:          total,
		CountsByStatus: counts,
		Today:          today,
	}, nil
}

func (s *orderService) Recent(ctx context.Context, subject string, limit int) ([]domain.Order, error) {
	if _, err := s.identity.Resolve(ctx, subject); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	orders, err := s.orders.Recent(ctx, limit)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) History(ctx context.Context, subject, orderID string) ([]domain.OrderStatusLog, error) {
	actor, err := s.identity.Resolve(ctx, subject)
	if err != nil {
		return nil, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	if !canViewOrder(actor, order) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	entries, err := s.statusLogs.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return entries, nil
}

func (s *orderService) StatusOptions() []StatusOption {
	options := make([]StatusOption, 0, len(domain.OrderStatuses))
	for _, status := range domain.OrderStatuses {
		options = append(options, StatusOption{
			Value: int(status),
			Label: status.Label(),
		})
	}
	return options
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, message OrderEventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, message); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  message.Type,
			"order": message.OrderID,
			"error": err.Error(),
		})
	}
}

func canViewOrder(actor Identity, order domain.Order) bool {
	if isBackOffice(actor) {
		return true
	}
	return order.CreatedBy != "" && order.CreatedBy == actor.UserID
}

func isBackOffice(actor Identity) bool {
	return strings.EqualFold(actor.Role, roleAdmin) || strings.EqualFold(actor.Role, roleStaff)
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
