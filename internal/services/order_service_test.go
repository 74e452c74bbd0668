package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/parcelhub/api/internal/domain"
	"github.com/parcelhub/api/internal/repositories"
)

type repoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoError) Error() string       { return "repository error" }
func (e repoError) IsNotFound() bool    { return e.notFound }
func (e repoError) IsConflict() bool    { return e.conflict }
func (e repoError) IsUnavailable() bool { return e.unavailable }

type memoryOrderRepo struct {
	mu     sync.Mutex
	orders map[string]domain.Order

	insertErr error
	findErr   error
	updateErr error

	listFilter repositories.OrderListFilter
	listResp   domain.Page[domain.Order]

	countFn func(filter repositories.OrderCountFilter) (int64, error)

	recentLimit int
	recentResp  []domain.Order
}

func newMemoryOrderRepo() *memoryOrderRepo {
	return &memoryOrderRepo{orders: make(map[string]domain.Order)}
}

func (r *memoryOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, exists := r.orders[order.ID]; exists {
		return repoError{conflict: true}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *memoryOrderRepo) Update(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, exists := r.orders[order.ID]; !exists {
		return repoError{notFound: true}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *memoryOrderRepo) Delete(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[orderID]; !exists {
		return repoError{notFound: true}
	}
	delete(r.orders, orderID)
	return nil
}

func (r *memoryOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return domain.Order{}, r.findErr
	}
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repoError{notFound: true}
	}
	return order, nil
}

func (r *memoryOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listFilter = filter
	return r.listResp, nil
}

func (r *memoryOrderRepo) Count(_ context.Context, filter repositories.OrderCountFilter) (int64, error) {
	if r.countFn != nil {
		return r.countFn(filter)
	}
	return 0, nil
}

func (r *memoryOrderRepo) Recent(_ context.Context, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recentLimit = limit
	return r.recentResp, nil
}

type memoryStatusLogRepo struct {
	mu      sync.Mutex
	entries []domain.OrderStatusLog

	appendErr error
}

func (r *memoryStatusLogRepo) Append(_ context.Context, entry domain.OrderStatusLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memoryStatusLogRepo) ListByOrder(_ context.Context, orderID string) ([]domain.OrderStatusLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.OrderStatusLog
	for _, entry := range r.entries {
		if entry.OrderID == orderID {
			out = append(out, entry)
		}
	}
	return out, nil
}

type memoryOperationLogRepo struct {
	mu      sync.Mutex
	entries []domain.OperationLog

	appendErr error
}

func (r *memoryOperationLogRepo) Append(_ context.Context, entry domain.OperationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memoryOperationLogRepo) List(_ context.Context, _ repositories.OperationLogFilter) (domain.Page[domain.OperationLog], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.Page[domain.OperationLog]{Items: append([]domain.OperationLog(nil), r.entries...)}, nil
}

type stubIdentities struct {
	accounts map[string]Identity
}

func (s stubIdentities) Resolve(_ context.Context, subject string) (Identity, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Identity{}, ErrUnauthenticated
	}
	account, ok := s.accounts[subject]
	if !ok {
		return Identity{}, fmt.Errorf("%w: %s", ErrUserNotFound, subject)
	}
	return account, nil
}

type countingUnitOfWork struct {
	calls int
}

func (u *countingUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	u.calls++
	return fn(ctx)
}

// rollbackUnitOfWork behaves like a storage transaction: when the callback
// fails, every write made through the fixture repositories is undone.
type rollbackUnitOfWork struct {
	orders    *memoryOrderRepo
	statusLog *memoryStatusLogRepo
	opLog     *memoryOperationLogRepo
}

func (u rollbackUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	orders := make(map[string]domain.Order, len(u.orders.orders))
	for id, order := range u.orders.orders {
		orders[id] = order
	}
	statusRows := append([]domain.OrderStatusLog(nil), u.statusLog.entries...)
	opRows := append([]domain.OperationLog(nil), u.opLog.entries...)

	if err := fn(ctx); err != nil {
		u.orders.orders = orders
		u.statusLog.entries = statusRows
		u.opLog.entries = opRows
		return err
	}
	return nil
}

type capturePublisher struct {
	mu       sync.Mutex
	messages []OrderEventMessage
	err      error
}

func (p *capturePublisher) PublishOrderEvent(_ context.Context, message OrderEventMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, message)
	return "msg-1", nil
}

type orderServiceFixture struct {
	svc       OrderService
	orders    *memoryOrderRepo
	statusLog *memoryStatusLogRepo
	opLog     *memoryOperationLogRepo
	uow       *countingUnitOfWork
	events    *capturePublisher
}

var testAccounts = map[string]Identity{
	"alice": {UserID: "usr_alice", Username: "alice", Role: "customer", Enabled: true},
	"bob":   {UserID: "usr_bob", Username: "bob", Role: "customer", Enabled: true},
	"staff": {UserID: "usr_staff", Username: "staff", Role: "staff", Enabled: true},
	"admin": {UserID: "usr_admin", Username: "admin", Role: "admin", Enabled: true},
}

func newOrderServiceFixture(t *testing.T) orderServiceFixture {
	t.Helper()

	fixture := orderServiceFixture{
		orders:    newMemoryOrderRepo(),
		statusLog: &memoryStatusLogRepo{},
		opLog:     &memoryOperationLogRepo{},
		uow:       &countingUnitOfWork{},
		events:    &capturePublisher{},
	}

	fixed := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:        fixture.orders,
		StatusLogs:    fixture.statusLog,
		OperationLogs: fixture.opLog,
		Identity:      stubIdentities{accounts: testAccounts},
		UnitOfWork:    fixture.uow,
		Clock:         func() time.Time { return fixed },
		Events:        fixture.events,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	fixture.svc = svc
	return fixture
}

// newRollbackOrderServiceFixture swaps the pass-through unit of work for one
// that discards writes on failure, the way the Firestore transaction does.
func newRollbackOrderServiceFixture(t *testing.T) orderServiceFixture {
	t.Helper()

	fixture := orderServiceFixture{
		orders:    newMemoryOrderRepo(),
		statusLog: &memoryStatusLogRepo{},
		opLog:     &memoryOperationLogRepo{},
		events:    &capturePublisher{},
	}

	fixed := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:        fixture.orders,
		StatusLogs:    fixture.statusLog,
		OperationLogs: fixture.opLog,
		Identity:      stubIdentities{accounts: testAccounts},
		UnitOfWork: rollbackUnitOfWork{
			orders:    fixture.orders,
			statusLog: fixture.statusLog,
			opLog:     fixture.opLog,
		},
		Clock:  func() time.Time { return fixed },
		Events: fixture.events,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	fixture.svc = svc
	return fixture
}

func seedOrder(t *testing.T, fixture orderServiceFixture, id string, status domain.OrderStatus, createdBy string) {
	t.Helper()
	err := fixture.orders.Insert(context.Background(), domain.Order{
		ID:             id,
		SenderInfo:     `{"name":"sender"}`,
		ReceiverInfo:   `{"name":"receiver"}`,
		ItemType:       "documents",
		CurrentStoreID: "store-7",
		Status:         status,
		CreatedBy:      createdBy,
		CreatedAt:      time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func TestOrderServiceCreateWritesOrderAndOperationEntry(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	order, err := fixture.svc.Create(context.Background(), CreateOrderCommand{
		Subject:      "alice",
		SenderInfo:   `{"name":"a"}`,
		ReceiverInfo: `{"name":"b"}`,
		ItemType:     "fragile",
		IPAddress:    "203.0.113.5",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if order.Status != domain.OrderStatusCreated {
		t.Fatalf("expected status Created, got %s", order.Status.Label())
	}
	if !strings.HasPrefix(order.ID, "ord_") {
		t.Fatalf("expected ord_ prefix, got %q", order.ID)
	}
	if order.CreatedBy != "usr_alice" {
		t.Fatalf("expected creator usr_alice, got %q", order.CreatedBy)
	}

	if len(fixture.opLog.entries) != 1 {
		t.Fatalf("expected 1 operation entry, got %d", len(fixture.opLog.entries))
	}
	entry := fixture.opLog.entries[0]
	if entry.OperationType != "order create" || entry.TargetID != order.ID {
		t.Fatalf("unexpected operation entry: %+v", entry)
	}
	if entry.IPAddress != "203.0.113.5" {
		t.Fatalf("expected recorded ip, got %q", entry.IPAddress)
	}
	if len(fixture.statusLog.entries) != 0 {
		t.Fatalf("creation must not write a status transition, got %d", len(fixture.statusLog.entries))
	}
	if fixture.uow.calls != 1 {
		t.Fatalf("expected 1 transaction, got %d", fixture.uow.calls)
	}
	if len(fixture.events.messages) != 1 || fixture.events.messages[0].Type != "order.created" {
		t.Fatalf("expected order.created event, got %+v", fixture.events.messages)
	}
}

func TestOrderServiceCreateValidatesInput(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	cases := []struct {
		name string
		cmd  CreateOrderCommand
	}{
		{name: "missing sender", cmd: CreateOrderCommand{Subject: "alice", ReceiverInfo: "r"}},
		{name: "missing receiver", cmd: CreateOrderCommand{Subject: "alice", SenderInfo: "s"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := fixture.svc.Create(context.Background(), tc.cmd); !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
	if len(fixture.orders.orders) != 0 || len(fixture.opLog.entries) != 0 {
		t.Fatalf("rejected creates must not write")
	}
}

func TestOrderServiceCreateRequiresKnownSubject(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	if _, err := fixture.svc.Create(context.Background(), CreateOrderCommand{SenderInfo: "s", ReceiverInfo: "r"}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if _, err := fixture.svc.Create(context.Background(), CreateOrderCommand{Subject: "ghost", SenderInfo: "s", ReceiverInfo: "r"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestOrderServiceUpdateStatusEveryDistinctPair(t *testing.T) {
	for _, from := range domain.OrderStatuses {
		for _, to := range domain.OrderStatuses {
			if from == to {
				continue
			}
			from, to := from, to
			t.Run(fmt.Sprintf("%s_to_%s", from.Label(), to.Label()), func(t *testing.T) {
				fixture := newOrderServiceFixture(t)
				seedOrder(t, fixture, "ord_1", from, "usr_alice")

				err := fixture.svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
					Subject:      "staff",
					OrderID:      "ord_1",
					TargetStatus: to,
				})
				if err != nil {
					t.Fatalf("update %s -> %s: %v", from.Label(), to.Label(), err)
				}

				if len(fixture.statusLog.entries) != 1 {
					t.Fatalf("expected exactly 1 status log row, got %d", len(fixture.statusLog.entries))
				}
				row := fixture.statusLog.entries[0]
				if row.OldStatus != from || row.NewStatus != to {
					t.Fatalf("unexpected transition row: %+v", row)
				}
				if row.OperatorID != "usr_staff" {
					t.Fatalf("expected operator usr_staff, got %q", row.OperatorID)
				}
				if row.StoreID != "store-7" {
					t.Fatalf("expected store carried from order, got %q", row.StoreID)
				}

				if len(fixture.opLog.entries) != 1 {
					t.Fatalf("expected exactly 1 operation log row, got %d", len(fixture.opLog.entries))
				}
				detail := fixture.opLog.entries[0].Detail
				if !strings.Contains(detail, from.Label()) || !strings.Contains(detail, to.Label()) {
					t.Fatalf("detail should name both statuses, got %q", detail)
				}

				stored, err := fixture.orders.FindByID(context.Background(), "ord_1")
				if err != nil {
					t.Fatalf("find: %v", err)
				}
				if stored.Status != to {
					t.Fatalf("expected stored status %s, got %s", to.Label(), stored.Status.Label())
				}
				if fixture.uow.calls != 1 {
					t.Fatalf("expected writes bundled in 1 transaction, got %d", fixture.uow.calls)
				}
			})
		}
	}
}

func TestOrderServiceUpdateStatusNoOpRejectsWithoutWrites(t *testing.T) {
	fixture := newOrderServiceFixture(t)
	seedOrder(t, fixture, "ord_1", domain.OrderStatusInTransit, "usr_alice")

	err := fixture.svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		Subject:      "staff",
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusInTransit,
	})
	if !errors.Is(err, ErrNoOpTransition) {
		t.Fatalf("expected no-op rejection, got %v", err)
	}
	if !strings.Contains(err.Error(), "InTransit") {
		t.Fatalf("message should name the current status, got %q", err.Error())
	}
	if len(fixture.statusLog.entries) != 0 || len(fixture.opLog.entries) != 0 {
		t.Fatalf("no-op must not write any log rows")
	}
	if len(fixture.events.messages) != 0 {
		t.Fatalf("no-op must not publish events")
	}
}

func TestOrderServiceUpdateStatusInvalidTarget(t *testing.T) {
	fixture := newOrderServiceFixture(t)
	seedOrder(t, fixture, "ord_1", domain.OrderStatusCreated, "usr_alice")

	for _, target := range []int{-1, 5, 99} {
		err := fixture.svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
			Subject:      "staff",
			OrderID:      "ord_1",
			TargetStatus: domain.OrderStatus(target),
		})
		if !errors.Is(err, ErrInvalidStatus) {
			t.Fatalf("target %d: expected invalid status, got %v", target, err)
		}
	}
	if len(fixture.statusLog.entries) != 0 || len(fixture.opLog.entries) != 0 {
		t.Fatalf("invalid targets must not write any log rows")
	}
}

func TestOrderServiceUpdateStatusUnknownOrder(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	err := fixture.svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		Subject:      "staff",
		OrderID:      "ord_missing",
		TargetStatus: domain.OrderStatusCollected,
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderServiceUpdateStatusMissingOrderBeatsUnknownSubject(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	err := fixture.svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		Subject:      "ghost",
		OrderID:      "ord_missing",
		TargetStatus: domain.OrderStatusCollected,
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("missing order must win over unknown subject, got %v", err)
	}

	// With an existing order the unknown subject surfaces instead.
	seedOrder(t, fixture, "ord_1", domain.OrderStatusCreated, "usr_alice")
	err = fixture.svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		Subject:      "ghost",
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusCollected,
	})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	if len(fixture.statusLog.entries) != 0 || len(fixture.opLog.entries) != 0 {
		t.Fatalf("rejected updates must not write any log rows")
	}
}

func TestOrderServiceUpdateStatusFailedWriteLeavesNoPartialState(t *testing.T) {
	seededAt := time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		arm  func(fixture orderServiceFixture)
	}{
		{name: "status log append fails", arm: func(f orderServiceFixture) {
			f.statusLog.appendErr = repoError{unavailable: true}
		}},
		{name: "operation log append fails", arm: func(f orderServiceFixture) {
			f.opLog.appendErr = repoError{unavailable: true}
		}},
		{name: "order update fails", arm: func(f orderServiceFixture) {
			f.orders.updateErr = repoError{unavailable: true}
		}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			fixture := newRollbackOrderServiceFixture(t)
			seedOrder(t, fixture, "ord_1", domain.OrderStatusCollected, "usr_alice")
			tc.arm(fixture)

			err := fixture.svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
				Subject:      "staff",
				OrderID:      "ord_1",
				TargetStatus: domain.OrderStatusInTransit,
			})
			if !errors.Is(err, ErrStorage) {
				t.Fatalf("expected storage error, got %v", err)
			}

			stored, findErr := fixture.orders.FindByID(context.Background(), "ord_1")
			if findErr != nil {
				t.Fatalf("find after failed update: %v", findErr)
			}
			if stored.Status != domain.OrderStatusCollected {
				t.Fatalf("order status must be untouched, got %s", stored.Status.Label())
			}
			if !stored.UpdatedAt.Equal(seededAt) {
				t.Fatalf("updated at must be untouched, got %s", stored.UpdatedAt)
			}
			if len(fixture.statusLog.entries) != 0 {
				t.Fatalf("expected no status log rows, got %d", len(fixture.statusLog.entries))
			}
			if len(fixture.opLog.entries) != 0 {
				t.Fatalf("expected no operation log rows, got %d", len(fixture.opLog.entries))
			}
			if len(fixture.events.messages) != 0 {
				t.Fatalf("failed transitions must not publish events")
			}
		})
	}
}

func TestOrderServiceMapsUnavailableStorage(t *testing.T) {
	fixture := newOrderServiceFixture(t)
	seedOrder(t, fixture, "ord_1", domain.OrderStatusCreated, "usr_alice")

	fixture.orders.findErr = repoError{unavailable: true}
	if _, err := fixture.svc.Get(context.Background(), "admin", "ord_1"); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage error from read, got %v", err)
	}
	fixture.orders.findErr = nil

	fixture.orders.insertErr = repoError{unavailable: true}
	if _, err := fixture.svc.Create(context.Background(), CreateOrderCommand{
		Subject:      "alice",
		SenderInfo:   "s",
		ReceiverInfo: "r",
	}); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage error from insert, got %v", err)
	}
	if len(fixture.opLog.entries) != 0 {
		t.Fatalf("failed create must not record an operation entry")
	}
	if len(fixture.events.messages) != 0 {
		t.Fatalf("failed create must not publish events")
	}
}

func TestOrderServiceDeleteGuard(t *testing.T) {
	guarded := []domain.OrderStatus{
		domain.OrderStatusCollected,
		domain.OrderStatusInTransit,
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusDelivered,
	}
	for _, status := range guarded {
		status := status
		t.Run(status.Label(), func(t *testing.T) {
			fixture := newOrderServiceFixture(t)
			seedOrder(t, fixture, "ord_1", status, "usr_alice")

			err := fixture.svc.Delete(context.Background(), DeleteOrderCommand{Subject: "admin", OrderID: "ord_1"})
			if !errors.Is(err, ErrDeleteGuard) {
				t.Fatalf("expected delete guard, got %v", err)
			}
			if _, err := fixture.orders.FindByID(context.Background(), "ord_1"); err != nil {
				t.Fatalf("order must survive a guarded delete: %v", err)
			}
			if len(fixture.opLog.entries) != 0 {
				t.Fatalf("guarded delete must not write an operation entry")
			}
		})
	}

	fixture := newOrderServiceFixture(t)
	seedOrder(t, fixture, "ord_1", domain.OrderStatusCreated, "usr_alice")
	if err := fixture.svc.Delete(context.Background(), DeleteOrderCommand{Subject: "admin", OrderID: "ord_1"}); err != nil {
		t.Fatalf("delete of newly created order: %v", err)
	}
	if _, err := fixture.orders.FindByID(context.Background(), "ord_1"); err == nil {
		t.Fatalf("order should be gone after delete")
	}
	if len(fixture.opLog.entries) != 1 || fixture.opLog.entries[0].OperationType != "order delete" {
		t.Fatalf("expected 1 delete operation entry, got %+v", fixture.opLog.entries)
	}
}

func TestOrderServiceVisibilityMatrix(t *testing.T) {
	cases := []struct {
		name    string
		subject string
		visible bool
	}{
		{name: "creator sees own order", subject: "alice", visible: true},
		{name: "other customer cannot", subject: "bob", visible: false},
		{name: "staff sees all", subject: "staff", visible: true},
		{name: "admin sees all", subject: "admin", visible: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			fixture := newOrderServiceFixture(t)
			seedOrder(t, fixture, "ord_1", domain.OrderStatusCreated, "usr_alice")

			_, err := fixture.svc.Get(context.Background(), tc.subject, "ord_1")
			if tc.visible && err != nil {
				t.Fatalf("expected visible, got %v", err)
			}
			if !tc.visible {
				if !errors.Is(err, ErrOrderNotFound) {
					t.Fatalf("hidden orders must look missing, got %v", err)
				}
				// Same error as a genuinely absent order.
				_, missingErr := fixture.svc.Get(context.Background(), tc.subject, "ord_absent")
				if !errors.Is(missingErr, ErrOrderNotFound) {
					t.Fatalf("expected not found for absent order, got %v", missingErr)
				}
			}

			_, histErr := fixture.svc.History(context.Background(), tc.subject, "ord_1")
			if tc.visible && histErr != nil {
				t.Fatalf("expected history visible, got %v", histErr)
			}
			if !tc.visible && !errors.Is(histErr, ErrOrderNotFound) {
				t.Fatalf("expected hidden history, got %v", histErr)
			}
		})
	}
}

func TestOrderServiceListScopesCustomersToOwnOrders(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	if _, err := fixture.svc.List(context.Background(), "alice", OrderListQuery{Keyword: "fragile"}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if fixture.orders.listFilter.CreatedBy != "usr_alice" {
		t.Fatalf("customer listing must be scoped to the caller, got %q", fixture.orders.listFilter.CreatedBy)
	}

	if _, err := fixture.svc.List(context.Background(), "staff", OrderListQuery{}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if fixture.orders.listFilter.CreatedBy != "" {
		t.Fatalf("back-office listing must not be scoped, got %q", fixture.orders.listFilter.CreatedBy)
	}

	bad := domain.OrderStatus(7)
	if _, err := fixture.svc.List(context.Background(), "staff", OrderListQuery{Status: &bad}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status filter rejection, got %v", err)
	}
}

func TestOrderServiceStatsAggregatesCounts(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	perStatus := map[domain.OrderStatus]int64{
		domain.OrderStatusCreated:        4,
		domain.OrderStatusCollected:      3,
		domain.OrderStatusInTransit:      2,
		domain.OrderStatusOutForDelivery: 1,
		domain.OrderStatusDelivered:      5,
	}
	var todayFilterSeen *time.Time
	fixture.orders.countFn = func(filter repositories.OrderCountFilter) (int64, error) {
		switch {
		case filter.Status != nil:
			return perStatus[*filter.Status], nil
		case filter.CreatedAfter != nil:
			todayFilterSeen = filter.CreatedAfter
			return 2, nil
		default:
			return 15, nil
		}
	}

	stats, err := fixture.svc.Stats(context.Background(), "admin")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 15 || stats.Today != 2 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	for status, want := range perStatus {
		if got := stats.CountsByStatus[status]; got != want {
			t.Fatalf("status %s: expected %d, got %d", status.Label(), want, got)
		}
	}
	wantMidnight := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	if todayFilterSeen == nil || !todayFilterSeen.Equal(wantMidnight) {
		t.Fatalf("expected today filter at %s, got %v", wantMidnight, todayFilterSeen)
	}
}

func TestOrderServiceRecentClampsLimit(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	if _, err := fixture.svc.Recent(context.Background(), "admin", 0); err != nil {
		t.Fatalf("recent: %v", err)
	}
	if fixture.orders.recentLimit != 10 {
		t.Fatalf("expected default limit 10, got %d", fixture.orders.recentLimit)
	}

	if _, err := fixture.svc.Recent(context.Background(), "admin", 500); err != nil {
		t.Fatalf("recent: %v", err)
	}
	if fixture.orders.recentLimit != 50 {
		t.Fatalf("expected limit capped at 50, got %d", fixture.orders.recentLimit)
	}
}

func TestOrderServiceStatusOptions(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	options := fixture.svc.StatusOptions()
	if len(options) != len(domain.OrderStatuses) {
		t.Fatalf("expected %d options, got %d", len(domain.OrderStatuses), len(options))
	}
	if options[0].Value != 0 || options[0].Label != "Created" {
		t.Fatalf("unexpected first option: %+v", options[0])
	}
	if options[4].Value != 4 || options[4].Label != "Delivered" {
		t.Fatalf("unexpected last option: %+v", options[4])
	}
}

func TestOrderServiceConcurrentCreatesGetUniqueIDs(t *testing.T) {
	fixture := newOrderServiceFixture(t)

	const workers = 64
	ids := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := fixture.svc.Create(context.Background(), CreateOrderCommand{
				Subject:      "alice",
				SenderInfo:   "s",
				ReceiverInfo: "r",
			})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids <- order.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, workers)
	for id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate order id generated: %s", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) != workers {
		t.Fatalf("expected %d unique ids, got %d", workers, len(seen))
	}
}

func TestOrderServicePublishFailureDoesNotFailOperation(t *testing.T) {
	fixture := newOrderServiceFixture(t)
	fixture.events.err = errors.New("broker down")

	if _, err := fixture.svc.Create(context.Background(), CreateOrderCommand{
		Subject:      "alice",
		SenderInfo:   "s",
		ReceiverInfo: "r",
	}); err != nil {
		t.Fatalf("create should survive publish failure: %v", err)
	}
	if len(fixture.orders.orders) != 1 {
		t.Fatalf("order must be persisted despite publish failure")
	}
}

func TestOrderServiceFullLifecycle(t *testing.T) {
	fixture := newOrderServiceFixture(t)
	ctx := context.Background()

	order, err := fixture.svc.Create(ctx, CreateOrderCommand{
		Subject:      "alice",
		SenderInfo:   `{"name":"a"}`,
		ReceiverInfo: `{"name":"b"}`,
		ItemType:     "electronics",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	path := []domain.OrderStatus{
		domain.OrderStatusCollected,
		domain.OrderStatusInTransit,
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusDelivered,
	}
	for _, next := range path {
		if err := fixture.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{
			Subject:      "staff",
			OrderID:      order.ID,
			TargetStatus: next,
		}); err != nil {
			t.Fatalf("transition to %s: %v", next.Label(), err)
		}
	}

	history, err := fixture.svc.History(ctx, "alice", order.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != len(path) {
		t.Fatalf("expected %d transition rows, got %d", len(path), len(history))
	}
	prev := domain.OrderStatusCreated
	for i, row := range history {
		if row.OldStatus != prev || row.NewStatus != path[i] {
			t.Fatalf("row %d: expected %s -> %s, got %s -> %s",
				i, prev.Label(), path[i].Label(), row.OldStatus.Label(), row.NewStatus.Label())
		}
		prev = path[i]
	}

	// 1 create + 4 transitions.
	if len(fixture.opLog.entries) != 5 {
		t.Fatalf("expected 5 operation entries, got %d", len(fixture.opLog.entries))
	}

	if err := fixture.svc.Delete(ctx, DeleteOrderCommand{Subject: "admin", OrderID: order.ID}); !errors.Is(err, ErrDeleteGuard) {
		t.Fatalf("delivered order must not be deletable, got %v", err)
	}

	final, err := fixture.svc.Get(ctx, "admin", order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected Delivered, got %s", final.Status.Label())
	}
}
