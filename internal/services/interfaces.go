package services

import (
	"context"
	"time"

	domain "github.com/parcelhub/api/internal/domain"
)

// Identity is the resolved account behind an authenticated subject. Disabled
// accounts still resolve so callers can decide how to treat them.
type Identity struct {
	UserID   string
	Username string
	Role     string
	Enabled  bool
}

// IdentityService maps token subjects onto stored accounts.
type IdentityService interface {
	Resolve(ctx context.Context, subject string) (Identity, error)
}

// CreateOrderCommand captures the inputs required to register a parcel.
type CreateOrderCommand struct {
	Subject        string
	SenderInfo     string
	ReceiverInfo   string
	ItemType       string
	CurrentStoreID string
	IPAddress      string
}

// UpdateOrderStatusCommand moves an order to a new lifecycle status.
type UpdateOrderStatusCommand struct {
	Subject      string
	OrderID      string
	TargetStatus domain.OrderStatus
	IPAddress    string
}

// DeleteOrderCommand removes an order that has not yet been collected.
type DeleteOrderCommand struct {
	Subject   string
	OrderID   string
	IPAddress string
}

// OrderListQuery narrows administrative order listings.
type OrderListQuery struct {
	Keyword  string
	Status   *domain.OrderStatus
	Page     int
	PageSize int
}

// PageQuery is a plain page request without predicates.
type PageQuery struct {
	Page     int
	PageSize int
}

// StatusOption pairs a status code with its display label.
type StatusOption struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

// OrderService manages the parcel order lifecycle, its audit trail, and the
// visibility rules applied on reads.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) error
	Get(ctx context.Context, subject, orderID string) (domain.Order, error)
	Delete(ctx context.Context, cmd DeleteOrderCommand) error
	List(ctx context.Context, subject string, query OrderListQuery) (domain.Page[domain.Order], error)
	ListMine(ctx context.Context, subject string, query PageQuery) (domain.Page[domain.Order], error)
	Stats(ctx context.Context, subject string) (domain.OrderStats, error)
	Recent(ctx context.Context, subject string, limit int) ([]domain.Order, error)
	History(ctx context.Context, subject, orderID string) ([]domain.OrderStatusLog, error)
	StatusOptions() []StatusOption
}

// LoginCommand carries the credentials and captcha solution for a login attempt.
type LoginCommand struct {
	Username      string
	Password      string
	CaptchaKey    string
	CaptchaAnswer string
	IPAddress     string
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	UserID    string
	Username  string
	Role      string
}

// RegisterCommand creates a new customer account.
type RegisterCommand struct {
	Username  string
	Password  string
	IPAddress string
}

// CaptchaChallenge is a rendered login challenge handed to the client.
type CaptchaChallenge struct {
	Key       string
	Image     string
	ExpiresAt time.Time
}

// AuthService handles account registration and credential verification.
type AuthService interface {
	Login(ctx context.Context, cmd LoginCommand) (LoginResult, error)
	Register(ctx context.Context, cmd RegisterCommand) (domain.User, error)
	NewCaptcha(ctx context.Context) (CaptchaChallenge, error)
}

// UserListQuery narrows administrative account listings.
type UserListQuery struct {
	Keyword  string
	Page     int
	PageSize int
}

// SetUserEnabledCommand toggles whether an account can log in.
type SetUserEnabledCommand struct {
	Subject   string
	UserID    string
	Enabled   bool
	IPAddress string
}

// SetUserRoleCommand reassigns an account's role.
type SetUserRoleCommand struct {
	Subject   string
	UserID    string
	Role      string
	IPAddress string
}

// UserService exposes administrative account management.
type UserService interface {
	Get(ctx context.Context, userID string) (domain.User, error)
	List(ctx context.Context, query UserListQuery) (domain.Page[domain.User], error)
	SetEnabled(ctx context.Context, cmd SetUserEnabledCommand) (domain.User, error)
	SetRole(ctx context.Context, cmd SetUserRoleCommand) (domain.User, error)
}

// OperationRecord describes an administrative action for the audit trail.
type OperationRecord struct {
	OperatorID    string
	OperationType string
	TargetID      string
	Detail        string
	IPAddress     string
	OccurredAt    time.Time
}

// OperationLogQuery narrows operation trail listings.
type OperationLogQuery struct {
	OperatorID string
	TargetID   string
	Page       int
	PageSize   int
}

// OperationLogService records and lists the administrative action trail.
type OperationLogService interface {
	Record(ctx context.Context, record OperationRecord)
	List(ctx context.Context, query OperationLogQuery) (domain.Page[domain.OperationLog], error)
}

// OrderEventMessage is the payload published for order lifecycle events.
type OrderEventMessage struct {
	Type       string         `json:"type"`
	OrderID    string         `json:"orderId"`
	ActorID    string         `json:"actorId"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}
