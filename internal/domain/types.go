package domain

import (
	"fmt"
	"time"
)

// OrderStatus enumerates the delivery lifecycle states an order moves through.
type OrderStatus int

const (
	OrderStatusCreated OrderStatus = iota
	OrderStatusCollected
	OrderStatusInTransit
	OrderStatusOutForDelivery
	OrderStatusDelivered
)

// OrderStatuses lists every valid status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusCollected,
	OrderStatusInTransit,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
}

var orderStatusLabels = map[OrderStatus]string{
	OrderStatusCreated:        "Created",
	OrderStatusCollected:      "Collected",
	OrderStatusInTransit:      "InTransit",
	OrderStatusOutForDelivery: "OutForDelivery",
	OrderStatusDelivered:      "Delivered",
}

// Valid reports whether the status is one of the five defined values.
func (s OrderStatus) Valid() bool {
	_, ok := orderStatusLabels[s]
	return ok
}

// Label returns the human readable name for the status.
func (s OrderStatus) Label() string {
	if label, ok := orderStatusLabels[s]; ok {
		return label
	}
	return fmt.Sprintf("Unknown(%d)", int(s))
}

// Order is a parcel tracked through the delivery lifecycle. SenderInfo and
// ReceiverInfo are opaque serialized payloads the lifecycle engine never
// interprets.
type Order struct {
	ID             string
	SenderInfo     string
	ReceiverInfo   string
	ItemType       string
	CurrentStoreID string
	Status         OrderStatus
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderStatusLog is an append-only record of a single status transition.
type OrderStatusLog struct {
	ID         string
	OrderID    string
	OldStatus  OrderStatus
	NewStatus  OrderStatus
	OperatorID string
	StoreID    string
	CreatedAt  time.Time
}

// OperationLog is an append-only record of an administrative action.
type OperationLog struct {
	ID            string
	OperatorID    string
	OperationType string
	TargetID      string
	Detail        string
	IPAddress     string
	CreatedAt     time.Time
}

// User is an account able to authenticate against the backend.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	Enabled      bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderStats aggregates order counts for the dashboard projections.
type OrderStats struct {
	Total          int64
	CountsByStatus map[OrderStatus]int64
	Today          int64
}

// Page wraps an offset-paginated result set together with the total match count.
type Page[T any] struct {
	Items    []T
	Total    int64
	Page     int
	PageSize int
}
