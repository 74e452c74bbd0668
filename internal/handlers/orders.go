package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/parcelhub/api/internal/platform/auth"
	"github.com/parcelhub/api/internal/platform/httpx"
	"github.com/parcelhub/api/internal/services"

	domain "github.com/parcelhub/api/internal/domain"
)

type createOrderRequest struct {
	SenderInfo     string `json:"senderInfo"`
	ReceiverInfo   string `json:"receiverInfo"`
	ItemType       string `json:"itemType"`
	CurrentStoreID string `json:"currentStoreId"`
}

type updateOrderStatusRequest struct {
	Status int `json:"status"`
}

type orderPayload struct {
	ID             string `json:"id"`
	SenderInfo     string `json:"senderInfo"`
	ReceiverInfo   string `json:"receiverInfo"`
	ItemType       string `json:"itemType"`
	CurrentStoreID string `json:"currentStoreId,omitempty"`
	Status         int    `json:"status"`
	StatusLabel    string `json:"statusLabel"`
	CreatedBy      string `json:"createdBy"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
}

type orderHistoryPayload struct {
	ID         string `json:"id"`
	OrderID    string `json:"orderId"`
	OldStatus  int    `json:"oldStatus"`
	NewStatus  int    `json:"newStatus"`
	OperatorID string `json:"operatorId"`
	StoreID    string `json:"storeId,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

type orderStatsPayload struct {
	Total          int64            `json:"total"`
	CountsByStatus map[string]int64 `json:"countsByStatus"`
	Today          int64            `json:"today"`
}

type pagePayload[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
}

// OrderHandlers exposes the parcel order lifecycle over HTTP.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints. Customers may create and read their
// own orders; back-office roles drive transitions and projections; only admins
// may delete.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil || h.authn == nil {
		return
	}

	r.Group(func(g chi.Router) {
		g.Use(h.authn.RequireAuth())
		g.Post("/", h.create)
		g.Get("/my", h.listMine)
		g.Get("/{orderID}", h.get)
	})

	r.Group(func(g chi.Router) {
		g.Use(h.authn.RequireAuth(auth.RoleAdmin, auth.RoleStaff))
		g.Get("/list", h.list)
		g.Get("/stats", h.stats)
		g.Get("/recent", h.recent)
		g.Get("/status-options", h.statusOptions)
		g.Get("/{orderID}/history", h.history)
		g.Put("/{orderID}/status", h.updateStatus)
	})

	r.Group(func(g chi.Router) {
		g.Use(h.authn.RequireAuth(auth.RoleAdmin))
		g.Delete("/{orderID}", h.delete)
	})
}

func (h *OrderHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxRequestBody)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	var payload createOrderRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("request body must be valid JSON", http.StatusBadRequest))
		return
	}

	subject := subjectFromContext(ctx)
	order, err := h.orders.Create(ctx, services.CreateOrderCommand{
		Subject:        subject,
		SenderInfo:     payload.SenderInfo,
		ReceiverInfo:   payload.ReceiverInfo,
		ItemType:       payload.ItemType,
		CurrentStoreID: payload.CurrentStoreID,
		IPAddress:      clientIP(r),
	})
	if err != nil {
		writeOrderError(w, r, err)
		return
	}

	httpx.WriteDataWithStatus(ctx, w, http.StatusCreated, toOrderPayload(order))
}

func (h *OrderHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := subjectFromContext(ctx)

	order, err := h.orders.Get(ctx, subject, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(w, r, err)
		return
	}

	httpx.WriteData(ctx, w, toOrderPayload(order))
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxRequestBody)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	var payload updateOrderStatusRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("request body must be valid JSON", http.StatusBadRequest))
		return
	}

	subject := subjectFromContext(ctx)
	err = h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		Subject:      subject,
		OrderID:      chi.URLParam(r, "orderID"),
		TargetStatus: domain.OrderStatus(payload.Status),
		IPAddress:    clientIP(r),
	})
	if err != nil {
		writeOrderError(w, r, err)
		return
	}

	httpx.WriteData(ctx, w, map[string]any{
		"orderId": chi.URLParam(r, "orderID"),
		"status":  payload.Status,
	})
}

func (h *OrderHandlers) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := subjectFromContext(ctx)

	err := h.orders.Delete(ctx, services.DeleteOrderCommand{
		Subject:   subject,
		OrderID:   chi.URLParam(r, "orderID"),
		IPAddress: clientIP(r),
	})
	if err != nil {
		writeOrderError(w, r, err)
		return
	}

	httpx.WriteData(ctx, w, map[string]any{
		"orderId": chi.URLParam(r, "orderID"),
		"deleted": true,
	})
}

func (h *OrderHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := subjectFromContext(ctx)

	page, pageSize := parsePageRequest(r)
	query := services.OrderListQuery{
		Keyword:  strings.TrimSpace(r.URL.Query().Get("keyword")),
		Page:     page,
		PageSize: pageSize,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("status must be an integer", http.StatusBadRequest))
			return
		}
		status := domain.OrderStatus(parsed)
		query.Status = &status
	}

	result, err := h.orders.List(ctx, subject, query)
	if err != nil {
		writeOrderError(w, r, err)
		return
	}

	httpx.WriteData(ctx, w, toOrderPage(result))
}

func (h *OrderHandlers) listMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := subjectFromContext(ctx)

	page, pageSize := parsePageRequest(r)
	result, err := h.orders.ListMine(ctx, subject, services.PageQuery{
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		writeOrderError(w, r, err)
		return
	}

	httpx.WriteData(ctx, w, toOrderPage(result))
}

func (h *OrderHandlers) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := subjectFromContext(ctx)

	stats, err := h.orders.Stats(ctx, subject)
	if err != nil {
		writeOrderError(w, r, err)
		return
	}

	counts := make(map[string]int64, len(stats.CountsByStatus))
	for status, count := range stats.CountsByStatus {
		counts[strconv.Itoa(int(status))] = count
	}

	httpx.WriteData(ctx, w, orderStatsPayload{
		Total:          stats.Total,
		CountsByStatus: counts,
		Today:          stats.Today,
	})
}

func (h *OrderHandlers) recent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := subjectFromContext(ctx)

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	orders, err := h.orders.Recent(ctx, subject, limit)
	if err != nil {
		writeOrderError(w, r, err)
		return
	}

	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, toOrderPayload(order))
	}
	httpx.WriteData(ctx, w, items)
}

func (h *OrderHandlers) history(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := subjectFromContext(ctx)

	logs, err := h.orders.History(ctx, subject, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(w, r, err)
		return
	}

	items := make([]orderHistoryPayload, 0, len(logs))
	for _, entry := range logs {
		items = append(items, orderHistoryPayload{
			ID:         entry.ID,
			OrderID:    entry.OrderID,
			OldStatus:  int(entry.OldStatus),
			NewStatus:  int(entry.NewStatus),
			OperatorID: entry.OperatorID,
			StoreID:    entry.StoreID,
			CreatedAt:  formatTime(entry.CreatedAt),
		})
	}
	httpx.WriteData(ctx, w, items)
}

func (h *OrderHandlers) statusOptions(w http.ResponseWriter, r *http.Request) {
	httpx.WriteData(r.Context(), w, h.orders.StatusOptions())
}

func toOrderPayload(order domain.Order) orderPayload {
	return orderPayload{
		ID:             order.ID,
		SenderInfo:     order.SenderInfo,
		ReceiverInfo:   order.ReceiverInfo,
		ItemType:       order.ItemType,
		CurrentStoreID: order.CurrentStoreID,
		Status:         int(order.Status),
		StatusLabel:    order.Status.Label(),
		CreatedBy:      order.CreatedBy,
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
	}
}

func toOrderPage(page domain.Page[domain.Order]) pagePayload[orderPayload] {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, toOrderPayload(order))
	}
	return pagePayload[orderPayload]{
		Items:    items,
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}
}

func writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		httpx.WriteError(ctx, w, httpx.NewError("authentication required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("account not recognised", http.StatusUnauthorized))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrNoOpTransition),
		errors.Is(err, services.ErrInvalidStatus),
		errors.Is(err, services.ErrDeleteGuard),
		errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError(trimSentinelPrefix(err.Error()), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order was modified concurrently", http.StatusConflict))
	case errors.Is(err, services.ErrStorage):
		httpx.WriteError(ctx, w, httpx.NewError("storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal server error", http.StatusInternalServerError))
	}
}

// trimSentinelPrefix drops the package-qualifying "order: " prefix so API
// clients see just the human readable part of a sentinel error message.
func trimSentinelPrefix(message string) string {
	if idx := strings.Index(message, ": "); idx >= 0 {
		return message[idx+2:]
	}
	return message
}
