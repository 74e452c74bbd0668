package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/parcelhub/api/internal/platform/auth"
	"github.com/parcelhub/api/internal/platform/httpx"
	"github.com/parcelhub/api/internal/services"
)

type operationLogPayload struct {
	ID            string `json:"id"`
	OperatorID    string `json:"operatorId"`
	OperationType string `json:"operationType"`
	TargetID      string `json:"targetId,omitempty"`
	Detail        string `json:"detail"`
	IPAddress     string `json:"ipAddress,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

// LogHandlers exposes the administrative action trail to back-office roles.
type LogHandlers struct {
	authn *auth.Authenticator
	trail services.OperationLogService
}

// NewLogHandlers constructs a new LogHandlers instance.
func NewLogHandlers(authn *auth.Authenticator, trail services.OperationLogService) *LogHandlers {
	return &LogHandlers{
		authn: authn,
		trail: trail,
	}
}

// Routes registers the /logs endpoints.
func (h *LogHandlers) Routes(r chi.Router) {
	if r == nil || h.authn == nil {
		return
	}

	r.Group(func(g chi.Router) {
		g.Use(h.authn.RequireAuth(auth.RoleAdmin, auth.RoleStaff))
		g.Get("/operations", h.listOperations)
	})
}

func (h *LogHandlers) listOperations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page, pageSize := parsePageRequest(r)
	result, err := h.trail.List(ctx, services.OperationLogQuery{
		OperatorID: strings.TrimSpace(r.URL.Query().Get("operatorId")),
		TargetID:   strings.TrimSpace(r.URL.Query().Get("targetId")),
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrStorage):
			httpx.WriteError(ctx, w, httpx.NewError("storage unavailable", http.StatusServiceUnavailable))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("internal server error", http.StatusInternalServerError))
		}
		return
	}

	items := make([]operationLogPayload, 0, len(result.Items))
	for _, entry := range result.Items {
		items = append(items, operationLogPayload{
			ID:            entry.ID,
			OperatorID:    entry.OperatorID,
			OperationType: entry.OperationType,
			TargetID:      entry.TargetID,
			Detail:        entry.Detail,
			IPAddress:     entry.IPAddress,
			CreatedAt:     formatTime(entry.CreatedAt),
		})
	}
	httpx.WriteData(ctx, w, pagePayload[operationLogPayload]{
		Items:    items,
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
	})
}
