package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/parcelhub/api/internal/platform/auth"
	"github.com/parcelhub/api/internal/platform/httpx"
	"github.com/parcelhub/api/internal/services"
)

type setUserEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

type setUserRoleRequest struct {
	Role string `json:"role"`
}

// UserHandlers exposes administrative account management. Every route requires
// the admin role.
type UserHandlers struct {
	authn *auth.Authenticator
	users services.UserService
}

// NewUserHandlers constructs a new UserHandlers instance.
func NewUserHandlers(authn *auth.Authenticator, users services.UserService) *UserHandlers {
	return &UserHandlers{
		authn: authn,
		users: users,
	}
}

// Routes registers the /users endpoints.
func (h *UserHandlers) Routes(r chi.Router) {
	if r == nil || h.authn == nil {
		return
	}

	r.Group(func(g chi.Router) {
		g.Use(h.authn.RequireAuth(auth.RoleAdmin))
		g.Get("/", h.list)
		g.Get("/{userID}", h.get)
		g.Put("/{userID}/enabled", h.setEnabled)
		g.Put("/{userID}/role", h.setRole)
	})
}

func (h *UserHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page, pageSize := parsePageRequest(r)
	result, err := h.users.List(ctx, services.UserListQuery{
		Keyword:  strings.TrimSpace(r.URL.Query().Get("keyword")),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		writeUserError(w, r, err)
		return
	}

	items := make([]userPayload, 0, len(result.Items))
	for _, user := range result.Items {
		items = append(items, toUserPayload(user))
	}
	httpx.WriteData(ctx, w, pagePayload[userPayload]{
		Items:    items,
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
	})
}

func (h *UserHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := h.users.Get(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		writeUserError(w, r, err)
		return
	}

	httpx.WriteData(ctx, w, toUserPayload(user))
}

func (h *UserHandlers) setEnabled(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxAuthBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	var payload setUserEnabledRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("request body must be valid JSON", http.StatusBadRequest))
		return
	}

	subject := subjectFromContext(ctx)
	user, err := h.users.SetEnabled(ctx, services.SetUserEnabledCommand{
		Subject:   subject,
		UserID:    chi.URLParam(r, "userID"),
		Enabled:   payload.Enabled,
		IPAddress: clientIP(r),
	})
	if err != nil {
		writeUserError(w, r, err)
		return
	}

	httpx.WriteData(ctx, w, toUserPayload(user))
}

func (h *UserHandlers) setRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxAuthBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	var payload setUserRoleRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("request body must be valid JSON", http.StatusBadRequest))
		return
	}

	subject := subjectFromContext(ctx)
	user, err := h.users.SetRole(ctx, services.SetUserRoleCommand{
		Subject:   subject,
		UserID:    chi.URLParam(r, "userID"),
		Role:      payload.Role,
		IPAddress: clientIP(r),
	})
	if err != nil {
		writeUserError(w, r, err)
		return
	}

	httpx.WriteData(ctx, w, toUserPayload(user))
}

func writeUserError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		httpx.WriteError(ctx, w, httpx.NewError("authentication required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user not found", http.StatusNotFound))
	case errors.Is(err, services.ErrAuthInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError(trimSentinelPrefix(err.Error()), http.StatusBadRequest))
	case errors.Is(err, services.ErrStorage):
		httpx.WriteError(ctx, w, httpx.NewError("storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal server error", http.StatusInternalServerError))
	}
}
