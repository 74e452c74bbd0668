package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/parcelhub/api/internal/domain"
	"github.com/parcelhub/api/internal/platform/httpx"
	"github.com/parcelhub/api/internal/services"
)

const maxAuthBodySize = 4 * 1024

type loginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	CaptchaKey    string `json:"captchaKey"`
	CaptchaAnswer string `json:"captchaAnswer"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Role      string `json:"role"`
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userPayload struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	Role        string  `json:"role"`
	Enabled     bool    `json:"enabled"`
	LastLoginAt *string `json:"lastLoginAt,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

type captchaResponse struct {
	Key       string `json:"key"`
	Image     string `json:"image"`
	ExpiresAt string `json:"expiresAt"`
}

// AuthHandlers exposes login, registration, and captcha endpoints. All of them
// are public: the captcha gate and the normalized login error do the guarding.
type AuthHandlers struct {
	auth    services.AuthService
	limiter RateLimiter
}

// NewAuthHandlers constructs a new AuthHandlers instance.
func NewAuthHandlers(auth services.AuthService, limiter RateLimiter) *AuthHandlers {
	return &AuthHandlers{
		auth:    auth,
		limiter: limiter,
	}
}

// Routes registers the /auth endpoints.
func (h *AuthHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/login", h.login)
	r.Post("/register", h.register)
	r.Get("/captcha", h.captcha)
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.auth == nil {
		httpx.WriteError(ctx, w, httpx.NewError("auth service unavailable", http.StatusServiceUnavailable))
		return
	}

	ip := clientIP(r)
	if h.limiter != nil && !h.limiter.Allow(ip) {
		httpx.WriteError(ctx, w, httpx.NewError("too many login attempts", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxAuthBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	var payload loginRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("request body must be valid JSON", http.StatusBadRequest))
		return
	}

	result, err := h.auth.Login(ctx, services.LoginCommand{
		Username:      payload.Username,
		Password:      payload.Password,
		CaptchaKey:    payload.CaptchaKey,
		CaptchaAnswer: payload.CaptchaAnswer,
		IPAddress:     ip,
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	httpx.WriteData(ctx, w, loginResponse{
		Token:     result.Token,
		ExpiresAt: formatTime(result.ExpiresAt),
		UserID:    result.UserID,
		Username:  result.Username,
		Role:      result.Role,
	})
}

func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.auth == nil {
		httpx.WriteError(ctx, w, httpx.NewError("auth service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxAuthBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	var payload registerRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("request body must be valid JSON", http.StatusBadRequest))
		return
	}

	user, err := h.auth.Register(ctx, services.RegisterCommand{
		Username:  payload.Username,
		Password:  payload.Password,
		IPAddress: clientIP(r),
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	httpx.WriteData(ctx, w, toUserPayload(user))
}

func (h *AuthHandlers) captcha(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.auth == nil {
		httpx.WriteError(ctx, w, httpx.NewError("auth service unavailable", http.StatusServiceUnavailable))
		return
	}

	challenge, err := h.auth.NewCaptcha(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("could not generate captcha", http.StatusInternalServerError))
		return
	}

	httpx.WriteData(ctx, w, captchaResponse{
		Key:       challenge.Key,
		Image:     challenge.Image,
		ExpiresAt: formatTime(challenge.ExpiresAt),
	})
}

func toUserPayload(user domain.User) userPayload {
	return userPayload{
		ID:          user.ID,
		Username:    user.Username,
		Role:        user.Role,
		Enabled:     user.Enabled,
		LastLoginAt: pointerTime(user.LastLoginAt),
		CreatedAt:   formatTime(user.CreatedAt),
	}
}

func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("request body too large", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("could not read request body", http.StatusBadRequest))
	}
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrLoginFailed):
		httpx.WriteError(ctx, w, httpx.NewError(services.ErrLoginFailed.Error(), http.StatusUnauthorized))
	case errors.Is(err, services.ErrCaptchaInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("captcha invalid or expired", http.StatusBadRequest))
	case errors.Is(err, services.ErrUsernameTaken):
		httpx.WriteError(ctx, w, httpx.NewError("username already taken", http.StatusConflict))
	case errors.Is(err, services.ErrAuthInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError(err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal server error", http.StatusInternalServerError))
	}
}
