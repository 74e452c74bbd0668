package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	domain "github.com/parcelhub/api/internal/domain"
	"github.com/parcelhub/api/internal/platform/captcha"
	"github.com/parcelhub/api/internal/repositories"
)

const (
	userIDPrefix = "usr_"
	roleCustomer = "customer"

	minPasswordLength = 6
	maxUsernameLength = 64

	operationTypeLogin    = "user login"
	operationTypeRegister = "user register"

	defaultCaptchaTTL = 5 * time.Minute
)

var (
	// ErrLoginFailed is the single error returned for every credential problem
	// so callers cannot probe which part of the login was wrong.
	ErrLoginFailed = errors.New("incorrect username or password")
	// ErrCaptchaInvalid indicates a missing, wrong, or expired captcha solution.
	ErrCaptchaInvalid = errors.New("auth: captcha invalid or expired")
	// ErrUsernameTaken indicates the requested username is already registered.
	ErrUsernameTaken = errors.New("auth: username already taken")
	// ErrAuthInvalidInput signals malformed registration data.
	ErrAuthInvalidInput = errors.New("auth: invalid input")
)

// TokenIssuer signs access tokens for authenticated principals.
type TokenIssuer interface {
	Issue(subject, role string) (string, time.Time, error)
}

// CaptchaGenerator renders fresh login challenges.
type CaptchaGenerator interface {
	Generate() (captcha.Challenge, error)
}

// AuthServiceDeps bundles collaborators required to construct the auth service.
type AuthServiceDeps struct {
	Users       repositories.UserRepository
	Tokens      TokenIssuer
	Captchas    captcha.Store
	Generator   CaptchaGenerator
	CaptchaTTL  time.Duration
	Trail       OperationLogService
	Clock       func() time.Time
	IDGenerator func() string
	HashFn      func(password string) (string, error)
	CompareFn   func(hash, password string) error
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type authService struct {
	users      repositories.UserRepository
	tokens     TokenIssuer
	captchas   captcha.Store
	generator  CaptchaGenerator
	captchaTTL time.Duration
	trail      OperationLogService
	clock      func() time.Time
	newID      func() string
	hash       func(string) (string, error)
	compare    func(hash, password string) error
	logger     func(context.Context, string, map[string]any)
}

// NewAuthService wires dependencies into a concrete AuthService implementation.
func NewAuthService(deps AuthServiceDeps) (AuthService, error) {
	if deps.Users == nil {
		return nil, errors.New("auth service: user repository is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("auth service: token issuer is required")
	}
	if deps.Captchas == nil {
		return nil, errors.New("auth service: captcha store is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("auth service: captcha generator is required")
	}

	ttl := deps.CaptchaTTL
	if ttl <= 0 {
		ttl = defaultCaptchaTTL
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

	hashFn := deps.HashFn
	if hashFn == nil {
		hashFn = func(password string) (string, error) {
			hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return "", err
			}
			return string(hashed), nil
		}
	}

	compareFn := deps.CompareFn
	if compareFn == nil {
		compareFn = func(hash, password string) error {
			return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &authService{
		users:      deps.Users,
		tokens:     deps.Tokens,
		captchas:   deps.Captchas,
		generator:  deps.Generator,
		captchaTTL: ttl,
		trail:      deps.Trail,
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		hash:       hashFn,
		compare:    compareFn,
		logger:     logger,
	}, nil
}

// Login verifies the captcha solution and the credentials. Every credential
// failure collapses into ErrLoginFailed.
func (s *authService) Login(ctx context.Context, cmd LoginCommand) (LoginResult, error) {
	now := s.clock()

	answer, ok, err := s.captchas.Consume(ctx, cmd.CaptchaKey, now)
	if err != nil {
		if errors.Is(err, captcha.ErrKeyRequired) {
			return LoginResult{}, ErrCaptchaInvalid
		}
		return LoginResult{}, fmt.Errorf("auth: consume captcha: %w", err)
	}
	if !ok || !captcha.Matches(answer, cmd.CaptchaAnswer) {
		return LoginResult{}, ErrCaptchaInvalid
	}

	username := strings.TrimSpace(cmd.Username)
	if username == "" || cmd.Password == "" {
		return LoginResult{}, ErrLoginFailed
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return LoginResult{}, ErrLoginFailed
		}
		return LoginResult{}, err
	}

	if err := s.compare(user.PasswordHash, cmd.Password); err != nil {
		return LoginResult{}, ErrLoginFailed
	}
	if !user.Enabled {
		return LoginResult{}, ErrLoginFailed
	}

	token, expires, err := s.tokens.Issue(user.Username, user.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: issue token: %w", err)
	}

	last := now
	user.LastLoginAt = &last
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		s.logger(ctx, "auth.last_login.update.failed", map[string]any{
			"user":  user.ID,
			"error": err.Error(),
		})
	}

	if s.trail != nil {
		s.trail.Record(ctx, OperationRecord{
			OperatorID:    user.ID,
			OperationType: operationTypeLogin,
			TargetID:      user.ID,
			Detail:        "login succeeded",
			IPAddress:     cmd.IPAddress,
			OccurredAt:    now,
		})
	}

	return LoginResult{
		Token:     token,
		ExpiresAt: expires,
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
	}, nil
}

// Register creates a customer account with a freshly hashed password.
func (s *authService) Register(ctx context.Context, cmd RegisterCommand) (domain.User, error) {
	username := strings.TrimSpace(cmd.Username)
	if username == "" || len(username) > maxUsernameLength {
		return domain.User{}, fmt.Errorf("%w: username is required", ErrAuthInvalidInput)
	}
	if len(cmd.Password) < minPasswordLength {
		return domain.User{}, fmt.Errorf("%w: password must be at least %d characters", ErrAuthInvalidInput, minPasswordLength)
	}

	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		return domain.User{}, fmt.Errorf("%w: %s", ErrUsernameTaken, username)
	} else {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return domain.User{}, err
		}
	}

	hashed, err := s.hash(cmd.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("auth: hash password: %w", err)
	}

	now := s.clock()
	user := domain.User{
		ID:           userIDPrefix + s.newID(),
		Username:     username,
		PasswordHash: hashed,
		Role:         roleCustomer,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Insert(ctx, user); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return domain.User{}, fmt.Errorf("%w: %s", ErrUsernameTaken, username)
		}
		return domain.User{}, err
	}

	if s.trail != nil {
		s.trail.Record(ctx, OperationRecord{
			OperatorID:    user.ID,
			OperationType: operationTypeRegister,
			TargetID:      user.ID,
			Detail:        "account registered",
			IPAddress:     cmd.IPAddress,
			OccurredAt:    now,
		})
	}

	return user, nil
}

// NewCaptcha renders a challenge and stores its solution until it expires.
func (s *authService) NewCaptcha(ctx context.Context) (CaptchaChallenge, error) {
	challenge, err := s.generator.Generate()
	if err != nil {
		return CaptchaChallenge{}, err
	}

	expires := s.clock().Add(s.captchaTTL)
	if err := s.captchas.Save(ctx, challenge.Key, challenge.Answer(), expires); err != nil {
		return CaptchaChallenge{}, fmt.Errorf("auth: save captcha: %w", err)
	}

	return CaptchaChallenge{
		Key:       challenge.Key,
		Image:     challenge.Image,
		ExpiresAt: expires,
	}, nil
}
