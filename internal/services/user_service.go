package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/parcelhub/api/internal/domain"
	"github.com/parcelhub/api/internal/repositories"
)

const (
	operationTypeUserEnabled = "user enabled toggle"
	operationTypeUserRole    = "user role change"
)

var validRoles = map[string]struct{}{
	"customer": {},
	"staff":    {},
	"admin":    {},
}

// UserServiceDeps bundles collaborators required to construct the user service.
type UserServiceDeps struct {
	Users    repositories.UserRepository
	Identity IdentityService
	Trail    OperationLogService
	Clock    func() time.Time
}

type userService struct {
	users    repositories.UserRepository
	identity IdentityService
	trail    OperationLogService
	clock    func() time.Time
}

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	if deps.Identity == nil {
		return nil, errors.New("user service: identity service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &userService{
		users:    deps.Users,
		identity: deps.Identity,
		trail:    deps.Trail,
		clock:    func() time.Time { return clock().UTC() },
	}, nil
}

func (s *userService) Get(ctx context.Context, userID string) (domain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, fmt.Errorf("%w: user id is required", ErrAuthInvalidInput)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return domain.User{}, s.mapRepositoryError(err)
	}
	return user, nil
}

func (s *userService) List(ctx context.Context, query UserListQuery) (domain.Page[domain.User], error) {
	page, err := s.users.List(ctx, repositories.UserListFilter{
		Keyword:  strings.TrimSpace(query.Keyword),
		Page:     query.Page,
		PageSize: query.PageSize,
	})
	if err != nil {
		return domain.Page[domain.User]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// SetEnabled toggles whether the account can log in. Disabled accounts still
// resolve through the identity service so their past actions stay attributable.
func (s *userService) SetEnabled(ctx context.Context, cmd SetUserEnabledCommand) (domain.User, error) {
	actor, err := s.identity.Resolve(ctx, cmd.Subject)
	if err != nil {
		return domain.User{}, err
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.User{}, fmt.Errorf("%w: user id is required", ErrAuthInvalidInput)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return domain.User{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	user.Enabled = cmd.Enabled
	user.UpdatedAt = now

	if err := s.users.Update(ctx, user); err != nil {
		return domain.User{}, s.mapRepositoryError(err)
	}

	if s.trail != nil {
		state := "disabled"
		if cmd.Enabled {
			state = "enabled"
		}
		s.trail.Record(ctx, OperationRecord{
			OperatorID:    actor.UserID,
			OperationType: operationTypeUserEnabled,
			TargetID:      user.ID,
			Detail:        fmt.Sprintf("account %s", state),
			IPAddress:     cmd.IPAddress,
			OccurredAt:    now,
		})
	}

	return user, nil
}

// SetRole reassigns the account's role. Only the three known roles are
// accepted; comparisons elsewhere are case-insensitive, so the stored value is
// normalised to lower case.
func (s *userService) SetRole(ctx context.Context, cmd SetUserRoleCommand) (domain.User, error) {
	actor, err := s.identity.Resolve(ctx, cmd.Subject)
	if err != nil {
		return domain.User{}, err
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.User{}, fmt.Errorf("%w: user id is required", ErrAuthInvalidInput)
	}
	role := strings.ToLower(strings.TrimSpace(cmd.Role))
	if _, ok := validRoles[role]; !ok {
		return domain.User{}, fmt.Errorf("%w: unknown role %q", ErrAuthInvalidInput, cmd.Role)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return domain.User{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	previous := user.Role
	user.Role = role
	user.UpdatedAt = now

	if err := s.users.Update(ctx, user); err != nil {
		return domain.User{}, s.mapRepositoryError(err)
	}

	if s.trail != nil {
		s.trail.Record(ctx, OperationRecord{
			OperatorID:    actor.UserID,
			OperationType: operationTypeUserRole,
			TargetID:      user.ID,
			Detail:        fmt.Sprintf("role %s -> %s", previous, role),
			IPAddress:     cmd.IPAddress,
			OccurredAt:    now,
		})
	}

	return user, nil
}

func (s *userService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrUserNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}

	return err
}
