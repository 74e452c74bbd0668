package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/parcelhub/api/internal/repositories"
)

var (
	// ErrUnauthenticated signals the caller supplied no authenticated subject.
	ErrUnauthenticated = errors.New("identity: unauthenticated")
	// ErrUserNotFound indicates the subject resolves to no stored account.
	ErrUserNotFound = errors.New("identity: user not found")
)

// IdentityServiceDeps bundles collaborators required to construct the identity service.
type IdentityServiceDeps struct {
	Users repositories.UserRepository
}

type identityService struct {
	users repositories.UserRepository
}

// NewIdentityService wires dependencies into a concrete IdentityService implementation.
func NewIdentityService(deps IdentityServiceDeps) (IdentityService, error) {
	if deps.Users == nil {
		return nil, errors.New("identity service: user repository is required")
	}
	return &identityService{users: deps.Users}, nil
}

// Resolve maps the token subject (the username) onto the stored account.
// Disabled accounts resolve normally so audit trails keep working for them.
func (s *identityService) Resolve(ctx context.Context, subject string) (Identity, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Identity{}, ErrUnauthenticated
	}

	user, err := s.users.FindByUsername(ctx, subject)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Identity{}, fmt.Errorf("%w: %s", ErrUserNotFound, subject)
		}
		return Identity{}, err
	}

	return Identity{
		UserID:   user.ID,
		Username: user.Username,
		Role:     strings.ToLower(strings.TrimSpace(user.Role)),
		Enabled:  user.Enabled,
	}, nil
}
