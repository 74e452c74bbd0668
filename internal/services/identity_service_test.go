package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/parcelhub/api/internal/domain"
)

func TestIdentityServiceResolve(t *testing.T) {
	users := newMemoryUserRepo(
		domain.User{ID: "usr_1", Username: "alice", Role: " Customer ", Enabled: true},
		domain.User{ID: "usr_2", Username: "mallory", Role: "customer", Enabled: false},
	)

	svc, err := NewIdentityService(IdentityServiceDeps{Users: users})
	if err != nil {
		t.Fatalf("new identity service: %v", err)
	}

	identity, err := svc.Resolve(context.Background(), "alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if identity.UserID != "usr_1" || identity.Role != "customer" || !identity.Enabled {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	// Disabled accounts still resolve so their past actions stay attributable.
	disabled, err := svc.Resolve(context.Background(), "mallory")
	if err != nil {
		t.Fatalf("resolve disabled: %v", err)
	}
	if disabled.Enabled {
		t.Fatalf("expected disabled flag to carry through")
	}

	if _, err := svc.Resolve(context.Background(), "   "); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for blank subject, got %v", err)
	}
	if _, err := svc.Resolve(context.Background(), "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestUserServiceSetEnabledTogglesAndRecords(t *testing.T) {
	users := newMemoryUserRepo(
		domain.User{ID: "usr_admin", Username: "root", Role: "admin", Enabled: true},
		domain.User{ID: "usr_1", Username: "alice", Role: "customer", Enabled: true},
	)
	identity, err := NewIdentityService(IdentityServiceDeps{Users: users})
	if err != nil {
		t.Fatalf("new identity service: %v", err)
	}
	trail := &captureTrail{}
	fixed := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	svc, err := NewUserService(UserServiceDeps{
		Users:    users,
		Identity: identity,
		Trail:    trail,
		Clock:    func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("new user service: %v", err)
	}

	updated, err := svc.SetEnabled(context.Background(), SetUserEnabledCommand{
		Subject: "root",
		UserID:  "usr_1",
		Enabled: false,
	})
	if err != nil {
		t.Fatalf("set enabled: %v", err)
	}
	if updated.Enabled {
		t.Fatalf("expected account disabled")
	}
	if !updated.UpdatedAt.Equal(fixed) {
		t.Fatalf("expected updated at %s, got %s", fixed, updated.UpdatedAt)
	}

	if len(trail.records) != 1 {
		t.Fatalf("expected 1 trail record, got %d", len(trail.records))
	}
	record := trail.records[0]
	if record.OperatorID != "usr_admin" || record.TargetID != "usr_1" || record.Detail != "account disabled" {
		t.Fatalf("unexpected trail record: %+v", record)
	}

	if _, err := svc.SetEnabled(context.Background(), SetUserEnabledCommand{Subject: "root", UserID: "usr_missing", Enabled: true}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	if _, err := svc.SetEnabled(context.Background(), SetUserEnabledCommand{Subject: "root", UserID: "  ", Enabled: true}); !errors.Is(err, ErrAuthInvalidInput) {
		t.Fatalf("expected invalid input for blank id, got %v", err)
	}
}

func TestUserServiceSetRoleNormalisesAndRecords(t *testing.T) {
	users := newMemoryUserRepo(
		domain.User{ID: "usr_admin", Username: "root", Role: "admin", Enabled: true},
		domain.User{ID: "usr_1", Username: "alice", Role: "customer", Enabled: true},
	)
	identity, err := NewIdentityService(IdentityServiceDeps{Users: users})
	if err != nil {
		t.Fatalf("new identity service: %v", err)
	}
	trail := &captureTrail{}
	fixed := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	svc, err := NewUserService(UserServiceDeps{
		Users:    users,
		Identity: identity,
		Trail:    trail,
		Clock:    func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("new user service: %v", err)
	}

	updated, err := svc.SetRole(context.Background(), SetUserRoleCommand{
		Subject: "root",
		UserID:  "usr_1",
		Role:    " Staff ",
	})
	if err != nil {
		t.Fatalf("set role: %v", err)
	}
	if updated.Role != "staff" {
		t.Fatalf("expected normalised role staff, got %q", updated.Role)
	}

	if len(trail.records) != 1 {
		t.Fatalf("expected 1 trail record, got %d", len(trail.records))
	}
	record := trail.records[0]
	if record.OperatorID != "usr_admin" || record.Detail != "role customer -> staff" {
		t.Fatalf("unexpected trail record: %+v", record)
	}

	if _, err := svc.SetRole(context.Background(), SetUserRoleCommand{Subject: "root", UserID: "usr_1", Role: "superuser"}); !errors.Is(err, ErrAuthInvalidInput) {
		t.Fatalf("expected invalid input for unknown role, got %v", err)
	}
	if _, err := svc.SetRole(context.Background(), SetUserRoleCommand{Subject: "root", UserID: "usr_ghost", Role: "staff"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestUserServiceGet(t *testing.T) {
	users := newMemoryUserRepo(domain.User{ID: "usr_1", Username: "alice", Role: "customer", Enabled: true})
	identity, err := NewIdentityService(IdentityServiceDeps{Users: users})
	if err != nil {
		t.Fatalf("new identity service: %v", err)
	}
	svc, err := NewUserService(UserServiceDeps{Users: users, Identity: identity})
	if err != nil {
		t.Fatalf("new user service: %v", err)
	}

	user, err := svc.Get(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if _, err := svc.Get(context.Background(), "usr_ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}
