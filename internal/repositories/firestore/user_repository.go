package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	domain "github.com/parcelhub/api/internal/domain"
	pfirestore "github.com/parcelhub/api/internal/platform/firestore"
	"github.com/parcelhub/api/internal/repositories"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const userCollection = "users"

// UserRepository persists account records in Firestore.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil)
	return &UserRepository{base: base}, nil
}

// Insert stores a new account, failing with a conflict when the id already exists.
func (r *UserRepository) Insert(ctx context.Context, user domain.User) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("user id is required")
	}

	doc := fromDomainUser(user)
	if tx, ok := transactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, user.ID)
		if err != nil {
			return err
		}
		return pfirestore.WrapError("users.create", tx.Create(ref, doc))
	}
	_, err := r.base.Create(ctx, user.ID, doc)
	return err
}

// Update overwrites the stored account record.
func (r *UserRepository) Update(ctx context.Context, user domain.User) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("user id is required")
	}

	doc := fromDomainUser(user)
	if tx, ok := transactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, user.ID)
		if err != nil {
			return err
		}
		return pfirestore.WrapError("users.set", tx.Set(ref, doc))
	}
	_, err := r.base.Set(ctx, user.ID, doc)
	return err
}

// FindByID loads the account by its identifier.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.User{}, errors.New("user id is required")
	}

	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return toDomainUser(doc.ID, doc.Data), nil
}

// FindByUsername looks up the account holding the given username.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.User{}, errors.New("username is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("username", "==", username).Limit(1)
	})
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, pfirestore.WrapError("users.findByUsername", status.Error(codes.NotFound, "user not found"))
	}
	return toDomainUser(docs[0].ID, docs[0].Data), nil
}

// List returns a page of accounts, newest first. Keyword matches the username.
func (r *UserRepository) List(ctx context.Context, filter repositories.UserListFilter) (domain.Page[domain.User], error) {
	if r == nil || r.base == nil {
		return domain.Page[domain.User]{}, errors.New("user repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return domain.Page[domain.User]{}, err
	}

	keyword := strings.ToLower(strings.TrimSpace(filter.Keyword))
	users := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		user := toDomainUser(doc.ID, doc.Data)
		if keyword != "" && !strings.Contains(strings.ToLower(user.Username), keyword) {
			continue
		}
		users = append(users, user)
	}

	page, pageSize := normalisePage(filter.Page, filter.PageSize)
	total := int64(len(users))
	start := (page - 1) * pageSize
	if start > len(users) {
		start = len(users)
	}
	end := start + pageSize
	if end > len(users) {
		end = len(users)
	}

	return domain.Page[domain.User]{
		Items:    users[start:end],
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

type userDocument struct {
	Username     string     `firestore:"username"`
	PasswordHash string     `firestore:"passwordHash"`
	Role         string     `firestore:"role"`
	Enabled      bool       `firestore:"enabled"`
	LastLoginAt  *time.Time `firestore:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `firestore:"createdAt"`
	UpdatedAt    time.Time  `firestore:"updatedAt"`
}

func fromDomainUser(user domain.User) userDocument {
	doc := userDocument{
		Username:     strings.TrimSpace(user.Username),
		PasswordHash: user.PasswordHash,
		Role:         strings.ToLower(strings.TrimSpace(user.Role)),
		Enabled:      user.Enabled,
		CreatedAt:    user.CreatedAt.UTC(),
		UpdatedAt:    user.UpdatedAt.UTC(),
	}
	if user.LastLoginAt != nil {
		last := user.LastLoginAt.UTC()
		doc.LastLoginAt = &last
	}
	return doc
}

func toDomainUser(id string, doc userDocument) domain.User {
	return domain.User{
		ID:           id,
		Username:     doc.Username,
		PasswordHash: doc.PasswordHash,
		Role:         doc.Role,
		Enabled:      doc.Enabled,
		LastLoginAt:  doc.LastLoginAt,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}
