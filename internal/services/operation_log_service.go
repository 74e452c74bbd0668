package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/parcelhub/api/internal/domain"
	"github.com/parcelhub/api/internal/repositories"
)

const operationLogIDPrefix = "opl_"

// OperationLogger defines the logging contract used by the operation trail writer.
type OperationLogger interface {
	Warnf(format string, args ...any)
}

// OperationLogServiceDeps bundles constructor inputs for the operation trail service.
type OperationLogServiceDeps struct {
	Repository  repositories.OperationLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      OperationLogger
}

type operationLogService struct {
	repo   repositories.OperationLogRepository
	clock  func() time.Time
	newID  func() string
	logger OperationLogger
}

// NewOperationLogService creates an operation trail writer backed by the supplied repository.
func NewOperationLogService(deps OperationLogServiceDeps) (OperationLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("operation log service: repository is required")
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

	logger := deps.Logger
	if logger == nil {
		logger = noopOperationLogger{}
	}

	return &operationLogService{
		repo:   deps.Repository,
		clock:  func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

// Record persists an operation entry after sanitising free-text fields.
// Repository failures are logged but do not bubble up, so a failing trail
// write never interrupts the primary mutation flow.
func (s *operationLogService) Record(ctx context.Context, record OperationRecord) {
	if s.repo == nil {
		return
	}
	entry := s.buildEntry(record)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Warnf("operation log append failed: %v", err)
	}
}

// List delegates to the repository to retrieve paginated operation entries.
func (s *operationLogService) List(ctx context.Context, query OperationLogQuery) (domain.Page[domain.OperationLog], error) {
	if s.repo == nil {
		return domain.Page[domain.OperationLog]{}, errors.New("operation log service: repository is required")
	}
	page, err := s.repo.List(ctx, repositories.OperationLogFilter{
		OperatorID: strings.TrimSpace(query.OperatorID),
		TargetID:   strings.TrimSpace(query.TargetID),
		Page:       query.Page,
		PageSize:   query.PageSize,
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
			return domain.Page[domain.OperationLog]{}, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		return domain.Page[domain.OperationLog]{}, err
	}
	return page, nil
}

func (s *operationLogService) buildEntry(record OperationRecord) domain.OperationLog {
	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	} else {
		occurred = occurred.UTC()
	}

	return domain.OperationLog{
		ID:            operationLogIDPrefix + s.newID(),
		OperatorID:    sanitizeText(record.OperatorID, 160),
		OperationType: sanitizeText(record.OperationType, 120),
		TargetID:      sanitizeText(record.TargetID, 200),
		Detail:        sanitizeText(record.Detail, 512),
		IPAddress:     sanitizeText(record.IPAddress, 64),
		CreatedAt:     occurred,
	}
}

type noopOperationLogger struct{}

func (noopOperationLogger) Warnf(string, ...any) {}

func sanitizeText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}
