package captcha

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// DefaultTTL bounds how long an issued challenge stays redeemable.
const DefaultTTL = 5 * time.Minute

// ErrKeyRequired signals a Save or Consume call without a challenge key.
var ErrKeyRequired = errors.New("captcha: key is required")

// Store persists issued challenges until they are consumed or expire. Consume
// is single-use: a key can never be redeemed twice.
type Store interface {
	Save(ctx context.Context, key, answer string, expiresAt time.Time) error
	Consume(ctx context.Context, key string, now time.Time) (string, bool, error)
}

type record struct {
	answer    string
	expiresAt time.Time
}

// MemoryStore provides an in-memory implementation useful for testing and
// single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]record
}

// NewMemoryStore constructs an empty memory-backed challenge store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]record)}
}

// Save implements the Store interface.
func (s *MemoryStore) Save(_ context.Context, key, answer string, expiresAt time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = record{answer: answer, expiresAt: expiresAt.UTC()}
	return nil
}

// Consume implements the Store interface. The stored answer is returned with
// true when the key exists and has not expired. The record is removed either
// way so a failed login cannot retry the same challenge.
func (s *MemoryStore) Consume(_ context.Context, key string, now time.Time) (string, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, ErrKeyRequired
	}
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return "", false, nil
	}
	delete(s.records, key)

	if !rec.expiresAt.IsZero() && !now.Before(rec.expiresAt) {
		return "", false, nil
	}
	return rec.answer, true, nil
}

// CleanupExpired removes records past their expiry, returning how many were dropped.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}

	removed := 0
	for key, rec := range s.records {
		if rec.expiresAt.IsZero() || now.Before(rec.expiresAt) {
			continue
		}
		delete(s.records, key)
		removed++
		if removed >= limit {
			break
		}
	}

	return removed, nil
}
