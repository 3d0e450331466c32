// Package idempotency maps client-declared keys to the payment a request
// produced, scoped per user and per flow.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
	"github.com/vibast-solutions/ms-go-investment-payments/app/repository"
)

var ErrConflict = errors.New("idempotency key already used for a different request")

type Repository interface {
	FindByKey(ctx context.Context, userID uint64, scope, key string) (*entity.IdempotencyRecord, error)
	Create(ctx context.Context, record *entity.IdempotencyRecord) error
}

type Store struct {
	repo Repository
	now  func() time.Time
}

func NewStore(repo Repository) *Store {
	return &Store{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Lookup returns the record stored for the key, or nil when the key is new.
func (s *Store) Lookup(ctx context.Context, userID uint64, scope, key string) (*entity.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	return s.repo.FindByKey(ctx, userID, scope, key)
}

// Record persists the key mapping. A concurrent insert of the same key is
// accepted when it describes the same request and payment.
func (s *Store) Record(ctx context.Context, record *entity.IdempotencyRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}

	err := s.repo.Create(ctx, record)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrIdempotencyRecordExists) {
		return err
	}

	existing, err := s.repo.FindByKey(ctx, record.UserID, record.Scope, record.IdempotencyKey)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("idempotency record %q reported as duplicate but not found", record.IdempotencyKey)
	}
	if existing.RequestHash != record.RequestHash || existing.PaymentID != record.PaymentID {
		return ErrConflict
	}

	record.ID = existing.ID
	record.CreatedAt = existing.CreatedAt
	return nil
}

// CanonicalHash returns the sha256 hex digest of v encoded as compact JSON
// with map keys sorted.
func CanonicalHash(v any) (string, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return "", err
	}

	sum := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	return hex.EncodeToString(sum[:]), nil
}

func InitiateRequestHash(investmentID uint64, provider string) (string, error) {
	return CanonicalHash(map[string]any{
		"investment_id": investmentID,
		"provider":      provider,
	})
}
