package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
)

var ErrIdempotencyRecordExists = errors.New("idempotency record already exists")

type IdempotencyRepository struct {
	db DBTX
}

func NewIdempotencyRepository(db DBTX) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

func (r *IdempotencyRepository) Create(ctx context.Context, record *entity.IdempotencyRecord) error {
	responseJSON, err := serializeJSON(record.ResponseBody)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payment_idempotency (
			user_id, scope, idempotency_key, request_hash, payment_id, response_code, response_body, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		record.UserID,
		record.Scope,
		record.IdempotencyKey,
		record.RequestHash,
		record.PaymentID,
		record.ResponseCode,
		responseJSON,
		record.CreatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrIdempotencyRecordExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	record.ID = uint64(id)
	return nil
}

func (r *IdempotencyRepository) FindByKey(ctx context.Context, userID uint64, scope, key string) (*entity.IdempotencyRecord, error) {
	query := `
		SELECT id, user_id, scope, idempotency_key, request_hash, payment_id, response_code, response_body, created_at
		FROM payment_idempotency
		WHERE user_id = ? AND scope = ? AND idempotency_key = ?
	`

	var responseJSON sql.NullString
	record := &entity.IdempotencyRecord{}
	err := r.db.QueryRowContext(ctx, query, userID, scope, key).Scan(
		&record.ID,
		&record.UserID,
		&record.Scope,
		&record.IdempotencyKey,
		&record.RequestHash,
		&record.PaymentID,
		&record.ResponseCode,
		&responseJSON,
		&record.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	record.ResponseBody, err = parseJSONObject(responseJSON.String)
	if err != nil {
		return nil, err
	}
	return record, nil
}
