package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyExists = errors.New("payment already exists")
)

const paymentColumns = `
	id, investment_id, provider, provider_payment_id, checkout_url,
	amount, currency, status, idempotency_key, version,
	last_event_at, confirmed_at, created_at, updated_at
`

type PaymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *entity.Payment) error {
	query := `
		INSERT INTO payments (
			investment_id, provider, provider_payment_id, checkout_url,
			amount, currency, status, idempotency_key, version,
			last_event_at, confirmed_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		payment.InvestmentID,
		payment.Provider,
		nullableStringValue(payment.ProviderPaymentID),
		nullableStringValue(payment.CheckoutURL),
		payment.Amount,
		payment.Currency,
		string(payment.Status),
		nullableStringValue(payment.IdempotencyKey),
		payment.Version,
		nullableTimeValue(payment.LastEventAt),
		nullableTimeValue(payment.ConfirmedAt),
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	payment.ID = uint64(id)
	return nil
}

func (r *PaymentRepository) Update(ctx context.Context, payment *entity.Payment) error {
	query := `
		UPDATE payments SET
			provider = ?,
			provider_payment_id = ?,
			checkout_url = ?,
			status = ?,
			idempotency_key = ?,
			version = ?,
			last_event_at = ?,
			confirmed_at = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		payment.Provider,
		nullableStringValue(payment.ProviderPaymentID),
		nullableStringValue(payment.CheckoutURL),
		string(payment.Status),
		nullableStringValue(payment.IdempotencyKey),
		payment.Version,
		nullableTimeValue(payment.LastEventAt),
		nullableTimeValue(payment.ConfirmedAt),
		payment.UpdatedAt,
		payment.ID,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentAlreadyExists
		}
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPaymentNotFound
	}

	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id uint64) (*entity.Payment, error) {
	return r.findOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
}

func (r *PaymentRepository) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Payment, error) {
	return r.findOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ? FOR UPDATE`, id)
}

func (r *PaymentRepository) FindByInvestmentIDForUpdate(ctx context.Context, investmentID uint64) (*entity.Payment, error) {
	return r.findOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE investment_id = ? FOR UPDATE`, investmentID)
}

func (r *PaymentRepository) FindByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) (*entity.Payment, error) {
	return r.findOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider = ? AND provider_payment_id = ?`, provider, providerPaymentID)
}

func (r *PaymentRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = ?
		  AND COALESCE(last_event_at, created_at) <= ?
		ORDER BY COALESCE(last_event_at, created_at) ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, string(entity.PaymentStatusPending), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]*entity.Payment, 0)
	for rows.Next() {
		item := &entity.Payment{}
		if err := scanPayment(rows, item); err != nil {
			return nil, err
		}
		payments = append(payments, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

func (r *PaymentRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.Payment, error) {
	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, args...), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

func scanPayment(row rowScanner, payment *entity.Payment) error {
	var (
		providerPaymentID sql.NullString
		checkoutURL       sql.NullString
		status            string
		idempotencyKey    sql.NullString
		lastEventAt       sql.NullTime
		confirmedAt       sql.NullTime
	)

	if err := row.Scan(
		&payment.ID,
		&payment.InvestmentID,
		&payment.Provider,
		&providerPaymentID,
		&checkoutURL,
		&payment.Amount,
		&payment.Currency,
		&status,
		&idempotencyKey,
		&payment.Version,
		&lastEventAt,
		&confirmedAt,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	); err != nil {
		return err
	}

	payment.ProviderPaymentID = stringPtrFromNull(providerPaymentID)
	payment.CheckoutURL = stringPtrFromNull(checkoutURL)
	payment.Status = entity.PaymentStatus(status)
	payment.IdempotencyKey = stringPtrFromNull(idempotencyKey)
	payment.LastEventAt = timePtrFromNull(lastEventAt)
	payment.ConfirmedAt = timePtrFromNull(confirmedAt)

	return nil
}
