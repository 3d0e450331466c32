package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
)

type PaymentStore interface {
	Create(ctx context.Context, payment *entity.Payment) error
	Update(ctx context.Context, payment *entity.Payment) error
	FindByID(ctx context.Context, id uint64) (*entity.Payment, error)
	FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Payment, error)
	FindByInvestmentIDForUpdate(ctx context.Context, investmentID uint64) (*entity.Payment, error)
	FindByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) (*entity.Payment, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Payment, error)
}

type InvestmentStore interface {
	FindByID(ctx context.Context, id uint64) (*entity.Investment, error)
	FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Investment, error)
	UpdateStatus(ctx context.Context, investment *entity.Investment) error
}

type IdempotencyStore interface {
	FindByKey(ctx context.Context, userID uint64, scope, key string) (*entity.IdempotencyRecord, error)
	Create(ctx context.Context, record *entity.IdempotencyRecord) error
}

type WebhookEventStore interface {
	Create(ctx context.Context, event *entity.WebhookEvent) error
	UpdateStatus(ctx context.Context, event *entity.WebhookEvent) error
	FindByProviderEventID(ctx context.Context, provider, providerEventID string) (*entity.WebhookEvent, error)
	FindByPayloadHash(ctx context.Context, provider, payloadHash string) (*entity.WebhookEvent, error)
	CreateDeliveryLog(ctx context.Context, log *entity.WebhookDeliveryLog) error
}

type TransitionLogStore interface {
	Append(ctx context.Context, entry *entity.TransitionLogEntry) error
	ListByPaymentID(ctx context.Context, paymentID uint64) ([]*entity.TransitionLogEntry, error)
}

// Repositories groups the stores bound to one connection or transaction.
type Repositories struct {
	Payments      PaymentStore
	Investments   InvestmentStore
	Idempotency   IdempotencyStore
	WebhookEvents WebhookEventStore
	Transitions   TransitionLogStore
}

type UnitOfWork interface {
	Repositories() Repositories
	WithinTx(ctx context.Context, fn func(repos Repositories) error) error
}

func NewRepositories(db DBTX) Repositories {
	return Repositories{
		Payments:      NewPaymentRepository(db),
		Investments:   NewInvestmentRepository(db),
		Idempotency:   NewIdempotencyRepository(db),
		WebhookEvents: NewWebhookEventRepository(db),
		Transitions:   NewTransitionLogRepository(db),
	}
}

// SQLUnitOfWork runs units of work in a READ COMMITTED transaction so that
// locking reads and duplicate-key re-reads observe the latest committed rows.
type SQLUnitOfWork struct {
	db *sql.DB
}

func NewSQLUnitOfWork(db *sql.DB) *SQLUnitOfWork {
	return &SQLUnitOfWork{db: db}
}

func (u *SQLUnitOfWork) Repositories() Repositories {
	return NewRepositories(u.db)
}

func (u *SQLUnitOfWork) WithinTx(ctx context.Context, fn func(repos Repositories) error) (err error) {
	tx, err := u.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
		}
	}()

	if err = fn(NewRepositories(tx)); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
