package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
)

var ErrInvestmentNotFound = errors.New("investment not found")

const investmentColumns = `
	id, campaign_id, investor_id, amount, currency, status, paid_at, created_at, updated_at
`

type InvestmentRepository struct {
	db DBTX
}

func NewInvestmentRepository(db DBTX) *InvestmentRepository {
	return &InvestmentRepository{db: db}
}

func (r *InvestmentRepository) FindByID(ctx context.Context, id uint64) (*entity.Investment, error) {
	return r.findOne(ctx, `SELECT `+investmentColumns+` FROM investments WHERE id = ?`, id)
}

func (r *InvestmentRepository) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Investment, error) {
	return r.findOne(ctx, `SELECT `+investmentColumns+` FROM investments WHERE id = ? FOR UPDATE`, id)
}

// UpdateStatus writes only the settlement columns the payment flow owns.
func (r *InvestmentRepository) UpdateStatus(ctx context.Context, investment *entity.Investment) error {
	query := `
		UPDATE investments SET
			status = ?,
			paid_at = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(investment.Status),
		nullableTimeValue(investment.PaidAt),
		investment.UpdatedAt,
		investment.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInvestmentNotFound
	}

	return nil
}

func (r *InvestmentRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.Investment, error) {
	var (
		status string
		paidAt sql.NullTime
	)

	investment := &entity.Investment{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&investment.ID,
		&investment.CampaignID,
		&investment.InvestorID,
		&investment.Amount,
		&investment.Currency,
		&status,
		&paidAt,
		&investment.CreatedAt,
		&investment.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	investment.Status = entity.InvestmentStatus(status)
	investment.PaidAt = timePtrFromNull(paidAt)
	return investment, nil
}
