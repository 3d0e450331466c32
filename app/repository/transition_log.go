package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
)

type TransitionLogRepository struct {
	db DBTX
}

func NewTransitionLogRepository(db DBTX) *TransitionLogRepository {
	return &TransitionLogRepository{db: db}
}

func (r *TransitionLogRepository) Append(ctx context.Context, entry *entity.TransitionLogEntry) error {
	query := `
		INSERT INTO payment_state_transition_logs (
			payment_id, from_status, to_status, reason, actor_type, actor_id, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		entry.PaymentID,
		string(entry.FromStatus),
		string(entry.ToStatus),
		entry.Reason,
		string(entry.ActorType),
		nullableUint64Value(entry.ActorID),
		entry.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = uint64(id)
	return nil
}

func (r *TransitionLogRepository) ListByPaymentID(ctx context.Context, paymentID uint64) ([]*entity.TransitionLogEntry, error) {
	query := `
		SELECT id, payment_id, from_status, to_status, reason, actor_type, actor_id, created_at
		FROM payment_state_transition_logs
		WHERE payment_id = ?
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*entity.TransitionLogEntry, 0)
	for rows.Next() {
		var (
			fromStatus string
			toStatus   string
			actorType  string
			actorID    sql.NullInt64
		)
		item := &entity.TransitionLogEntry{}
		if err := rows.Scan(
			&item.ID,
			&item.PaymentID,
			&fromStatus,
			&toStatus,
			&item.Reason,
			&actorType,
			&actorID,
			&item.CreatedAt,
		); err != nil {
			return nil, err
		}
		item.FromStatus = entity.PaymentStatus(fromStatus)
		item.ToStatus = entity.PaymentStatus(toStatus)
		item.ActorType = entity.ActorType(actorType)
		item.ActorID = uint64PtrFromNull(actorID)
		entries = append(entries, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
