package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
)

var (
	ErrWebhookEventExists   = errors.New("webhook event already exists")
	ErrWebhookEventNotFound = errors.New("webhook event not found")
)

const webhookEventColumns = `
	id, provider, provider_event_id, event_type, payload, payload_hash, signature_valid,
	status, error_message, received_at, processed_at
`

type WebhookEventRepository struct {
	db DBTX
}

func NewWebhookEventRepository(db DBTX) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Create(ctx context.Context, event *entity.WebhookEvent) error {
	payloadJSON, err := serializeJSON(event.Payload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhook_events (
			provider, provider_event_id, event_type, payload, payload_hash, signature_valid,
			status, error_message, received_at, processed_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		event.Provider,
		nullableStringValue(event.ProviderEventID),
		event.EventType,
		payloadJSON,
		event.PayloadHash,
		event.SignatureValid,
		string(event.Status),
		nullableStringValue(event.ErrorMessage),
		event.ReceivedAt,
		nullableTimeValue(event.ProcessedAt),
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrWebhookEventExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = uint64(id)
	return nil
}

func (r *WebhookEventRepository) UpdateStatus(ctx context.Context, event *entity.WebhookEvent) error {
	query := `
		UPDATE webhook_events SET
			status = ?,
			error_message = ?,
			processed_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(event.Status),
		nullableStringValue(event.ErrorMessage),
		nullableTimeValue(event.ProcessedAt),
		event.ID,
		string(entity.WebhookEventReceived),
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrWebhookEventNotFound
	}
	return nil
}

func (r *WebhookEventRepository) FindByProviderEventID(ctx context.Context, provider, providerEventID string) (*entity.WebhookEvent, error) {
	return r.findOne(ctx, `SELECT `+webhookEventColumns+` FROM webhook_events WHERE provider = ? AND provider_event_id = ?`, provider, providerEventID)
}

func (r *WebhookEventRepository) FindByPayloadHash(ctx context.Context, provider, payloadHash string) (*entity.WebhookEvent, error) {
	return r.findOne(ctx, `SELECT `+webhookEventColumns+` FROM webhook_events WHERE provider = ? AND payload_hash = ?`, provider, payloadHash)
}

func (r *WebhookEventRepository) CreateDeliveryLog(ctx context.Context, log *entity.WebhookDeliveryLog) error {
	headersJSON, err := serializeJSON(log.HTTPHeaders)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhook_delivery_logs (
			webhook_event_id, attempt_no, http_headers, remote_addr, processed, http_status, error, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		log.WebhookEventID,
		log.AttemptNo,
		headersJSON,
		nullableStringValue(log.RemoteAddr),
		log.Processed,
		log.HTTPStatus,
		nullableStringValue(log.Error),
		log.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	log.ID = uint64(id)
	return nil
}

func (r *WebhookEventRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.WebhookEvent, error) {
	var (
		providerEventID sql.NullString
		payloadJSON     sql.NullString
		status          string
		errorMessage    sql.NullString
		processedAt     sql.NullTime
	)

	event := &entity.WebhookEvent{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&event.ID,
		&event.Provider,
		&providerEventID,
		&event.EventType,
		&payloadJSON,
		&event.PayloadHash,
		&event.SignatureValid,
		&status,
		&errorMessage,
		&event.ReceivedAt,
		&processedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	event.ProviderEventID = stringPtrFromNull(providerEventID)
	event.Payload, err = parseJSONObject(payloadJSON.String)
	if err != nil {
		return nil, err
	}
	event.Status = entity.WebhookEventStatus(status)
	event.ErrorMessage = stringPtrFromNull(errorMessage)
	event.ProcessedAt = timePtrFromNull(processedAt)
	return event, nil
}
