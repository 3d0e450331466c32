package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// HeaderUserID carries the end user resolved by the internal gateway.
const HeaderUserID = "X-User-ID"

var validate = validator.New(validator.WithRequiredStructEnabled())

func NewInitiatePaymentRequestFromContext(ctx echo.Context) (*InitiatePaymentRequest, error) {
	var body InitiatePaymentRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	userID, err := userIDFromHeader(ctx)
	if err != nil {
		return nil, err
	}
	if userID != 0 {
		body.UserId = userID
	}
	body.Provider = strings.ToLower(strings.TrimSpace(body.Provider))
	body.IdempotencyKey = strings.TrimSpace(body.IdempotencyKey)
	if body.IdempotencyKey == "" {
		body.IdempotencyKey = strings.TrimSpace(ctx.Request().Header.Get("Idempotency-Key"))
	}

	return &body, nil
}

func (r *InitiatePaymentRequest) Validate() error {
	return validateStruct(r)
}

func NewGetPaymentRequestFromContext(ctx echo.Context) (*GetPaymentRequest, error) {
	id, err := paymentIDParam(ctx)
	if err != nil {
		return nil, err
	}
	return &GetPaymentRequest{Id: id}, nil
}

func (r *GetPaymentRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid payment id")
	}
	return nil
}

func NewListPaymentTransitionsRequestFromContext(ctx echo.Context) (*ListPaymentTransitionsRequest, error) {
	id, err := paymentIDParam(ctx)
	if err != nil {
		return nil, err
	}
	return &ListPaymentTransitionsRequest{Id: id}, nil
}

func (r *ListPaymentTransitionsRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid payment id")
	}
	return nil
}

func NewCancelPaymentRequestFromContext(ctx echo.Context) (*CancelPaymentRequest, error) {
	id, err := paymentIDParam(ctx)
	if err != nil {
		return nil, err
	}

	var body CancelPaymentRequest
	if err = ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	userID, err := userIDFromHeader(ctx)
	if err != nil {
		return nil, err
	}
	if userID != 0 {
		body.UserId = userID
	}
	body.Id = id
	body.Reason = strings.TrimSpace(body.Reason)

	return &body, nil
}

func (r *CancelPaymentRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid payment id")
	}
	return validateStruct(r)
}

func NewRefundPaymentRequestFromContext(ctx echo.Context) (*RefundPaymentRequest, error) {
	id, err := paymentIDParam(ctx)
	if err != nil {
		return nil, err
	}

	var body RefundPaymentRequest
	if err = ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	userID, err := userIDFromHeader(ctx)
	if err != nil {
		return nil, err
	}
	if userID != 0 {
		body.UserId = userID
	}
	body.Id = id
	body.Reason = strings.TrimSpace(body.Reason)

	return &body, nil
}

func (r *RefundPaymentRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid payment id")
	}
	return validateStruct(r)
}

// NewHandleWebhookRequestFromContext reads the raw body once so the provider
// can verify its signature over the exact bytes that were delivered.
func NewHandleWebhookRequestFromContext(ctx echo.Context) (*HandleWebhookRequest, []byte, error) {
	rawBody, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, nil, err
	}

	req := &HandleWebhookRequest{}
	if len(bytes.TrimSpace(rawBody)) > 0 {
		decoder := json.NewDecoder(bytes.NewReader(rawBody))
		decoder.UseNumber()
		if err := decoder.Decode(req); err != nil {
			return nil, nil, fmt.Errorf("invalid webhook body: %w", err)
		}
	}

	req.Provider = strings.ToLower(strings.TrimSpace(ctx.Param("provider")))
	req.ProviderPaymentId = strings.TrimSpace(req.ProviderPaymentId)
	req.ProviderEventId = strings.TrimSpace(req.ProviderEventId)
	req.EventType = strings.TrimSpace(req.EventType)
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	req.RemoteAddr = ctx.RealIP()

	return req, rawBody, nil
}

func (r *HandleWebhookRequest) Validate() error {
	return validateStruct(r)
}

// HTTPHeaders rebuilds the delivery headers forwarded over gRPC.
func (r *HandleWebhookRequest) HTTPHeaders() http.Header {
	headers := make(http.Header, len(r.Headers))
	for name, value := range r.Headers {
		headers.Set(name, value)
	}
	return headers
}

func paymentIDParam(ctx echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return 0, errors.New("invalid payment id")
	}
	return id, nil
}

func userIDFromHeader(ctx echo.Context) (uint64, error) {
	raw := strings.TrimSpace(ctx.Request().Header.Get(HeaderUserID))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.New("invalid " + HeaderUserID + " header")
	}
	return id, nil
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Errorf("%s is required", jsonFieldName(fe.Field()))
		case "max":
			return fmt.Errorf("%s must be at most %s characters", jsonFieldName(fe.Field()), fe.Param())
		default:
			return fmt.Errorf("%s is invalid", jsonFieldName(fe.Field()))
		}
	}
	return err
}

// jsonFieldName turns a Go field name such as ProviderPaymentId into
// provider_payment_id for client-facing messages.
func jsonFieldName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
