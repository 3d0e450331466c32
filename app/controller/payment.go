package controller

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-investment-payments/app/factory"
	"github.com/vibast-solutions/ms-go-investment-payments/app/mapper"
	"github.com/vibast-solutions/ms-go-investment-payments/app/service"
	"github.com/vibast-solutions/ms-go-investment-payments/app/types"
)

type PaymentController struct {
	paymentService *service.PaymentService
	logger         logrus.FieldLogger
}

func NewPaymentController(paymentService *service.PaymentService) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
		logger:         factory.NewModuleLogger("payments-controller"),
	}
}

func (c *PaymentController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *PaymentController) InitiatePayment(ctx echo.Context) error {
	req, err := types.NewInitiatePaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.InitiatePayment(requestContext(ctx), req)
	if err != nil {
		return c.writeServiceError(ctx, err, "Initiate payment failed")
	}

	return ctx.JSON(http.StatusCreated, mapper.PaymentToResponse(item))
}

func (c *PaymentController) GetPayment(ctx echo.Context) error {
	req, err := types.NewGetPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.GetPayment(requestContext(ctx), req.GetId())
	if err != nil {
		return c.writeServiceError(ctx, err, "Get payment failed")
	}

	return ctx.JSON(http.StatusOK, mapper.PaymentToResponse(item))
}

func (c *PaymentController) ListPaymentTransitions(ctx echo.Context) error {
	req, err := types.NewListPaymentTransitionsRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.paymentService.ListTransitions(requestContext(ctx), req.GetId())
	if err != nil {
		return c.writeServiceError(ctx, err, "List payment transitions failed")
	}

	return ctx.JSON(http.StatusOK, mapper.TransitionsToResponse(items))
}

func (c *PaymentController) CancelPayment(ctx echo.Context) error {
	req, err := types.NewCancelPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.CancelPayment(requestContext(ctx), req)
	if err != nil {
		return c.writeServiceError(ctx, err, "Cancel payment failed")
	}

	return ctx.JSON(http.StatusOK, mapper.PaymentToResponse(item))
}

func (c *PaymentController) RefundPayment(ctx echo.Context) error {
	req, err := types.NewRefundPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.RefundPayment(requestContext(ctx), req)
	if err != nil {
		return c.writeServiceError(ctx, err, "Refund payment failed")
	}

	return ctx.JSON(http.StatusOK, mapper.PaymentToResponse(item))
}

func (c *PaymentController) HandleWebhook(ctx echo.Context) error {
	req, rawBody, err := types.NewHandleWebhookRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.HandleWebhook(requestContext(ctx), req, service.WebhookDelivery{
		RawBody:    rawBody,
		Headers:    ctx.Request().Header.Clone(),
		RemoteAddr: req.RemoteAddr,
	})
	if err != nil {
		return c.writeServiceError(ctx, err, "Handle webhook failed")
	}

	return ctx.JSON(http.StatusOK, mapper.PaymentToResponse(item))
}

func (c *PaymentController) writeServiceError(ctx echo.Context, err error, message string) error {
	statusCode, clientMessage := errorStatus(err)
	logger := factory.LoggerWithContext(c.logger, ctx).WithError(err)
	if statusCode >= http.StatusInternalServerError {
		logger.Error(message)
	} else {
		logger.Info(message)
	}
	return c.writeError(ctx, statusCode, clientMessage)
}

func (c *PaymentController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrProviderUnsupported),
		errors.Is(err, service.ErrAlreadyPaid),
		errors.Is(err, service.ErrIdempotencyConflict):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, service.ErrInvestmentNotFound), errors.Is(err, service.ErrPaymentNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrIllegalTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrProviderUnavailable):
		return http.StatusBadGateway, service.ErrProviderUnavailable.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func requestContext(ctx echo.Context) context.Context {
	requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
	return service.WithCorrelationID(ctx.Request().Context(), requestID)
}
