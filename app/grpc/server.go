package grpc

import (
	"context"
	"errors"

	"github.com/vibast-solutions/ms-go-investment-payments/app/mapper"
	"github.com/vibast-solutions/ms-go-investment-payments/app/service"
	"github.com/vibast-solutions/ms-go-investment-payments/app/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server implements the payments gRPC service. Messages travel under the
// "json" content subtype, so clients must be built with
// types.NewPaymentsServiceClient.
type Server struct {
	paymentService *service.PaymentService
}

var _ types.PaymentsServiceServer = (*Server)(nil)

func NewServer(paymentService *service.PaymentService) *Server {
	return &Server{paymentService: paymentService}
}

func (s *Server) Health(_ context.Context, _ *types.HealthRequest) (*types.HealthResponse, error) {
	return &types.HealthResponse{Status: "ok"}, nil
}

func (s *Server) InitiatePayment(ctx context.Context, req *types.InitiatePaymentRequest) (*types.PaymentResponse, error) {
	if err := req.Validate(); err != nil {
		loggerWithContext(ctx).WithError(err).Debug("Initiate payment validation failed")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.InitiatePayment(ctx, req)
	if err != nil {
		return nil, statusFromError(ctx, err, "Initiate payment failed")
	}

	return mapper.PaymentToResponse(item), nil
}

func (s *Server) GetPayment(ctx context.Context, req *types.GetPaymentRequest) (*types.PaymentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.GetPayment(ctx, req.GetId())
	if err != nil {
		return nil, statusFromError(ctx, err, "Get payment failed")
	}

	return mapper.PaymentToResponse(item), nil
}

func (s *Server) ListPaymentTransitions(ctx context.Context, req *types.ListPaymentTransitionsRequest) (*types.ListPaymentTransitionsResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	items, err := s.paymentService.ListTransitions(ctx, req.GetId())
	if err != nil {
		return nil, statusFromError(ctx, err, "List payment transitions failed")
	}

	return mapper.TransitionsToResponse(items), nil
}

func (s *Server) CancelPayment(ctx context.Context, req *types.CancelPaymentRequest) (*types.PaymentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.CancelPayment(ctx, req)
	if err != nil {
		return nil, statusFromError(ctx, err, "Cancel payment failed")
	}

	return mapper.PaymentToResponse(item), nil
}

func (s *Server) RefundPayment(ctx context.Context, req *types.RefundPaymentRequest) (*types.PaymentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.RefundPayment(ctx, req)
	if err != nil {
		return nil, statusFromError(ctx, err, "Refund payment failed")
	}

	return mapper.PaymentToResponse(item), nil
}

// HandleWebhook accepts deliveries relayed by an edge gateway. Signature
// verification runs over RawBody, so relays must forward the bytes untouched.
func (s *Server) HandleWebhook(ctx context.Context, req *types.HandleWebhookRequest) (*types.PaymentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.HandleWebhook(ctx, req, service.WebhookDelivery{
		RawBody:    []byte(req.RawBody),
		Headers:    req.HTTPHeaders(),
		RemoteAddr: req.RemoteAddr,
	})
	if err != nil {
		return nil, statusFromError(ctx, err, "Handle webhook failed")
	}

	return mapper.PaymentToResponse(item), nil
}

func statusFromError(ctx context.Context, err error, message string) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrProviderUnsupported):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrAlreadyPaid), errors.Is(err, service.ErrIdempotencyConflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, service.ErrInvestmentNotFound), errors.Is(err, service.ErrPaymentNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrIllegalTransition):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, service.ErrProviderUnavailable):
		loggerWithContext(ctx).WithError(err).Warn(message)
		return status.Error(codes.Unavailable, service.ErrProviderUnavailable.Error())
	default:
		loggerWithContext(ctx).WithError(err).Error(message)
		return status.Error(codes.Internal, "internal server error")
	}
}
