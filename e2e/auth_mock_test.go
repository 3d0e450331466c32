//go:build e2e
// +build e2e

package e2e

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"

	authpb "github.com/vibast-solutions/ms-go-auth/app/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	defaultPaymentsCallerAPIKey   = "payments-caller-key"
	defaultPaymentsNoAccessAPIKey = "payments-no-access-key"
	defaultPaymentsAppAPIKey      = "payments-app-api-key"
	paymentsAuthMockAddr          = "0.0.0.0:38084"
)

func paymentsCallerAPIKey() string {
	if value := strings.TrimSpace(os.Getenv("PAYMENTS_CALLER_API_KEY")); value != "" {
		return value
	}
	return defaultPaymentsCallerAPIKey
}

func paymentsNoAccessAPIKey() string {
	if value := strings.TrimSpace(os.Getenv("PAYMENTS_NO_ACCESS_API_KEY")); value != "" {
		return value
	}
	return defaultPaymentsNoAccessAPIKey
}

func paymentsAppAPIKey() string {
	if value := strings.TrimSpace(os.Getenv("PAYMENTS_APP_API_KEY")); value != "" {
		return value
	}
	return defaultPaymentsAppAPIKey
}

// paymentsAuthGRPCServer stands in for the auth service. The payments app
// authenticates itself with its own key; callers are resolved from a fixed table.
type paymentsAuthGRPCServer struct {
	authpb.UnimplementedAuthServiceServer
}

func callerAccess() map[string]*authpb.ValidateInternalAccessResponse {
	return map[string]*authpb.ValidateInternalAccessResponse{
		paymentsCallerAPIKey(): {
			ServiceName:   "investments-gateway",
			AllowedAccess: []string{"investment-payments-service", "campaigns-service", "profile-service"},
		},
		paymentsNoAccessAPIKey(): {
			ServiceName:   "investments-gateway",
			AllowedAccess: []string{"campaigns-service"},
		},
	}
}

func (s *paymentsAuthGRPCServer) ValidateInternalAccess(ctx context.Context, req *authpb.ValidateInternalAccessRequest) (*authpb.ValidateInternalAccessResponse, error) {
	if incomingPaymentsAPIKey(ctx) != paymentsAppAPIKey() {
		return nil, status.Error(codes.Unauthenticated, "unauthorized caller")
	}

	access, ok := callerAccess()[strings.TrimSpace(req.GetApiKey())]
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "invalid api key")
	}
	return access, nil
}

func incomingPaymentsAPIKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("x-api-key")
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func TestMain(m *testing.M) {
	for key, value := range map[string]string{
		"PAYMENTS_CALLER_API_KEY":    defaultPaymentsCallerAPIKey,
		"PAYMENTS_NO_ACCESS_API_KEY": defaultPaymentsNoAccessAPIKey,
		"PAYMENTS_APP_API_KEY":       defaultPaymentsAppAPIKey,
	} {
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, value)
		}
	}

	listener, err := net.Listen("tcp", paymentsAuthMockAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start payments auth grpc mock: %v\n", err)
		os.Exit(1)
	}

	grpcServer := grpc.NewServer()
	authpb.RegisterAuthServiceServer(grpcServer, &paymentsAuthGRPCServer{})

	go func() {
		_ = grpcServer.Serve(listener)
	}()

	exitCode := m.Run()

	grpcServer.GracefulStop()
	_ = listener.Close()

	os.Exit(exitCode)
}
