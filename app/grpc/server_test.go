package grpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
	"github.com/vibast-solutions/ms-go-investment-payments/app/provider"
	"github.com/vibast-solutions/ms-go-investment-payments/app/service"
	"github.com/vibast-solutions/ms-go-investment-payments/app/testutil"
	"github.com/vibast-solutions/ms-go-investment-payments/app/types"
	"github.com/vibast-solutions/ms-go-investment-payments/config"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newServerForTest(t *testing.T) (*Server, *testutil.MemoryStore, *testutil.FakeProvider) {
	t.Helper()

	store := testutil.NewMemoryStore()
	stripe := testutil.NewFakeProvider(provider.CodeStripe)
	svc := service.NewPaymentService(
		store,
		provider.NewRegistry(stripe, testutil.NewFakeProvider(provider.CodePaybox)),
		nil,
		nil,
		nil,
		config.PaymentsConfig{DefaultProvider: provider.CodeStripe, ProviderTimeout: time.Second},
	)

	now := time.Now().UTC()
	store.SeedInvestment(&entity.Investment{
		ID:         11,
		InvestorID: 5,
		Amount:     decimal.RequireFromString("250.50"),
		Currency:   "USD",
		Status:     entity.InvestmentStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	})

	return NewServer(svc), store, stripe
}

func TestServerInitiatePaymentValidation(t *testing.T) {
	srv, _, _ := newServerForTest(t)

	_, err := srv.InitiatePayment(context.Background(), &types.InitiatePaymentRequest{InvestmentId: 11})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestServerInitiateAndGetPayment(t *testing.T) {
	srv, _, _ := newServerForTest(t)

	created, err := srv.InitiatePayment(context.Background(), &types.InitiatePaymentRequest{UserId: 5, InvestmentId: 11, IdempotencyKey: "grpc-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Payment.Status != "PENDING" || created.Payment.Amount != "250.50" || created.Payment.Provider != provider.CodeStripe {
		t.Fatalf("unexpected payment: %+v", created.Payment)
	}

	fetched, err := srv.GetPayment(context.Background(), &types.GetPaymentRequest{Id: created.Payment.Id})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetched.Payment.Version != created.Payment.Version {
		t.Fatalf("expected version %d, got %d", created.Payment.Version, fetched.Payment.Version)
	}

	transitions, err := srv.ListPaymentTransitions(context.Background(), &types.ListPaymentTransitionsRequest{Id: created.Payment.Id})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(transitions.Transitions) != 1 {
		t.Fatalf("expected one transition, got %d", len(transitions.Transitions))
	}
}

func TestServerInitiatePaymentStatusCodes(t *testing.T) {
	srv, store, stripe := newServerForTest(t)

	_, err := srv.InitiatePayment(context.Background(), &types.InitiatePaymentRequest{UserId: 6, InvestmentId: 11})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}

	_, err = srv.InitiatePayment(context.Background(), &types.InitiatePaymentRequest{UserId: 5, InvestmentId: 99})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	stripe.CheckoutErr = errors.New("connection refused")
	_, err = srv.InitiatePayment(context.Background(), &types.InitiatePaymentRequest{UserId: 5, InvestmentId: 11})
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
	if len(store.PaymentsForInvestment(11)) != 0 {
		t.Fatal("expected no payment after provider failure")
	}
}

func TestServerIdempotencyConflict(t *testing.T) {
	srv, _, _ := newServerForTest(t)

	if _, err := srv.InitiatePayment(context.Background(), &types.InitiatePaymentRequest{UserId: 5, InvestmentId: 11, IdempotencyKey: "same"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := srv.InitiatePayment(context.Background(), &types.InitiatePaymentRequest{UserId: 5, InvestmentId: 11, Provider: provider.CodePaybox, IdempotencyKey: "same"})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
}

func TestServerWebhookAndRefund(t *testing.T) {
	srv, store, _ := newServerForTest(t)

	created, err := srv.InitiatePayment(context.Background(), &types.InitiatePaymentRequest{UserId: 5, InvestmentId: 11})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	settled, err := srv.HandleWebhook(context.Background(), &types.HandleWebhookRequest{
		Provider:          provider.CodeStripe,
		ProviderPaymentId: created.Payment.ProviderPaymentId,
		ProviderEventId:   "evt_1",
		Status:            "success",
		Headers:           map[string]string{"Stripe-Signature": "t=1,v1=abc"},
		RawBody:           `{"id":"evt_1"}`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settled.Payment.Status != "SUCCESS" {
		t.Fatalf("expected SUCCESS, got %s", settled.Payment.Status)
	}

	refunded, err := srv.RefundPayment(context.Background(), &types.RefundPaymentRequest{Id: created.Payment.Id, Reason: "chargeback"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refunded.Payment.Status != "REFUNDED" {
		t.Fatalf("expected REFUNDED, got %s", refunded.Payment.Status)
	}
	if store.Investment(11).Status != entity.InvestmentStatusPending {
		t.Fatalf("expected investment to reopen after refund, got %s", store.Investment(11).Status)
	}

	_, err = srv.CancelPayment(context.Background(), &types.CancelPaymentRequest{Id: created.Payment.Id, UserId: 5})
	if status.Code(err) != codes.Aborted {
		t.Fatalf("expected Aborted, got %v", err)
	}
}

func TestServerGetPaymentNotFound(t *testing.T) {
	srv, _, _ := newServerForTest(t)

	_, err := srv.GetPayment(context.Background(), &types.GetPaymentRequest{Id: 404})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	_, err = srv.GetPayment(context.Background(), &types.GetPaymentRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestStatusFromErrorDefaultsToInternal(t *testing.T) {
	err := statusFromError(context.Background(), errors.New("db down"), "boom")
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
	if status.Convert(err).Message() != "internal server error" {
		t.Fatalf("unexpected message: %s", status.Convert(err).Message())
	}
}
