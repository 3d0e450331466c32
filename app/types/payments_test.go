package types

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestNewInitiatePaymentRequestFromContextUsesHeaders(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/payments/initiate", bytes.NewBufferString(`{"investment_id":7,"provider":" PayBox "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(HeaderUserID, "42")
	req.Header.Set("Idempotency-Key", "k1")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewInitiatePaymentRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetUserId() != 42 {
		t.Fatalf("expected user id from header, got %d", parsed.GetUserId())
	}
	if parsed.GetProvider() != "paybox" {
		t.Fatalf("expected normalized provider, got %q", parsed.GetProvider())
	}
	if parsed.GetIdempotencyKey() != "k1" {
		t.Fatalf("expected idempotency key from header, got %q", parsed.GetIdempotencyKey())
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestNewInitiatePaymentRequestFromContextRejectsBadUserHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/payments/initiate", bytes.NewBufferString(`{"investment_id":7}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(HeaderUserID, "abc")
	ctx := e.NewContext(req, httptest.NewRecorder())

	if _, err := NewInitiatePaymentRequestFromContext(ctx); err == nil {
		t.Fatal("expected invalid user header error")
	}
}

func TestInitiatePaymentValidate(t *testing.T) {
	req := &InitiatePaymentRequest{InvestmentId: 7}
	err := req.Validate()
	if err == nil || err.Error() != "user_id is required" {
		t.Fatalf("expected user_id validation error, got %v", err)
	}

	req = &InitiatePaymentRequest{UserId: 1, InvestmentId: 7, IdempotencyKey: strings.Repeat("k", 129)}
	err = req.Validate()
	if err == nil || err.Error() != "idempotency_key must be at most 128 characters" {
		t.Fatalf("expected idempotency_key length error, got %v", err)
	}
}

func TestNewGetPaymentRequestFromContextInvalidID(t *testing.T) {
	e := echo.New()
	ctx := e.NewContext(httptest.NewRequest("GET", "/payments/x", nil), httptest.NewRecorder())
	ctx.SetParamNames("id")
	ctx.SetParamValues("x")

	if _, err := NewGetPaymentRequestFromContext(ctx); err == nil {
		t.Fatal("expected invalid id error")
	}
}

func TestNewCancelPaymentRequestFromContextEmptyBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/payments/5/cancel", nil)
	req.Header.Set(HeaderUserID, "9")
	ctx := e.NewContext(req, httptest.NewRecorder())
	ctx.SetParamNames("id")
	ctx.SetParamValues("5")

	parsed, err := NewCancelPaymentRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetId() != 5 || parsed.GetUserId() != 9 {
		t.Fatalf("unexpected cancel request: %+v", parsed)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid cancel request, got %v", err)
	}
}

func TestCancelPaymentValidateRequiresUser(t *testing.T) {
	req := &CancelPaymentRequest{Id: 5}
	if err := req.Validate(); err == nil {
		t.Fatal("expected user_id validation error")
	}
}

func TestNewHandleWebhookRequestFromContext(t *testing.T) {
	body := `{"provider_payment_id":" pb_1 ","provider_event_id":"evt_1","status":"SUCCESS","payload":{"amount":100}}`
	e := echo.New()
	req := httptest.NewRequest("POST", "/webhooks/providers/paybox", bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	ctx := e.NewContext(req, httptest.NewRecorder())
	ctx.SetParamNames("provider")
	ctx.SetParamValues("PAYBOX")

	parsed, raw, err := NewHandleWebhookRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if string(raw) != body {
		t.Fatalf("expected raw body to be preserved, got %q", string(raw))
	}
	if parsed.GetProvider() != "paybox" || parsed.GetProviderPaymentId() != "pb_1" || parsed.GetStatus() != "success" {
		t.Fatalf("unexpected webhook request: %+v", parsed)
	}
	if parsed.GetPayload()["amount"] != json.Number("100") {
		t.Fatalf("expected numeric payload to keep its literal, got %#v", parsed.GetPayload()["amount"])
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid webhook request, got %v", err)
	}
}

func TestNewHandleWebhookRequestFromContextRejectsMalformedBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/webhooks/providers/paybox", bytes.NewBufferString(`{"status":`))
	ctx := e.NewContext(req, httptest.NewRecorder())
	ctx.SetParamNames("provider")
	ctx.SetParamValues("paybox")

	if _, _, err := NewHandleWebhookRequestFromContext(ctx); err == nil {
		t.Fatal("expected malformed body error")
	}
}

func TestHandleWebhookValidateRequiresStatus(t *testing.T) {
	req := &HandleWebhookRequest{Provider: "paybox", ProviderPaymentId: "pb_1"}
	err := req.Validate()
	if err == nil || err.Error() != "status is required" {
		t.Fatalf("expected status validation error, got %v", err)
	}
}

func TestNilGettersAreSafe(t *testing.T) {
	var initiate *InitiatePaymentRequest
	var webhook *HandleWebhookRequest
	if initiate.GetUserId() != 0 || initiate.GetProvider() != "" {
		t.Fatal("expected zero values from nil initiate request")
	}
	if webhook.GetPayload() != nil || webhook.GetStatus() != "" {
		t.Fatal("expected zero values from nil webhook request")
	}
}

func TestJSONCodecRoundTripsMessagesAndProto(t *testing.T) {
	codec := encoding.GetCodec(CodecName)
	if codec == nil {
		t.Fatal("expected json codec to be registered")
	}

	raw, err := codec.Marshal(&GetPaymentRequest{Id: 12})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded GetPaymentRequest
	if err := codec.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Id != 12 {
		t.Fatalf("expected id 12, got %d", decoded.Id)
	}

	raw, err = codec.Marshal(&healthpb.HealthCheckRequest{Service: "payments"})
	if err != nil {
		t.Fatalf("proto marshal failed: %v", err)
	}
	var check healthpb.HealthCheckRequest
	if err := codec.Unmarshal(raw, &check); err != nil {
		t.Fatalf("proto unmarshal failed: %v", err)
	}
	if check.GetService() != "payments" {
		t.Fatalf("expected service name to survive, got %q", check.GetService())
	}
}

type stubPaymentsServer struct {
	PaymentsServiceServer
	gotID uint64
}

func (s *stubPaymentsServer) GetPayment(_ context.Context, req *GetPaymentRequest) (*PaymentResponse, error) {
	s.gotID = req.GetId()
	return &PaymentResponse{Payment: &Payment{Id: req.GetId()}}, nil
}

func TestServiceDescDispatchesToServer(t *testing.T) {
	found := false
	srv := &stubPaymentsServer{}
	for _, desc := range PaymentsServiceDesc.Methods {
		if desc.MethodName != "GetPayment" {
			continue
		}
		found = true

		dec := func(v any) error {
			return json.Unmarshal([]byte(`{"id":33}`), v)
		}
		out, err := desc.Handler(srv, context.Background(), dec, nil)
		if err != nil {
			t.Fatalf("handler failed: %v", err)
		}
		resp, ok := out.(*PaymentResponse)
		if !ok || resp.Payment.Id != 33 {
			t.Fatalf("unexpected response: %#v", out)
		}
	}
	if !found {
		t.Fatal("expected GetPayment method in service descriptor")
	}
	if srv.gotID != 33 {
		t.Fatalf("expected server to receive id 33, got %d", srv.gotID)
	}
}

type recordingConn struct {
	method string
	opts   []grpc.CallOption
}

func (c *recordingConn) Invoke(_ context.Context, method string, _ any, _ any, opts ...grpc.CallOption) error {
	c.method = method
	c.opts = opts
	return nil
}

func (c *recordingConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, nil
}

func TestClientSelectsJSONContentSubtype(t *testing.T) {
	conn := &recordingConn{}
	if _, err := NewPaymentsServiceClient(conn).GetPayment(context.Background(), &GetPaymentRequest{Id: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn.method != FullMethodName("GetPayment") {
		t.Fatalf("unexpected method: %s", conn.method)
	}

	for _, opt := range conn.opts {
		if subtype, ok := opt.(grpc.ContentSubtypeCallOption); ok && subtype.ContentSubtype == CodecName {
			return
		}
	}
	t.Fatalf("expected %q content subtype in call options", CodecName)
}
