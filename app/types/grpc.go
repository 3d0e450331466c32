package types

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
)

const (
	PaymentsServiceName = "payments.PaymentsService"

	// CodecName is the gRPC content subtype the payment messages travel under.
	CodecName = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries the plain message structs as JSON. Protobuf messages,
// such as the ones of the health service, keep their binary encoding.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	if msg, ok := v.(proto.Message); ok {
		return proto.Marshal(msg)
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if msg, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, msg)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

// PaymentsServiceServer is served with the "json" codec only. Callers must
// dial through NewPaymentsServiceClient, or pass
// grpc.CallContentSubtype(CodecName) themselves; a stock protobuf stub is
// rejected with a codec error.
type PaymentsServiceServer interface {
	Health(context.Context, *HealthRequest) (*HealthResponse, error)
	InitiatePayment(context.Context, *InitiatePaymentRequest) (*PaymentResponse, error)
	GetPayment(context.Context, *GetPaymentRequest) (*PaymentResponse, error)
	ListPaymentTransitions(context.Context, *ListPaymentTransitionsRequest) (*ListPaymentTransitionsResponse, error)
	CancelPayment(context.Context, *CancelPaymentRequest) (*PaymentResponse, error)
	RefundPayment(context.Context, *RefundPaymentRequest) (*PaymentResponse, error)
	HandleWebhook(context.Context, *HandleWebhookRequest) (*PaymentResponse, error)
}

func RegisterPaymentsServiceServer(s grpc.ServiceRegistrar, srv PaymentsServiceServer) {
	s.RegisterService(&PaymentsServiceDesc, srv)
}

var PaymentsServiceDesc = grpc.ServiceDesc{
	ServiceName: PaymentsServiceName,
	HandlerType: (*PaymentsServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Health", PaymentsServiceServer.Health),
		unaryMethod("InitiatePayment", PaymentsServiceServer.InitiatePayment),
		unaryMethod("GetPayment", PaymentsServiceServer.GetPayment),
		unaryMethod("ListPaymentTransitions", PaymentsServiceServer.ListPaymentTransitions),
		unaryMethod("CancelPayment", PaymentsServiceServer.CancelPayment),
		unaryMethod("RefundPayment", PaymentsServiceServer.RefundPayment),
		unaryMethod("HandleWebhook", PaymentsServiceServer.HandleWebhook),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "payments",
}

func FullMethodName(method string) string {
	return "/" + PaymentsServiceName + "/" + method
}

func unaryMethod[Req any, Resp any](
	name string,
	call func(PaymentsServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(PaymentsServiceServer), ctx, in)
			}

			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethodName(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(PaymentsServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type PaymentsServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewPaymentsServiceClient(cc grpc.ClientConnInterface) *PaymentsServiceClient {
	return &PaymentsServiceClient{cc: cc}
}

func (c *PaymentsServiceClient) Health(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error) {
	return invoke[HealthResponse](ctx, c.cc, "Health", in, opts)
}

func (c *PaymentsServiceClient) InitiatePayment(ctx context.Context, in *InitiatePaymentRequest, opts ...grpc.CallOption) (*PaymentResponse, error) {
	return invoke[PaymentResponse](ctx, c.cc, "InitiatePayment", in, opts)
}

func (c *PaymentsServiceClient) GetPayment(ctx context.Context, in *GetPaymentRequest, opts ...grpc.CallOption) (*PaymentResponse, error) {
	return invoke[PaymentResponse](ctx, c.cc, "GetPayment", in, opts)
}

func (c *PaymentsServiceClient) ListPaymentTransitions(ctx context.Context, in *ListPaymentTransitionsRequest, opts ...grpc.CallOption) (*ListPaymentTransitionsResponse, error) {
	return invoke[ListPaymentTransitionsResponse](ctx, c.cc, "ListPaymentTransitions", in, opts)
}

func (c *PaymentsServiceClient) CancelPayment(ctx context.Context, in *CancelPaymentRequest, opts ...grpc.CallOption) (*PaymentResponse, error) {
	return invoke[PaymentResponse](ctx, c.cc, "CancelPayment", in, opts)
}

func (c *PaymentsServiceClient) RefundPayment(ctx context.Context, in *RefundPaymentRequest, opts ...grpc.CallOption) (*PaymentResponse, error) {
	return invoke[PaymentResponse](ctx, c.cc, "RefundPayment", in, opts)
}

func (c *PaymentsServiceClient) HandleWebhook(ctx context.Context, in *HandleWebhookRequest, opts ...grpc.CallOption) (*PaymentResponse, error) {
	return invoke[PaymentResponse](ctx, c.cc, "HandleWebhook", in, opts)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	callOpts := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, FullMethodName(method), in, out, callOpts...); err != nil {
		return nil, err
	}
	return out, nil
}
