package service

import "context"

type correlationIDKey struct{}

// WithCorrelationID tags ctx with the inbound request id so published events
// can be traced back to the call that produced them.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}
