package common

import "context"

// ContextKey represents a context key type
type ContextKey string

// Context keys
const (
	ContextKeySubject ContextKey = "subject"
	ContextKeyBatchID ContextKey = "batch_id"
)

// WithSubject adds the authenticated subject to context
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ContextKeySubject, subject)
}

// GetSubject extracts the authenticated subject from context
func GetSubject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(ContextKeySubject).(string)
	return subject, ok
}

// WithBatchID tags a flush with the ID its log lines carry
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, ContextKeyBatchID, batchID)
}

// GetBatchID extracts the flush batch ID from context
func GetBatchID(ctx context.Context) (string, bool) {
	batchID, ok := ctx.Value(ContextKeyBatchID).(string)
	return batchID, ok
}
