// Package reqid carries a per-request correlation ID through context.
package reqid

import "context"

type ctxKey struct{}

// With attaches the request ID to the context.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// From extracts the request ID, if one was attached.
func From(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	s, ok := ctx.Value(ctxKey{}).(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
