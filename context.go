package console

import "context"

type ctxKey string

const (
	ctxKeySubject   ctxKey = "console_subject"
	ctxKeyClaims    ctxKey = "console_claims"
	ctxKeyRequestID ctxKey = "console_request_id"
)

// WithSubject stores the authenticated subject ID in the context.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ctxKeySubject, subject)
}

// SubjectFromContext extracts the authenticated subject ID from the context.
func SubjectFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeySubject).(string)
	return v
}

// WithClaims stores the full token claims in the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, claims)
}

// ClaimsFromContext extracts the full token claims from the context.
func ClaimsFromContext(ctx context.Context) *Claims {
	v, _ := ctx.Value(ctxKeyClaims).(*Claims)
	return v
}

// WithRequestID stores a request correlation ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext extracts the request correlation ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}
