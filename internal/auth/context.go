package auth

import "context"

type ctxKey int

const subjectCtxKey ctxKey = iota

// WithSubject attaches an authenticated caller to ctx. A nil subject leaves
// ctx untouched.
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	return context.WithValue(ctx, subjectCtxKey, subject)
}

// SubjectFromContext returns the caller attached by the middleware, or nil
// when the request was not authenticated.
func SubjectFromContext(ctx context.Context) *Subject {
	subject, _ := ctx.Value(subjectCtxKey).(*Subject)
	return subject
}

// CallerName names the caller for logs, "anonymous" when auth is disabled.
func CallerName(ctx context.Context) string {
	if subject := SubjectFromContext(ctx); subject != nil && subject.Name != "" {
		return subject.Name
	}
	return "anonymous"
}
