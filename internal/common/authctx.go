package common

import "context"

type ctxKey string

const (
	subjectKey ctxKey = "auth/subject"
	scopesKey  ctxKey = "auth/scopes"
)

// WithSubject stores the authenticated service-token subject on the provided context.
func WithSubject(ctx context.Context, subject string, scopes []string) context.Context {
	ctx = context.WithValue(ctx, subjectKey, subject)
	return context.WithValue(ctx, scopesKey, scopes)
}

// Subject extracts the authenticated caller from the context if present.
func Subject(ctx context.Context) (string, bool) {
	v := ctx.Value(subjectKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// HasScope reports whether the authenticated caller was granted scope.
func HasScope(ctx context.Context, scope string) bool {
	scopes, _ := ctx.Value(scopesKey).([]string)
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}
