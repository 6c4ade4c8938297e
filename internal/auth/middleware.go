package auth

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-punchout/internal/common"
)

// Middleware guards storefront and admin routes with service tokens.
type Middleware struct {
	Verifier *Verifier
}

// RequireService rejects requests without a valid bearer token and stores the
// token subject and scopes on the request context.
func (m Middleware) RequireService(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Verifier == nil {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "token verifier not configured", nil)
			return
		}
		token := bearerToken(r)
		if token == "" {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		claims, err := m.Verifier.Parse(token)
		if err != nil {
			zerolog.Ctx(r.Context()).Debug().Err(err).Msg("service token rejected")
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("subject", claims.Subject)
		})
		ctx := common.WithSubject(r.Context(), claims.Subject, claims.Scopes)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope must run after RequireService.
func (m Middleware) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !common.HasScope(r.Context(), scope) {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "insufficient scope", map[string]string{"required": scope})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
