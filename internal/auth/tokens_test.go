package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-punchout/internal/common"
)

func newTestVerifier(t *testing.T, now *time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{
		Secret:    "test-secret",
		Issuer:    "storefront",
		Audience:  "punchout-gateway",
		ClockSkew: time.Second,
		Now:       func() time.Time { return *now },
	})
	require.NoError(t, err)
	return v
}

func TestIssueAndParse(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	v := newTestVerifier(t, &now)

	token, err := v.Issue("storefront-web", []string{"cart", ScopeAdmin}, time.Hour)
	require.NoError(t, err)

	claims, err := v.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "storefront-web", claims.Subject)
	require.True(t, claims.HasScope(ScopeAdmin))
	require.False(t, claims.HasScope("billing"))
	require.True(t, claims.ExpiresAt.Equal(now.Add(time.Hour)))
}

func TestParseRejectsExpiredToken(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	v := newTestVerifier(t, &now)
	token, err := v.Issue("storefront-web", nil, time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = v.Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsWrongAudienceAndSecret(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	v := newTestVerifier(t, &now)

	other, err := NewVerifier(VerifierConfig{Secret: "test-secret", Issuer: "storefront", Audience: "elsewhere", Now: func() time.Time { return now }})
	require.NoError(t, err)
	token, err := other.Issue("storefront-web", nil, time.Hour)
	require.NoError(t, err)
	_, err = v.Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	forged, err := NewVerifier(VerifierConfig{Secret: "another-secret", Issuer: "storefront", Audience: "punchout-gateway", Now: func() time.Time { return now }})
	require.NoError(t, err)
	token, err = forged.Issue("storefront-web", nil, time.Hour)
	require.NoError(t, err)
	_, err = v.Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsTokenWithoutExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	v := newTestVerifier(t, &now)

	tok, err := jwt.NewBuilder().
		Subject("storefront-web").
		Issuer("storefront").
		Audience([]string{"punchout-gateway"}).
		IssuedAt(now).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("test-secret")))
	require.NoError(t, err)

	_, err = v.Parse(string(signed))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseAcceptsScopeArray(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	v := newTestVerifier(t, &now)

	tok, err := jwt.NewBuilder().
		Subject("ops").
		Issuer("storefront").
		Audience([]string{"punchout-gateway"}).
		Expiration(now.Add(time.Hour)).
		Claim("scope", []string{"admin"}).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("test-secret")))
	require.NoError(t, err)

	claims, err := v.Parse(string(signed))
	require.NoError(t, err)
	require.True(t, claims.HasScope(ScopeAdmin))
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{})
	require.Error(t, err)
}

func TestMiddlewareEnforcesTokenAndScope(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(t, &now)
	m := Middleware{Verifier: v}

	var subject string
	handler := m.RequireService(m.RequireScope(ScopeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = common.Subject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	call := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusUnauthorized, call(""))
	require.Equal(t, http.StatusUnauthorized, call("not-a-jwt"))

	plain, err := v.Issue("storefront-web", nil, time.Hour)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, call(plain))

	admin, err := v.Issue("ops-console", []string{ScopeAdmin}, time.Hour)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, call(admin))
	require.Equal(t, "ops-console", subject)
}
