package common_test

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-punchout/internal/common"
)

func newIdem(t *testing.T) (common.Idem, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return common.Idem{R: client, TTL: time.Minute}, mr
}

func transferRequest(subject, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/punchout/sessions/tok/transfer", nil)
	req.Header.Set("Idempotency-Key", key)
	return req.WithContext(common.WithSubject(req.Context(), subject, nil))
}

func TestIdemReplaysStoredResponse(t *testing.T) {
	idem, _ := newIdem(t)
	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		common.Data(w, http.StatusOK, map[string]string{"state": "TRANSFERRED"})
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, transferRequest("svc-storefront", "abc"))
	require.Equal(t, http.StatusOK, rr.Code)

	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, transferRequest("svc-storefront", "abc"))
	require.Equal(t, http.StatusOK, rr2.Code)
	require.Equal(t, "true", rr2.Header().Get("Idempotent-Replayed"))
	require.Equal(t, rr.Header().Get("Content-Type"), rr2.Header().Get("Content-Type"))
	require.JSONEq(t, rr.Body.String(), rr2.Body.String())
	require.Equal(t, 1, calls)
}

func TestIdemScopesKeysBySubject(t *testing.T) {
	idem, _ := newIdem(t)
	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), transferRequest("svc-storefront", "abc"))
	h.ServeHTTP(httptest.NewRecorder(), transferRequest("svc-backoffice", "abc"))
	require.Equal(t, 2, calls)
}

func TestIdemRejectsConcurrentDuplicate(t *testing.T) {
	idem, _ := newIdem(t)
	var inner http.Handler
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rr := httptest.NewRecorder()
		inner.ServeHTTP(rr, transferRequest("svc-storefront", "abc"))
		require.Equal(t, http.StatusConflict, rr.Code)
		require.Contains(t, rr.Body.String(), "IDEMPOTENCY_IN_PROGRESS")
		w.WriteHeader(http.StatusOK)
	}))
	inner = h

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, transferRequest("svc-storefront", "abc"))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestIdemHidesStoreErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	h := common.Idem{R: client}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without the key reserved")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, transferRequest("svc-storefront", "abc"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "127.0.0.1")
}

func TestIdemReleasesKeyOnServerError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	status := http.StatusBadGateway
	h := common.Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	req := httptest.NewRequest(http.MethodPost, "/transfer", nil)
	req.Header.Set("Idempotency-Key", "retry-me")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req.Clone(req.Context()))
	require.Equal(t, http.StatusBadGateway, rr.Code)

	status = http.StatusOK
	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req.Clone(req.Context()))
	require.Equal(t, http.StatusOK, rr2.Code)
}

func TestWriteErrorHidesCause(t *testing.T) {
	var buf bytes.Buffer
	req := httptest.NewRequest(http.MethodPost, "/api/v1/punchout/sessions/tok/transfer", nil)
	req = req.WithContext(zerolog.New(&buf).WithContext(req.Context()))

	rr := httptest.NewRecorder()
	common.WriteError(rr, req, errors.New("dial tcp 10.0.0.7:5432: connection refused"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.JSONEq(t, `{"error":{"code":"INTERNAL","message":"internal error"}}`, rr.Body.String())
	require.Contains(t, buf.String(), "connection refused")
}
