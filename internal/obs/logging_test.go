package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRequestLoggerRecordsRouteNotPath(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := chi.NewRouter()
	r.Use(RequestLogger{Logger: logger}.Middleware)
	r.Get("/api/v1/punchout/sessions/{token}", func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("subject", "svc-storefront")
		})
		w.WriteHeader(http.StatusGone)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/punchout/sessions/secret-token-value", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	require.NotContains(t, buf.String(), "secret-token-value")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "warn", entry["level"])
	require.Equal(t, "/api/v1/punchout/sessions/{token}", entry["route"])
	require.Equal(t, "svc-storefront", entry["subject"])
	require.EqualValues(t, http.StatusGone, entry["status"])
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	previous := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(previous) })
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "chatty")
	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}
