package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	idemPending = "pending"
	// Responses larger than this are not replayed; a retry gets 409 instead.
	maxReplayBody = 64 << 10
)

// Idem implements Idempotency-Key handling backed by Redis. The first request
// with a key runs; later requests with the same key receive the stored
// response with an Idempotent-Replayed header. A duplicate that arrives while
// the first is still running gets 409. Keys are released when the handler
// fails with a 5xx so the caller can retry.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// idemKey scopes the caller's key to the authenticated subject and the route
// so two services cannot collide on the same header value.
func idemKey(r *http.Request, key string) string {
	subject, _ := Subject(r.Context())
	return "idem:" + Digest(subject, r.Method, r.URL.Path, key)
}

// Middleware wraps write endpoints such as prepare and transfer.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Idempotency-Key")
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := idemKey(r, header)
		ok, err := i.R.SetNX(ctx, key, idemPending, i.ttl()).Result()
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if !ok {
			i.replay(w, r, key)
			return
		}

		rec := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		defer i.store(key, rec)
		next.ServeHTTP(rec, r)
	})
}

func (i Idem) replay(w http.ResponseWriter, r *http.Request, key string) {
	raw, err := i.R.Get(r.Context(), key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		// Released between SETNX and GET: the first attempt failed.
		JSONError(w, http.StatusConflict, "IDEMPOTENCY_RETRY", "previous attempt failed, retry the request", nil)
		return
	case err != nil:
		WriteError(w, r, err)
		return
	}
	if string(raw) == idemPending {
		JSONError(w, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "a request with this key is still running", nil)
		return
	}
	var stored storedResponse
	if err := json.Unmarshal(raw, &stored); err != nil || stored.Truncated {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.Header().Set("Content-Length", strconv.Itoa(len(stored.Body)))
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

func (i Idem) store(key string, rec *captureWriter) {
	ctx := context.Background()
	if rec.status >= http.StatusInternalServerError {
		_ = i.R.Del(ctx, key).Err()
		return
	}
	stored := storedResponse{
		Status:      rec.status,
		ContentType: rec.Header().Get("Content-Type"),
		Truncated:   rec.overflow,
	}
	if !rec.overflow {
		stored.Body = rec.body.Bytes()
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		_ = i.R.Del(ctx, key).Err()
		return
	}
	_ = i.R.Set(ctx, key, payload, i.ttl()).Err()
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 24 * time.Hour
	}
	return i.TTL
}

type captureWriter struct {
	http.ResponseWriter
	status   int
	body     bytes.Buffer
	overflow bool
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if !c.overflow {
		if c.body.Len()+len(p) > maxReplayBody {
			c.overflow = true
			c.body.Reset()
		} else {
			c.body.Write(p)
		}
	}
	return c.ResponseWriter.Write(p)
}
