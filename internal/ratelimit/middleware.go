package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/backend-punchout/internal/common"
)

// Config describes how requests are keyed and how many fit in a window.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler applies a sliding-window Limiter to an endpoint.
type Handler struct {
	Limiter Limiter
	Config  Config
	OnError func(error)
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// rounded up to whole seconds. Requests without a key and limiter failures
// pass through; failures are reported to OnError.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var key string
		if h.Config.Key != nil {
			key = h.Config.Key(r)
		}
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), key, h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(max(h.Config.Max, 0)))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		if allowed {
			next.ServeHTTP(w, r)
			return
		}
		wait := resetAt.Sub(h.Limiter.now())
		headers.Set("Retry-After", strconv.Itoa(int(math.Ceil(max(wait, 0).Seconds()))))
		common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
	})
}

// ClientIP keys requests by remote address. chi's RealIP middleware should run
// first so forwarded addresses are honoured.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Subject keys requests by the authenticated service-token subject, falling
// back to the client address.
func Subject(r *http.Request) string {
	if subject, ok := common.Subject(r.Context()); ok && subject != "" {
		return "sub:" + subject
	}
	return "ip:" + ClientIP(r)
}
