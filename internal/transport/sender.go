package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-punchout/internal/obs"
	"github.com/noah-isme/backend-punchout/internal/resilience"
)

var (
	// ErrDownstreamUnreachable is returned when the order could not be delivered.
	ErrDownstreamUnreachable = errors.New("transport: downstream unreachable")
	// ErrRejected marks a non-retryable 4xx answer from the return URL. It is
	// always joined with ErrDownstreamUnreachable.
	ErrRejected = errors.New("transport: order rejected by downstream")
	// ErrInvalidReturnURL is returned for return URLs the gateway refuses to call.
	ErrInvalidReturnURL = errors.New("transport: invalid return url")
)

const maxResponseExcerpt = 512

// Delivery describes a completed POST to a return URL.
type Delivery struct {
	Status   int           `json:"status"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Excerpt  string        `json:"excerpt,omitempty"`
}

// Sender posts order documents to buyer return URLs. When Breakers is set,
// each return-URL host gets its own circuit breaker and HTTP.Breaker is
// ignored.
type Sender struct {
	HTTP          resilience.HTTPClient
	Breakers      *resilience.BreakerSet
	AllowInsecure bool
	UserAgent     string
}

// NewHTTPClient builds an instrumented client for outbound posts.
func NewHTTPClient(timeout time.Duration, insecureTLS bool) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// ValidateReturnURL accepts https URLs, and http only for loopback hosts
// unless allowInsecure is set.
func ValidateReturnURL(raw string, allowInsecure bool) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReturnURL, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidReturnURL)
	}
	if parsed.User != nil {
		return fmt.Errorf("%w: credentials in url", ErrInvalidReturnURL)
	}
	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if allowInsecure || isLoopback(parsed.Hostname()) {
			return nil
		}
		return fmt.Errorf("%w: http only allowed for localhost", ErrInvalidReturnURL)
	default:
		return fmt.Errorf("%w: scheme %q", ErrInvalidReturnURL, parsed.Scheme)
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Send posts body to returnURL. 2xx is success; 4xx fails without retry;
// 5xx and network errors are retried by the resilience client. Every failure
// wraps ErrDownstreamUnreachable.
func (s *Sender) Send(ctx context.Context, returnURL string, body []byte, contentType string) (Delivery, error) {
	ctx, span := otel.Tracer("transport.Sender").Start(ctx, "Sender.Send")
	defer span.End()

	if err := ValidateReturnURL(returnURL, s.AllowInsecure); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid return url")
		return Delivery{}, err
	}
	parsed, _ := url.Parse(returnURL)
	span.SetAttributes(attribute.String("punchout.return_host", parsed.Host))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, returnURL, bytes.NewReader(body))
	if err != nil {
		return Delivery{}, err
	}
	req.Header.Set("Content-Type", contentType)
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}

	var delivery Delivery
	client := s.HTTP
	if s.Breakers != nil {
		client.Breaker = s.Breakers.For(parsed.Host)
		client.Target = strings.ToLower(parsed.Host)
	}
	onAttempt := client.OnAttempt
	client.OnAttempt = func(ctx context.Context, a resilience.Attempt) {
		delivery.Attempts = a.Number
		result := "ok"
		if a.Err != nil {
			result = "error"
		}
		if obs.PunchoutTransferAttemptLatency != nil && a.Duration > 0 {
			obs.PunchoutTransferAttemptLatency.WithLabelValues(result).Observe(obs.DurationMillis(a.Duration))
		}
		if onAttempt != nil {
			onAttempt(ctx, a)
		}
	}

	start := time.Now()
	resp, err := client.Do(ctx, req)
	delivery.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("punchout.transfer_attempts", delivery.Attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		return delivery, fmt.Errorf("%w: %w", ErrDownstreamUnreachable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseExcerpt))
	delivery.Status = resp.StatusCode
	delivery.Excerpt = strings.TrimSpace(string(excerpt))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, "order rejected")
		return delivery, fmt.Errorf("%w: %w: status %d", ErrDownstreamUnreachable, ErrRejected, resp.StatusCode)
	}
	return delivery, nil
}
