package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const defaultMaxRetryAfter = 30 * time.Second

// Attempt describes the outcome of one physical request.
type Attempt struct {
	Number   int
	Status   int
	Err      error
	Duration time.Duration
	// Wait is the delay before the next attempt, zero on the last one.
	Wait time.Duration
}

// HTTPClient wraps an http.Client with per-attempt timeouts, retries and a
// circuit breaker. Network errors, 5xx and 429 are retried; other statuses are
// returned as is. A Retry-After header on 429 or 503 replaces the computed
// backoff, capped at MaxRetryAfter.
type HTTPClient struct {
	Client        *http.Client
	Breaker       *Breaker
	BaseBackoff   time.Duration
	MaxAttempts   int
	Jitter        float64
	Timeout       time.Duration
	MaxRetryAfter time.Duration
	Target        string
	Logger        *zerolog.Logger
	OnAttempt     func(context.Context, Attempt)
}

// Do sends req, buffering its body so it can be replayed. ErrOpenCircuit is
// returned without contacting the target while the breaker refuses requests.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	breaker := cl.Breaker
	if breaker == nil {
		breaker = NewBreaker(1, 1, time.Second)
	}
	maxAttempts := max(cl.MaxAttempts, 1)
	baseBackoff := cl.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 100 * time.Millisecond
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !breaker.Allow(ctx) {
			cl.report(ctx, Attempt{Number: attempt, Err: ErrOpenCircuit})
			return nil, ErrOpenCircuit
		}
		start := time.Now()
		resp, err := cl.doOnce(ctx, withBody(ctx, req, body))
		a := Attempt{Number: attempt, Err: err, Duration: time.Since(start)}
		if err == nil {
			a.Status = resp.StatusCode
		}

		if err == nil && !retryableStatus(resp.StatusCode) {
			breaker.Report(ctx, true)
			cl.report(ctx, a)
			return resp, nil
		}

		// A throttling target is up; only errors and 5xx count against it.
		breaker.Report(ctx, err == nil && resp.StatusCode == http.StatusTooManyRequests)
		wait := Backoff(baseBackoff, attempt, cl.Jitter)
		if err == nil {
			if after, ok := cl.retryAfter(resp); ok {
				wait = after
			}
			lastErr = fmt.Errorf("resilience: upstream responded %s", resp.Status)
			a.Err = lastErr
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		} else {
			lastErr = err
		}
		if attempt == maxAttempts {
			cl.report(ctx, a)
			break
		}
		a.Wait = wait
		cl.report(ctx, a)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func retryableStatus(code int) bool {
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}

// retryAfter reads a delay-seconds or HTTP-date Retry-After from 429 and 503
// responses.
func (cl HTTPClient) retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return 0, false
	}
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0, false
	}
	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		d = time.Until(at)
	} else {
		return 0, false
	}
	limit := cl.MaxRetryAfter
	if limit <= 0 {
		limit = defaultMaxRetryAfter
	}
	return min(max(d, 0), limit), true
}

func (cl HTTPClient) report(ctx context.Context, a Attempt) {
	if cl.Logger != nil {
		evt := cl.Logger.Debug()
		if a.Err != nil {
			evt = cl.Logger.Warn().Err(a.Err)
		}
		evt.Str("target", cl.Target).Int("attempt", a.Number).Int("status", a.Status).
			Int64("duration_ms", a.Duration.Milliseconds()).Dur("retry_in", a.Wait).Msg("outbound_attempt")
	}
	if cl.OnAttempt != nil {
		cl.OnAttempt(ctx, a)
	}
}

func (cl HTTPClient) doOnce(ctx context.Context, req *http.Request) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	if timeout <= 0 {
		return cl.Client.Do(req)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		return nil, err
	}
	// The body must stay readable after doOnce returns, so cancellation is
	// deferred until the caller closes it.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	src := req.Body
	if req.GetBody != nil {
		fresh, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		src = fresh
	}
	data, err := io.ReadAll(src)
	_ = src.Close()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func withBody(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		clone.ContentLength = int64(len(body))
	}
	return clone
}
