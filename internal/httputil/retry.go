// Package httputil sends agent requests with bounded, jittered retries.
package httputil

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/fleetsync/inventory/internal/logging"
)

var log = logging.L("httputil")

type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFrac    float64 // 0.3 spreads each wait over ±30%
}

// DefaultRetryConfig is used for registration, where the agent cannot make
// progress without an answer.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
		JitterFrac:    0.3,
	}
}

// NoRetryConfig sends exactly once. Snapshot pushes and task reports use it
// since the next cycle resends current state anyway.
func NoRetryConfig() RetryConfig {
	return RetryConfig{BackoffFactor: 1}
}

// wait returns the pause before retry number n (1-based).
func (c RetryConfig) wait(n int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 1; i < n; i++ {
		d *= c.BackoffFactor
		if c.MaxDelay > 0 && d >= float64(c.MaxDelay) {
			d = float64(c.MaxDelay)
			break
		}
	}
	return applyJitter(time.Duration(d), c.JitterFrac)
}

// RetryableStatusError is returned when every attempt ended in a status the
// server may recover from.
type RetryableStatusError struct {
	StatusCode int
	URL        string
}

func (e *RetryableStatusError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

func retryable(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do sends the request, replaying body on every attempt. Transport errors and
// retryable statuses are retried up to cfg.MaxRetries times; any other
// response is returned to the caller as is. A Retry-After header in seconds
// overrides the computed wait, capped at MaxDelay.
func Do(ctx context.Context, client *http.Client, method, url string, body []byte, headers http.Header, cfg RetryConfig) (*http.Response, error) {
	var (
		lastErr error
		hint    time.Duration
	)
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			pause := cfg.wait(attempt)
			if hint > 0 {
				pause = hint
			}
			log.Debug("retrying request", "method", method, "url", url, "attempt", attempt, "wait", pause)
			t := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		for k, vs := range headers {
			req.Header[k] = append([]string(nil), vs...)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr, hint = err, 0
			continue
		}
		if !retryable(resp.StatusCode) {
			return resp, nil
		}
		hint = retryAfter(resp.Header.Get("Retry-After"), cfg.MaxDelay)
		resp.Body.Close()
		lastErr = &RetryableStatusError{StatusCode: resp.StatusCode, URL: url}
	}

	if cfg.MaxRetries > 0 {
		log.Warn("giving up on request", "method", method, "url", url, "attempts", cfg.MaxRetries+1, "error", lastErr)
	}
	return nil, lastErr
}

func retryAfter(v string, max time.Duration) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if max > 0 && d > max {
		return max
	}
	return d
}

func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * frac
	return max(0, d+time.Duration(spread*(2*rand.Float64()-1)))
}
