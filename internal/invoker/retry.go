package invoker

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pitabwire/vendordesk/internal/config"
	"github.com/pitabwire/vendordesk/model"
)

const (
	defaultBackoffInitial    = 100 * time.Millisecond
	defaultBackoffMultiplier = 2
	defaultBackoffMax        = 2 * time.Second
)

// retryPolicy is a service's retry configuration resolved for one call.
type retryPolicy struct {
	attempts   int
	initial    time.Duration
	multiplier float64
	ceiling    time.Duration
	// repeatable is false for non-idempotent methods when the service only
	// retries idempotent ones.
	repeatable bool
}

func newRetryPolicy(cfg config.RetryConfig, method string) retryPolicy {
	p := retryPolicy{
		attempts:   max(cfg.MaxAttempts, 1),
		initial:    cfg.BackoffInitial,
		multiplier: cfg.BackoffMultiplier,
		ceiling:    cfg.BackoffMax,
		repeatable: isIdempotentMethod(method) || !cfg.IdempotentOnly,
	}
	if p.initial <= 0 {
		p.initial = defaultBackoffInitial
	}
	if p.multiplier <= 0 {
		p.multiplier = defaultBackoffMultiplier
	}
	if p.ceiling <= 0 {
		p.ceiling = defaultBackoffMax
	}
	return p
}

// retryable reports whether an attempt that ended with status or err is
// worth repeating.
func (p retryPolicy) retryable(status int, err error) bool {
	if !p.repeatable {
		return false
	}
	if err != nil {
		return isRetryableError(err)
	}
	return isRetryableStatus(status)
}

// backoff is the exponential delay before the given retry, counting from 1.
func (p retryPolicy) backoff(retry int) time.Duration {
	d := p.initial
	for range retry - 1 {
		d = time.Duration(float64(d) * p.multiplier)
		if d >= p.ceiling {
			return p.ceiling
		}
	}
	return min(d, p.ceiling)
}

// wait is the delay before the given retry. A Retry-After hint from the
// backend lengthens it, up to the ceiling.
func (p retryPolicy) wait(retry int, retryAfter string, now time.Time) time.Duration {
	d := p.backoff(retry)
	if hint := parseRetryAfter(retryAfter, now); hint > d {
		d = min(hint, p.ceiling)
	}
	return d
}

// parseRetryAfter reads a Retry-After value in either delay-seconds or
// HTTP-date form. Anything else yields zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(at.Sub(now), 0)
	}
	return 0
}

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isRetryableError treats transport failures as transient. Envelopes (open
// breaker, timeouts) are final.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var env *model.ErrorEnvelope
	return !errors.As(err, &env)
}
