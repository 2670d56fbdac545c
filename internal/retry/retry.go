// Package retry decides whether a failed remote call is worth repeating and how
// long to wait before doing so.
//
// Attempts are zero-indexed: attempt 0 is the first retry after the initial
// failed try. Delays grow as base*2^attempt, are capped at MaxDelay and carry
// ±10% uniform jitter.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"slices"
	"syscall"
	"time"
)

// ErrNoResponse marks a call that never received any response from the server.
var ErrNoResponse = errors.New("no response received")

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// Config is the retry policy. Treat it as immutable; use With to derive
// per-call-site variants.
type Config struct {
	MaxRetries           int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	RetryableStatusCodes []int
	RetryOnNetworkError  bool
}

// Override carries per-call-site changes to a Config. Zero/nil fields keep the
// base value.
type Override struct {
	MaxRetries           *int          `yaml:"max_retries,omitempty"`
	BaseDelay            time.Duration `yaml:"base_delay,omitempty"`
	MaxDelay             time.Duration `yaml:"max_delay,omitempty"`
	RetryableStatusCodes []int         `yaml:"retryable_status_codes,omitempty"`
	RetryOnNetworkError  *bool         `yaml:"retry_on_network_error,omitempty"`
}

// DefaultConfig returns the default HTTP retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:           3,
		BaseDelay:            1000 * time.Millisecond,
		MaxDelay:             10000 * time.Millisecond,
		RetryableStatusCodes: []int{408, 429, 502, 503, 504},
		RetryOnNetworkError:  true,
	}
}

// With merges o over c and returns the result. c is not modified.
func (c Config) With(o Override) Config {
	out := c
	out.RetryableStatusCodes = slices.Clone(c.RetryableStatusCodes)
	if o.MaxRetries != nil {
		out.MaxRetries = *o.MaxRetries
	}
	if o.BaseDelay > 0 {
		out.BaseDelay = o.BaseDelay
	}
	if o.MaxDelay > 0 {
		out.MaxDelay = o.MaxDelay
	}
	if o.RetryableStatusCodes != nil {
		out.RetryableStatusCodes = slices.Clone(o.RetryableStatusCodes)
	}
	if o.RetryOnNetworkError != nil {
		out.RetryOnNetworkError = *o.RetryOnNetworkError
	}
	return out
}

// transientErrnos are connection-level failures worth repeating.
var transientErrnos = []syscall.Errno{
	syscall.ECONNRESET,
	syscall.ECONNABORTED,
	syscall.ETIMEDOUT,
	syscall.EPIPE,
	syscall.ECONNREFUSED,
}

// IsRetryable reports whether err should be retried under cfg.
func IsRetryable(err error, cfg Config) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) && sc.StatusCode() > 0 {
		return slices.Contains(cfg.RetryableStatusCodes, sc.StatusCode())
	}

	if isTransient(err) {
		return true
	}

	if cfg.RetryOnNetworkError && isNoResponse(err) {
		return true
	}
	return false
}

func isTransient(err error) bool {
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

func isNoResponse(err error) bool {
	if errors.Is(err, ErrNoResponse) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// ComputeDelay returns the wait before retry number attempt (zero-indexed).
func ComputeDelay(attempt int, cfg Config) time.Duration {
	return computeDelay(attempt, cfg, rand.Float64())
}

// computeDelay takes the random sample r in [0,1) explicitly.
func computeDelay(attempt int, cfg Config, r float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if cfg.MaxDelay > 0 && d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	d += d * 0.1 * (r*2 - 1)
	ms := math.Floor(d / float64(time.Millisecond))
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Notify is called before each sleep with the attempt number, the delay and
// the error that triggered the retry.
type Notify func(attempt int, delay time.Duration, err error)

// Do runs fn, retrying per cfg. It returns the last observed error.
func Do(ctx context.Context, cfg Config, fn func(context.Context) error) error {
	return DoNotify(ctx, cfg, fn, nil)
}

// DoNotify is Do with a hook invoked before every retry.
func DoNotify(ctx context.Context, cfg Config, fn func(context.Context) error, notify Notify) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries || !IsRetryable(err, cfg) {
			return err
		}

		delay := ComputeDelay(attempt, cfg)
		if notify != nil {
			notify(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
