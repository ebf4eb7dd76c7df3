// Package retry classifies provider responses and wraps idempotent
// operations with exponential backoff and jitter, generalizing the
// linear per-attempt backoff the reference client used and the fixed
// resty retry count the SDK client configured up front into a policy
// every caller shares.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/xpan-cli/xpan/internal/xpanerr"
)

// Classification is the outcome of inspecting an error or HTTP status
// code returned by a provider call.
type Classification int

const (
	// Fatal errors are not retried; they surface immediately.
	Fatal Classification = iota
	// Transient errors are retried with backoff: 5xx responses,
	// connection resets, timeouts.
	Transient
	// AuthExpired errors trigger one token refresh and a single retry,
	// never a backoff loop: 401 responses and provider errno 110/111.
	AuthExpired
)

// ClassifyHTTPStatus maps a status code to a Classification: 401 means
// AuthExpired, 5xx and 429 mean Transient, everything else is Fatal.
// The provider's "token expired" errnos are mapped by ClassifyErrno.
func ClassifyHTTPStatus(status int) Classification {
	switch {
	case status == 401:
		return AuthExpired
	case status == 429:
		return Transient
	case status >= 500 && status < 600:
		return Transient
	default:
		return Fatal
	}
}

// ClassifyErrno maps the provider's numeric error codes to a
// Classification. 110 and 111 are the provider's "access token
// invalid/expired" codes.
func ClassifyErrno(errno int) Classification {
	switch errno {
	case 110, 111:
		return AuthExpired
	default:
		return Fatal
	}
}

// Classify inspects err's concrete type for the cases the xpanerr
// package already distinguishes, falling back to Fatal for anything
// unrecognized so an unknown failure mode never loops forever.
func Classify(err error) Classification {
	if err == nil {
		return Fatal
	}

	var authErr *xpanerr.AuthError
	if errors.As(err, &authErr) {
		return AuthExpired
	}

	var transientErr *xpanerr.TransientError
	if errors.As(err, &transientErr) {
		return Transient
	}

	return Fatal
}

// Policy configures the backoff schedule Do applies around an
// operation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy makes up to 5 attempts with a 250ms base delay doubling
// each attempt, capped at 10s, plus full jitter.
var DefaultPolicy = Policy{
	MaxAttempts: 5,
	BaseDelay:   250 * time.Millisecond,
	MaxDelay:    10 * time.Second,
}

// PolicyFromMaxRetries builds a Policy from spec.md section 6's
// max_retries configuration knob (default 3), keeping DefaultPolicy's
// backoff shape. maxRetries <= 0 falls back to DefaultPolicy.MaxAttempts
// so a zero-value Config never disables retries outright.
func PolicyFromMaxRetries(maxRetries int) Policy {
	p := DefaultPolicy
	if maxRetries > 0 {
		p.MaxAttempts = maxRetries
	}
	return p
}

// RefreshFunc is called exactly once, the first time op returns an
// AuthExpired-classified error, to obtain a fresh token before the
// single permitted retry.
type RefreshFunc func(ctx context.Context) error

// Do runs op, retrying on Transient classifications per p and
// refreshing-then-retrying once on AuthExpired. A Fatal classification
// returns immediately. op receives the 1-based attempt number so
// callers can log or tag errors.
func Do(ctx context.Context, p Policy, refresh RefreshFunc, op func(ctx context.Context, attempt int) error) error {
	if p.MaxAttempts <= 0 {
		p = DefaultPolicy
	}

	refreshed := false
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &xpanerr.Cancelled{Op: "retry"}
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		switch Classify(err) {
		case AuthExpired:
			if refreshed || refresh == nil {
				return err
			}
			if rerr := refresh(ctx); rerr != nil {
				return rerr
			}
			refreshed = true
			// The retry after a refresh does not use up an attempt, so
			// it still happens when the refresh came on the last one.
			attempt--
			continue
		case Transient:
			if attempt == p.MaxAttempts {
				return err
			}
			if serr := sleepBackoff(ctx, p, attempt); serr != nil {
				return serr
			}
		default:
			return err
		}
	}

	return lastErr
}

func sleepBackoff(ctx context.Context, p Policy, attempt int) error {
	delay := backoffDelay(p, attempt)
	t := time.NewTimer(delay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return &xpanerr.Cancelled{Op: "retry backoff"}
	case <-t.C:
		return nil
	}
}

// backoffDelay computes 2^(attempt-1) * BaseDelay capped at MaxDelay,
// then applies full jitter (a uniform draw between 0 and the capped
// value) so concurrent callers don't retry in lockstep.
func backoffDelay(p Policy, attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}
