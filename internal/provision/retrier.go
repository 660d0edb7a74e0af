package provision

import (
	"context"
	"log/slog"
	"time"

	"hotspot-portal/utils"
)

// Retrier wraps a Provisioner with bounded retries, exponential backoff
// and a circuit breaker. Provisioning failures are reported to the
// caller after the last attempt; they never block a confirmed sale.
type Retrier struct {
	inner    Provisioner
	breaker  *utils.CircuitBreaker
	attempts int
	backoff  time.Duration
}

func NewRetrier(inner Provisioner, attempts int, backoff time.Duration) *Retrier {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrier{
		inner:    inner,
		breaker:  utils.NewCircuitBreaker("provisioner"),
		attempts: attempts,
		backoff:  backoff,
	}
}

func (r *Retrier) ProvisionCredential(ctx context.Context, cred Credential) error {
	return r.retry(ctx, "provision", cred.Username, func() error {
		return r.inner.ProvisionCredential(ctx, cred)
	})
}

func (r *Retrier) ListActiveCredentials(ctx context.Context) ([]string, error) {
	result, err := r.breaker.Execute(ctx, func() (interface{}, error) {
		return r.inner.ListActiveCredentials(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (r *Retrier) RevokeCredential(ctx context.Context, username string) error {
	return r.retry(ctx, "revoke", username, func() error {
		return r.inner.RevokeCredential(ctx, username)
	})
}

func (r *Retrier) retry(ctx context.Context, op, username string, call func() error) error {
	var lastErr error
	delay := r.backoff

	for attempt := 1; attempt <= r.attempts; attempt++ {
		_, err := r.breaker.Execute(ctx, func() (interface{}, error) {
			return nil, call()
		})
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn("provisioner call failed",
			"op", op, "username", username, "attempt", attempt, "error", err)

		if attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}
