package modbus

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy is applied uniformly to every register operation.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Multiplier  float64
}

// Do runs fn until it succeeds, the attempts are used up or ctx ends.
// ErrNotConnected is not retried: the session is gone.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Backoff

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= attempts || errors.Is(err, ErrNotConnected) {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}

		if p.Multiplier > 1 {
			delay = time.Duration(float64(delay) * p.Multiplier)
		}
	}
}

type retryingSession struct {
	Session
	policy RetryPolicy
	logger *zap.Logger
}

// WithRetry wraps every register operation of s in policy.
func WithRetry(s Session, policy RetryPolicy, logger *zap.Logger) Session {
	return &retryingSession{Session: s, policy: policy, logger: logger}
}

func (r *retryingSession) ReadBlock(ctx context.Context, start, count uint16) ([]uint16, error) {
	var out []uint16
	attempt := 0
	err := r.policy.Do(ctx, func() error {
		attempt++
		var err error
		out, err = r.Session.ReadBlock(ctx, start, count)
		r.logAttempt("read holding block", start, attempt, err)
		return err
	})
	return out, err
}

func (r *retryingSession) ReadInputBlock(ctx context.Context, start, count uint16) ([]uint16, error) {
	var out []uint16
	attempt := 0
	err := r.policy.Do(ctx, func() error {
		attempt++
		var err error
		out, err = r.Session.ReadInputBlock(ctx, start, count)
		r.logAttempt("read input block", start, attempt, err)
		return err
	})
	return out, err
}

func (r *retryingSession) WriteRegister(ctx context.Context, address, value uint16) error {
	attempt := 0
	return r.policy.Do(ctx, func() error {
		attempt++
		err := r.Session.WriteRegister(ctx, address, value)
		r.logAttempt("write register", address, attempt, err)
		return err
	})
}

func (r *retryingSession) logAttempt(op string, address uint16, attempt int, err error) {
	if err == nil || r.logger == nil {
		return
	}
	r.logger.Debug("Modbus operation failed",
		zap.String("operation", op),
		zap.Uint16("address", address),
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", r.policy.MaxAttempts),
		zap.Error(err))
}
