package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
)

// retry runs fn until it succeeds, fails with anything other than a
// conflict, or the attempt budget is spent.
func (e *Engine) retry(ctx context.Context, op string, fn func() error) error {
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := fn()
		if err == nil {
			return struct{}{}, nil
		}
		if !errors.Is(err, ErrConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		if attempts < e.maxAttempts {
			e.metrics.retried(op)
			e.log.Debug("retrying after conflict", "op", op, "attempt", attempts, "error", err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(e.newBackOff()),
		backoff.WithMaxTries(uint(e.maxAttempts)),
	)
	if err == nil {
		return nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if errors.Is(err, ErrConflict) {
		return &Error{
			Op:      op,
			Kind:    ErrConflict,
			Message: fmt.Sprintf("gave up after %d attempts", attempts),
			Err:     err,
		}
	}
	return err
}

func (e *Engine) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.baseDelay
	b.MaxInterval = 20 * e.baseDelay
	return b
}
