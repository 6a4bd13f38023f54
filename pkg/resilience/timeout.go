package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/casfos/registry/pkg/errors"
)

// WithTimeout runs fn under a deadline of limit and returns as soon as the
// deadline passes, even if fn ignores its context. The returned error then
// matches both apperrors.ErrTimeout and context.DeadlineExceeded. A
// non-positive limit calls fn directly.
func WithTimeout(ctx context.Context, limit time.Duration, name string, fn func(ctx context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- fn(ctx) }()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
	}
	if cause := context.Cause(ctx); cause != context.DeadlineExceeded {
		return fmt.Errorf("%s: %w", name, cause)
	}
	return fmt.Errorf("%s after %v: %w: %w", name, limit, apperrors.ErrTimeout, context.DeadlineExceeded)
}
