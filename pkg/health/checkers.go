package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when the process runs more than threshold
// goroutines. Every session holds timers and fetch goroutines, so a leak
// shows up here first.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// Pinger is a dependency that can confirm connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when p cannot be reached.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// CapacityCheck fails once count reaches max. A non-positive max disables it.
func CapacityCheck(what string, count func() int, max int) CheckFunc {
	return func(_ context.Context) error {
		if max <= 0 {
			return nil
		}
		if n := count(); n >= max {
			return errors.Errorf("%s at capacity: %d of %d", what, n, max)
		}
		return nil
	}
}
