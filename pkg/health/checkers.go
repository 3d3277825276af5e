package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Pinger is anything with a Ping, typically a database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck probes a Pinger.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// GoroutineCountCheck flags a goroutine leak once the count passes the
// threshold.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if count := runtime.NumGoroutine(); count > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", count, threshold)
		}
		return nil
	}
}

// StateCheck probes a component that reports a state string, failing unless
// the state matches want. Used for the chat gateway session.
func StateCheck(want string, current func() string) CheckFunc {
	return func(_ context.Context) error {
		if got := current(); got != want {
			return errors.Errorf("state is %s, want %s", got, want)
		}
		return nil
	}
}
