package launcher

import (
	"context"
	"fmt"
	"time"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
)

type timeoutError struct {
	timeout time.Duration
}

func (err *timeoutError) Error() string {
	return fmt.Sprintf("timeout exceeded: %v", err.timeout)
}

// retryWithTimeout calls action until it returns true, waiting delay
// between attempts. action is called at least once, even if the timeout,
// counted from start, is already exceeded. It returns a *timeoutError on
// timeout and ctx.Err() if ctx is cancelled while waiting.
func retryWithTimeout(ctx context.Context, action func() bool, delay, timeout time.Duration, start time.Time) error {
	for !action() {
		if time.Since(start) > timeout {
			return &timeoutError{timeout}
		}
		logflags.LauncherLogger().Debugf("Retrying in %v", delay)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
