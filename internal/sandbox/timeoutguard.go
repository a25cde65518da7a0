package sandbox

import (
	"context"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// timeoutGuard arms a side goroutine that forcibly kills a child process
// if it has not finished within the configured duration (spec.md §5: "a
// side thread arms a one-shot channel; if the guard's cooperative 'done'
// signal is not received within timeout_ms, it flags timed_out and
// forcibly terminates the child process"). A duration of 0 disables the
// guard entirely: no goroutine is started and timedOut never reports true.
type timeoutGuard struct {
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	timedOut atomic.Bool
	armed    bool
}

// newTimeoutGuard starts the guard for cmd, derived from parent. Callers
// must call stop() once the child process has exited (normally via defer)
// so the guard goroutine is released and does not leak.
func newTimeoutGuard(parent context.Context, d time.Duration, cmd *exec.Cmd) *timeoutGuard {
	if d <= 0 {
		return &timeoutGuard{cancel: func() {}}
	}

	ctx, cancel := context.WithTimeout(parent, d)
	g := &timeoutGuard{cancel: cancel, armed: true}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		<-ctx.Done()
		if ctx.Err() != context.DeadlineExceeded {
			return
		}
		g.timedOut.Store(true)
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}()
	return g
}

// stop signals the guard goroutine to exit without killing the child (the
// done-channel equivalent: a context cancel that is not a deadline) and
// waits for it to return.
func (g *timeoutGuard) stop() {
	g.cancel()
	if g.armed {
		g.wg.Wait()
	}
}

// timedOutFlag reports whether the guard fired and killed the child.
func (g *timeoutGuard) timedOutFlag() bool {
	return g.timedOut.Load()
}
