package runtime

import (
	"context"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// Handler performs one already-decoded request under a bounded context and
// returns its result or an error to be surfaced to the caller.
type Handler func(ctx context.Context) (any, error)

// Middleware enforces a Controller's request-concurrency and
// operation-timeout guardrails around every inbound request the
// listen-stdio loop dispatches.
type Middleware struct {
	ctrl *Controller
}

// NewMiddleware constructs a Middleware bound to ctrl.
func NewMiddleware(ctrl *Controller) *Middleware {
	return &Middleware{ctrl: ctrl}
}

// Wrap acquires a request slot (bounded by AcquireRequestTimeout when set),
// applies OperationTimeout to the handler's execution, and guarantees slot
// release on every exit path.
func (m *Middleware) Wrap(ctx context.Context, h Handler) (any, error) {
	acquireCtx := ctx
	if m.ctrl.limits.AcquireRequestTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, m.ctrl.limits.AcquireRequestTimeout)
		defer cancel()
	}

	if err := m.ctrl.AcquireRequest(acquireCtx); err != nil {
		return nil, mcperr.New(mcperr.BusyResource,
			"concurrent request limit reached (max=%d)", m.ctrl.limits.MaxConcurrentRequests)
	}
	defer m.ctrl.ReleaseRequest()

	callCtx := ctx
	cancel := func() {}
	if m.ctrl.limits.OperationTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, m.ctrl.limits.OperationTimeout)
	}
	defer cancel()

	res, err := h(callCtx)
	if err == context.DeadlineExceeded || (callCtx.Err() == context.DeadlineExceeded && err == nil && res == nil) {
		return nil, mcperr.New(mcperr.Timeout, "operation exceeded its configured time limit")
	}
	return res, err
}
