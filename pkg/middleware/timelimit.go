package middleware

import (
	"context"
	"time"

	"github.com/krukov/levin/pkg/component"
	"github.com/krukov/levin/pkg/message"
)

// TimeLimit bounds how long the rest of the pipeline may run for a single
// request. It runs call_next in its own goroutine and races it against a
// timer, the Go equivalent of the teacher's asyncio task-plus-cancel
// pattern: cancel the context so downstream code observes ctx.Done(), then
// return a deterministic 500 rather than waiting on a handler that may
// never notice cancellation.
type TimeLimit struct {
	component.Base
	Timeout time.Duration
}

// NewTimeLimit builds a TimeLimit; timeout<=0 uses a 10s default, the same
// default the source component used.
func NewTimeLimit(timeout time.Duration) *TimeLimit {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TimeLimit{Base: component.Base{ComponentName: "handler_timeout"}, Timeout: timeout}
}

type timeLimitResult struct {
	resp *message.Response
	err  error
}

func (t *TimeLimit) Middleware() component.Middleware {
	return func(ctx context.Context, req *message.Request, next component.Handler) (*message.Response, error) {
		ctx, cancel := context.WithTimeout(ctx, t.Timeout)
		defer cancel()

		done := make(chan timeLimitResult, 1)
		go func() {
			resp, err := next(ctx, req)
			done <- timeLimitResult{resp, err}
		}()

		select {
		case r := <-done:
			return r.resp, r.err
		case <-ctx.Done():
			return message.NewResponse(500, []byte("Timeout"), nil), nil
		}
	}
}
