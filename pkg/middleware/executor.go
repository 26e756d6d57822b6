package middleware

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/krukov/levin/pkg/component"
	"github.com/krukov/levin/pkg/message"
)

// Condition decides whether a request's handler should be offloaded onto
// this executor's bounded pool.
type Condition func(req *message.Request) bool

// executor runs call_next on a semaphore-bounded goroutine pool instead of
// the caller's own goroutine. The Python source offloaded blocking
// handlers onto a ThreadPoolExecutor (SyncToAsync) or a ProcessPoolExecutor
// (RunProcess); Go has one address space and no equivalent of a process
// pool that can run an arbitrary closure, so both are modeled the same way
// here — two differently-sized bounded worker pools — differing only in
// their default width and selection Condition (see SyncToAsync/RunProcess).
type executor struct {
	component.Base
	sem       *semaphore.Weighted
	condition Condition
}

func newExecutor(name string, maxWorkers int64, cond Condition) *executor {
	return &executor{
		Base:      component.Base{ComponentName: name},
		sem:       semaphore.NewWeighted(maxWorkers),
		condition: cond,
	}
}

func (e *executor) Middleware() component.Middleware {
	return func(ctx context.Context, req *message.Request, next component.Handler) (*message.Response, error) {
		if !e.condition(req) {
			return next(ctx, req)
		}

		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer e.sem.Release(1)

		type result struct {
			resp *message.Response
			err  error
		}
		done := make(chan result, 1)
		go func() {
			resp, err := next(ctx, req)
			done <- result{resp, err}
		}()

		select {
		case r := <-done:
			return r.resp, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// SyncToAsync offloads handlers marked as blocking (scope key "sync") onto
// a wide worker pool, standing in for the source's ThreadPoolExecutor.
type SyncToAsync struct{ *executor }

// NewSyncToAsync builds a SyncToAsync executor; maxWorkers<=0 defaults to 50,
// the Python component's default thread-pool width.
func NewSyncToAsync(maxWorkers int64) *SyncToAsync {
	if maxWorkers <= 0 {
		maxWorkers = 50
	}
	return &SyncToAsync{newExecutor("sync_to_async", maxWorkers, func(req *message.Request) bool {
		v, _ := req.Get("sync").(bool)
		return v
	})}
}

// RunProcess offloads handlers marked with the "process" scope flag onto a
// narrower pool sized off GOMAXPROCS, standing in for the source's
// ProcessPoolExecutor (2*cpu_count()+1 workers).
type RunProcess struct{ *executor }

// NewRunProcess builds a RunProcess executor; maxWorkers<=0 derives a
// default from runtime.GOMAXPROCS(0), mirroring 2*cpu_count()+1.
func NewRunProcess(maxWorkers int64) *RunProcess {
	if maxWorkers <= 0 {
		maxWorkers = int64(2*runtime.GOMAXPROCS(0) + 1)
	}
	return &RunProcess{newExecutor("process_executor", maxWorkers, func(req *message.Request) bool {
		v, _ := req.Get("process").(bool)
		return v
	})}
}
