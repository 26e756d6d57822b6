package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/krukov/levin/pkg/component"
	"github.com/krukov/levin/pkg/message"
)

// OnError produces the response served for an uncaught handler error.
type OnError func(req *message.Request, err error) *message.Response

// DefaultOnError renders a plain 500 carrying the error and a stack trace,
// matching the teacher's "catch-all, log loudly" posture for unexpected
// failures.
func DefaultOnError(req *message.Request, err error) *message.Response {
	body := fmt.Sprintf("%v\n%s", err, debug.Stack())
	return message.NewResponse(500, []byte(body), nil)
}

// ErrorHandle is the outermost safety net in the pipeline: any panic or
// error surfacing from an inner middleware or the route handler is turned
// into a Response instead of tearing down the request's goroutine.
type ErrorHandle struct {
	component.Base
	OnError OnError
}

// NewErrorHandle builds an ErrorHandle component; a nil onError uses
// DefaultOnError.
func NewErrorHandle(onError OnError) *ErrorHandle {
	if onError == nil {
		onError = DefaultOnError
	}
	return &ErrorHandle{Base: component.Base{ComponentName: "error_handle"}, OnError: onError}
}

func (e *ErrorHandle) Middleware() component.Middleware {
	return func(ctx context.Context, req *message.Request, next component.Handler) (resp *message.Response, err error) {
		defer func() {
			if r := recover(); r != nil {
				resp = e.OnError(req, fmt.Errorf("panic: %v", r))
				err = nil
			}
		}()
		resp, err = next(ctx, req)
		if err != nil {
			return e.OnError(req, err), nil
		}
		return resp, nil
	}
}
