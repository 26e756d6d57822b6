package middleware

import (
	"context"

	"github.com/krukov/levin/pkg/component"
	"github.com/krukov/levin/pkg/message"
)

// InjectKey names a scope entry a handler wants passed by value instead of
// read back out of the request, the typed-adapter replacement for the
// source's reflection-based Inject()/InjectFromScope (the source inspects
// a handler's parameter annotations at call time; Go has no equivalent
// runtime introspection over arbitrary function signatures, so injection
// here is an explicit declared list rather than implicit reflection).
type InjectKey string

// Injected carries the scope values a handler asked for, resolved before
// the handler runs. A handler that wants injection declares the keys it
// needs in its route meta's "inject" entry; see WithInjected for how a
// handler reads them back.
type Injected map[string]any

type injectedCtxKey struct{}

// WithInjected retrieves the values InjectFromScope resolved for this
// request, or nil if none were requested.
func WithInjected(ctx context.Context) Injected {
	v, _ := ctx.Value(injectedCtxKey{}).(Injected)
	return v
}

// InjectFromScope resolves the scope keys named in a matched route's
// "inject" meta entry ([]string) and makes them available to the handler
// via WithInjected(ctx), mirroring the source's per-handler dependency
// injection without relying on reflection over handler signatures.
type InjectFromScope struct {
	component.Base
}

func NewInjectFromScope() *InjectFromScope {
	return &InjectFromScope{Base: component.Base{ComponentName: "injector"}}
}

func (i *InjectFromScope) Middleware() component.Middleware {
	return func(ctx context.Context, req *message.Request, next component.Handler) (*message.Response, error) {
		keys, _ := req.Get("inject").([]string)
		if len(keys) == 0 {
			return next(ctx, req)
		}
		values := make(Injected, len(keys))
		for _, k := range keys {
			values[k] = req.Get(k)
		}
		return next(context.WithValue(ctx, injectedCtxKey{}, values), req)
	}
}
