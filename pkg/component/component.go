// Package component defines the Component lifecycle and the middleware
// chaining contract used to build an Application's request pipeline
// (spec §4.1.3, §4.1.4).
package component

import (
	"context"

	"github.com/krukov/levin/pkg/message"
	"github.com/krukov/levin/pkg/perrors"
)

// Handler processes a Request and produces a Response. A handler at the
// end of the chain is the matched route target; every other link is a
// middleware's call_next.
type Handler func(ctx context.Context, req *message.Request) (*message.Response, error)

// Middleware wraps a Handler to form the next link in the onion pipeline.
// next is the handler closer to the route target.
type Middleware func(ctx context.Context, req *message.Request, next Handler) (*message.Response, error)

// ConfigField describes one configurable knob a Component exposes, used by
// Application.Configure to validate a config map before applying it.
type ConfigField struct {
	Name    string
	Default any
}

// Component is a named, independently configurable, lifecycle-managed unit
// that may contribute a Middleware to the pipeline. The zero value of an
// embedding struct is a usable no-op Component: Init/Start/Stop do nothing,
// Middleware is nil, Configurable returns nil.
type Component interface {
	// Name identifies the component for Application.GetComponent and for
	// Configure's config-map keys.
	Name() string

	// Init is called once, synchronously, when the component is added to
	// an Application, before Start.
	Init(app any)

	// Start runs component setup. Returning perrors.DisableComponent asks
	// the Application to prune this component from the active list
	// without surfacing an error to the caller.
	Start(ctx context.Context, app any) error

	// Stop runs component teardown during Application.Stop.
	Stop(ctx context.Context, app any) error

	// Middleware returns this component's pipeline contribution, or nil
	// if it contributes none (e.g. a component that only does Init/Start
	// work, like a metrics registrar).
	Middleware() Middleware

	// Configurable lists the fields Configure is allowed to set.
	Configurable() []ConfigField
}

// Base is an embeddable no-op Component; concrete components embed it and
// override only the methods they need, matching the teacher's pattern of
// small structs with mostly-default behavior.
type Base struct {
	ComponentName string
}

func (b *Base) Name() string {
	if b.ComponentName == "" {
		return "component"
	}
	return b.ComponentName
}

func (b *Base) Init(app any)                                   {}
func (b *Base) Start(ctx context.Context, app any) error        { return nil }
func (b *Base) Stop(ctx context.Context, app any) error         { return nil }
func (b *Base) Middleware() Middleware                          { return nil }
func (b *Base) Configurable() []ConfigField                     { return nil }

// FromMiddleware adapts a bare Middleware function into a Component with no
// lifecycle behavior, mirroring the teacher's MiddlewareComponent /
// create_component_from helper for middleware that needs no Init/Start/Stop.
func FromMiddleware(name string, mw Middleware) Component {
	return &middlewareComponent{name: name, mw: mw}
}

type middlewareComponent struct {
	Base
	name string
	mw   Middleware
}

func (c *middlewareComponent) Name() string          { return c.name }
func (c *middlewareComponent) Middleware() Middleware { return c.mw }

// Disable is the sentinel error a Component.Start returns to self-prune.
// Alias of perrors.DisableComponent kept local so callers need not import
// perrors just to signal this.
var Disable = perrors.DisableComponent
