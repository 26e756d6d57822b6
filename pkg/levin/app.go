// Package levin implements the Application (spec §4.6): owns components,
// compiles their middlewares into one pipeline, and exposes the compiled
// Handler a Server hands off to each Connection.
package levin

import (
	"context"
	"fmt"

	"github.com/krukov/levin/pkg/component"
	"github.com/krukov/levin/pkg/message"
	"github.com/krukov/levin/pkg/perrors"
)

func defaultHandler(ctx context.Context, req *message.Request) (*message.Response, error) {
	return message.NewResponse(200, []byte("<html><head></head><body>LEVIN</body></html>"), nil), nil
}

// Application owns an ordered set of Components, compiles their
// middlewares into a single pipeline around a terminal handler, and runs
// component lifecycle hooks.
type Application struct {
	components []component.Component
	terminal   component.Handler
	handler    component.Handler
	started    bool
	stopped    bool
}

// New builds an Application around terminal — typically a Router's Handle
// method. A nil terminal uses a placeholder 200 response, matching the
// source's default_handler.
func New(terminal component.Handler) *Application {
	if terminal == nil {
		terminal = defaultHandler
	}
	return &Application{terminal: terminal}
}

// Add registers a component, calling its Init immediately (spec §4.6
// "registers ... wraps a bare middleware function in a synthesized
// component"). position, if non-negative, inserts at that index instead
// of appending.
func (a *Application) Add(c component.Component, position int) {
	if position < 0 || position > len(a.components) {
		a.components = append(a.components, c)
	} else {
		a.components = append(a.components[:position], append([]component.Component{c}, a.components[position:]...)...)
	}
	c.Init(a)
}

// AddMiddleware wraps a bare Middleware in a no-lifecycle Component and
// registers it, the Go analogue of passing a bare callable to add().
func (a *Application) AddMiddleware(name string, mw component.Middleware) {
	a.Add(component.FromMiddleware(name, mw), -1)
}

// Start runs every component's Start hook in registration order, pruning
// any that return perrors.DisableComponent, then compiles the pipeline.
// Calling Start twice is a no-op.
func (a *Application) Start(ctx context.Context) error {
	if a.started {
		return nil
	}
	a.started = true

	active := make([]component.Component, 0, len(a.components))
	for _, c := range a.components {
		if err := c.Start(ctx, a); err != nil {
			if perrors.IsDisableComponent(err) {
				continue
			}
			return fmt.Errorf("starting component %q: %w", c.Name(), err)
		}
		active = append(active, c)
	}
	a.components = active

	a.compile()
	return nil
}

// compile composes the active components' middlewares right-to-left
// around the terminal handler (spec §4.4): the first-registered component
// is outermost.
func (a *Application) compile() {
	next := a.terminal
	for i := len(a.components) - 1; i >= 0; i-- {
		mw := a.components[i].Middleware()
		if mw == nil {
			continue
		}
		wrapped := next
		m := mw
		next = func(ctx context.Context, req *message.Request) (*message.Response, error) {
			return m(ctx, req, wrapped)
		}
	}
	a.handler = next
}

// Stop runs every active component's Stop hook in registration order.
// Calling Stop before Start, or twice, is a no-op.
func (a *Application) Stop(ctx context.Context) error {
	if !a.started || a.stopped {
		return nil
	}
	a.stopped = true
	for _, c := range a.components {
		if err := c.Stop(ctx, a); err != nil {
			return fmt.Errorf("stopping component %q: %w", c.Name(), err)
		}
	}
	return nil
}

// Handle runs the compiled pipeline for req. Start must have been called
// first; Handle panics if it has not, since an uncompiled Application has
// no defined behavior.
func (a *Application) Handle(ctx context.Context, req *message.Request) (*message.Response, error) {
	if a.handler == nil {
		panic("levin: Application.Handle called before Start")
	}
	return a.handler(ctx, req)
}

// GetComponent returns the named component, or nil if none is registered
// under that name.
func (a *Application) GetComponent(name string) component.Component {
	for _, c := range a.components {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// Components returns a snapshot of the currently registered components.
func (a *Application) Components() []component.Component {
	out := make([]component.Component, len(a.components))
	copy(out, a.components)
	return out
}

// FieldSetter is implemented by components whose Configurable fields can
// be set by name; Configure uses it to validate and apply a config map.
type FieldSetter interface {
	SetField(name string, value any) error
}

// Configure applies per-component config maps, keyed by component name,
// validating each field against the component's Configurable() list
// before applying it via FieldSetter (spec §4.6 "configure").
func (a *Application) Configure(config map[string]map[string]any) error {
	for name, fields := range config {
		c := a.GetComponent(name)
		if c == nil {
			return fmt.Errorf("levin: unknown component %q", name)
		}
		setter, ok := c.(FieldSetter)
		if !ok {
			return fmt.Errorf("levin: component %q does not support configuration", name)
		}
		allowed := map[string]bool{}
		for _, f := range c.Configurable() {
			allowed[f.Name] = true
		}
		for field, value := range fields {
			if !allowed[field] {
				return fmt.Errorf("levin: component %q has no configurable field %q", name, field)
			}
			if err := setter.SetField(field, value); err != nil {
				return fmt.Errorf("levin: component %q field %q: %w", name, field, err)
			}
		}
	}
	return nil
}
