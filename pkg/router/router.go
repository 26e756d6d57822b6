// Package router implements the equality/regex route matcher described in
// spec §4.1.2: first-match-wins, trailing-slash normalized on both the
// registered pattern and the incoming path, with named-route URL
// rendering for reverse lookups.
package router

import (
	"bytes"
	"context"
	"fmt"
	"regexp"

	"github.com/krukov/levin/pkg/component"
	"github.com/krukov/levin/pkg/message"
)

var (
	pathArg     = regexp.MustCompile(`\{([-_a-zA-Z0-9]+)\}`)
	backPathArg = regexp.MustCompile(`\(\?P<([-_a-zA-Z0-9]+)>[^)]*\)`)
)

// Handler is the route target invoked once a condition matches.
type Handler func(req *message.Request) (*message.Response, error)

type condition interface {
	match(method string, path []byte) (map[string]any, bool)
}

// equalsCondition matches a literal path, normalizing a single trailing
// slash on both sides before comparing.
type equalsCondition struct {
	method  string
	pattern []byte
	meta    map[string]any
}

func slashAppend(v []byte) []byte {
	if len(v) > 0 && v[len(v)-1] == '/' {
		return v
	}
	return append(append([]byte{}, v...), '/')
}

func (c *equalsCondition) match(method string, path []byte) (map[string]any, bool) {
	if c.method != method {
		return nil, false
	}
	if !bytes.Equal(slashAppend(c.pattern), slashAppend(path)) {
		return nil, false
	}
	result := map[string]any{"pattern": string(c.pattern)}
	for k, v := range c.meta {
		result[k] = v
	}
	return result, true
}

// regexCondition matches a `{name}` path template compiled against
// `[-_a-zA-Z0-9]+` captures, with an optional trailing slash.
type regexCondition struct {
	method  string
	pattern string // canonical {name} template, for resolve()'s "pattern" meta
	re      *regexp.Regexp
	names   []string
	meta    map[string]any
}

func patternToRegexp(pattern []byte) *regexp.Regexp {
	translated := pathArg.ReplaceAll(pattern, []byte(`(?P<$1>[-_a-zA-Z0-9]+)`))
	return regexp.MustCompile("^" + string(translated) + "$")
}

func newRegexCondition(method string, pattern []byte, meta map[string]any) *regexCondition {
	re := patternToRegexp(slashAppendOptional(pattern))
	return &regexCondition{
		method:  method,
		pattern: string(pattern),
		re:      re,
		names:   re.SubexpNames(),
		meta:    meta,
	}
}

// slashAppendOptional appends an optional trailing slash group, matching
// the Python source's `value + b"/?"` so both "/x" and "/x/" match.
func slashAppendOptional(v []byte) []byte {
	base := slashAppend(v)
	return append(base[:len(base)-1], []byte("/?")...)
}

func (c *regexCondition) match(method string, path []byte) (map[string]any, bool) {
	if c.method != method {
		return nil, false
	}
	m := c.re.FindSubmatch(path)
	if m == nil {
		return nil, false
	}
	result := map[string]any{"pattern": c.pattern}
	for i, name := range c.names {
		if name == "" || i >= len(m) {
			continue
		}
		result[name] = m[i]
	}
	for k, v := range c.meta {
		result[k] = v
	}
	return result, true
}

type route struct {
	cond condition
	name string
	h    Handler
}

// Router is a first-match-wins HTTP route table. Build one with New: the
// zero value has no not-found handler and no name table, so it cannot
// register named routes or resolve an unmatched path.
type Router struct {
	component.Base
	routes   []route
	names    map[string]string // route name -> raw pattern template
	notFound Handler
}

// New builds a Router using notFound as the fallback handler when Resolve
// finds nothing; a nil notFound falls back to a plain 404 text handler.
func New(notFound Handler) *Router {
	if notFound == nil {
		notFound = defaultNotFound
	}
	return &Router{
		Base:     component.Base{ComponentName: "route"},
		notFound: notFound,
		names:    map[string]string{},
	}
}

func defaultNotFound(req *message.Request) (*message.Response, error) {
	return message.NewResponse(404, []byte("Not found"), nil), nil
}

// Add registers a route. A pattern containing `{name}` captures triggers
// regex matching; otherwise it is an equality match. meta is merged into the request scope on a match (e.g. a
// `push=<template>` entry consumed by the push middleware), and is also
// where an optional "name" key enables URL() reverse lookups.
func (r *Router) Add(method, pattern string, h Handler, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	p := []byte(pattern)
	var c condition
	if bytes.Contains(p, []byte("{")) {
		rc := newRegexCondition(method, p, meta)
		c = rc
	} else {
		c = &equalsCondition{method: method, pattern: p, meta: meta}
	}
	name, _ := meta["name"].(string)
	if name != "" {
		r.names[name] = pattern
	}
	r.routes = append(r.routes, route{cond: c, name: name, h: h})
}

// Get, Post, Put, Delete are convenience wrappers around Add.
func (r *Router) Get(pattern string, h Handler, meta map[string]any)    { r.Add("GET", pattern, h, meta) }
func (r *Router) Post(pattern string, h Handler, meta map[string]any)   { r.Add("POST", pattern, h, meta) }
func (r *Router) Put(pattern string, h Handler, meta map[string]any)    { r.Add("PUT", pattern, h, meta) }
func (r *Router) Delete(pattern string, h Handler, meta map[string]any) { r.Add("DELETE", pattern, h, meta) }

// Resolve returns the first matching route's handler plus its captured
// scope entries, or the not-found handler and an empty map.
func (r *Router) Resolve(method string, path []byte) (Handler, map[string]any) {
	for _, rt := range r.routes {
		if result, ok := rt.cond.match(method, path); ok {
			return rt.h, result
		}
	}
	return r.notFound, map[string]any{}
}

// URL renders a named route's template with vars, e.g. URL("user", map[string]any{"id": "7"})
// for a route registered with pattern "/user/{id}" and meta["name"]=="user".
// Returns an error if name is unknown or a required var is missing.
func (r *Router) URL(name string, vars map[string]any) (string, error) {
	pattern, ok := r.names[name]
	if !ok {
		return "", fmt.Errorf("router: unknown route name %q", name)
	}
	out := pathArg.ReplaceAllStringFunc(pattern, func(m string) string {
		key := pathArg.FindStringSubmatch(m)[1]
		if v, ok := vars[key]; ok {
			return fmt.Sprintf("%v", v)
		}
		return m
	})
	if pathArg.MatchString(out) {
		return "", fmt.Errorf("router: missing variable for route %q", name)
	}
	return out, nil
}

// Handle resolves the route for req, merges its captured scope entries,
// and invokes the matched handler. It is the terminal component.Handler an
// Application wraps with its middleware chain (spec §4.1.3: "dispatches
// requests ... into a router-matched handler"), not a middleware itself —
// there is no "next" past route resolution.
func (r *Router) Handle(ctx context.Context, req *message.Request) (*message.Response, error) {
	h, meta := r.Resolve(string(req.Method), req.Path())
	req.Scope().Merge(meta, false)
	return h(req)
}
