// Package message defines the immutable-shape Request/Response/Push records
// that flow through the levin pipeline, plus the per-request Scope map
// described in spec §3.
package message

import "strings"

// Headers is a case-insensitive header mapping: names are stored lowercase,
// multi-value headers are joined by "; " at construction time (spec §3,
// §4.1.1). Build one with NewHeaders; the zero value is usable but empty.
type Headers map[string]string

// NewHeaders builds a Headers map from raw (name, value) pairs, lower-casing
// names and joining repeated names with "; " as the HTTP/1 parser does.
func NewHeaders(pairs [][2]string) Headers {
	grouped := make(map[string][]string, len(pairs))
	order := make([]string, 0, len(pairs))
	for _, p := range pairs {
		name := strings.ToLower(strings.TrimSpace(p[0]))
		if _, ok := grouped[name]; !ok {
			order = append(order, name)
		}
		grouped[name] = append(grouped[name], p[1])
	}
	h := make(Headers, len(order))
	for _, name := range order {
		h[name] = strings.Join(grouped[name], "; ")
	}
	return h
}

// Get looks up a header by name, case-insensitively.
func (h Headers) Get(name string) (string, bool) {
	v, ok := h[strings.ToLower(name)]
	return v, ok
}

// Set stores a header value under its lowercased name.
func (h Headers) Set(name, value string) {
	h[strings.ToLower(name)] = value
}

// Request is the message record a Parser emits and the pipeline carries.
// NewRequest does not check that method and rawPath are non-empty; the H1
// and H2 parsers always supply both. Headers are indexed by lowercase name.
// The Scope is owned by this Request for the lifetime of its task — see
// spec §5 "Shared-resource policy".
type Request struct {
	RawPath  []byte
	Method   []byte
	Body     []byte
	Headers  Headers
	Stream   int
	Protocol []byte
	Scheme   string

	scope *Scope
}

// NewRequest constructs a Request from parser-supplied fields. method and
// path are upper/verbatim-cased bytes as read off the wire; callers that
// need uppercase method comparisons should upper-case before constructing.
func NewRequest(method, path, body []byte, headers Headers, protocol []byte, stream int, scheme string) *Request {
	if scheme == "" {
		scheme = "http"
	}
	return &Request{
		RawPath:  path,
		Method:   method,
		Body:     body,
		Headers:  headers,
		Stream:   stream,
		Protocol: protocol,
		Scheme:   scheme,
		scope:    newScope(),
	}
}

// Scope returns the request's mutable scope map.
func (r *Request) Scope() *Scope { return r.scope }

// Get is shorthand for r.Scope().Get(r, key).
func (r *Request) Get(key string) any { return r.scope.Get(r, key) }

// Set is shorthand for r.Scope().Set(key, value, false).
func (r *Request) Set(key string, value any) { r.scope.Set(key, value, false) }

// SetRewrite is shorthand for r.Scope().Set(key, value, true).
func (r *Request) SetRewrite(key string, value any) { r.scope.Set(key, value, true) }

// Path returns the scope-resolved path if PatchRequest installed one
// (stripped of any query string), falling back to RawPath otherwise.
func (r *Request) Path() []byte {
	if v, ok := r.scope.GetOk(r, "path"); ok {
		if b, ok := v.([]byte); ok {
			return b
		}
	}
	return r.RawPath
}

// Push is a server-push hint: a second request the handler wants the
// server to generate and push on the same HTTP/2 connection.
type Push struct {
	Path   []byte
	Method []byte
}

// NewPush builds a Push, defaulting Method to GET like the Python source.
func NewPush(path []byte, method []byte) Push {
	if len(method) == 0 {
		method = []byte("GET")
	}
	return Push{Path: path, Method: method}
}

// Response is the message record a handler/middleware chain produces and a
// Parser serializes. Push is true when this Response is itself being sent
// as a pushed resource rather than the primary reply.
//
// Raw carries a handler's un-formatted return value — a map/slice, a
// string, or a Template — for the formatter middlewares to turn into Body
// plus a content-type header (spec §4.5 "Formatters"). A Response with
// Raw set and Body nil has not been formatted yet. The formatters resolve
// map[string]any, []any, string, []byte and Template values; a Raw of any
// other type passes through them unchanged and a Parser then serializes
// the Response with its nil Body.
type Response struct {
	Status  int
	Body    []byte
	Headers Headers
	Pushes  []Push
	Push    bool
	Raw     any
}

// NewResponse builds a Response with non-nil Headers.
func NewResponse(status int, body []byte, headers Headers) *Response {
	if headers == nil {
		headers = Headers{}
	}
	return &Response{Status: status, Body: body, Headers: headers}
}

// NewRaw builds a Response wrapping an un-formatted handler return value —
// a map/slice for JSON, a string for text, or a Template — to be resolved
// by the formatter middlewares. Status defaults to 200 unless overridden
// by the "status" scope key, matching the source's `request.get("status")`.
func NewRaw(value any) *Response {
	return &Response{Status: 200, Raw: value}
}

// Template names a template file plus the context to render it with; a
// handler returns message.NewRaw(Template{...}) to ask TemplateFormat to
// render it (spec §4.5).
type Template struct {
	Path    string
	Context map[string]any
}
