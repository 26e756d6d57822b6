package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/krukov/levin/pkg/component"
	"github.com/krukov/levin/pkg/message"
)

const pushesScopeKey = "_pushes"

// Push accumulates server-push hints for an HTTP/2 response: handlers call
// the "add_push" scope producer installed here, and a route's meta
// `push=<template>` entry is rendered against the scope and appended too,
// after the handler returns (spec §4.1.4 "Push").
type Push struct {
	component.Base
}

func NewPush() *Push {
	return &Push{Base: component.Base{ComponentName: "push"}}
}

func (p *Push) Middleware() component.Middleware {
	return func(ctx context.Context, req *message.Request, next component.Handler) (*message.Response, error) {
		req.Scope().SetLazy("add_push", func(r *message.Request) any {
			return func(path, method []byte) {
				addPush(r, path, method)
			}
		}, false)

		resp, err := next(ctx, req)
		if err != nil || resp == nil {
			return resp, err
		}

		if v, ok := req.Scope().GetOk(req, pushesScopeKey); ok {
			if pushes, ok := v.([]message.Push); ok {
				resp.Pushes = append(resp.Pushes, pushes...)
			}
		}

		if tmpl, ok := req.Scope().GetOk(req, "push"); ok {
			if tmplStr, ok := tmpl.(string); ok && tmplStr != "" {
				resp.Pushes = append(resp.Pushes, message.NewPush([]byte(renderTemplate(tmplStr, req)), nil))
			}
		}

		return resp, nil
	}
}

func addPush(req *message.Request, path, method []byte) {
	v, _ := req.Scope().GetOk(req, pushesScopeKey)
	pushes, _ := v.([]message.Push)
	pushes = append(pushes, message.NewPush(path, method))
	req.Scope().Set(pushesScopeKey, pushes, true)
}

// renderTemplate substitutes "{name}" placeholders in tmpl with the string
// form of the matching scope entry, mirroring the source's
// `request.push.format(**request._scope)` call.
func renderTemplate(tmpl string, req *message.Request) string {
	var b strings.Builder
	i := 0
	for i < len(tmpl) {
		if tmpl[i] == '{' {
			if end := strings.IndexByte(tmpl[i:], '}'); end >= 0 {
				name := tmpl[i+1 : i+end]
				if v, ok := req.Scope().GetOk(req, name); ok {
					b.WriteString(toStringValue(v))
					i += end + 1
					continue
				}
			}
		}
		b.WriteByte(tmpl[i])
		i++
	}
	return b.String()
}

func toStringValue(v any) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case string:
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}
