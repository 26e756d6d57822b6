package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/krukov/levin/pkg/component"
	"github.com/krukov/levin/pkg/message"
)

func statusOf(req *message.Request, fallback int) int {
	if v, ok := req.Get("status").(int); ok {
		return v
	}
	return fallback
}

// JsonFormat turns a Response carrying a map/slice Raw value into a JSON
// body with an application/json content-type. Passes through any Response
// whose Raw is nil unchanged.
type JsonFormat struct {
	component.Base
}

func NewJsonFormat() *JsonFormat {
	return &JsonFormat{Base: component.Base{ComponentName: "json_format"}}
}

func (j *JsonFormat) Middleware() component.Middleware {
	return func(ctx context.Context, req *message.Request, next component.Handler) (*message.Response, error) {
		resp, err := next(ctx, req)
		if err != nil || resp == nil || resp.Raw == nil {
			return resp, err
		}
		switch resp.Raw.(type) {
		case map[string]any, []any:
			data, jerr := json.Marshal(resp.Raw)
			if jerr != nil {
				return nil, jerr
			}
			return &message.Response{
				Status:  statusOf(req, 200),
				Body:    data,
				Headers: message.Headers{"content-type": "application/json"},
				Pushes:  resp.Pushes,
			}, nil
		}
		return resp, nil
	}
}

// TextFormat turns a Response carrying a string Raw value into a text/html
// body.
type TextFormat struct {
	component.Base
}

func NewTextFormat() *TextFormat {
	return &TextFormat{Base: component.Base{ComponentName: "text_format"}}
}

func (t *TextFormat) Middleware() component.Middleware {
	return func(ctx context.Context, req *message.Request, next component.Handler) (*message.Response, error) {
		resp, err := next(ctx, req)
		if err != nil || resp == nil || resp.Raw == nil {
			return resp, err
		}
		var body []byte
		switch v := resp.Raw.(type) {
		case string:
			body = []byte(v)
		case []byte:
			body = v
		default:
			return resp, nil
		}
		return &message.Response{
			Status:  statusOf(req, 200),
			Body:    body,
			Headers: message.Headers{"content-type": "text/html"},
			Pushes:  resp.Pushes,
		}, nil
	}
}

// TemplateFormat renders a message.Template sentinel, or (when the matched
// route's meta sets "template") a map[string]any Raw value, against
// templates loaded from TemplatesDirs at Start.
type TemplateFormat struct {
	component.Base
	TemplatesDirs    []string
	TemplatesFormats []string

	templates map[string]*template.Template
}

// NewTemplateFormat builds a TemplateFormat; empty dirs/formats default to
// ["./templates"] and [".html"].
func NewTemplateFormat(dirs, formats []string) *TemplateFormat {
	if len(dirs) == 0 {
		dirs = []string{"./templates"}
	}
	if len(formats) == 0 {
		formats = []string{".html"}
	}
	return &TemplateFormat{
		Base:             component.Base{ComponentName: "templates"},
		TemplatesDirs:    dirs,
		TemplatesFormats: formats,
		templates:        map[string]*template.Template{},
	}
}

func (t *TemplateFormat) Start(ctx context.Context, app any) error {
	t.templates = map[string]*template.Template{}
	for _, dir := range t.TemplatesDirs {
		_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil
			}
			for _, ext := range t.TemplatesFormats {
				if strings.HasSuffix(path, ext) {
					name := filepath.Base(path)
					tpl, perr := template.ParseFiles(path)
					if perr != nil {
						return nil
					}
					t.templates[name] = tpl
				}
			}
			return nil
		})
	}
	return nil
}

// Render executes the named template against a copy of ctx. The request
// scope is not merged into the template data; req is not read.
func (t *TemplateFormat) Render(name string, ctx map[string]any, req *message.Request) ([]byte, error) {
	tpl, ok := t.templates[name]
	if !ok {
		return nil, fmt.Errorf("wrong template name %q", name)
	}
	merged := map[string]any{}
	for k, v := range ctx {
		merged[k] = v
	}
	var b strings.Builder
	if err := tpl.Execute(&b, merged); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func (t *TemplateFormat) Middleware() component.Middleware {
	return func(ctx context.Context, req *message.Request, next component.Handler) (*message.Response, error) {
		templateName, _ := req.Get("template").(string)

		resp, err := next(ctx, req)
		if err != nil || resp == nil || resp.Raw == nil {
			return resp, err
		}

		if tmpl, ok := resp.Raw.(message.Template); ok {
			body, rerr := t.Render(tmpl.Path, tmpl.Context, req)
			if rerr != nil {
				return nil, rerr
			}
			return &message.Response{
				Status:  statusOf(req, 200),
				Body:    body,
				Headers: message.Headers{"content-type": "text/html"},
				Pushes:  resp.Pushes,
			}, nil
		}

		if templateName != "" {
			if asMap, ok := resp.Raw.(map[string]any); ok {
				body, rerr := t.Render(templateName, asMap, req)
				if rerr != nil {
					return nil, rerr
				}
				return &message.Response{
					Status:  statusOf(req, 200),
					Body:    body,
					Headers: message.Headers{"content-type": "text/html"},
					Pushes:  resp.Pushes,
				}, nil
			}
		}

		return resp, nil
	}
}
