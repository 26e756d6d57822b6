package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/krukov/levin/pkg/component"
	"github.com/krukov/levin/pkg/message"
)

// DefaultEncoding is used when a request carries no charset parameter.
const DefaultEncoding = "iso-8859-1"

var jsonContentType = []byte("application/json")

// PatchRequest installs lazy scope producers for path, query_params,
// content_type, encoding and json, each computed at most once per request
// (spec §4.1.4 "PatchRequest").
type PatchRequest struct {
	component.Base
}

func NewPatchRequest() *PatchRequest {
	return &PatchRequest{Base: component.Base{ComponentName: "patch_request"}}
}

func (p *PatchRequest) Middleware() component.Middleware {
	return func(ctx context.Context, req *message.Request, next component.Handler) (*message.Response, error) {
		req.Scope().SetLazy("path", p.path, false)
		req.Scope().SetLazy("query_params", p.queryParams, false)
		req.Scope().SetLazy("content_type", p.contentType, false)
		req.Scope().SetLazy("encoding", p.encoding, false)
		req.Scope().SetLazy("json", p.json, false)
		return next(ctx, req)
	}
}

func splitURL(req *message.Request) (*url.URL, bool) {
	raw := req.RawPath
	if !bytes.Contains(raw, []byte("?")) {
		return nil, false
	}
	u, err := url.Parse(string(raw))
	if err != nil {
		return nil, false
	}
	return u, true
}

func (p *PatchRequest) path(req *message.Request) any {
	if u, ok := splitURL(req); ok {
		return []byte(u.Path)
	}
	return req.RawPath
}

func (p *PatchRequest) queryParams(req *message.Request) any {
	if u, ok := splitURL(req); ok {
		return u.Query()
	}
	return url.Values{}
}

func (p *PatchRequest) contentType(req *message.Request) any {
	ct, ok := req.Headers.Get("content-type")
	if !ok {
		return nil
	}
	if i := bytes.IndexByte([]byte(ct), ';'); i >= 0 {
		return ct[:i]
	}
	return ct
}

// encoding resolves the charset parameter of Content-Type via
// golang.org/x/text's IANA name table, falling back to DefaultEncoding when
// absent or unrecognized, the same fallback the Python source used for any
// unparsed charset.
func (p *PatchRequest) encoding(req *message.Request) any {
	ct, ok := req.Headers.Get("content-type")
	if !ok || !bytes.Contains([]byte(ct), []byte(";")) {
		return DefaultEncoding
	}
	parts := bytes.Split([]byte(ct), []byte(";"))
	for _, part := range parts[1:] {
		kv := bytes.SplitN(bytes.TrimSpace(part), []byte("="), 2)
		if len(kv) != 2 {
			continue
		}
		if !bytes.EqualFold(bytes.TrimSpace(kv[0]), []byte("charset")) {
			continue
		}
		name := string(bytes.ToLower(bytes.TrimSpace(kv[1])))
		if _, err := htmlindex.Get(name); err != nil {
			return DefaultEncoding
		}
		return name
	}
	return DefaultEncoding
}

func (p *PatchRequest) json(req *message.Request) any {
	ct, _ := req.Get("content_type").(string)
	if ct != string(jsonContentType) {
		return nil
	}
	var v any
	if err := json.Unmarshal(req.Body, &v); err != nil {
		return nil
	}
	return v
}
