// Package h1 implements the HTTP/1.1 parser contract (spec §4.1.1): every
// complete request buffered so far is returned by a handle_request call,
// case-insensitive multi-value headers, Content-Length always set on
// serialization.
package h1

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/krukov/levin/pkg/constants"
	"github.com/krukov/levin/pkg/message"
	"github.com/krukov/levin/pkg/parser"
	"github.com/krukov/levin/pkg/perrors"
)

var _ parser.Parser = (*Parser)(nil)

// Parser is an HTTP/1.1 request/response codec whose only state is the
// not-yet-complete input buffered between HandleRequest calls; a fresh
// Parser is cheap enough to construct per Connection.
type Parser struct {
	scheme string
	buf    []byte
}

// New builds a Parser. scheme is "https" when the connection is TLS.
func New(scheme string) *Parser {
	if scheme == "" {
		scheme = "http"
	}
	return &Parser{scheme: scheme}
}

// Connect returns no initial bytes; HTTP/1.1 has no connection preface.
func (p *Parser) Connect() []byte { return nil }

// PushSupport is always false for HTTP/1.1.
func (p *Parser) PushSupport() bool { return false }

// HandleRequest ingests a chunk, returning the complete requests found in
// it (normally zero or one — pipelining surfaces more than one). Buffers
// partial requests across calls; fails with a ParseError only once enough
// of the request-line is present to know it is malformed.
func (p *Parser) HandleRequest(data []byte) ([]byte, []*message.Request, bool, error) {
	p.buf = append(p.buf, data...)

	var requests []*message.Request
	for {
		req, rest, ok, err := p.parseOne(p.buf)
		if err != nil {
			return nil, nil, false, err
		}
		if !ok {
			break
		}
		p.buf = rest
		requests = append(requests, req)
	}
	return nil, requests, false, nil
}

func (p *Parser) parseOne(buf []byte) (*message.Request, []byte, bool, error) {
	headerEnd := bytes.Index(buf, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		if len(buf) > 0 && !looksLikeHTTP(buf) {
			return nil, nil, false, perrors.NewParseError("h1.request_line", nil)
		}
		return nil, nil, false, nil
	}

	head := buf[:headerEnd+2] // keep the CRLF ending the last line
	reader := bufio.NewReader(bytes.NewReader(head))
	requestLine, err := reader.ReadString('\n')
	if err != nil {
		return nil, nil, false, perrors.NewParseError("h1.request_line", err)
	}
	parts := strings.Fields(requestLine)
	if len(parts) != 3 || !strings.Contains(parts[2], "HTTP") {
		return nil, nil, false, perrors.NewParseError("h1.request_line", nil)
	}
	method, path, protocol := parts[0], parts[1], strings.TrimSpace(parts[2])

	var pairs [][2]string
	for {
		line, rerr := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, nil, false, perrors.NewParseError("h1.header", nil)
		}
		pairs = append(pairs, [2]string{strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:])})
		if rerr != nil {
			break
		}
	}
	headers := message.NewHeaders(pairs)

	bodyStart := headerEnd + 4
	contentLength := 0
	if v, ok := headers.Get("content-length"); ok {
		contentLength, _ = strconv.Atoi(strings.TrimSpace(v))
	}
	if contentLength > constants.MaxContentLength {
		return nil, nil, false, perrors.NewParseError("h1.content_length_too_large", nil)
	}
	if len(buf)-bodyStart < contentLength {
		return nil, nil, false, nil
	}
	body := buf[bodyStart : bodyStart+contentLength]

	req := message.NewRequest([]byte(strings.ToUpper(method)), []byte(path), body, headers, []byte(protocol), 0, p.scheme)
	return req, buf[bodyStart+contentLength:], true, nil
}

func looksLikeHTTP(buf []byte) bool {
	end := len(buf)
	if end > 64 {
		end = 64
	}
	line := buf[:end]
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	} else if len(buf) < 64 {
		return true // not enough bytes yet to judge
	}
	return len(bytes.Fields(line)) <= 3
}

var statusText = http.StatusText

// HandleResponse serializes resp as a single HTTP/1.1 message, always
// setting Content-Length (spec §3 Response invariant). HTTP/1.1 has no
// flow control to wait on, so ctx is unused.
func (p *Parser) HandleResponse(_ context.Context, resp *message.Response, req *message.Request) ([][]byte, error) {
	resp.Headers.Set("content-length", strconv.Itoa(len(resp.Body)))

	var b bytes.Buffer
	reason := statusText(resp.Status)
	if reason == "" {
		reason = "Unknown"
	}
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", resp.Status, reason)
	for name, value := range resp.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", canonicalHeader(name), value)
	}
	b.WriteString("\r\n")
	b.Write(resp.Body)
	return [][]byte{b.Bytes()}, nil
}

func canonicalHeader(name string) string {
	return http.CanonicalHeaderKey(name)
}
