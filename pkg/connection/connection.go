// Package connection implements the per-socket state machine (spec §4.2):
// negotiating which Parser owns a connection, spawning a task per
// completed request, and writing responses back in whatever order they
// complete.
package connection

import (
	"context"
	"encoding/base64"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/krukov/levin/pkg/component"
	"github.com/krukov/levin/pkg/constants"
	"github.com/krukov/levin/pkg/message"
	"github.com/krukov/levin/pkg/parser"
	"github.com/krukov/levin/pkg/parser/h1"
	"github.com/krukov/levin/pkg/parser/h2"
	"github.com/krukov/levin/pkg/perrors"
	"github.com/krukov/levin/pkg/timing"
)

// State is the connection's negotiation state (spec §4.2: "INITIAL →
// NEGOTIATING → BOUND(parser) → CLOSED"). A Connection starts negotiating
// immediately on Serve, so StateInitial is never directly observed.
type State int

const (
	StateInitial State = iota
	negotiating
	bound
	closed
)

var response500 = message.NewResponse(500, []byte("Sorry"), nil)

// Connection owns one accepted net.Conn for its lifetime: it negotiates a
// Parser, feeds it incoming bytes, spawns a goroutine per completed
// request to run the pipeline, and serializes writes back to the socket.
type Connection struct {
	conn    net.Conn
	scheme  string
	handler component.Handler
	log     *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	state   State
	bound   parser.Parser
	wg      sync.WaitGroup
	closing bool
}

// New builds a Connection around an already-accepted socket. handler is
// the Application's fully-compiled pipeline entry point; scheme is "http"
// or "https" depending on whether conn is already TLS.
func New(conn net.Conn, scheme string, handler component.Handler, log *zap.Logger) *Connection {
	if log == nil {
		log = zap.NewNop()
	}
	return &Connection{conn: conn, scheme: scheme, handler: handler, log: log, state: StateInitial}
}

// candidates returns the ordered parser candidates for negotiation —
// HTTP/2 first, then HTTP/1.1 (spec §4.2 "priority order").
func (c *Connection) candidates() []parser.Parser {
	return []parser.Parser{h2.New(c.scheme), h1.New(c.scheme)}
}

// Serve runs the read loop until the socket closes or the parser signals
// close; it blocks until every in-flight request task has completed. On
// transport loss (a read error or the parent ctx ending) every in-flight
// task's context is canceled so its handler goroutine can stop rather than
// run to completion against a socket that is already gone (spec §4.2 "On
// transport loss: cancel all in-flight tasks; no further writes" and §5
// "Connection.close cancels every outstanding task").
func (c *Connection) Serve(ctx context.Context) {
	defer c.conn.Close()

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Closing the socket once taskCtx ends unblocks a pending Read, so the
	// loop below also stops when the parent ctx is canceled.
	go func() {
		<-taskCtx.Done()
		c.conn.Close()
	}()

	c.mu.Lock()
	c.state = negotiating
	c.mu.Unlock()

	buf := make([]byte, 64*1024)
	var readErr error
	for {
		c.conn.SetReadDeadline(time.Now().Add(constants.DefaultReadTimeout))
		n, err := c.conn.Read(buf)
		if n > 0 {
			if !c.feed(taskCtx, buf[:n]) {
				break
			}
		}
		if err != nil {
			readErr = err
			break
		}
	}

	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	if readErr != nil && readErr != io.EOF {
		c.log.Debug("connection lost", zap.Error(perrors.NewTransportLostError(readErr)))
	}
	cancel()
	c.wg.Wait()

	c.mu.Lock()
	c.state = closed
	c.mu.Unlock()
}

// feed routes one chunk of bytes through negotiation or the bound parser,
// returning false when the connection should stop reading.
func (c *Connection) feed(ctx context.Context, data []byte) bool {
	c.mu.Lock()
	p := c.bound
	st := c.state
	c.mu.Unlock()

	if st == negotiating {
		bound, toWrite, requests, shouldClose, err := c.negotiate(ctx, data)
		if err != nil {
			c.log.Warn("no parser accepted connection preface", zap.Error(err))
			return false
		}
		c.mu.Lock()
		c.bound = bound
		c.state = boundState()
		c.mu.Unlock()

		if len(toWrite) > 0 {
			c.write(toWrite)
		}
		for _, req := range requests {
			c.spawn(ctx, req)
		}
		return !shouldClose
	}

	toWrite, requests, shouldClose, err := p.HandleRequest(data)
	if err != nil {
		c.log.Warn("protocol error", zap.Error(err))
		return false
	}
	if len(toWrite) > 0 {
		c.write(toWrite)
	}
	for _, req := range requests {
		c.spawn(ctx, req)
	}
	return !shouldClose
}

func boundState() State { return bound }

// negotiate tries each parser candidate's Connect+HandleRequest against
// the first chunk, pinning the first that accepts it (spec §4.2). It also
// implements the h2c cleartext-upgrade special case: an HTTP/1.1 request
// carrying Upgrade: h2c is answered with 101 and the connection is rebound
// to a fresh HTTP/2 Manager primed from the HTTP2-Settings header, with
// the original request replayed as the first HTTP/2 request on stream 1.
func (c *Connection) negotiate(ctx context.Context, data []byte) (parser.Parser, []byte, []*message.Request, bool, error) {
	var lastErr error
	for _, cand := range c.candidates() {
		toWrite, requests, shouldClose, err := cand.HandleRequest(data)
		if perrors.IsParseError(err) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, nil, nil, false, err
		}

		if h1p, ok := cand.(*h1.Parser); ok && len(requests) > 0 {
			if upgraded, upToWrite, upReq, uerr := c.tryH2CUpgrade(ctx, h1p, requests[0]); uerr == nil && upgraded != nil {
				return upgraded, upToWrite, []*message.Request{upReq}, false, nil
			}
		}

		if initial := cand.Connect(); len(initial) > 0 {
			toWrite = append(append([]byte{}, initial...), toWrite...)
		}
		return cand, toWrite, requests, shouldClose, nil
	}
	return nil, nil, nil, false, lastErr
}

// tryH2CUpgrade returns a bound HTTP/2 Manager, the 101 response bytes,
// and the replayed request when req requests a cleartext upgrade; a nil
// Manager means req was an ordinary HTTP/1.1 request.
func (c *Connection) tryH2CUpgrade(ctx context.Context, h1p *h1.Parser, req *message.Request) (parser.Parser, []byte, *message.Request, error) {
	upgrade, hasUpgrade := req.Headers.Get("upgrade")
	settingsHdr, hasSettings := req.Headers.Get("http2-settings")
	if !hasUpgrade || upgrade != "h2c" || !hasSettings {
		return nil, nil, nil, nil
	}

	settingsPayload, err := base64.RawURLEncoding.DecodeString(settingsHdr)
	if err != nil {
		return nil, nil, nil, err
	}

	resp := message.NewResponse(101, nil, message.Headers{"connection": "Upgrade", "upgrade": "h2c"})
	respBytes, err := h1p.HandleResponse(ctx, resp, req)
	if err != nil {
		return nil, nil, nil, err
	}

	mgr := h2.New(c.scheme)
	mgr.InitFromUpgrade(settingsPayload)

	upgraded := message.NewRequest(req.Method, req.RawPath, req.Body, req.Headers, []byte("HTTP/2"), 1, req.Scheme)
	return mgr, joinChunks(respBytes), upgraded, nil
}

func joinChunks(chunks [][]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// spawn runs the application pipeline for req in its own goroutine (spec
// §4.2 "the connection spawns a task per request"), writing the resulting
// Response back once the pipeline completes.
func (c *Connection) spawn(ctx context.Context, req *message.Request) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	timer := timing.NewTimer()

	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.writeResponse(ctx, response500, req)
			}
		}()

		timer.StartProcessing()
		req.Set("timing", timer.Metrics()) // queue_wait only; Processing/Total fill in below

		resp, err := c.handler(ctx, req)
		timer.EndProcessing()
		req.SetRewrite("timing", timer.Metrics())

		if err != nil {
			c.log.Error("unhandled pipeline error", zap.Error(err))
			c.writeResponse(ctx, response500, req)
			return
		}
		c.writeResponse(ctx, resp, req)
	}()
}

// writeResponse serializes resp via the bound parser and writes the result.
// If ctx is already canceled the transport is gone (spec §4.2 "no further
// writes" on transport loss), so it skips straight to logging instead of
// asking the parser to serialize a response nobody can receive.
func (c *Connection) writeResponse(ctx context.Context, resp *message.Response, req *message.Request) {
	if err := ctx.Err(); err != nil {
		c.log.Debug("dropping response", zap.Error(perrors.NewTransportLostError(err)))
		return
	}

	c.mu.Lock()
	p := c.bound
	c.mu.Unlock()
	if p == nil {
		return
	}
	chunks, err := p.HandleResponse(ctx, resp, req)
	if err != nil {
		if perrors.IsTransportLost(err) {
			c.log.Debug("response serialization aborted", zap.Error(err))
		} else {
			c.log.Error("response serialization failed", zap.Error(err))
		}
		return
	}
	for _, chunk := range chunks {
		c.write(chunk)
	}
}

func (c *Connection) write(data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(data); err != nil && err != io.EOF {
		c.log.Debug("write failed", zap.Error(err))
	}
}
