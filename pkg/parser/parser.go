// Package parser defines the protocol-agnostic Parser contract (spec
// §4.1) that pkg/parser/h1 and pkg/parser/h2 implement, and that
// pkg/connection negotiates between on a new socket.
package parser

import (
	"context"

	"github.com/krukov/levin/pkg/message"
)

// Parser translates bytes to/from Request/Response values for one
// connection's lifetime, once bound (spec §4.2 "BOUND(parser)").
type Parser interface {
	// Connect returns bytes to write immediately on connection accept
	// (e.g. the HTTP/2 server's initial SETTINGS frame); nil for HTTP/1.1.
	Connect() []byte

	// HandleRequest ingests one chunk, returning bytes to write back
	// immediately, zero or more completed requests, and whether the
	// connection should close. Returns a *perrors.Error of TypeParse when
	// the chunk is not a valid prefix of this protocol.
	HandleRequest(data []byte) (toWrite []byte, requests []*message.Request, close bool, err error)

	// HandleResponse serializes response for request, as an ordered
	// sequence of byte chunks to write (spec §4.1 "iterator of bytes") —
	// for HTTP/2 this may be several frames (PUSH_PROMISEs, then HEADERS
	// and one or more DATA frames); for HTTP/1.1 it is always one chunk.
	// ctx bounds how long a flow-control-limited HTTP/2 write may block
	// waiting for a WINDOW_UPDATE; H1 ignores it.
	HandleResponse(ctx context.Context, response *message.Response, request *message.Request) ([][]byte, error)

	// PushSupport reports whether the peer has enabled HTTP/2 server push.
	PushSupport() bool
}
