// Package constants collects the shared tuning knobs used across the
// parser, buffer and server layers, so a single place controls the
// defaults the rest of the module falls back to.
package constants

import "time"

// DefaultReadTimeout bounds how long Connection.Serve will block on a single
// socket read before giving up on an idle client.
const DefaultReadTimeout = 30 * time.Second

// DefaultHpackTableSize is the dynamic table size the H2 Manager's HPACK
// decoder is constructed with (RFC 7541 §4.2).
const DefaultHpackTableSize = 4096

// DefaultBodyMemLimit is the default in-memory threshold before a
// buffer.Buffer spills a request or response body to disk.
const DefaultBodyMemLimit = 4 * 1024 * 1024 // 4MB

// MaxContentLength rejects a Content-Length header claiming a body larger
// than this, before the H1 parser ever buffers it.
const MaxContentLength = 1024 * 1024 * 1024 // 1GB
