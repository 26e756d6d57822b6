// Package buffer provides memory-efficient body storage for request and
// response bodies, spilling to a temp file once a size threshold is
// crossed. Spec §1 states the core is "not a streaming request-body API —
// bodies are buffered"; the H2 parser uses it to accumulate request bodies
// across DATA frames, spilling when a body is large enough to make holding
// it in memory costly. The H1 parser does not use it.
package buffer

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/krukov/levin/pkg/constants"
	"github.com/krukov/levin/pkg/perrors"
)

// DefaultMemoryLimit is the default threshold before a Buffer spills to disk.
const DefaultMemoryLimit = constants.DefaultBodyMemLimit

// Buffer accumulates written bytes in memory up to a limit, then spools the
// rest to a temp file. Safe for concurrent Write/Close from different
// goroutines (a parser may hand a Buffer to a pushed-stream goroutine).
type Buffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	file   *os.File
	path   string
	size   int64
	limit  int64
	closed bool
}

// New creates a Buffer with the given memory limit; limit<=0 uses the default.
func New(limit int64) *Buffer {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Buffer{limit: limit}
}

// NewWithData creates a Buffer pre-seeded with data, under the default limit.
func NewWithData(data []byte) *Buffer {
	b := &Buffer{limit: DefaultMemoryLimit, size: int64(len(data))}
	b.buf.Write(data)
	return b
}

// Write appends p, spilling to a temp file once the memory limit is exceeded.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, perrors.NewHandlerError(io.ErrClosedPipe)
	}

	b.size += int64(len(p))

	if b.file == nil && int64(b.buf.Len()+len(p)) <= b.limit {
		return b.buf.Write(p)
	}

	if b.file == nil {
		tmp, err := os.CreateTemp("", "levin-body-*.tmp")
		if err != nil {
			return 0, err
		}
		b.file = tmp
		b.path = tmp.Name()
		if b.buf.Len() > 0 {
			if _, err := tmp.Write(b.buf.Bytes()); err != nil {
				b.closeLocked()
				return 0, err
			}
		}
		b.buf.Reset()
	}

	return b.file.Write(p)
}

// Bytes returns the in-memory payload; empty if the buffer spilled to disk.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file != nil {
		return nil
	}
	return b.buf.Bytes()
}

// Size returns the total number of bytes written so far.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// IsSpilled reports whether the payload has moved to disk.
func (b *Buffer) IsSpilled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file != nil
}

// Reader returns a fresh reader over the stored payload, from memory or disk.
func (b *Buffer) Reader() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, io.ErrClosedPipe
	}
	if b.file != nil {
		if err := b.file.Sync(); err != nil {
			return nil, err
		}
		return os.Open(b.path)
	}
	return io.NopCloser(bytes.NewReader(b.buf.Bytes())), nil
}

// Close releases any temp file backing this buffer. Idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

func (b *Buffer) closeLocked() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.file != nil {
		err := b.file.Close()
		if rmErr := os.Remove(b.path); rmErr != nil && err == nil {
			err = rmErr
		}
		b.file = nil
		b.path = ""
		return err
	}
	return nil
}
