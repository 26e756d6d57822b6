// Package h2 implements the HTTP/2 parser contract (spec §4.1.2): a
// stream-id keyed request assembler sitting on top of golang.org/x/net's
// frame and HPACK codecs, the same pairing the teacher's pkg/http2 package
// uses client-side.
package h2

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/krukov/levin/pkg/buffer"
	"github.com/krukov/levin/pkg/constants"
	"github.com/krukov/levin/pkg/message"
	"github.com/krukov/levin/pkg/parser"
	"github.com/krukov/levin/pkg/perrors"
)

var _ parser.Parser = (*Manager)(nil)

// Preface is the client connection preface every HTTP/2 connection must
// open with (RFC 7540 §3.5), prior-knowledge or post-h2c-upgrade alike.
var Preface = []byte(http2.ClientPreface)

const frameHeaderLen = 9

// DefaultSettings mirror the server defaults the H2Manager initiated the
// connection with.
var DefaultSettings = []http2.Setting{
	{ID: http2.SettingMaxConcurrentStreams, Val: 250},
	{ID: http2.SettingInitialWindowSize, Val: 65535},
	{ID: http2.SettingMaxFrameSize, Val: 16384},
}

type partialRequest struct {
	method   []byte
	path     []byte
	scheme   string
	headers  [][2]string
	body     *buffer.Buffer
	protocol []byte
}

// Manager is a per-connection HTTP/2 parser: it owns the HPACK encoder and
// decoder for this connection and the stream-id → partial-request table
// (spec §4.1.2 "Maintains a mapping stream-id → partial Request").
type Manager struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf          []byte
	sawPreface   bool
	enc          *hpack.Encoder
	encBuf       *bytes.Buffer
	dec          *hpack.Decoder
	streams      map[uint32]*partialRequest
	headerFields *[][2]string // slot the decoder's emit func appends into
	nextPushID   uint32       // even stream ids reserved for server push
	scheme       string

	// pushSupport reports whether the peer's SETTINGS_ENABLE_PUSH allows
	// PUSH_PROMISE (spec §4.1 "push_support"); defaults true until a
	// SETTINGS frame says otherwise. Exposed via the PushSupport method.
	pushSupport bool

	// Flow control (spec §4.1.2 "Flow control"): connSendWindow and
	// streamSendWindow track how many bytes this Manager may still write
	// before it must wait for a WINDOW_UPDATE (RFC 7540 §6.9). Both are
	// initialized from the peer's SETTINGS_INITIAL_WINDOW_SIZE (default
	// 65535) and drained as writeStream emits DATA frames.
	peerInitialWindow int32
	peerMaxFrameSize  uint32
	connSendWindow    int32
	streamSendWindow  map[uint32]int32
	resetStreams      map[uint32]struct{}
	closed            bool
}

// New builds an H2 Manager. Scheme is "https" unless the connection was
// h2c-upgraded over cleartext, in which case pass "http".
func New(scheme string) *Manager {
	m := &Manager{
		streams:           map[uint32]*partialRequest{},
		nextPushID:        2,
		pushSupport:       true,
		scheme:            scheme,
		peerInitialWindow: 65535,
		peerMaxFrameSize:  16384,
		connSendWindow:    65535,
		streamSendWindow:  map[uint32]int32{},
		resetStreams:      map[uint32]struct{}{},
	}
	m.cond = sync.NewCond(&m.mu)
	m.encBuf = &bytes.Buffer{}
	m.enc = hpack.NewEncoder(m.encBuf)
	m.dec = hpack.NewDecoder(constants.DefaultHpackTableSize, nil)
	return m
}

// Connect returns the server's initial SETTINGS frame, the Go analogue of
// H2Manager.connect()'s conn.initiate_connection().
func (m *Manager) Connect() []byte {
	var buf bytes.Buffer
	f := http2.NewFramer(&buf, nil)
	_ = f.WriteSettings(DefaultSettings...)
	return buf.Bytes()
}

// PushSupport reports whether the peer's SETTINGS have enabled server push.
func (m *Manager) PushSupport() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushSupport
}

// InitFromUpgrade applies a decoded HTTP2-Settings header payload (RFC
// 7540 §3.2.1) as though it were the body of the client's first SETTINGS
// frame. Per RFC 7540 §3.5, the client still sends the 24-byte connection
// preface and its real SETTINGS frame immediately after the Upgrade
// request, so sawPreface is left false: HandleRequest consumes and
// validates those bytes exactly as it would for a prior-knowledge
// connection (spec §4.1.2 "h2c upgrade").
func (m *Manager) InitFromUpgrade(settingsPayload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i+6 <= len(settingsPayload); i += 6 {
		id := http2.SettingID(uint16(settingsPayload[i])<<8 | uint16(settingsPayload[i+1]))
		val := uint32(settingsPayload[i+2])<<24 | uint32(settingsPayload[i+3])<<16 |
			uint32(settingsPayload[i+4])<<8 | uint32(settingsPayload[i+5])
		switch id {
		case http2.SettingEnablePush:
			m.pushSupport = val != 0
		case http2.SettingInitialWindowSize:
			m.peerInitialWindow = int32(val)
		case http2.SettingMaxFrameSize:
			m.peerMaxFrameSize = val
		}
	}
}

// HandleRequest ingests one chunk of bytes, returning any frames to write
// back immediately (SETTINGS and PING acknowledgements), the requests completed
// by this chunk, and whether the connection should close.
func (m *Manager) HandleRequest(data []byte) ([]byte, []*message.Request, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buf = append(m.buf, data...)

	if !m.sawPreface {
		if len(m.buf) < len(Preface) {
			if !bytes.HasPrefix(Preface, m.buf) {
				return nil, nil, false, perrors.NewParseError("h2.preface", nil)
			}
			return nil, nil, false, nil
		}
		if !bytes.Equal(m.buf[:len(Preface)], Preface) {
			return nil, nil, false, perrors.NewParseError("h2.preface", nil)
		}
		m.buf = m.buf[len(Preface):]
		m.sawPreface = true
	}

	var out bytes.Buffer
	var requests []*message.Request
	close_ := false

	for {
		frame, rest, ok, err := m.tryReadFrame(m.buf)
		if err != nil {
			return nil, nil, false, perrors.NewProtocolError("h2.frame", err)
		}
		if !ok {
			break
		}
		m.buf = rest

		req, terminated, werr := m.handleFrame(frame, &out)
		if werr != nil {
			return nil, nil, false, werr
		}
		if req != nil {
			requests = append(requests, req)
		}
		if terminated {
			close_ = true
		}
	}

	return out.Bytes(), requests, close_, nil
}

// tryReadFrame parses at most one frame from buf if a complete one is
// present, returning the remaining unconsumed bytes.
func (m *Manager) tryReadFrame(buf []byte) (http2.Frame, []byte, bool, error) {
	if len(buf) < frameHeaderLen {
		return nil, buf, false, nil
	}
	length := int(buf[0])<<16 | int(buf[1])<<8 | int(buf[2])
	total := frameHeaderLen + length
	if len(buf) < total {
		return nil, buf, false, nil
	}

	framer := http2.NewFramer(nil, bytes.NewReader(buf[:total]))
	frame, err := framer.ReadFrame()
	if err != nil {
		return nil, buf, false, err
	}
	return frame, buf[total:], true, nil
}

func (m *Manager) handleFrame(frame http2.Frame, out *bytes.Buffer) (*message.Request, bool, error) {
	w := http2.NewFramer(out, nil)

	switch f := frame.(type) {
	case *http2.SettingsFrame:
		if f.IsAck() {
			return nil, false, nil
		}
		oldInitialWindow := m.peerInitialWindow
		f.ForeachSetting(func(s http2.Setting) error {
			switch s.ID {
			case http2.SettingEnablePush:
				m.pushSupport = s.Val != 0
			case http2.SettingInitialWindowSize:
				m.peerInitialWindow = int32(s.Val)
			case http2.SettingMaxFrameSize:
				m.peerMaxFrameSize = s.Val
			}
			return nil
		})
		if delta := m.peerInitialWindow - oldInitialWindow; delta != 0 {
			// RFC 7540 §6.9.2: a changed initial window retroactively
			// adjusts every stream's send window by the same delta.
			for id := range m.streamSendWindow {
				m.streamSendWindow[id] += delta
			}
			m.cond.Broadcast()
		}
		_ = w.WriteSettingsAck()

	case *http2.PingFrame:
		if !f.IsAck() {
			_ = w.WritePing(true, f.Data)
		}

	case *http2.HeadersFrame:
		m.startHeaders(f.StreamID)
		if _, err := m.dec.Write(f.HeaderBlockFragment()); err != nil {
			return nil, false, err
		}
		if f.HeadersEnded() {
			m.finishHeaders(f.StreamID)
		}
		if f.StreamEnded() {
			return m.completeStream(f.StreamID), false, nil
		}

	case *http2.ContinuationFrame:
		if _, err := m.dec.Write(f.HeaderBlockFragment()); err != nil {
			return nil, false, err
		}
		if f.HeadersEnded() {
			m.finishHeaders(f.StreamID)
		}

	case *http2.DataFrame:
		if p, ok := m.streams[f.StreamID]; ok {
			p.body.Write(f.Data())
		}
		if f.StreamEnded() {
			return m.completeStream(f.StreamID), false, nil
		}

	case *http2.WindowUpdateFrame:
		if f.StreamID == 0 {
			m.connSendWindow += int32(f.Increment)
		} else {
			m.streamSendWindow[f.StreamID] += int32(f.Increment)
		}
		m.cond.Broadcast()

	case *http2.RSTStreamFrame:
		if p, ok := m.streams[f.StreamID]; ok {
			p.body.Close()
			delete(m.streams, f.StreamID)
		}
		m.resetStreams[f.StreamID] = struct{}{}
		delete(m.streamSendWindow, f.StreamID)
		m.cond.Broadcast()

	case *http2.GoAwayFrame:
		m.closed = true
		m.cond.Broadcast()
		return nil, true, nil
	}

	return nil, false, nil
}

func (m *Manager) startHeaders(streamID uint32) {
	if _, ok := m.streams[streamID]; !ok {
		p := &partialRequest{scheme: m.scheme, protocol: []byte("HTTP/2"), body: buffer.New(0)}
		m.streams[streamID] = p
	}
	var collected [][2]string
	m.dec.SetEmitFunc(func(f hpack.HeaderField) {
		collected = append(collected, [2]string{f.Name, f.Value})
	})
	m.headerFields = &collected
}

func (m *Manager) finishHeaders(streamID uint32) {
	p, ok := m.streams[streamID]
	if !ok {
		return
	}
	if m.headerFields != nil {
		for _, kv := range *m.headerFields {
			switch kv[0] {
			case ":method":
				p.method = []byte(kv[1])
			case ":path":
				p.path = []byte(kv[1])
			case ":scheme":
				p.scheme = kv[1]
			case ":authority":
				p.headers = append(p.headers, [2]string{"host", kv[1]})
			default:
				p.headers = append(p.headers, [2]string{kv[0], kv[1]})
			}
		}
	}
	m.headerFields = nil
}

func (m *Manager) completeStream(streamID uint32) *message.Request {
	p, ok := m.streams[streamID]
	if !ok {
		return nil
	}
	delete(m.streams, streamID)

	if len(p.method) == 0 {
		p.method = []byte("GET")
	}
	if len(p.path) == 0 {
		p.path = []byte("/")
	}

	headers := message.NewHeaders(p.headers)
	body := bodyBytes(p.body)
	return message.NewRequest(p.method, p.path, body, headers, p.protocol, int(streamID), p.scheme)
}

// bodyBytes drains a stream's accumulated body, reading back from disk if
// it spilled past buffer.DefaultMemoryLimit rather than holding the whole
// thing twice in memory (spec §1: "bodies are buffered, not streamed").
func bodyBytes(b *buffer.Buffer) []byte {
	defer b.Close()
	if !b.IsSpilled() {
		return b.Bytes()
	}
	r, err := b.Reader()
	if err != nil {
		return nil
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil
	}
	return data
}

// HandleResponse serializes response onto request.Stream, chunking body
// writes by the peer's flow-control window and max frame size (spec §4.1.2
// "Flow control"), and, when push_support is true and the response carries
// pending pushes, sends a PUSH_PROMISE for each one first so the primary
// stream always ends last (spec §9 Open Question (c)). ctx bounds how long
// a write may block waiting for a WINDOW_UPDATE: it is the request's own
// context, so a transport-loss cancellation (spec §4.2) unblocks the write
// with a TransportLostError instead of stalling forever.
func (m *Manager) HandleResponse(ctx context.Context, resp *message.Response, req *message.Request) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var frames [][]byte

	if !resp.Push && len(resp.Pushes) > 0 && m.pushSupport {
		for _, push := range resp.Pushes {
			pushID := m.nextPushID
			m.nextPushID += 2

			promiseHeaders := m.encodeHeaders([][2]string{
				{":method", string(push.Method)},
				{":path", string(push.Path)},
				{":scheme", req.Scheme},
				{":authority", hostOf(req)},
			})

			var buf bytes.Buffer
			w := http2.NewFramer(&buf, nil)
			if err := w.WritePushPromise(http2.PushPromiseParam{
				StreamID:      uint32(req.Stream),
				PromiseID:     pushID,
				BlockFragment: promiseHeaders,
				EndHeaders:    true,
			}); err != nil {
				return nil, err
			}
			frames = append(frames, buf.Bytes())

			pushResp := message.NewResponse(resp.Status, resp.Body, resp.Headers)
			pushResp.Push = true
			pushReq := message.NewRequest(push.Method, push.Path, nil, message.Headers{}, []byte("HTTP/2"), int(pushID), req.Scheme)
			pushFrames, err := m.writeStream(ctx, pushResp, pushReq)
			if err != nil {
				return nil, err
			}
			frames = append(frames, pushFrames...)
		}
	}

	streamFrames, err := m.writeStream(ctx, resp, req)
	if err != nil {
		return nil, err
	}
	return append(frames, streamFrames...), nil
}

func hostOf(req *message.Request) string {
	if h, ok := req.Headers.Get("host"); ok {
		return h
	}
	return ""
}

func (m *Manager) encodeHeaders(pairs [][2]string) []byte {
	m.encBuf.Reset()
	for _, p := range pairs {
		_ = m.enc.WriteField(hpack.HeaderField{Name: p[0], Value: p[1]})
	}
	out := make([]byte, m.encBuf.Len())
	copy(out, m.encBuf.Bytes())
	return out
}

func (m *Manager) writeStream(ctx context.Context, resp *message.Response, req *message.Request) ([][]byte, error) {
	resp.Headers.Set("content-length", fmt.Sprintf("%d", len(resp.Body)))

	pairs := [][2]string{{":status", fmt.Sprintf("%d", resp.Status)}}
	for k, v := range resp.Headers {
		pairs = append(pairs, [2]string{k, v})
	}
	headerBlock := m.encodeHeaders(pairs)

	streamID := uint32(req.Stream)
	m.ensureStreamWindow(streamID)

	var frames [][]byte
	var headerBuf bytes.Buffer
	hw := http2.NewFramer(&headerBuf, nil)
	endStream := len(resp.Body) == 0
	if err := hw.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: headerBlock,
		EndHeaders:    true,
		EndStream:     endStream,
	}); err != nil {
		return nil, err
	}
	frames = append(frames, headerBuf.Bytes())

	data := resp.Body
	for len(data) > 0 {
		n, err := m.acquireSendWindow(ctx, streamID, len(data))
		if err != nil {
			return nil, err
		}
		var dataBuf bytes.Buffer
		dw := http2.NewFramer(&dataBuf, nil)
		last := n == len(data)
		if err := dw.WriteData(streamID, last, data[:n]); err != nil {
			return nil, err
		}
		frames = append(frames, dataBuf.Bytes())
		data = data[n:]
	}

	return frames, nil
}

// ensureStreamWindow seeds streamID's send window from the peer's
// advertised initial window the first time it is written to.
func (m *Manager) ensureStreamWindow(streamID uint32) {
	if _, ok := m.streamSendWindow[streamID]; !ok {
		m.streamSendWindow[streamID] = m.peerInitialWindow
	}
}

// acquireSendWindow blocks (releasing m.mu, which the caller must hold)
// until at least one byte of flow-control window is available for
// streamID, then reserves and returns min(connSendWindow, streamSendWindow,
// peerMaxFrameSize, want) bytes (spec §4.1.2 "Flow control": each body
// write is chunked by min(local_window, remaining, max_frame_size)).
func (m *Manager) acquireSendWindow(ctx context.Context, streamID uint32, want int) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, perrors.NewTransportLostError(err)
		}
		if m.closed {
			return 0, perrors.NewTransportLostError(nil)
		}
		if _, reset := m.resetStreams[streamID]; reset {
			return 0, perrors.NewStreamClosedError(int(streamID))
		}

		avail := m.connSendWindow
		if sw := m.streamSendWindow[streamID]; sw < avail {
			avail = sw
		}
		if avail > 0 {
			n := want
			if int32(n) > avail {
				n = int(avail)
			}
			if n > int(m.peerMaxFrameSize) {
				n = int(m.peerMaxFrameSize)
			}
			m.connSendWindow -= int32(n)
			m.streamSendWindow[streamID] -= int32(n)
			return n, nil
		}

		// No window available; wait for a WINDOW_UPDATE (handleFrame,
		// running under this same mutex) to Broadcast, or ctx to be
		// canceled. cond.Wait releases m.mu while parked.
		woken := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				m.mu.Lock()
				m.cond.Broadcast()
				m.mu.Unlock()
			case <-woken:
			}
		}()
		m.cond.Wait()
		close(woken)
	}
}
