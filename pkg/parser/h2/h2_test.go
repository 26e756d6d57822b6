package h2

import (
	"bytes"
	"context"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/krukov/levin/pkg/message"
)

// encodeHeaderBlock builds an HPACK-encoded header block for a test HEADERS
// frame, independent of the Manager under test.
func encodeHeaderBlock(t *testing.T, pairs [][2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	for _, p := range pairs {
		if err := enc.WriteField(hpack.HeaderField{Name: p[0], Value: p[1]}); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	return buf.Bytes()
}

func TestHandleRequestSingleStreamGET(t *testing.T) {
	m := New("http")

	headerBlock := encodeHeaderBlock(t, [][2]string{
		{":method", "GET"},
		{":path", "/hello"},
		{":scheme", "http"},
		{":authority", "example.com"},
	})

	var frameBuf bytes.Buffer
	fw := http2.NewFramer(&frameBuf, nil)
	if err := fw.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      1,
		BlockFragment: headerBlock,
		EndHeaders:    true,
		EndStream:     true,
	}); err != nil {
		t.Fatalf("WriteHeaders: %v", err)
	}

	input := append(append([]byte{}, Preface...), frameBuf.Bytes()...)

	_, requests, shouldClose, err := m.HandleRequest(input)
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if shouldClose {
		t.Fatal("did not expect connection close")
	}
	if len(requests) != 1 {
		t.Fatalf("got %d requests, want 1", len(requests))
	}
	req := requests[0]
	if string(req.Method) != "GET" {
		t.Fatalf("Method = %q, want GET", req.Method)
	}
	if string(req.RawPath) != "/hello" {
		t.Fatalf("RawPath = %q, want /hello", req.RawPath)
	}
	if host, ok := req.Headers.Get("host"); !ok || host != "example.com" {
		t.Fatalf("host header = %q, %v", host, ok)
	}
	if req.Stream != 1 {
		t.Fatalf("Stream = %d, want 1", req.Stream)
	}
}

func TestHandleRequestSplitAcrossChunks(t *testing.T) {
	m := New("http")

	headerBlock := encodeHeaderBlock(t, [][2]string{
		{":method", "POST"},
		{":path", "/submit"},
		{":scheme", "http"},
	})
	var headersBuf bytes.Buffer
	hw := http2.NewFramer(&headersBuf, nil)
	if err := hw.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      3,
		BlockFragment: headerBlock,
		EndHeaders:    true,
		EndStream:     false,
	}); err != nil {
		t.Fatalf("WriteHeaders: %v", err)
	}

	var dataBuf bytes.Buffer
	dw := http2.NewFramer(&dataBuf, nil)
	if err := dw.WriteData(3, true, []byte("payload")); err != nil {
		t.Fatalf("WriteData: %v", err)
	}

	full := append(append([]byte{}, Preface...), headersBuf.Bytes()...)
	full = append(full, dataBuf.Bytes()...)

	_, requests, _, err := m.HandleRequest(full[:len(Preface)+3])
	if err != nil {
		t.Fatalf("HandleRequest partial: %v", err)
	}
	if len(requests) != 0 {
		t.Fatalf("got %d requests on a partial frame, want 0", len(requests))
	}

	_, requests, _, err = m.HandleRequest(full[len(Preface)+3:])
	if err != nil {
		t.Fatalf("HandleRequest rest: %v", err)
	}
	if len(requests) != 1 {
		t.Fatalf("got %d requests, want 1", len(requests))
	}
	if string(requests[0].Body) != "payload" {
		t.Fatalf("Body = %q, want payload", requests[0].Body)
	}
}

func TestHandleResponseSendsHeadersThenData(t *testing.T) {
	m := New("http")
	req := message.NewRequest([]byte("GET"), []byte("/"), nil, message.Headers{}, []byte("HTTP/2"), 1, "http")
	resp := message.NewResponse(200, []byte("ok"), nil)

	frames, err := m.HandleResponse(context.Background(), resp, req)
	if err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2 (HEADERS, DATA)", len(frames))
	}

	fr := http2.NewFramer(nil, bytes.NewReader(frames[0]))
	frame, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame headers: %v", err)
	}
	hf, ok := frame.(*http2.HeadersFrame)
	if !ok {
		t.Fatalf("first frame is %T, want *http2.HeadersFrame", frame)
	}

	dec := hpack.NewDecoder(4096, nil)
	var got [][2]string
	dec.SetEmitFunc(func(f hpack.HeaderField) { got = append(got, [2]string{f.Name, f.Value}) })
	if _, err := dec.Write(hf.HeaderBlockFragment()); err != nil {
		t.Fatalf("hpack decode: %v", err)
	}

	var status string
	for _, kv := range got {
		if kv[0] == ":status" {
			status = kv[1]
		}
	}
	if status != "200" {
		t.Fatalf(":status = %q, want 200", status)
	}

	dr := http2.NewFramer(nil, bytes.NewReader(frames[1]))
	dframe, err := dr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame data: %v", err)
	}
	df, ok := dframe.(*http2.DataFrame)
	if !ok {
		t.Fatalf("second frame is %T, want *http2.DataFrame", dframe)
	}
	if string(df.Data()) != "ok" {
		t.Fatalf("data = %q, want ok", df.Data())
	}
}

func TestPushSupportDefaultsTrue(t *testing.T) {
	m := New("https")
	if !m.PushSupport() {
		t.Fatal("expected push support to default to true")
	}
}

func TestInitFromUpgradeDisablesPush(t *testing.T) {
	m := New("http")
	// SETTINGS_ENABLE_PUSH (0x2) = 0
	payload := []byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x00}
	m.InitFromUpgrade(payload)
	if m.PushSupport() {
		t.Fatal("expected push support disabled after upgrade settings say so")
	}
}

// TestInitFromUpgradeStillExpectsPreface guards against a regression where
// InitFromUpgrade marked the connection preface as already satisfied: RFC
// 7540 §3.5 has the client send the real preface and SETTINGS frame right
// after the Upgrade request even in the h2c path, so the Manager must still
// validate it like any other connection.
func TestInitFromUpgradeStillExpectsPreface(t *testing.T) {
	m := New("http")
	m.InitFromUpgrade(nil)

	headerBlock := encodeHeaderBlock(t, [][2]string{
		{":method", "GET"},
		{":path", "/"},
		{":scheme", "http"},
	})
	var frameBuf bytes.Buffer
	fw := http2.NewFramer(&frameBuf, nil)
	if err := fw.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      1,
		BlockFragment: headerBlock,
		EndHeaders:    true,
		EndStream:     true,
	}); err != nil {
		t.Fatalf("WriteHeaders: %v", err)
	}

	input := append(append([]byte{}, Preface...), frameBuf.Bytes()...)
	_, requests, _, err := m.HandleRequest(input)
	if err != nil {
		t.Fatalf("HandleRequest after upgrade: %v", err)
	}
	if len(requests) != 1 {
		t.Fatalf("got %d requests, want 1", len(requests))
	}
}

func TestInitFromUpgradeRejectsMissingPreface(t *testing.T) {
	m := New("http")
	m.InitFromUpgrade(nil)

	_, _, _, err := m.HandleRequest([]byte("this is definitely not a connection preface, long enough"))
	if err == nil {
		t.Fatal("expected a ParseError when the real preface never arrives")
	}
}

// TestHandleResponseRespectsFlowControlWindow drives the peer's advertised
// window down to 10 bytes, then asserts a 25-byte body blocks mid-write
// until a WINDOW_UPDATE arrives, chunking instead of writing it whole.
func TestHandleResponseRespectsFlowControlWindow(t *testing.T) {
	m := New("http")

	var settingsBuf bytes.Buffer
	sw := http2.NewFramer(&settingsBuf, nil)
	if err := sw.WriteSettings(http2.Setting{ID: http2.SettingInitialWindowSize, Val: 10}); err != nil {
		t.Fatalf("WriteSettings: %v", err)
	}
	input := append(append([]byte{}, Preface...), settingsBuf.Bytes()...)
	if _, _, _, err := m.HandleRequest(input); err != nil {
		t.Fatalf("HandleRequest settings: %v", err)
	}

	req := message.NewRequest([]byte("GET"), []byte("/"), nil, message.Headers{}, []byte("HTTP/2"), 1, "http")
	body := bytes.Repeat([]byte("x"), 25)
	resp := message.NewResponse(200, body, nil)

	type result struct {
		frames [][]byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		frames, err := m.HandleResponse(context.Background(), resp, req)
		done <- result{frames, err}
	}()

	select {
	case <-done:
		t.Fatal("HandleResponse returned before the window was replenished")
	case <-time.After(50 * time.Millisecond):
	}

	var wuBuf bytes.Buffer
	ww := http2.NewFramer(&wuBuf, nil)
	if err := ww.WriteWindowUpdate(1, 30); err != nil {
		t.Fatalf("WriteWindowUpdate stream: %v", err)
	}
	if err := ww.WriteWindowUpdate(0, 30); err != nil {
		t.Fatalf("WriteWindowUpdate conn: %v", err)
	}
	if _, _, _, err := m.HandleRequest(wuBuf.Bytes()); err != nil {
		t.Fatalf("HandleRequest window update: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("HandleResponse: %v", r.err)
		}
		if len(r.frames) < 3 {
			t.Fatalf("got %d frames, want at least 3 (HEADERS + chunked DATA)", len(r.frames))
		}
	case <-time.After(time.Second):
		t.Fatal("HandleResponse did not unblock after WINDOW_UPDATE")
	}
}

// TestHandleResponseAbortsOnContextCancel exercises transport-loss
// cancellation unblocking a write stalled on an empty flow-control window.
func TestHandleResponseAbortsOnContextCancel(t *testing.T) {
	m := New("http")

	var settingsBuf bytes.Buffer
	sw := http2.NewFramer(&settingsBuf, nil)
	if err := sw.WriteSettings(http2.Setting{ID: http2.SettingInitialWindowSize, Val: 0}); err != nil {
		t.Fatalf("WriteSettings: %v", err)
	}
	input := append(append([]byte{}, Preface...), settingsBuf.Bytes()...)
	if _, _, _, err := m.HandleRequest(input); err != nil {
		t.Fatalf("HandleRequest settings: %v", err)
	}

	req := message.NewRequest([]byte("GET"), []byte("/"), nil, message.Headers{}, []byte("HTTP/2"), 1, "http")
	resp := message.NewResponse(200, []byte("blocked"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.HandleResponse(ctx, resp, req)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error once the context was canceled")
		}
	case <-time.After(time.Second):
		t.Fatal("HandleResponse did not return after context cancellation")
	}
}
