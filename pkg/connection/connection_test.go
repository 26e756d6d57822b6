package connection

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/krukov/levin/pkg/message"
)

func echoHandler(ctx context.Context, req *message.Request) (*message.Response, error) {
	return message.NewResponse(200, []byte("hi "+string(req.RawPath)), nil), nil
}

func TestServeHandlesSimpleHTTP1Request(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New(server, "http", echoHandler, nil)
	done := make(chan struct{})
	go func() {
		c.Serve(ctx)
		close(done)
	}()

	if _, err := client.Write([]byte("GET /path HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if line != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("status line = %q, want HTTP/1.1 200 OK", line)
	}

	client.Close()
	cancel()
	<-done
}

func TestServeClosesOnConnClose(t *testing.T) {
	client, server := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New(server, "http", echoHandler, nil)
	done := make(chan struct{})
	go func() {
		c.Serve(ctx)
		close(done)
	}()

	client.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after client closed the connection")
	}
}
