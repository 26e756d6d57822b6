package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/krukov/levin/pkg/message"
)

func TestTimeLimitAllowsFastHandler(t *testing.T) {
	tl := NewTimeLimit(50 * time.Millisecond)
	next := func(ctx context.Context, req *message.Request) (*message.Response, error) {
		return message.NewResponse(200, nil, nil), nil
	}
	resp, err := tl.Middleware()(context.Background(), newTestRequest(), next)
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("Status = %d, want 200", resp.Status)
	}
}

func TestTimeLimitExpiresSlowHandler(t *testing.T) {
	tl := NewTimeLimit(10 * time.Millisecond)
	next := func(ctx context.Context, req *message.Request) (*message.Response, error) {
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
		return message.NewResponse(200, nil, nil), nil
	}
	resp, err := tl.Middleware()(context.Background(), newTestRequest(), next)
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if resp.Status != 500 {
		t.Fatalf("Status = %d, want 500", resp.Status)
	}
	if string(resp.Body) != "Timeout" {
		t.Fatalf("Body = %q, want Timeout", resp.Body)
	}
}

func TestNewTimeLimitDefaultsTimeout(t *testing.T) {
	tl := NewTimeLimit(0)
	if tl.Timeout != 10*time.Second {
		t.Fatalf("Timeout = %v, want 10s", tl.Timeout)
	}
}
