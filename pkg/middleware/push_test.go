package middleware

import (
	"context"
	"testing"

	"github.com/krukov/levin/pkg/message"
)

func TestPushAddPushAccumulatesOnResponse(t *testing.T) {
	p := NewPush()
	next := func(ctx context.Context, req *message.Request) (*message.Response, error) {
		add, _ := req.Get("add_push").(func([]byte, []byte))
		add([]byte("/style.css"), []byte("GET"))
		return message.NewResponse(200, nil, nil), nil
	}

	req := newTestRequest()
	resp, err := p.Middleware()(context.Background(), req, next)
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if len(resp.Pushes) != 1 {
		t.Fatalf("got %d pushes, want 1", len(resp.Pushes))
	}
	if string(resp.Pushes[0].Path) != "/style.css" {
		t.Fatalf("push path = %q, want /style.css", resp.Pushes[0].Path)
	}
}

func TestPushRouteMetaTemplate(t *testing.T) {
	p := NewPush()
	next := func(ctx context.Context, req *message.Request) (*message.Response, error) {
		return message.NewResponse(200, nil, nil), nil
	}

	req := newTestRequest()
	req.Set("push", "/user/{id}/avatar")
	req.Set("id", "42")

	resp, err := p.Middleware()(context.Background(), req, next)
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if len(resp.Pushes) != 1 {
		t.Fatalf("got %d pushes, want 1", len(resp.Pushes))
	}
	if string(resp.Pushes[0].Path) != "/user/42/avatar" {
		t.Fatalf("rendered push path = %q, want /user/42/avatar", resp.Pushes[0].Path)
	}
}

func TestPushNoPushesWhenUnused(t *testing.T) {
	p := NewPush()
	next := func(ctx context.Context, req *message.Request) (*message.Response, error) {
		return message.NewResponse(200, nil, nil), nil
	}
	resp, _ := p.Middleware()(context.Background(), newTestRequest(), next)
	if len(resp.Pushes) != 0 {
		t.Fatalf("got %d pushes, want 0", len(resp.Pushes))
	}
}
