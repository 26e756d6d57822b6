package middleware

import (
	"context"
	"testing"

	"github.com/krukov/levin/pkg/message"
)

func TestInjectFromScopeResolvesDeclaredKeys(t *testing.T) {
	inj := NewInjectFromScope()
	req := newTestRequest()
	req.Set("inject", []string{"user_id"})
	req.Set("user_id", "42")

	var seen Injected
	next := func(ctx context.Context, req *message.Request) (*message.Response, error) {
		seen = WithInjected(ctx)
		return message.NewResponse(200, nil, nil), nil
	}
	if _, err := inj.Middleware()(context.Background(), req, next); err != nil {
		t.Fatalf("error = %v", err)
	}
	if seen["user_id"] != "42" {
		t.Fatalf("injected user_id = %v, want 42", seen["user_id"])
	}
}

func TestInjectFromScopeNoOpWithoutDeclaration(t *testing.T) {
	inj := NewInjectFromScope()
	req := newTestRequest()

	var seen Injected
	next := func(ctx context.Context, req *message.Request) (*message.Response, error) {
		seen = WithInjected(ctx)
		return message.NewResponse(200, nil, nil), nil
	}
	if _, err := inj.Middleware()(context.Background(), req, next); err != nil {
		t.Fatalf("error = %v", err)
	}
	if seen != nil {
		t.Fatalf("expected no injected values, got %v", seen)
	}
}
