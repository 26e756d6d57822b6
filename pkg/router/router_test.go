package router

import (
	"testing"

	"github.com/krukov/levin/pkg/message"
)

func okHandler(req *message.Request) (*message.Response, error) {
	return message.NewResponse(200, []byte("handler"), nil), nil
}

func TestEqualsResolveSimple(t *testing.T) {
	r := New(nil)
	r.Add("POST", "/test1", okHandler, nil)

	h, meta := r.Resolve("POST", []byte("/test1"))
	if h == nil || meta["pattern"] != "/test1" {
		t.Fatalf("expected match, got meta=%v", meta)
	}
}

func TestEqualsResolveSimpleSlash(t *testing.T) {
	r := New(nil)
	r.Add("POST", "/test1", okHandler, nil)

	_, meta := r.Resolve("POST", []byte("/test1/"))
	if meta["pattern"] != "/test1" {
		t.Fatalf("expected match with trailing slash on request path, got %v", meta)
	}
}

func TestEqualsResolveSimpleSlashRoute(t *testing.T) {
	r := New(nil)
	r.Add("POST", "/test1/", okHandler, nil)

	_, meta := r.Resolve("POST", []byte("/test1"))
	if meta["pattern"] != "/test1/" {
		t.Fatalf("expected match with trailing slash on registered pattern, got %v", meta)
	}
}

func TestEqualsResolveNegative(t *testing.T) {
	r := New(nil)
	r.Add("POST", "/test1", okHandler, nil)

	cases := []struct {
		method, path string
	}{
		{"POST", "/test/"},
		{"POST", "/test/test1"},
		{"POST", "/test1/some"},
		{"GET", "/test1"},
	}
	for _, c := range cases {
		_, meta := r.Resolve(c.method, []byte(c.path))
		if _, ok := meta["pattern"]; ok {
			t.Fatalf("expected no match for %+v, got %v", c, meta)
		}
	}
}

func TestRegexResolvePattern(t *testing.T) {
	r := New(nil)
	r.Add("POST", "/test/{user}", okHandler, nil)

	_, meta := r.Resolve("POST", []byte("/test/myuser"))
	if meta["pattern"] != "/test/{user}" {
		t.Fatalf("unexpected pattern meta: %v", meta)
	}
	if string(meta["user"].([]byte)) != "myuser" {
		t.Fatalf("unexpected captured user: %v", meta["user"])
	}
}

func TestRegexResolvePatternSlash(t *testing.T) {
	r := New(nil)
	r.Add("POST", "/test/{user}", okHandler, nil)

	_, meta := r.Resolve("POST", []byte("/test/myuser/"))
	if string(meta["user"].([]byte)) != "myuser" {
		t.Fatalf("unexpected captured user: %v", meta["user"])
	}
}

func TestRegexResolvePatternSlashRoute(t *testing.T) {
	r := New(nil)
	r.Add("POST", "/test/{user}/", okHandler, nil)

	_, meta := r.Resolve("POST", []byte("/test/myuser"))
	if meta["pattern"] != "/test/{user}/" {
		t.Fatalf("unexpected pattern meta: %v", meta)
	}
}

func TestRegexResolvePatternNegative(t *testing.T) {
	r := New(nil)
	r.Add("POST", "/test/{user}", okHandler, nil)

	cases := []string{
		"/test",
		"/testmyuser",
		"/test/myuser/test",
		"/v1/test/myuser",
	}
	for _, path := range cases {
		_, meta := r.Resolve("POST", []byte(path))
		if _, ok := meta["pattern"]; ok {
			t.Fatalf("expected no match for %q, got %v", path, meta)
		}
	}
}

func TestResolveFallsBackToNotFound(t *testing.T) {
	called := false
	r := New(func(req *message.Request) (*message.Response, error) {
		called = true
		return message.NewResponse(404, nil, nil), nil
	})
	h, meta := r.Resolve("GET", []byte("/nope"))
	if _, err := h(nil); err != nil {
		t.Fatalf("not found handler returned error: %v", err)
	}
	if !called {
		t.Fatal("expected not-found handler to be invoked")
	}
	if len(meta) != 0 {
		t.Fatalf("expected empty meta on no match, got %v", meta)
	}
}

func TestURLRendersNamedRoute(t *testing.T) {
	r := New(nil)
	r.Add("GET", "/order/{user}/{order}", okHandler, map[string]any{"name": "order"})

	got, err := r.URL("order", map[string]any{"user": "alice", "order": 42})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "/order/alice/42"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestURLUnknownName(t *testing.T) {
	r := New(nil)
	if _, err := r.URL("missing", nil); err == nil {
		t.Fatal("expected error for unknown route name")
	}
}

func TestURLMissingVariable(t *testing.T) {
	r := New(nil)
	r.Add("GET", "/order/{user}", okHandler, map[string]any{"name": "order"})
	if _, err := r.URL("order", nil); err == nil {
		t.Fatal("expected error for missing variable")
	}
}
