package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/flashd/internal/dispatch"
	"github.com/matheus3301/flashd/internal/flash"
	"github.com/matheus3301/flashd/internal/session"
	"github.com/matheus3301/flashd/internal/web"
	"go.uber.org/zap"
)

func newDaemon(t *testing.T) string {
	t.Helper()
	d := dispatch.New(zap.NewNop(), nil)
	d.Use(session.NewHook(session.NewMemory(), session.Options{}, zap.NewNop(), nil))
	d.Use(flash.NewHook(nil))
	mux := http.NewServeMux()
	web.Routes(mux)
	srv := httptest.NewServer(d.Wrap(mux))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestClientCookieSurvivesInvocations(t *testing.T) {
	addr := newDaemon(t)
	jar := filepath.Join(t.TempDir(), "flashctl.toml")
	ctx := context.Background()

	first, err := newClient(addr, jar)
	if err != nil {
		t.Fatal(err)
	}
	code, _, err := first.do(ctx, http.MethodPut, "/flash/notice", `"hello"`)
	if err != nil || code != http.StatusOK {
		t.Fatalf("set: code=%d err=%v", code, err)
	}
	if first.cookie.Name != session.DefaultCookieName || first.cookie.Value == "" {
		t.Fatalf("cookie not remembered: %+v", first.cookie)
	}

	// A new client simulates the next flashctl invocation.
	second, err := newClient(addr, jar)
	if err != nil {
		t.Fatal(err)
	}
	if second.cookie != first.cookie {
		t.Fatalf("cookie = %+v, want %+v", second.cookie, first.cookie)
	}
	code, body, err := second.do(ctx, http.MethodGet, "/flash/notice", "")
	if err != nil || code != http.StatusOK {
		t.Fatalf("get: code=%d err=%v", code, err)
	}
	if !strings.Contains(string(body), `"hello"`) {
		t.Errorf("body = %s, want notice", body)
	}

	third, err := newClient(addr, jar)
	if err != nil {
		t.Fatal(err)
	}
	code, _, err = third.do(ctx, http.MethodGet, "/flash/notice", "")
	if err != nil {
		t.Fatal(err)
	}
	if code != http.StatusNotFound {
		t.Errorf("third cycle code = %d, want 404", code)
	}
}

func TestClientFollowsSessionReset(t *testing.T) {
	addr := newDaemon(t)
	jar := filepath.Join(t.TempDir(), "flashctl.toml")
	ctx := context.Background()

	c, err := newClient(addr, jar)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.do(ctx, http.MethodGet, "/flash", ""); err != nil {
		t.Fatal(err)
	}
	before := c.cookie.Value

	if _, _, err := c.do(ctx, http.MethodPost, "/session/reset", ""); err != nil {
		t.Fatal(err)
	}
	if c.cookie.Value == before {
		t.Fatal("cookie not rotated after reset")
	}

	reloaded, err := newClient(addr, jar)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.cookie.Value != c.cookie.Value {
		t.Errorf("persisted cookie = %q, want %q", reloaded.cookie.Value, c.cookie.Value)
	}
}

func TestJSONValue(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`42`, `42`},
		{`"quoted"`, `"quoted"`},
		{`{"a":1}`, `{"a":1}`},
		{`plain text`, `"plain text"`},
		{`true`, `true`},
	}
	for _, tt := range tests {
		if got := jsonValue(tt.in); got != tt.want {
			t.Errorf("jsonValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCheckStatus(t *testing.T) {
	if err := checkStatus(http.StatusOK, nil); err != nil {
		t.Errorf("200: %v", err)
	}
	err := checkStatus(http.StatusNotFound, []byte(`{"error":"no flash entry x"}`))
	if err == nil || err.Error() != "no flash entry x" {
		t.Errorf("404 err = %v", err)
	}
	err = checkStatus(http.StatusBadGateway, []byte("junk"))
	if err == nil || !strings.Contains(err.Error(), "Bad Gateway") {
		t.Errorf("502 err = %v", err)
	}
}
