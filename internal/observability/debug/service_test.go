package debug

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "cocoview/pkg/logx"
)

func get(t *testing.T, h http.Handler, target, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRoutes(t *testing.T) {
	s := New(Config{}, func() any { return map[string]any{"connection": "open"} }, logx.Nop())
	h := s.Handler(Config{Prefix: "/pp"})

	if rec := get(t, h, "/healthz", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}

	rec := get(t, h, "/debug/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("state: %d", rec.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("state json: %v", err)
	}
	if doc["connection"] != "open" {
		t.Fatalf("state=%v", doc)
	}

	if rec := get(t, h, "/pp/", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "goroutine") {
		t.Fatalf("pprof index: %d", rec.Code)
	}
	if rec := get(t, h, "/pp", ""); rec.Code != http.StatusPermanentRedirect {
		t.Fatalf("bare prefix: %d", rec.Code)
	}
	if rec := get(t, h, "/debug/pprof/", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("default prefix should not be mounted: %d", rec.Code)
	}
}

func TestHandlerRequiresToken(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	h := s.Handler(Config{Token: "s3cret"})

	if rec := get(t, h, "/healthz", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}
	if rec := get(t, h, "/healthz", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", rec.Code)
	}
	if rec := get(t, h, "/healthz", "s3cret"); rec.Code != http.StatusOK {
		t.Fatalf("bearer: %d", rec.Code)
	}
	if rec := get(t, h, "/debug/state?token=s3cret", ""); rec.Code != http.StatusOK {
		t.Fatalf("query token: %d", rec.Code)
	}
}

func TestReconfigureStartStop(t *testing.T) {
	s := New(Config{}, func() any { return "hi" }, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	t.Cleanup(func() { s.Stop(context.Background()) })

	var addr string
	for addr == "" && ctx.Err() == nil {
		addr = s.Addr()
		time.Sleep(10 * time.Millisecond)
	}
	if addr == "" {
		t.Fatalf("server never bound")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("body=%q", body)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if s.Addr() != "" || s.Supervisor() != nil {
		t.Fatalf("server still running after disable")
	}
}

func TestRefusesExposedBindWithoutToken(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "0.0.0.0:0"})
	t.Cleanup(func() { s.Stop(context.Background()) })

	sup := s.Supervisor()
	if sup == nil {
		t.Fatalf("supervisor not started")
	}
	if err := sup.Wait(ctx); err != nil {
		t.Fatalf("serve loop should end quietly: %v", err)
	}
	if s.Addr() != "" {
		t.Fatalf("bound despite refusal")
	}
}
