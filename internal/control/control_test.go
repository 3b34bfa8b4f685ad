package control

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"cocoview/internal/eventbus"
	"cocoview/internal/storage"
	"cocoview/internal/task/engine"
	logx "cocoview/pkg/logx"
)

func startEngine(t *testing.T) *engine.Service {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 2, RetryMax: 3}, logx.Nop(), nil)
	eng.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		eng.Stop(ctx)
	})
	return eng
}

func TestNewClientMapsScheme(t *testing.T) {
	c, err := NewClient("ws://127.0.0.1:8080/ws?x=1", 0)
	if err != nil || c.BaseURL() != "http://127.0.0.1:8080" {
		t.Fatalf("base=%v err=%v", c, err)
	}
	c, err = NewClient("wss://coco.example", 0)
	if err != nil || c.BaseURL() != "https://coco.example" {
		t.Fatalf("base=%v err=%v", c, err)
	}
	if _, err := NewClient("file:///tmp/x", 0); err == nil {
		t.Fatalf("file scheme accepted")
	}
}

func TestRequestResetSendsExactlyOneRequestWithoutBlocking(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("action") != "reset_stats" {
			t.Errorf("form=%v err=%v", r.PostForm, err)
		}
		hits.Add(1)
		<-release
		// Server errors must not trigger a second request.
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	bus := eventbus.New()
	results, unsub := bus.Subscribe(4, eventbus.TopicControl)
	defer unsub()
	d := NewDispatcher(client, startEngine(t), nil, bus, logx.Nop(), DispatcherConfig{})

	start := time.Now()
	if err := d.RequestReset(SourceKey); err != nil {
		t.Fatalf("RequestReset: %v", err)
	}
	if took := time.Since(start); took > 200*time.Millisecond {
		t.Fatalf("RequestReset blocked for %v", took)
	}
	close(release)

	select {
	case e := <-results:
		res := e.Data.(Result)
		var se *StatusError
		if res.Action != ActionResetStats || !errors.As(res.Err, &se) || se.Code != http.StatusServiceUnavailable {
			t.Fatalf("result=%+v", res)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no control result")
	}
	time.Sleep(100 * time.Millisecond)
	if hits.Load() != 1 {
		t.Fatalf("hits=%d", hits.Load())
	}
}

func TestRequestResetRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) }))
	defer srv.Close()
	client, _ := NewClient(srv.URL, time.Second)
	d := NewDispatcher(client, startEngine(t), nil, nil, logx.Nop(), DispatcherConfig{RatePerSec: 0.01, Burst: 1})

	if err := d.RequestReset(SourceKey); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := d.RequestReset(SourceKey); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second err=%v", err)
	}
	if err := d.RequestReset(SourceSchedule); err != nil {
		t.Fatalf("schedule bypasses the limit: %v", err)
	}
}

func TestRunResetWritesAudit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) }))
	defer srv.Close()
	client, _ := NewClient(srv.URL, time.Second)

	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "a.sqlite")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	defer st.Close()
	audit := &countingAudit{Store: st}

	d := NewDispatcher(client, nil, audit, nil, logx.Nop(), DispatcherConfig{})
	if err := d.RunReset(context.Background()); err != nil {
		t.Fatalf("RunReset: %v", err)
	}
	if audit.n.Load() != 1 {
		t.Fatalf("audit entries=%d", audit.n.Load())
	}
}

type countingAudit struct {
	storage.Store
	n atomic.Int32
}

func (c *countingAudit) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	if !e.OK || e.Action != ActionResetStats || e.Source != SourceSchedule {
		return errors.New("unexpected entry")
	}
	c.n.Add(1)
	return c.Store.AppendAudit(ctx, e)
}

func TestFetchInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"info":{"project_name":"rover"},"tasks":[]}`))
	}))
	defer srv.Close()
	client, _ := NewClient(srv.URL, time.Second)

	info, err := client.FetchInfo(context.Background())
	if err != nil || info.ProjectName != "rover" {
		t.Fatalf("info=%+v err=%v", info, err)
	}

	got := make(chan string, 1)
	d := NewDispatcher(client, startEngine(t), nil, nil, logx.Nop(), DispatcherConfig{})
	if err := d.RequestInfo(SourceStartup, func(i Info) { got <- i.ProjectName }); err != nil {
		t.Fatalf("RequestInfo: %v", err)
	}
	select {
	case name := <-got:
		if name != "rover" {
			t.Fatalf("name=%q", name)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("info callback not called")
	}
}

func TestRequestInfoRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"info":{"project_name":"rover"}}`))
	}))
	defer srv.Close()
	client, _ := NewClient(srv.URL, time.Second)

	got := make(chan string, 1)
	d := NewDispatcher(client, startEngine(t), nil, nil, logx.Nop(), DispatcherConfig{})
	if err := d.RequestInfo(SourceStartup, func(i Info) { got <- i.ProjectName }); err != nil {
		t.Fatalf("RequestInfo: %v", err)
	}
	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatalf("info not fetched after retry, calls=%d", calls.Load())
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("calls=%d, want 2", n)
	}
}

func TestRetryClass(t *testing.T) {
	if !engine.IsNoRetry(retryClass(&StatusError{Op: ActionFetchInfo, Code: http.StatusNotFound})) {
		t.Fatalf("404 should not be retried")
	}
	err := retryClass(&StatusError{Op: ActionFetchInfo, Code: http.StatusTooManyRequests, RetryAfter: 2 * time.Second})
	var ra engine.RetryAfterError
	if !errors.As(err, &ra) || ra.RetryAfter() != 2*time.Second {
		t.Fatalf("429 should carry retry-after: %v", err)
	}
	plain := errors.New("connection refused")
	if got := retryClass(plain); got != plain || engine.IsNoRetry(got) {
		t.Fatalf("network errors retry as-is: %v", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cases := map[string]time.Duration{
		"":                              0,
		"7":                             7 * time.Second,
		"-1":                            0,
		"soon":                          0,
		"Fri, 02 Jan 2026 03:04:15 GMT": 10 * time.Second,
		"Fri, 02 Jan 2026 03:04:00 GMT": 0,
	}
	for in, want := range cases {
		if got := parseRetryAfter(in, now); got != want {
			t.Errorf("parseRetryAfter(%q)=%v, want %v", in, got, want)
		}
	}
}
