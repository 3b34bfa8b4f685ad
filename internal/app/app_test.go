package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cocoview/internal/config"
	"cocoview/internal/storage"
	"cocoview/internal/view"
	logx "cocoview/pkg/logx"
)

// fakeServer speaks the three endpoints a dashboard uses: the push socket
// on "/", POST "/" for commands and POST "/info".
type fakeServer struct {
	*httptest.Server
	resets atomic.Int32
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case websocket.IsWebSocketUpgrade(r):
			conn, err := up.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			msg := `{"info":{"project_name":"rover"},"stats":[{"name":"nav","iterations":"3","time":"0.5","time_mean":"0.1","time_stddev":"0.01"}]}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		case r.Method == http.MethodPost && r.URL.Path == "/info":
			_, _ = w.Write([]byte(`{"info":{"project_name":"rover"}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/":
			_ = r.ParseForm()
			if r.PostForm.Get("action") == "reset_stats" {
				fs.resets.Add(1)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cocoview.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func waitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHeadlessSessionEndToEnd(t *testing.T) {
	srv := newFakeServer(t)
	storePath := filepath.Join(t.TempDir(), "state.db")
	cfgPath := writeConfig(t, fmt.Sprintf(`
server:
  url: %q
render:
  headless: true
  tick_interval: 20ms
  probe_interval: 10ms
control:
  reset_schedule: "@every 1s"
logging:
  level: error
storage:
  driver: file
  path: %q
`, srv.URL, storePath))

	s, err := New(Options{ConfigPath: cfgPath, Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stopped := false
	defer func() {
		if !stopped {
			_ = s.Stop(context.Background(), StopUnknown)
		}
	}()

	waitFor(t, "first snapshot", 3*time.Second, func() bool {
		_, ok := s.telem.Current()
		return ok
	})
	waitFor(t, "render ticks with a title", 3*time.Second, func() bool {
		return s.render.Stats().Title == "rover"
	})
	waitFor(t, "scheduled reset", 5*time.Second, func() bool { return srv.resets.Load() > 0 })

	if !s.sel.SetActive(view.Graphs) {
		t.Fatalf("SetActive rejected")
	}
	waitFor(t, "view preference", 3*time.Second, func() bool {
		v, ok, err := s.store.GetPref(context.Background(), storage.PrefActiveView)
		return err == nil && ok && v == "graphs"
	})
	waitFor(t, "graph series", 3*time.Second, func() bool { return s.render.Stats().Series > 0 })

	raw, err := json.Marshal(s.State())
	if err != nil {
		t.Fatalf("state json: %v", err)
	}
	if !strings.Contains(string(raw), `"connection":"open"`) {
		t.Fatalf("state=%s", raw)
	}

	cancel()
	reason, err := s.Run(ctx)
	if err != nil || reason != StopSignal {
		t.Fatalf("Run reason=%v err=%v", reason, err)
	}
	stopped = true
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := s.Stop(sctx, reason); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStoredViewIsRestored(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "state.db")
	st, err := storage.Open(storage.Config{Driver: "file", Path: storePath}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.PutPref(context.Background(), storage.PrefActiveView, "console"); err != nil {
		t.Fatalf("put pref: %v", err)
	}
	_ = st.Close()

	cfgPath := writeConfig(t, fmt.Sprintf(`
server:
  url: "ws://127.0.0.1:1/"
render:
  headless: true
logging:
  level: error
storage:
  driver: file
  path: %q
`, storePath))
	s, err := New(Options{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop(context.Background(), StopUnknown)
	if got := s.sel.Active(); got != view.Console {
		t.Fatalf("active=%v, want console", got)
	}
}

func TestUnsupportedSchemeKeepsDashboard(t *testing.T) {
	cfgPath := writeConfig(t, `
server:
  url: "ftp://example.com/"
render:
  headless: true
logging:
  level: error
`)
	s, err := New(Options{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop(context.Background(), StopUnknown)
	if s.transportErr == nil || s.channel != nil {
		t.Fatalf("expected transport error, channel=%v", s.channel)
	}
	if s.disp != nil {
		t.Fatalf("control commands should be disabled for ftp")
	}
	st := s.State().(State)
	if st.Connection != "errored" || st.TransportError == "" {
		t.Fatalf("state=%+v", st)
	}
}

func TestInitialViewPrecedence(t *testing.T) {
	cfg := config.Default()
	cfg.Render.DefaultView = "tasks"

	cases := []struct {
		override, stored string
		want             view.ID
	}{
		{"", "", view.Tasks},
		{"", "graphs", view.Graphs},
		{"statistics", "graphs", view.Statistics},
		{"bogus", "also-bogus", view.Tasks},
		{"5", "", view.Console},
	}
	for _, tc := range cases {
		if got := initialView(cfg, tc.override, tc.stored); got != tc.want {
			t.Errorf("initialView(%q,%q)=%v, want %v", tc.override, tc.stored, got, tc.want)
		}
	}
}

func TestMapStorageConfig(t *testing.T) {
	cfg := config.Default()
	if _, ok, err := mapStorageConfig(cfg); ok || err != nil {
		t.Fatalf("nil storage: ok=%v err=%v", ok, err)
	}
	cfg.Storage = &config.StorageConfig{Driver: "SQLite"}
	if _, _, err := mapStorageConfig(cfg); err == nil {
		t.Fatalf("sqlite without path must fail")
	}
	cfg.Storage = &config.StorageConfig{Driver: "sqlite", Path: "x.db"}
	sc, ok, err := mapStorageConfig(cfg)
	if err != nil || !ok || sc.BusyTimeout != time.Second {
		t.Fatalf("sc=%+v ok=%v err=%v", sc, ok, err)
	}
	cfg.Storage = &config.StorageConfig{Driver: "redis"}
	if _, _, err := mapStorageConfig(cfg); err == nil {
		t.Fatalf("unknown driver must fail")
	}
}

func TestMapTaskEngineConfigFallsBackToControlTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.Server.ControlTimeout = "7s"
	cfg.TaskEngine.DefaultTimeout = ""
	ec, err := mapTaskEngineConfig(cfg)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if !ec.Enabled || ec.DefaultTimeout != 7*time.Second {
		t.Fatalf("ec=%+v", ec)
	}
	cfg.TaskEngine.DefaultTimeout = "nope"
	if _, err := mapTaskEngineConfig(cfg); err == nil {
		t.Fatalf("bad duration accepted")
	}
}

func TestReconnectBackoff(t *testing.T) {
	cfg := config.Default()
	if _, _, ok := reconnectBackoff(cfg); ok {
		t.Fatalf("reconnect should default off")
	}
	cfg.Server.Reconnect = config.ReconnectConfig{Enabled: true, MinBackoff: "2s", MaxBackoff: "1s"}
	lo, hi, ok := reconnectBackoff(cfg)
	if !ok || lo != 2*time.Second || hi != 2*time.Second {
		t.Fatalf("lo=%v hi=%v ok=%v", lo, hi, ok)
	}
}

func TestRunStepHonorsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	runStep(ctx, logx.Nop(), "stuck", 5*time.Second, func(c context.Context) error {
		time.Sleep(time.Second)
		return nil
	})
	if took := time.Since(start); took > 500*time.Millisecond {
		t.Fatalf("step not bounded by caller deadline: %v", took)
	}

	runStep(context.Background(), logx.Nop(), "panics", time.Second, func(context.Context) error {
		panic("boom")
	})
}
