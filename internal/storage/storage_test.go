package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "cocoview/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: st=%v err=%v", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func testPrefsRoundTrip(t *testing.T, cfg Config) {
	t.Helper()
	ctx := context.Background()
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok, err := st.GetPref(ctx, PrefActiveView); err != nil || ok {
		t.Fatalf("empty GetPref ok=%v err=%v", ok, err)
	}
	if err := st.PutPref(ctx, PrefActiveView, "tasks"); err != nil {
		t.Fatalf("PutPref: %v", err)
	}
	if err := st.PutPref(ctx, PrefActiveView, "graphs"); err != nil {
		t.Fatalf("PutPref: %v", err)
	}
	if err := st.AppendAudit(ctx, AuditEntry{At: time.Now(), Source: "key", Action: "reset_stats", OK: true}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	v, ok, err := st.GetPref(ctx, PrefActiveView)
	if err != nil || !ok || v != "graphs" {
		t.Fatalf("GetPref=%q,%v,%v", v, ok, err)
	}
}

func TestFileStorePersistsPrefs(t *testing.T) {
	dir := t.TempDir()
	testPrefsRoundTrip(t, Config{Driver: "file", Path: filepath.Join(dir, "cocoview.db")})

	f, err := os.Open(filepath.Join(dir, "cocoview.audit.jsonl"))
	if err != nil {
		t.Fatalf("audit file: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatalf("audit file empty")
	}
	var e AuditEntry
	if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.Action != "reset_stats" || !e.OK {
		t.Fatalf("audit entry=%+v err=%v", e, err)
	}
}

func TestFileStoreCompacts(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "state.json")}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	views := []string{"activities", "tasks"}
	for i := 0; i < prefsCompactEvery; i++ {
		if err := st.PutPref(ctx, PrefActiveView, views[i%2]); err != nil {
			t.Fatalf("PutPref: %v", err)
		}
	}
	_ = st.Close()
	if _, err := os.Stat(filepath.Join(dir, "state.prefs.snapshot.json")); err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if v, _, _ := st.GetPref(ctx, PrefActiveView); v != "tasks" {
		t.Fatalf("after compaction=%q", v)
	}
}

func TestSQLiteStorePersistsPrefs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cocoview.sqlite")
	testPrefsRoundTrip(t, Config{Driver: "sqlite", Path: path})

	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	n, err := st.(*sqliteStore).auditCount(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("audit rows=%d err=%v", n, err)
	}
}

func (s *sqliteStore) auditCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit`).Scan(&n)
	return n, err
}
