package render

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"cocoview/internal/telemetry"
	"cocoview/internal/view"
	"cocoview/internal/window"
	logx "cocoview/pkg/logx"
)

type recordingViews struct {
	mu      sync.Mutex
	calls   []string
	bars    BarChart
	lines   []LinePlot
	console []string
	title   string
}

func (r *recordingViews) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recordingViews) ShowActivities([]telemetry.Activity) { r.add("activities") }
func (r *recordingViews) ShowTasks([]telemetry.Task)           { r.add("tasks") }
func (r *recordingViews) ShowStatistics([]telemetry.Stat)      { r.add("statistics") }
func (r *recordingViews) ShowGraphs(b BarChart, l []LinePlot) {
	r.mu.Lock()
	r.bars, r.lines = b, l
	r.mu.Unlock()
	r.add("graphs")
}
func (r *recordingViews) AppendConsole(line string) {
	r.mu.Lock()
	r.console = append(r.console, line)
	r.mu.Unlock()
	r.add("console")
}
func (r *recordingViews) SetTitle(title string) {
	r.mu.Lock()
	r.title = title
	r.mu.Unlock()
	r.add("title")
}

func (r *recordingViews) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestScheduler(initial view.ID) (*Scheduler, *telemetry.Store, *view.Selector, *window.Bank, *recordingViews) {
	store := telemetry.NewStore()
	sel := view.NewSelector(initial)
	bank := window.NewBank()
	rv := &recordingViews{}
	s := NewScheduler(Config{}, store, bank, sel, rv, logx.Nop())
	return s, store, sel, bank, rv
}

func TestIdleTicksProjectNothing(t *testing.T) {
	s, _, _, _, rv := newTestScheduler(view.Graphs)
	for i := 0; i < 5; i++ {
		if d := s.Tick(); d != DefaultProbeInterval {
			t.Fatalf("idle tick delay=%v", d)
		}
	}
	if calls := rv.snapshot(); len(calls) != 0 {
		t.Fatalf("idle ticks touched views: %v", calls)
	}
	st := s.Stats()
	if st.State != "idle" || st.Ticks != 5 || st.IdleTicks != 5 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestFirstRenderingTickSetsTitle(t *testing.T) {
	s, store, _, _, rv := newTestScheduler(view.Tasks)
	store.Replace(&telemetry.Snapshot{ProjectName: "demo"})
	if d := s.Tick(); d != DefaultTickInterval {
		t.Fatalf("rendering tick delay=%v", d)
	}
	s.Tick()
	calls := rv.snapshot()
	if len(calls) != 3 || calls[0] != "title" || calls[1] != "tasks" || calls[2] != "tasks" {
		t.Fatalf("calls=%v", calls)
	}
	if rv.title != "demo" {
		t.Fatalf("title=%q", rv.title)
	}
}

func TestViewChangeTakesEffectWithoutNewSnapshot(t *testing.T) {
	s, store, sel, _, rv := newTestScheduler(view.Activities)
	store.Replace(&telemetry.Snapshot{Log: "boot"})
	s.Tick()
	sel.SetActive(view.Statistics)
	s.Tick()
	sel.SetActive(view.Console)
	s.Tick()
	calls := rv.snapshot()
	want := []string{"activities", "statistics", "console"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls=%v, want %v", calls, want)
	}
	if got := s.Stats().Projections["statistics"]; got != 1 {
		t.Fatalf("statistics projections=%d", got)
	}
	if len(rv.console) != 1 || rv.console[0] != "boot" {
		t.Fatalf("console=%q", rv.console)
	}
}

func TestSnapshotWithoutProjectNameKeepsTitle(t *testing.T) {
	s, store, _, _, rv := newTestScheduler(view.Tasks)
	rv.SetTitle("from-info")
	store.Replace(&telemetry.Snapshot{})
	s.Tick()
	if rv.title != "from-info" {
		t.Fatalf("title=%q", rv.title)
	}
	store.Replace(&telemetry.Snapshot{ProjectName: "rover"})
	s.Tick()
	store.Replace(&telemetry.Snapshot{})
	s.Tick()
	if rv.title != "rover" || s.Stats().Title != "rover" {
		t.Fatalf("title=%q stats=%q", rv.title, s.Stats().Title)
	}
}

func TestGraphsBarProjection(t *testing.T) {
	s, store, _, bank, rv := newTestScheduler(view.Graphs)
	store.Replace(&telemetry.Snapshot{Stats: []telemetry.Stat{
		{Name: "t1", TimeExecMean: 10, TimeExecStddev: 2, TimeInst: 1},
		{Name: "t2", TimeExecMean: 20, TimeExecStddev: 5, TimeInst: 2},
	}})
	s.Tick()

	b := rv.bars
	if strings.Join(b.Names, ",") != "t1,t2" {
		t.Fatalf("names=%v", b.Names)
	}
	if len(b.Mean) != 2 || b.Mean[0] != 10 || b.Mean[1] != 20 {
		t.Fatalf("mean=%v", b.Mean)
	}
	if len(b.Stddev) != 2 || b.Stddev[0] != 2 || b.Stddev[1] != 5 {
		t.Fatalf("stddev=%v", b.Stddev)
	}
	if len(rv.lines) != 2 || rv.lines[0].SeriesID != "t1" || rv.lines[1].Samples[0] != 2 {
		t.Fatalf("lines=%+v", rv.lines)
	}
	if bank.Len() != 2 {
		t.Fatalf("bank series=%d", bank.Len())
	}
}

func TestGraphsDuplicateNameLastWins(t *testing.T) {
	s, store, _, bank, _ := newTestScheduler(view.Graphs)
	store.Replace(&telemetry.Snapshot{Stats: []telemetry.Stat{
		{Name: "t1", TimeInst: 1},
		{Name: "t1", TimeInst: 7},
	}})
	s.Tick()
	got := bank.SeriesFor("t1")
	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("t1=%v", got)
	}
}

func TestGraphsWindowKeepsLast50(t *testing.T) {
	s, store, _, bank, rv := newTestScheduler(view.Graphs)
	for i := 0; i < window.Capacity+20; i++ {
		store.Replace(&telemetry.Snapshot{Stats: []telemetry.Stat{{Name: "t1", TimeInst: float64(i)}}})
		s.Tick()
	}
	got := bank.SeriesFor("t1")
	if len(got) != window.Capacity || got[0] != 20 || got[len(got)-1] != float64(window.Capacity+19) {
		t.Fatalf("series len=%d first=%v last=%v", len(got), got[0], got[len(got)-1])
	}
	if len(rv.lines[0].Samples) != window.Capacity {
		t.Fatalf("plot samples=%d", len(rv.lines[0].Samples))
	}
}

func TestBankUntouchedOutsideGraphs(t *testing.T) {
	s, store, _, bank, _ := newTestScheduler(view.Statistics)
	store.Replace(&telemetry.Snapshot{Stats: []telemetry.Stat{{Name: "t1"}}})
	s.Tick()
	if bank.Len() != 0 {
		t.Fatalf("bank mutated outside graphs view")
	}
}

func TestConsoleAppendsOnEveryTick(t *testing.T) {
	s, store, _, _, rv := newTestScheduler(view.Console)
	store.Replace(&telemetry.Snapshot{Log: "a\n"})
	s.Tick()
	s.Tick()
	store.Replace(&telemetry.Snapshot{})
	s.Tick()
	store.Replace(&telemetry.Snapshot{Log: "b\n"})
	s.Tick()
	want := []string{"a\n", "a\n", "", "b\n"}
	if strings.Join(rv.console, "|") != strings.Join(want, "|") {
		t.Fatalf("console=%q, want %q", rv.console, want)
	}
	if st := s.Stats(); st.ConsoleLines != 4 || st.Projections["console"] != 4 {
		t.Fatalf("console lines=%d projections=%d", st.ConsoleLines, st.Projections["console"])
	}
}

func TestConsoleAppendsAgainAfterReturningToIt(t *testing.T) {
	s, store, sel, _, rv := newTestScheduler(view.Console)
	store.Replace(&telemetry.Snapshot{Log: "same"})
	s.Tick()
	sel.SetActive(view.Graphs)
	s.Tick()
	sel.SetActive(view.Console)
	s.Tick()
	if len(rv.console) != 2 || rv.console[1] != "same" {
		t.Fatalf("console=%q", rv.console)
	}
}

type panicViews struct{ recordingViews }

func (p *panicViews) ShowTasks([]telemetry.Task) { panic("widget gone") }

func TestPanickingWidgetDoesNotStopTicks(t *testing.T) {
	store := telemetry.NewStore()
	store.Replace(&telemetry.Snapshot{})
	s := NewScheduler(Config{}, store, nil, view.NewSelector(view.Tasks), &panicViews{}, logx.Nop())
	if d := s.Tick(); d != DefaultTickInterval {
		t.Fatalf("delay=%v", d)
	}
	if s.Stats().Panics != 1 {
		t.Fatalf("panics=%d", s.Stats().Panics)
	}
}

func TestApplyChangesIntervals(t *testing.T) {
	s, store, _, _, _ := newTestScheduler(view.Activities)
	s.Apply(Config{TickInterval: 500 * time.Millisecond, ProbeInterval: time.Millisecond})
	if d := s.Tick(); d != minInterval {
		t.Fatalf("probe clamp=%v", d)
	}
	store.Replace(&telemetry.Snapshot{})
	if d := s.Tick(); d != 500*time.Millisecond {
		t.Fatalf("tick=%v", d)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, store, _, _, rv := newTestScheduler(view.Activities)
	s.Apply(Config{TickInterval: 10 * time.Millisecond, ProbeInterval: 10 * time.Millisecond})
	store.Replace(&telemetry.Snapshot{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(rv.snapshot()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
	if len(rv.snapshot()) < 3 {
		t.Fatalf("expected some ticks, calls=%v", rv.snapshot())
	}
}

func TestLogViewsConsoleSplitsLines(t *testing.T) {
	var buf bytes.Buffer
	v := NewLogViews(logx.NewWriter(&buf, "info"))
	v.AppendConsole("one\n\ntwo\n")
	v.ShowStatistics([]telemetry.Stat{{Name: "hidden"}})
	out := buf.String()
	if strings.Count(out, "scheduler log") != 2 || !strings.Contains(out, `"line":"two"`) {
		t.Fatalf("out=%s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug projection leaked at info level: %s", out)
	}
}
