package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"cocoview/internal/control"
	"cocoview/internal/eventbus"
	"cocoview/internal/ingest"
	"cocoview/internal/render"
	"cocoview/internal/telemetry"
	"cocoview/internal/view"
)

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "shift+tab":
		return tea.KeyMsg{Type: tea.KeyShiftTab}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestModel(t *testing.T, opts Options) Model {
	t.Helper()
	m := New(opts)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	return next.(Model)
}

func send(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestNavigationKeysDriveSelector(t *testing.T) {
	sel := view.NewSelector(view.Activities)
	m := newTestModel(t, Options{Selector: sel})

	steps := []struct {
		key  string
		want view.ID
	}{
		{"4", view.Graphs},
		{"tab", view.Console},
		{"tab", view.Activities},
		{"shift+tab", view.Console},
		{"left", view.Graphs},
		{"right", view.Console},
		{"2", view.Tasks},
		{"9", view.Tasks},
	}
	for _, st := range steps {
		m, _ = send(t, m, keyMsg(st.key))
		if got := sel.Active(); got != st.want {
			t.Fatalf("after %q active=%v, want %v", st.key, got, st.want)
		}
	}
}

func TestQuitKey(t *testing.T) {
	m := newTestModel(t, Options{})
	_, cmd := send(t, m, keyMsg("q"))
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
}

func TestResetKey(t *testing.T) {
	calls := 0
	m := newTestModel(t, Options{Reset: func() error { calls++; return nil }})
	m, cmd := send(t, m, keyMsg("r"))
	if calls != 1 {
		t.Fatalf("reset calls=%d", calls)
	}
	if cmd == nil || m.status != "reset_stats requested" || m.statusErr {
		t.Fatalf("status=%q err=%v", m.status, m.statusErr)
	}

	m = newTestModel(t, Options{Reset: func() error { return control.ErrRateLimited }})
	m, _ = send(t, m, keyMsg("r"))
	if !m.statusErr || !strings.Contains(m.status, "rate limited") {
		t.Fatalf("status=%q err=%v", m.status, m.statusErr)
	}
}

func TestStatusFadesOnlyForLatest(t *testing.T) {
	m := newTestModel(t, Options{Reset: func() error { return nil }})
	m, _ = send(t, m, keyMsg("r"))
	first := m.statusSeq
	m, _ = send(t, m, keyMsg("r"))

	m, _ = send(t, m, statusFadeMsg{seq: first})
	if m.status == "" {
		t.Fatalf("stale fade cleared the newer status")
	}
	m, _ = send(t, m, statusFadeMsg{seq: m.statusSeq})
	if m.status != "" {
		t.Fatalf("status not cleared: %q", m.status)
	}
}

func TestFrameAppliesProjections(t *testing.T) {
	sel := view.NewSelector(view.Statistics)
	mbox := NewMailbox()
	m := newTestModel(t, Options{Selector: sel, Mailbox: mbox})

	mbox.SetTitle("Rover")
	mbox.ShowStatistics([]telemetry.Stat{{Name: "nav", Iterations: 12, TimeExecMean: 0.0015}})
	mbox.ShowActivities([]telemetry.Activity{{ID: 3, Active: true, Periodic: true, Period: 0.5, Policy: "SCHED_FIFO"}})
	mbox.AppendConsole("boot\n")
	mbox.AppendConsole("ready")

	msg := mbox.Wait()()
	m, cmd := send(t, m, msg)
	if cmd == nil {
		t.Fatalf("model must keep waiting on the mailbox")
	}
	if m.title != "Rover" {
		t.Fatalf("title=%q", m.title)
	}
	if rows := m.stats.Rows(); len(rows) != 1 || rows[0][0] != "nav" || rows[0][1] != "12" || rows[0][5] != "0.001500" {
		t.Fatalf("stat rows=%v", rows)
	}
	if rows := m.activities.Rows(); len(rows) != 1 || rows[0][1] != "Yes" || rows[0][3] != "0.5" {
		t.Fatalf("activity rows=%v", rows)
	}
	if got := m.consoleBuf.String(); got != "boot\nready" {
		t.Fatalf("console=%q", got)
	}

	out := m.View()
	if !strings.Contains(out, "Rover") || !strings.Contains(out, "nav") {
		t.Fatalf("view missing content:\n%s", out)
	}
}

func TestConsoleAccumulatesAcrossFrames(t *testing.T) {
	mbox := NewMailbox()
	m := newTestModel(t, Options{Mailbox: mbox})
	for _, chunk := range []string{"", "a\n", "a\n", "b"} {
		mbox.AppendConsole(chunk)
		m, _ = send(t, m, mbox.Wait()())
	}
	if got := m.consoleBuf.String(); got != "\na\na\nb" {
		t.Fatalf("console=%q", got)
	}
	if m.consoleN != 4 {
		t.Fatalf("console lines=%d", m.consoleN)
	}
}

func TestMailboxCoalescesAndNeverBlocks(t *testing.T) {
	mbox := NewMailbox()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			mbox.ShowTasks([]telemetry.Task{{Name: "t"}})
			mbox.AppendConsole("x")
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("projections blocked without a reader")
	}

	f := mbox.Wait()().(frameMsg)
	if !f.hasTasks || len(f.tasks) != 1 {
		t.Fatalf("tasks not coalesced: %+v", f.tasks)
	}
	if len(f.console) != 1000 {
		t.Fatalf("console lines lost: %d", len(f.console))
	}
	if again := mbox.drain(); again.hasTasks || len(again.console) != 0 {
		t.Fatalf("drain did not reset")
	}
}

func TestEventsUpdateStatus(t *testing.T) {
	m := newTestModel(t, Options{})
	m, _ = send(t, m, eventbus.Event{Topic: eventbus.TopicConnection, Data: ingest.StateChange{State: ingest.Open}})
	if m.conn != ingest.Open {
		t.Fatalf("conn=%v", m.conn)
	}
	m, _ = send(t, m, eventbus.Event{Topic: eventbus.TopicConnection, Data: ingest.StateChange{State: ingest.Closed, Err: ingest.ErrClosed}})
	if m.conn != ingest.Closed || m.connErr == "" {
		t.Fatalf("conn=%v err=%q", m.conn, m.connErr)
	}
	m, _ = send(t, m, eventbus.Event{Topic: eventbus.TopicControl, Data: control.Result{Action: control.ActionResetStats, Err: errors.New("http 500")}})
	if !m.statusErr || !strings.Contains(m.status, "http 500") {
		t.Fatalf("status=%q", m.status)
	}
}

func TestBannerIsShown(t *testing.T) {
	m := newTestModel(t, Options{Banner: "transport unavailable: ftp://x"})
	if !strings.Contains(m.View(), "transport unavailable") {
		t.Fatalf("banner missing")
	}
}

func TestGraphsView(t *testing.T) {
	sel := view.NewSelector(view.Graphs)
	mbox := NewMailbox()
	m := newTestModel(t, Options{Selector: sel, Mailbox: mbox})
	mbox.ShowGraphs(
		render.BarChart{Names: []string{"a", "b"}, Mean: []float64{1, 2}, Stddev: []float64{0.1, 0.2}},
		[]render.LinePlot{{SeriesID: "a", Samples: []float64{1, 2, 3}}},
	)
	m, _ = send(t, m, mbox.Wait()())
	out := m.View()
	if !strings.Contains(out, "2.000000") || !strings.Contains(out, "▁") {
		t.Fatalf("graphs view:\n%s", out)
	}
}

type recordingSender struct{ got chan tea.Msg }

func (r recordingSender) Send(msg tea.Msg) { r.got <- msg }

func TestForwardRelaysBusEvents(t *testing.T) {
	bus := eventbus.New()
	rec := recordingSender{got: make(chan tea.Msg, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	go func() {
		close(ready)
		Forward(ctx, rec, bus)
	}()
	<-ready

	deadline := time.After(2 * time.Second)
	for {
		bus.Publish(eventbus.Event{Topic: eventbus.TopicView, Data: view.Graphs})
		bus.Publish(eventbus.Event{Topic: eventbus.TopicConnection, Data: ingest.StateChange{State: ingest.Open}})
		select {
		case msg := <-rec.got:
			ev := msg.(eventbus.Event)
			if ev.Topic != eventbus.TopicConnection {
				t.Fatalf("unexpected topic %q", ev.Topic)
			}
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("nothing forwarded")
		}
	}
}
