package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"cocoview/internal/render"
	"cocoview/internal/telemetry"
)

// Mailbox implements render.Views without ever blocking the render tick.
// Table and graph projections are coalesced (latest wins); console lines and
// the title are queued in order. The model drains it with Wait.
type Mailbox struct {
	mu      sync.Mutex
	pending frameMsg
	notify  chan struct{}
}

var _ render.Views = (*Mailbox)(nil)

// frameMsg is everything projected since the last drain.
type frameMsg struct {
	activities    []telemetry.Activity
	hasActivities bool
	tasks         []telemetry.Task
	hasTasks      bool
	stats         []telemetry.Stat
	hasStats      bool
	bars          render.BarChart
	lines         []render.LinePlot
	hasGraphs     bool
	console       []string
	title         string
	hasTitle      bool
}

func NewMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{}, 1)}
}

func (m *Mailbox) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Mailbox) ShowActivities(rows []telemetry.Activity) {
	m.mu.Lock()
	m.pending.activities, m.pending.hasActivities = rows, true
	m.mu.Unlock()
	m.signal()
}

func (m *Mailbox) ShowTasks(rows []telemetry.Task) {
	m.mu.Lock()
	m.pending.tasks, m.pending.hasTasks = rows, true
	m.mu.Unlock()
	m.signal()
}

func (m *Mailbox) ShowStatistics(rows []telemetry.Stat) {
	m.mu.Lock()
	m.pending.stats, m.pending.hasStats = rows, true
	m.mu.Unlock()
	m.signal()
}

func (m *Mailbox) ShowGraphs(bars render.BarChart, lines []render.LinePlot) {
	m.mu.Lock()
	m.pending.bars, m.pending.lines, m.pending.hasGraphs = bars, lines, true
	m.mu.Unlock()
	m.signal()
}

func (m *Mailbox) AppendConsole(line string) {
	m.mu.Lock()
	m.pending.console = append(m.pending.console, line)
	m.mu.Unlock()
	m.signal()
}

func (m *Mailbox) SetTitle(title string) {
	m.mu.Lock()
	m.pending.title, m.pending.hasTitle = title, true
	m.mu.Unlock()
	m.signal()
}

func (m *Mailbox) drain() frameMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.pending
	m.pending = frameMsg{}
	return f
}

// Wait returns a command that blocks until something was projected and then
// delivers it as one message.
func (m *Mailbox) Wait() tea.Cmd {
	return func() tea.Msg {
		<-m.notify
		return m.drain()
	}
}
