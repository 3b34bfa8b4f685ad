package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"cocoview/internal/control"
	"cocoview/internal/eventbus"
	"cocoview/internal/ingest"
	"cocoview/internal/render"
	"cocoview/internal/telemetry"
	"cocoview/internal/view"
)

// statusFadeDelay is how long a command result stays in the status bar.
const statusFadeDelay = 5 * time.Second

// chromeLines is title + tabs + spacer + status.
const chromeLines = 4

type statusFadeMsg struct{ seq int }

type Options struct {
	Selector *view.Selector
	Mailbox  *Mailbox

	// Reset requests reset_stats without waiting. Nil disables the key.
	Reset func() error

	// URL is shown in the status bar.
	URL string
	// Banner is a persistent error shown above every view
	// (e.g. the push transport is unavailable).
	Banner string

	Keys *KeyMap
}

// Model is the bubbletea model. The active view lives in the shared
// view.Selector so the render scheduler sees key presses immediately.
type Model struct {
	keys  KeyMap
	sel   *view.Selector
	mbox  *Mailbox
	reset func() error

	width  int
	height int

	title   string
	url     string
	conn    ingest.ConnectionState
	connErr string
	banner  string

	status    string
	statusErr bool
	statusSeq int

	activities table.Model
	tasks      table.Model
	stats      table.Model

	bars  render.BarChart
	lines []render.LinePlot

	console    viewport.Model
	consoleBuf *strings.Builder
	consoleN   int
	follow     bool

	help help.Model
}

func New(opts Options) Model {
	keys := DefaultKeyMap
	if opts.Keys != nil {
		keys = *opts.Keys
	}
	sel := opts.Selector
	if sel == nil {
		sel = view.NewSelector(view.Default)
	}
	mbox := opts.Mailbox
	if mbox == nil {
		mbox = NewMailbox()
	}
	return Model{
		keys:       keys,
		sel:        sel,
		mbox:       mbox,
		reset:      opts.Reset,
		url:        opts.URL,
		banner:     opts.Banner,
		conn:       ingest.Connecting,
		activities: newTable(activityColumns()),
		tasks:      newTable(taskColumns()),
		stats:      newTable(statColumns()),
		console:    viewport.New(80, 20),
		consoleBuf: &strings.Builder{},
		follow:     true,
		help:       help.New(),
	}
}

func newTable(cols []table.Column) table.Model {
	t := table.New(table.WithColumns(cols), table.WithFocused(true), table.WithHeight(10))
	s := table.DefaultStyles()
	s.Header = s.Header.BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Bold(true)
	s.Selected = s.Selected.Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(false)
	t.SetStyles(s)
	return t
}

func activityColumns() []table.Column {
	return []table.Column{
		{Title: "ID", Width: 6},
		{Title: "Active", Width: 8},
		{Title: "Periodic", Width: 10},
		{Title: "Period", Width: 12},
		{Title: "Policy", Width: 16},
	}
}

func taskColumns() []table.Column {
	return []table.Column{
		{Title: "Name", Width: 24},
		{Title: "Class", Width: 18},
		{Title: "Type", Width: 14},
		{Title: "State", Width: 12},
	}
}

func statColumns() []table.Column {
	return []table.Column{
		{Title: "Name", Width: 20},
		{Title: "Iterations", Width: 10},
		{Title: "Time", Width: 10},
		{Title: "Mean", Width: 10},
		{Title: "StdDev", Width: 10},
		{Title: "Exec mean", Width: 10},
		{Title: "Exec stddev", Width: 11},
		{Title: "Min", Width: 10},
		{Title: "Max", Width: 10},
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.mbox.Wait()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case frameMsg:
		m.applyFrame(msg)
		return m, m.mbox.Wait()

	case eventbus.Event:
		return m.handleEvent(msg)

	case statusFadeMsg:
		if msg.seq == m.statusSeq {
			m.status, m.statusErr = "", false
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Next):
		m.sel.SetActive(m.sel.Active().Next())
		return m, nil
	case key.Matches(msg, m.keys.Prev):
		m.sel.SetActive(m.sel.Active().Prev())
		return m, nil
	case key.Matches(msg, m.keys.Reset):
		return m, m.requestReset()
	}
	for i, b := range m.keys.Views {
		if key.Matches(msg, b) {
			m.sel.SetActive(view.ID(i))
			return m, nil
		}
	}

	var cmd tea.Cmd
	switch m.sel.Active() {
	case view.Activities:
		m.activities, cmd = m.activities.Update(msg)
	case view.Tasks:
		m.tasks, cmd = m.tasks.Update(msg)
	case view.Statistics:
		m.stats, cmd = m.stats.Update(msg)
	case view.Console:
		switch {
		case key.Matches(msg, m.keys.Bottom):
			m.follow = true
			m.console.GotoBottom()
			return m, nil
		case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.PageUp):
			m.follow = false
		}
		m.console, cmd = m.console.Update(msg)
		if m.console.AtBottom() {
			m.follow = true
		}
	}
	return m, cmd
}

func (m *Model) requestReset() tea.Cmd {
	if m.reset == nil {
		return m.setStatus("reset unavailable", true)
	}
	if err := m.reset(); err != nil {
		return m.setStatus("reset_stats: "+err.Error(), true)
	}
	return m.setStatus("reset_stats requested", false)
}

func (m *Model) setStatus(text string, isErr bool) tea.Cmd {
	m.statusSeq++
	m.status, m.statusErr = text, isErr
	seq := m.statusSeq
	return tea.Tick(statusFadeDelay, func(time.Time) tea.Msg { return statusFadeMsg{seq: seq} })
}

func (m Model) handleEvent(ev eventbus.Event) (tea.Model, tea.Cmd) {
	switch d := ev.Data.(type) {
	case ingest.StateChange:
		m.conn = d.State
		m.connErr = ""
		if d.Err != nil {
			m.connErr = d.Err.Error()
		}
		return m, nil
	case control.Result:
		if d.Err != nil {
			return m, m.setStatus(fmt.Sprintf("%s failed: %v", d.Action, d.Err), true)
		}
		return m, m.setStatus(fmt.Sprintf("%s ok (%s)", d.Action, d.Took.Round(time.Millisecond)), false)
	}
	return m, nil
}

func (m *Model) applyFrame(f frameMsg) {
	if f.hasTitle {
		m.title = f.title
	}
	if f.hasActivities {
		m.activities.SetRows(activityRows(f.activities))
	}
	if f.hasTasks {
		m.tasks.SetRows(taskRows(f.tasks))
	}
	if f.hasStats {
		m.stats.SetRows(statRows(f.stats))
	}
	if f.hasGraphs {
		m.bars, m.lines = f.bars, f.lines
	}
	if len(f.console) > 0 {
		for _, chunk := range f.console {
			if m.consoleN > 0 {
				m.consoleBuf.WriteByte('\n')
			}
			m.consoleBuf.WriteString(strings.TrimRight(chunk, "\n"))
			m.consoleN++
		}
		m.console.SetContent(m.consoleBuf.String())
		if m.follow {
			m.console.GotoBottom()
		}
	}
}

func (m *Model) resize(w, h int) {
	m.width, m.height = w, h
	m.help.Width = w
	body := m.bodyHeight()
	for _, t := range []*table.Model{&m.activities, &m.tasks, &m.stats} {
		t.SetHeight(body)
		t.SetWidth(w)
	}
	m.console.Width = w
	m.console.Height = body
	if m.follow {
		m.console.GotoBottom()
	}
}

func (m Model) bodyHeight() int {
	h := m.height - chromeLines
	if m.banner != "" {
		h--
	}
	return max(h, 3)
}

func activityRows(in []telemetry.Activity) []table.Row {
	rows := make([]table.Row, len(in))
	for i, a := range in {
		rows[i] = table.Row{
			strconv.Itoa(a.ID),
			yesNo(a.Active),
			yesNo(a.Periodic),
			strconv.FormatFloat(a.Period, 'g', -1, 64),
			a.Policy,
		}
	}
	return rows
}

func taskRows(in []telemetry.Task) []table.Row {
	rows := make([]table.Row, len(in))
	for i, t := range in {
		rows[i] = table.Row{t.Name, t.Class, t.Type, t.State}
	}
	return rows
}

func statRows(in []telemetry.Stat) []table.Row {
	rows := make([]table.Row, len(in))
	for i, s := range in {
		rows[i] = table.Row{
			s.Name,
			strconv.FormatFloat(s.Iterations, 'f', 0, 64),
			fmtTime(s.Time),
			fmtTime(s.TimeMean),
			fmtTime(s.TimeStddev),
			fmtTime(s.TimeExecMean),
			fmtTime(s.TimeExecStddev),
			fmtTime(s.TimeMin),
			fmtTime(s.TimeMax),
		}
	}
	return rows
}

func fmtTime(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	active := m.sel.Active()

	var b strings.Builder
	b.WriteString(m.renderTitleBar())
	b.WriteRune('\n')
	b.WriteString(m.renderTabBar(active))
	b.WriteRune('\n')
	if m.banner != "" {
		b.WriteString(bannerStyle.Width(m.width).Render(truncate(m.banner, max(m.width-2, 1))))
		b.WriteRune('\n')
	}
	b.WriteRune('\n')

	var content string
	switch active {
	case view.Activities:
		content = m.activities.View()
	case view.Tasks:
		content = m.tasks.View()
	case view.Statistics:
		content = m.stats.View()
	case view.Graphs:
		content = renderBars(m.bars, m.width)
		if l := renderLines(m.lines, m.width); l != "" {
			content += "\n\n" + l
		}
	case view.Console:
		content = m.console.View()
	}
	content = lipgloss.NewStyle().MaxHeight(m.bodyHeight()).MaxWidth(m.width).Render(content)
	b.WriteString(content)

	rendered := strings.Count(b.String(), "\n")
	for rendered < m.height-1 {
		b.WriteRune('\n')
		rendered++
	}
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderTitleBar() string {
	left := titleStyle.Render("cocoview")
	if m.title != "" {
		left += " " + lipgloss.NewStyle().Bold(true).Render(m.title)
	}
	right := m.renderConn()
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)))
	return left + gap + right
}

func (m Model) renderConn() string {
	label := "● " + m.conn.String()
	switch m.conn {
	case ingest.Open:
		return okStyle.Render(label)
	case ingest.Connecting:
		return dimStyle.Render(label)
	default:
		return errStyle.Render(label)
	}
}

func (m Model) renderTabBar(active view.ID) string {
	tabs := make([]string, 0, len(view.All()))
	for _, id := range view.All() {
		label := fmt.Sprintf("%d %s", int(id)+1, id.Title())
		if id == active {
			tabs = append(tabs, tabActiveStyle.Render(label))
		} else {
			tabs = append(tabs, tabInactiveStyle.Render(label))
		}
	}
	return strings.Join(tabs, " ")
}

func (m Model) renderStatusBar() string {
	var left string
	switch {
	case m.status != "" && m.statusErr:
		left = errStyle.Render(" " + m.status)
	case m.status != "":
		left = " " + m.status
	case m.connErr != "" && m.conn != ingest.Open:
		left = errStyle.Render(" " + m.connErr)
	default:
		left = " " + m.help.ShortHelpView(m.keys.ShortHelp())
	}
	right := dimStyle.Render(m.url + " ")
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)))
	return statusBarStyle.Render(left + gap + right)
}
