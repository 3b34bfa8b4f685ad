// Package render drives the dashboard: a single timer loop that samples the
// latest Snapshot and projects only the active view.
package render

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cocoview/internal/telemetry"
	"cocoview/internal/view"
	"cocoview/internal/window"
	logx "cocoview/pkg/logx"
)

const (
	DefaultTickInterval  = 200 * time.Millisecond
	DefaultProbeInterval = 100 * time.Millisecond

	minInterval = 10 * time.Millisecond
)

type Config struct {
	// TickInterval is the delay between ticks once a Snapshot exists.
	TickInterval time.Duration
	// ProbeInterval is the delay between ticks while waiting for the first Snapshot.
	ProbeInterval time.Duration
}

func (c Config) normalized() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.TickInterval < minInterval {
		c.TickInterval = minInterval
	}
	if c.ProbeInterval < minInterval {
		c.ProbeInterval = minInterval
	}
	return c
}

type State int

const (
	Idle State = iota
	Rendering
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Rendering:
		return "rendering"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stats is published at the end of every tick.
type Stats struct {
	State        string            `json:"state"`
	Active       string            `json:"active_view"`
	Ticks        uint64            `json:"ticks"`
	IdleTicks    uint64            `json:"idle_ticks"`
	Panics       uint64            `json:"panics"`
	Projections  map[string]uint64 `json:"projections"`
	Series       int               `json:"series"`
	ConsoleLines uint64            `json:"console_lines"`
	Title        string            `json:"title,omitempty"`
	LastTickAt   time.Time         `json:"last_tick_at"`
}

// Scheduler owns the render loop. The window Bank and all tick state are
// touched only while tickMu is held, so ticks never overlap.
type Scheduler struct {
	cfg   atomic.Pointer[Config]
	store *telemetry.Store
	bank  *window.Bank
	sel   *view.Selector
	views Views
	log   logx.Logger

	tickMu       sync.Mutex
	state        State
	title        string
	ticks        uint64
	idleTicks    uint64
	panics       uint64
	consoleLines uint64
	projections  [view.Console + 1]uint64

	stats atomic.Pointer[Stats]
}

func NewScheduler(cfg Config, store *telemetry.Store, bank *window.Bank, sel *view.Selector, views Views, log logx.Logger) *Scheduler {
	if bank == nil {
		bank = window.NewBank()
	}
	if sel == nil {
		sel = view.NewSelector(view.Default)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		store: store,
		bank:  bank,
		sel:   sel,
		views: views,
		log:   log,
	}
	s.Apply(cfg)
	s.publish(time.Time{})
	return s
}

// Apply swaps the tick intervals; the next delay returned by Tick uses them.
func (s *Scheduler) Apply(cfg Config) {
	c := cfg.normalized()
	s.cfg.Store(&c)
}

func (s *Scheduler) Config() Config { return *s.cfg.Load() }

func (s *Scheduler) Stats() Stats {
	if p := s.stats.Load(); p != nil {
		return *p
	}
	return Stats{}
}

// Run ticks until ctx is done. It is the only way the loop ends.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("render loop started", logx.Duration("tick", s.Config().TickInterval), logx.Duration("probe", s.Config().ProbeInterval))
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("render loop stopped", logx.Uint64("ticks", s.Stats().Ticks))
			return ctx.Err()
		case <-t.C:
		}
		t.Reset(s.Tick())
	}
}

// Tick runs one unit of render work and returns the delay before the next one.
func (s *Scheduler) Tick() time.Duration {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	cfg := s.Config()
	now := time.Now()
	s.ticks++
	defer s.publish(now)

	snap, ok := s.store.Current()
	if !ok {
		s.state = Idle
		s.idleTicks++
		return cfg.ProbeInterval
	}
	if s.state == Idle {
		s.log.Debug("first snapshot available", logx.String("project", snap.ProjectName))
	}
	s.state = Rendering

	s.project(snap)
	return cfg.TickInterval
}

// project renders the active view. A panicking widget is logged and the
// loop keeps going on the next tick.
func (s *Scheduler) project(snap *telemetry.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.panics++
			s.log.Error("render projection panicked", logx.Any("panic", r), logx.String("view", s.sel.Active().String()))
		}
	}()

	if snap.ProjectName != "" && snap.ProjectName != s.title {
		s.title = snap.ProjectName
		s.views.SetTitle(s.title)
	}

	active := s.sel.Active()
	switch active {
	case view.Activities:
		s.views.ShowActivities(snap.Activities)
	case view.Tasks:
		s.views.ShowTasks(snap.Tasks)
	case view.Statistics:
		s.views.ShowStatistics(snap.Stats)
	case view.Graphs:
		s.views.ShowGraphs(s.graphs(snap))
	case view.Console:
		s.consoleLines++
		s.views.AppendConsole(snap.Log)
	default:
		return
	}
	s.projections[active]++
}

// graphs feeds the bank with one sample per distinct stat name (the last
// record wins) and builds both graph projections.
func (s *Scheduler) graphs(snap *telemetry.Snapshot) (BarChart, []LinePlot) {
	latest := make(map[string]float64, len(snap.Stats))
	for _, st := range snap.Stats {
		latest[st.Name] = st.TimeInst
	}
	names := snap.StatNames()
	lines := make([]LinePlot, 0, len(names))
	for _, name := range names {
		s.bank.Push(name, latest[name])
		lines = append(lines, LinePlot{SeriesID: name, Samples: s.bank.SeriesFor(name)})
	}
	return barChart(snap.Stats), lines
}

func (s *Scheduler) publish(now time.Time) {
	proj := make(map[string]uint64, len(s.projections))
	for _, id := range view.All() {
		proj[id.String()] = s.projections[id]
	}
	s.stats.Store(&Stats{
		State:        s.state.String(),
		Active:       s.sel.Active().String(),
		Ticks:        s.ticks,
		IdleTicks:    s.idleTicks,
		Panics:       s.panics,
		Projections:  proj,
		Series:       s.bank.Len(),
		ConsoleLines: s.consoleLines,
		Title:        s.title,
		LastTickAt:   now,
	})
}
