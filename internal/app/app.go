package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/coreos/go-systemd/v22/daemon"

	"cocoview/internal/config"
	"cocoview/internal/control"
	"cocoview/internal/eventbus"
	"cocoview/internal/ingest"
	"cocoview/internal/observability/debug"
	"cocoview/internal/render"
	rtsup "cocoview/internal/runtime/supervisor"
	"cocoview/internal/storage"
	"cocoview/internal/task/engine"
	"cocoview/internal/task/scheduler"
	"cocoview/internal/telemetry"
	"cocoview/internal/tui"
	"cocoview/internal/view"
	"cocoview/internal/window"
	logx "cocoview/pkg/logx"
)

type Options struct {
	ConfigPath string
	Overrides  config.Overrides
	Version    string
}

// Session wires one dashboard: the push channel feeding the snapshot store,
// the render loop projecting it, and the control commands going back out.
type Session struct {
	version   string
	startedAt time.Time
	headless  bool

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	telem  *telemetry.Store
	bank   *window.Bank
	sel    *view.Selector
	views  render.Views
	mbox   *tui.Mailbox
	render *render.Scheduler

	channel      *ingest.Channel
	transportErr error

	engine *engine.Service
	sched  *scheduler.Service
	disp   *control.Dispatcher
	debug  *debug.Service

	prefs chan view.ID
}

func New(opts Options) (*Session, error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfgm.SetOverrides(opts.Overrides)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	headless := cfg.Render.Headless

	// The terminal UI owns the screen; only file sinks may write while it runs.
	logs, log := logx.New(mapLogConfig(cfg, !headless))

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	var store storage.Store
	if enabled {
		store, err = storage.Open(sc, log)
		if err != nil {
			_ = logs.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	ec, err := mapTaskEngineConfig(cfg)
	if err != nil {
		closeStore(store)
		_ = logs.Close()
		return nil, err
	}

	s := &Session{
		version:  opts.Version,
		headless: headless,
		cfgm:     cfgm,
		log:      log,
		logs:     logs,
		bus:      eventbus.New(),
		store:    store,
		telem:    telemetry.NewStore(),
		bank:     window.NewBank(),
		prefs:    make(chan view.ID, 1),
	}

	stored := ""
	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		v, ok, err := store.GetPref(ctx, storage.PrefActiveView)
		cancel()
		if err != nil {
			log.Warn("read view preference failed", logx.Err(err))
		} else if ok {
			stored = v
		}
	}
	s.sel = view.NewSelector(initialView(cfg, opts.Overrides.DefaultView, stored))
	s.sel.OnChange(s.onViewChange)

	if headless {
		s.views = render.NewLogViews(log.With(logx.String("comp", "views")))
	} else {
		s.mbox = tui.NewMailbox()
		s.views = s.mbox
	}
	s.render = render.NewScheduler(mapRenderConfig(cfg), s.telem, s.bank, s.sel, s.views, log.With(logx.String("comp", "render")))

	ch, err := ingest.New(mapIngestConfig(cfg), s.telem, log.With(logx.String("comp", "ingest")), s.bus)
	switch {
	case errors.Is(err, ingest.ErrTransportUnavailable):
		s.transportErr = err
		log.Error("push channel unavailable; showing an empty dashboard", logx.Err(err))
	case err != nil:
		closeStore(store)
		_ = logs.Close()
		return nil, err
	default:
		s.channel = ch
	}

	s.engine = engine.New(ec, log.With(logx.String("comp", "taskengine")), s.bus)
	s.sched = scheduler.New(mapSchedulerConfig(cfg), s.engine, log.With(logx.String("comp", "scheduler")))

	client, err := control.NewClient(cfg.Server.URL, controlTimeout(cfg))
	if err != nil {
		log.Warn("control commands disabled", logx.Err(err))
	} else {
		s.disp = control.NewDispatcher(client, s.engine, store, s.bus, log.With(logx.String("comp", "control")), mapDispatcherConfig(cfg))
	}

	s.debug = debug.New(mapDebugConfig(cfg), s.State, log.With(logx.String("comp", "debug")))
	return s, nil
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}

func (s *Session) Headless() bool { return s.headless }

func (s *Session) Logger() logx.Logger { return s.log }

// Done is closed when the session supervisor is canceled (fatal error or Stop).
func (s *Session) Done() <-chan struct{} {
	if s.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (s *Session) Err() error {
	if s.sup == nil {
		return nil
	}
	return s.sup.Err()
}

// onViewChange runs on the goroutine that switched views (usually the UI);
// persisting is handed to prefs.persist so it never waits on disk.
func (s *Session) onViewChange(id view.ID) {
	s.bus.Publish(eventbus.Event{Topic: eventbus.TopicView, Time: time.Now(), Data: id})
	select {
	case s.prefs <- id:
	default:
		select {
		case <-s.prefs:
		default:
		}
		select {
		case s.prefs <- id:
		default:
		}
	}
}

func (s *Session) Start(ctx context.Context) error {
	s.startedAt = time.Now()
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(true))

	s.cfgm.SetLogger(s.log.With(logx.String("comp", "config")))
	s.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if spec := strings.TrimSpace(cfg.Control.ResetSchedule); spec != "" {
			if _, err := scheduler.ParseSchedule(spec); err != nil {
				return fmt.Errorf("control.reset_schedule: %w", err)
			}
		}
		return nil
	})

	runCtx := s.sup.Context()
	cfg := s.cfgm.Get()

	s.engine.Start(runCtx)
	if err := s.applyResetSchedule(cfg); err != nil {
		return err
	}
	s.sched.Start(runCtx)
	s.debug.Start(runCtx)

	if s.disp != nil {
		err := s.disp.RequestInfo(control.SourceStartup, func(info control.Info) {
			if info.ProjectName != "" {
				s.views.SetTitle(info.ProjectName)
			}
		})
		if err != nil {
			s.log.Warn("info request not queued", logx.Err(err))
		}
	}

	s.startIngest(cfg)
	s.sup.Go("render", s.render.Run)
	s.sup.Go0("prefs.persist", s.persistPrefs)

	events, unsub := s.bus.Subscribe(128)
	s.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				s.log.Debug("event", logx.String("topic", e.Topic), logx.Time("time", e.Time))
			}
		}
	})

	sub := s.cfgm.Subscribe(8)
	s.sup.Go0("config.reload", func(c context.Context) {
		defer s.cfgm.Unsubscribe(sub)
		lastApplied := s.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				s.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	s.sup.Go("config.watch", s.cfgm.Watch)

	if s.headless {
		s.sup.Go0("systemd.watchdog", func(c context.Context) { watchdogLoop(c, s.log) })
		sdNotify(s.log, daemon.SdNotifyReady)
	}

	s.log.Info("session started",
		logx.String("url", cfg.Server.URL),
		logx.String("view", s.sel.Active().String()),
		logx.Bool("headless", s.headless),
		logx.Bool("storage", s.store != nil),
	)
	return nil
}

func (s *Session) startIngest(cfg *config.Config) {
	if s.channel == nil {
		return
	}
	if lo, hi, ok := reconnectBackoff(cfg); ok {
		s.sup.GoRestart("ingest", s.channel.Run, rtsup.WithRestartBackoff(lo, hi))
		return
	}
	s.sup.Go("ingest", func(c context.Context) error {
		err := s.channel.Run(c)
		if err != nil && c.Err() == nil {
			// Without reconnect the dashboard keeps showing the last snapshot.
			s.log.Warn("push channel ended", logx.Err(err))
		}
		return nil
	})
}

func (s *Session) persistPrefs(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.prefs:
			if s.store == nil {
				continue
			}
			c, cancel := context.WithTimeout(ctx, time.Second)
			err := s.store.PutPref(c, storage.PrefActiveView, id.String())
			cancel()
			if err != nil {
				s.log.Warn("persist view preference failed", logx.Err(err))
			}
		}
	}
}

func (s *Session) applyResetSchedule(cfg *config.Config) error {
	spec := strings.TrimSpace(cfg.Control.ResetSchedule)
	if spec == "" || s.disp == nil {
		s.sched.Remove(resetScheduleName)
		return nil
	}
	return s.sched.AddSchedule(resetScheduleName, spec, controlTimeout(cfg), s.disp.RunReset)
}

func (s *Session) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		s.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	s.log.Debug("config change summary", fields...)

	for _, sec := range sections {
		switch sec {
		case "storage":
			s.log.Warn("storage config changed; restart required for changes to take effect")
		case "server":
			s.log.Warn("server config changed; restart required for changes to take effect")
		}
	}
	if prev.Render.Headless != next.Render.Headless {
		s.log.Warn("render.headless changed; restart required for changes to take effect")
	}

	s.logs.Apply(mapLogConfig(next, !s.headless))
	s.render.Apply(mapRenderConfig(next))

	if ec, err := mapTaskEngineConfig(next); err != nil {
		s.log.Warn("task engine config rejected", logx.Err(err))
	} else {
		s.engine.Apply(ctx, ec)
	}

	if s.disp != nil {
		s.disp.Apply(mapDispatcherConfig(next))
	}
	if prev.Control != next.Control || prev.Server.ControlTimeout != next.Server.ControlTimeout {
		s.sched.Apply(mapSchedulerConfig(next))
		if err := s.applyResetSchedule(next); err != nil {
			s.log.Warn("reset schedule rejected", logx.Err(err))
		}
	}

	s.debug.Reconfigure(ctx, mapDebugConfig(next))

	s.log.Info("config reloaded", fields...)
}

// Run drives the terminal UI until the user quits or ctx ends. In headless
// mode it only waits. A nil error covers both user quit and cancellation.
func (s *Session) Run(ctx context.Context) (StopReason, error) {
	if s.sup == nil {
		return StopUnknown, errors.New("session not started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.sup.Context(), cancel)
	defer stop()

	if s.headless {
		<-runCtx.Done()
		return s.exitReason(ctx), nil
	}

	banner := ""
	if s.transportErr != nil {
		banner = s.transportErr.Error()
	}
	var reset func() error
	if s.disp != nil {
		reset = func() error { return s.disp.RequestReset(control.SourceKey) }
	}
	model := tui.New(tui.Options{
		Selector: s.sel,
		Mailbox:  s.mbox,
		Reset:    reset,
		URL:      s.pushURL(),
		Banner:   banner,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(runCtx))
	s.sup.Go0("tui.forward", func(context.Context) { tui.Forward(runCtx, program, s.bus) })

	_, err := program.Run()
	if err != nil && runCtx.Err() == nil {
		return StopFatalError, err
	}
	if ctx.Err() != nil || s.sup.Context().Err() != nil {
		return s.exitReason(ctx), nil
	}
	return StopUserQuit, nil
}

func (s *Session) exitReason(ctx context.Context) StopReason {
	switch {
	case s.sup.Err() != nil:
		return StopFatalError
	case ctx.Err() != nil:
		return StopSignal
	default:
		return StopUnknown
	}
}

func (s *Session) pushURL() string {
	if s.channel != nil {
		return s.channel.URL()
	}
	if cfg := s.cfgm.Get(); cfg != nil {
		return cfg.Server.URL
	}
	return ""
}

func (s *Session) Stop(ctx context.Context, reason StopReason) error {
	if s.sup == nil {
		closeStore(s.store)
		_ = s.logs.Close()
		return nil
	}
	s.log.Info("stopping", logx.String("reason", string(reason)))
	if s.headless {
		sdNotify(s.log, daemon.SdNotifyStopping)
	}

	s.sup.Cancel()

	runStep(ctx, s.log, "scheduler", 2*time.Second, func(c context.Context) error { s.sched.Stop(c); return nil })
	runStep(ctx, s.log, "taskengine", 2*time.Second, func(c context.Context) error { s.engine.Stop(c); return nil })
	runStep(ctx, s.log, "ingest", time.Second, func(context.Context) error {
		if s.channel == nil {
			return nil
		}
		return s.channel.Close()
	})
	runStep(ctx, s.log, "debug", time.Second, func(c context.Context) error { s.debug.Stop(c); return nil })
	runStep(ctx, s.log, "supervisor", 2*time.Second, func(c context.Context) error { return s.sup.Wait(c) })
	runStep(ctx, s.log, "storage", time.Second, func(context.Context) error {
		if s.store == nil {
			return nil
		}
		return s.store.Close()
	})

	s.log.Info("stopped", logx.Uint64("snapshots", s.telem.Replaced()))
	return s.logs.Close()
}
