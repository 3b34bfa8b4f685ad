package app

import (
	"fmt"
	"strings"
	"time"

	"cocoview/internal/config"
	"cocoview/internal/control"
	"cocoview/internal/ingest"
	"cocoview/internal/observability/debug"
	"cocoview/internal/render"
	"cocoview/internal/storage"
	"cocoview/internal/task/engine"
	"cocoview/internal/task/scheduler"
	"cocoview/internal/view"
	logx "cocoview/pkg/logx"
)

const (
	defaultReconnectMin = 500 * time.Millisecond
	defaultReconnectMax = 30 * time.Second
)

// resetScheduleName is the scheduler entry that issues reset_stats.
const resetScheduleName = "control.reset"

func mapLogConfig(cfg *config.Config, quiet bool) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Quiet: quiet,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: strings.TrimSpace(sc.Path)}, true, nil
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapIngestConfig(cfg *config.Config) ingest.Config {
	return ingest.Config{
		URL:              cfg.Server.URL,
		HandshakeTimeout: config.MustDuration(cfg.Server.HandshakeTimeout, ingest.DefaultHandshakeTimeout),
		ReadTimeout:      config.MustDuration(cfg.Server.ReadTimeout, ingest.DefaultReadTimeout),
	}
}

// reconnectBackoff returns the restart bounds for the ingest loop, ok=false
// when reconnecting is off.
func reconnectBackoff(cfg *config.Config) (lo, hi time.Duration, ok bool) {
	rc := cfg.Server.Reconnect
	if !rc.Enabled {
		return 0, 0, false
	}
	lo = config.MustDuration(rc.MinBackoff, defaultReconnectMin)
	hi = config.MustDuration(rc.MaxBackoff, defaultReconnectMax)
	if lo <= 0 {
		lo = defaultReconnectMin
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi, true
}

func mapRenderConfig(cfg *config.Config) render.Config {
	return render.Config{
		TickInterval:  config.MustDuration(cfg.Render.TickInterval, render.DefaultTickInterval),
		ProbeInterval: config.MustDuration(cfg.Render.ProbeInterval, render.DefaultProbeInterval),
	}
}

func controlTimeout(cfg *config.Config) time.Duration {
	return config.MustDuration(cfg.Server.ControlTimeout, control.DefaultTimeout)
}

func mapDispatcherConfig(cfg *config.Config) control.DispatcherConfig {
	return control.DispatcherConfig{
		RatePerSec: cfg.Control.RatePerSec,
		Burst:      1,
		Timeout:    controlTimeout(cfg),
	}
}

// mapTaskEngineConfig keeps the engine enabled: control commands always run on it.
// An unset default timeout falls back to server.control_timeout.
func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	if defTimeout == 0 {
		defTimeout = controlTimeout(cfg)
	}
	return engine.Config{
		Enabled:        true,
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: defTimeout,
		HistorySize:    te.HistorySize,
		RetryMax:       te.RetryMax,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  true,
		Timezone: strings.TrimSpace(cfg.Control.Timezone),
	}
}

func mapDebugConfig(cfg *config.Config) debug.Config {
	d := cfg.Debug
	return debug.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Prefix:        strings.TrimSpace(d.Prefix),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   config.MustDuration(d.ReadTimeout, 0),
		WriteTimeout:  config.MustDuration(d.WriteTimeout, 0),
		IdleTimeout:   config.MustDuration(d.IdleTimeout, 0),
	}
}

// initialView picks the first view to show.
// An explicit override wins, then the stored preference, then render.default_view.
func initialView(cfg *config.Config, override string, stored string) view.ID {
	if id, err := view.ParseID(override); override != "" && err == nil {
		return id
	}
	if id, err := view.ParseID(stored); stored != "" && err == nil {
		return id
	}
	if id, err := view.ParseID(cfg.Render.DefaultView); err == nil {
		return id
	}
	return view.Activities
}
