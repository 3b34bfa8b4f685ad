package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"cocoview/internal/view"
)

// Validate checks values that strict decoding cannot: duration syntax, enum
// values and the debug server's exposure rules. It does not touch the network.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if strings.TrimSpace(cfg.Server.URL) == "" {
		add(errors.New("server.url: required"))
	}
	dur("server.handshake_timeout", cfg.Server.HandshakeTimeout)
	dur("server.read_timeout", cfg.Server.ReadTimeout)
	dur("server.control_timeout", cfg.Server.ControlTimeout)
	dur("server.reconnect.min_backoff", cfg.Server.Reconnect.MinBackoff)
	dur("server.reconnect.max_backoff", cfg.Server.Reconnect.MaxBackoff)

	dur("render.tick_interval", cfg.Render.TickInterval)
	dur("render.probe_interval", cfg.Render.ProbeInterval)
	if v := strings.TrimSpace(cfg.Render.DefaultView); v != "" {
		if _, err := view.ParseID(v); err != nil {
			add(fmt.Errorf("render.default_view: %w", err))
		}
	}

	if cfg.Control.RatePerSec < 0 {
		add(errors.New("control.rate_per_sec: must be >= 0"))
	}
	if tz := strings.TrimSpace(cfg.Control.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("control.timezone: %w", err))
		}
	}

	if cfg.TaskEngine.Workers < 0 || cfg.TaskEngine.QueueSize < 0 || cfg.TaskEngine.HistorySize < 0 {
		add(errors.New("task_engine: workers, queue_size and history_size must be >= 0"))
	}
	dur("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout)

	if cfg.Debug.Enabled {
		dur("debug.read_timeout", cfg.Debug.ReadTimeout)
		dur("debug.write_timeout", cfg.Debug.WriteTimeout)
		dur("debug.idle_timeout", cfg.Debug.IdleTimeout)
		if !IsLoopbackAddr(cfg.Debug.Addr) && strings.TrimSpace(cfg.Debug.Token) == "" && !cfg.Debug.AllowInsecure {
			add(fmt.Errorf("debug.addr %q is not loopback: set debug.token or debug.allow_insecure", cfg.Debug.Addr))
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			add(fmt.Errorf("storage.driver: unknown %q", s.Driver))
		}
		dur("storage.busy_timeout", s.BusyTimeout)
	}

	return errors.Join(errs...)
}

// IsLoopbackAddr reports whether a listen address only binds loopback.
// An empty address means the default "127.0.0.1:6060".
func IsLoopbackAddr(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return true
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
