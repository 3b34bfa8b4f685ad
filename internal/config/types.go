package config

// Config is the on-disk configuration. YAML and JSON share the same keys.
//
// All durations are Go duration strings (e.g. "200ms", "5s", "1m").
type Config struct {
	Server     ServerConfig     `json:"server"`
	Render     RenderConfig     `json:"render"`
	Control    ControlConfig    `json:"control"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Logging    LoggingConfig    `json:"logging"`
	Debug      DebugConfig      `json:"debug,omitempty"`

	// Storage is optional; nil or driver "none" disables persistence.
	Storage *StorageConfig `json:"storage,omitempty"`
}

// ServerConfig points at the CoCo scheduler's embedded web server.
//
// Example:
//
//	"server": { "url": "ws://127.0.0.1:8080/", "handshake_timeout": "5s" }
type ServerConfig struct {
	// URL accepts ws, wss, http or https. http(s) is mapped onto ws(s).
	URL string `json:"url"`

	HandshakeTimeout string `json:"handshake_timeout,omitempty"`
	// ReadTimeout detects dead peers; refreshed by pongs and messages.
	ReadTimeout string `json:"read_timeout,omitempty"`

	Reconnect ReconnectConfig `json:"reconnect,omitempty"`

	// ControlTimeout bounds one reset/info HTTP request.
	ControlTimeout string `json:"control_timeout,omitempty"`
}

// ReconnectConfig is off by default: a closed channel stays closed and the
// dashboard keeps showing the last snapshot.
type ReconnectConfig struct {
	Enabled    bool   `json:"enabled"`
	MinBackoff string `json:"min_backoff,omitempty"` // default: "500ms"
	MaxBackoff string `json:"max_backoff,omitempty"` // default: "30s"
}

type RenderConfig struct {
	TickInterval  string `json:"tick_interval,omitempty"`  // default: "200ms"
	ProbeInterval string `json:"probe_interval,omitempty"` // default: "100ms"

	// DefaultView is a view name ("graphs") or 1-based tab number ("4").
	DefaultView string `json:"default_view,omitempty"`

	// Headless replaces the terminal UI with log output.
	Headless bool `json:"headless,omitempty"`
}

// ControlConfig tunes the reset/info commands.
type ControlConfig struct {
	// ResetSchedule triggers a periodic reset_stats: cron expression,
	// "@every 10m", a Go duration, or an "HH:MM" interval. Empty disables it.
	ResetSchedule string `json:"reset_schedule,omitempty"`

	// RatePerSec caps interactive commands; 0 disables the limit.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`

	// Timezone for ResetSchedule (IANA name). Empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the worker pool that executes control commands.
//
// Defaults (when fields are omitted/zero):
//   - workers: 1
//   - queue_size: 16
//   - default_timeout: server.control_timeout
//   - history_size: 50
//   - retry_max: 2
type TaskEngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout is a Go duration string. "0s" uses server.control_timeout.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DebugConfig controls the optional diagnostics HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so /profile works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// StorageConfig controls the preferences/audit store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./cocoview.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:              "ws://127.0.0.1:8080/",
			HandshakeTimeout: "5s",
			ReadTimeout:      "60s",
			ControlTimeout:   "5s",
		},
		Render: RenderConfig{
			TickInterval:  "200ms",
			ProbeInterval: "100ms",
			DefaultView:   "activities",
		},
		Control: ControlConfig{RatePerSec: 2},
		TaskEngine: TaskEngineConfig{
			Workers:     1,
			QueueSize:   16,
			HistorySize: 50,
			RetryMax:    2,
		},
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}
