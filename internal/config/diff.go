package config

import (
	"sort"
	"strings"

	logx "cocoview/pkg/logx"
)

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 24)

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.url", strings.TrimSpace(newCfg.Server.URL)),
			logx.Bool("server.url_changed", strings.TrimSpace(oldCfg.Server.URL) != strings.TrimSpace(newCfg.Server.URL)),
			logx.String("server.read_timeout", strings.TrimSpace(newCfg.Server.ReadTimeout)),
			logx.Bool("server.reconnect", newCfg.Server.Reconnect.Enabled),
			logx.String("server.control_timeout", strings.TrimSpace(newCfg.Server.ControlTimeout)),
		)
	}

	if oldCfg.Render != newCfg.Render {
		changed = append(changed, "render")
		attrs = append(attrs,
			logx.String("render.tick_interval", strings.TrimSpace(newCfg.Render.TickInterval)),
			logx.String("render.probe_interval", strings.TrimSpace(newCfg.Render.ProbeInterval)),
			logx.String("render.default_view", strings.TrimSpace(newCfg.Render.DefaultView)),
			logx.Bool("render.headless", newCfg.Render.Headless),
		)
	}

	if oldCfg.Control != newCfg.Control {
		changed = append(changed, "control")
		attrs = append(attrs,
			logx.String("control.reset_schedule", strings.TrimSpace(newCfg.Control.ResetSchedule)),
			logx.Float64("control.rate_per_sec", newCfg.Control.RatePerSec),
			logx.String("control.timezone", strings.TrimSpace(newCfg.Control.Timezone)),
		)
	}

	if oldCfg.TaskEngine != newCfg.TaskEngine {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", newCfg.TaskEngine.Workers),
			logx.Int("task_engine.queue_size", newCfg.TaskEngine.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(newCfg.TaskEngine.DefaultTimeout)),
			logx.Int("task_engine.history_size", newCfg.TaskEngine.HistorySize),
			logx.Int("task_engine.retry_max", newCfg.TaskEngine.RetryMax),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Debug (never log token)
	oD, nD := oldCfg.Debug, newCfg.Debug
	oTok, nTok := strings.TrimSpace(oD.Token) != "", strings.TrimSpace(nD.Token) != ""
	oD.Token, nD.Token = "", ""
	if oD != nD || oTok != nTok {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nD.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nD.Addr)),
			logx.String("debug.prefix", strings.TrimSpace(nD.Prefix)),
			logx.Bool("debug.token_set", nTok),
			logx.Bool("debug.allow_insecure", nD.AllowInsecure),
		)
	}

	// Storage (nil means disabled)
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
