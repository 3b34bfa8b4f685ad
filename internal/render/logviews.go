package render

import (
	"strings"

	"cocoview/internal/telemetry"
	logx "cocoview/pkg/logx"
)

// LogViews renders projections as structured log lines. Used when no
// terminal UI is attached (--headless).
type LogViews struct {
	log logx.Logger
}

func NewLogViews(log logx.Logger) *LogViews {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogViews{log: log}
}

func (v *LogViews) ShowActivities(rows []telemetry.Activity) {
	if !v.log.Enabled(logx.LevelDebug) {
		return
	}
	active := 0
	for _, a := range rows {
		if a.Active {
			active++
		}
	}
	v.log.Debug("activities", logx.Int("count", len(rows)), logx.Int("active", active))
}

func (v *LogViews) ShowTasks(rows []telemetry.Task) {
	if !v.log.Enabled(logx.LevelDebug) {
		return
	}
	states := make(map[string]int, 4)
	for _, t := range rows {
		states[t.State]++
	}
	v.log.Debug("tasks", logx.Int("count", len(rows)), logx.Any("states", states))
}

func (v *LogViews) ShowStatistics(rows []telemetry.Stat) {
	for _, st := range rows {
		v.log.Debug("stat",
			logx.String("name", st.Name),
			logx.Float64("iterations", st.Iterations),
			logx.Float64("time_exec_mean", st.TimeExecMean),
			logx.Float64("time_exec_stddev", st.TimeExecStddev),
			logx.Float64("time_max", st.TimeMax),
		)
	}
}

func (v *LogViews) ShowGraphs(bars BarChart, lines []LinePlot) {
	if !v.log.Enabled(logx.LevelTrace) {
		return
	}
	for i, name := range bars.Names {
		v.log.Trace("bar", logx.String("name", name), logx.Float64("mean", bars.Mean[i]), logx.Float64("stddev", bars.Stddev[i]))
	}
	for _, lp := range lines {
		v.log.Trace("series", logx.String("id", lp.SeriesID), logx.Int("samples", len(lp.Samples)))
	}
}

func (v *LogViews) AppendConsole(line string) {
	for _, l := range strings.Split(strings.TrimRight(line, "\n"), "\n") {
		if strings.TrimSpace(l) == "" {
			continue
		}
		v.log.Info("scheduler log", logx.String("line", l))
	}
}

func (v *LogViews) SetTitle(title string) {
	v.log.Info("project", logx.String("title", title))
}
