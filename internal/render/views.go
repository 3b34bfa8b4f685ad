package render

import "cocoview/internal/telemetry"

// Views is the widget layer the scheduler projects into.
// Implementations must not block: they are called from inside a tick.
type Views interface {
	ShowActivities(rows []telemetry.Activity)
	ShowTasks(rows []telemetry.Task)
	ShowStatistics(rows []telemetry.Stat)
	ShowGraphs(bars BarChart, lines []LinePlot)
	AppendConsole(line string)
	SetTitle(title string)
}

// BarChart compares execution time mean and stddev per task.
// Names, Mean and Stddev are aligned by index.
type BarChart struct {
	Names  []string
	Mean   []float64
	Stddev []float64
}

// LinePlot is the recent history of one series, oldest sample first.
type LinePlot struct {
	SeriesID string
	Samples  []float64
}

func barChart(stats []telemetry.Stat) BarChart {
	bc := BarChart{
		Names:  make([]string, len(stats)),
		Mean:   make([]float64, len(stats)),
		Stddev: make([]float64, len(stats)),
	}
	for i, st := range stats {
		bc.Names[i] = st.Name
		bc.Mean[i] = st.TimeExecMean
		bc.Stddev[i] = st.TimeExecStddev
	}
	return bc
}
