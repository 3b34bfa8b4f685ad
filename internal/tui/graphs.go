package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"cocoview/internal/render"
)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// renderBars draws one mean bar and one stddev bar per task, scaled to the
// largest value in the chart.
func renderBars(bc render.BarChart, width int) string {
	if len(bc.Names) == 0 {
		return dimStyle.Render("no statistics yet")
	}
	nameW := 0
	for _, n := range bc.Names {
		nameW = max(nameW, lipgloss.Width(n))
	}
	nameW = min(nameW, 24)

	peak := 0.0
	for i := range bc.Names {
		peak = math.Max(peak, math.Max(bc.Mean[i], bc.Stddev[i]))
	}
	barW := max(width-nameW-16, 4)

	var b strings.Builder
	b.WriteString(meanBarStyle.Render("█ mean") + "  " + stddevBarStyle.Render("█ stddev") + dimStyle.Render("  (execution time)"))
	for i, name := range bc.Names {
		b.WriteRune('\n')
		label := fmt.Sprintf("%-*s", nameW, truncate(name, nameW))
		b.WriteString(label + " " + meanBarStyle.Render(bar(bc.Mean[i], peak, barW)) + dimStyle.Render(fmt.Sprintf(" %.6f", bc.Mean[i])))
		b.WriteRune('\n')
		b.WriteString(strings.Repeat(" ", nameW) + " " + stddevBarStyle.Render(bar(bc.Stddev[i], peak, barW)) + dimStyle.Render(fmt.Sprintf(" %.6f", bc.Stddev[i])))
	}
	return b.String()
}

func bar(v, peak float64, width int) string {
	if peak <= 0 || v <= 0 || math.IsNaN(v) {
		return ""
	}
	n := int(math.Round(v / peak * float64(width)))
	return strings.Repeat("█", max(n, 1))
}

// renderLines draws one sparkline per series with its latest value.
func renderLines(lines []render.LinePlot, width int) string {
	if len(lines) == 0 {
		return ""
	}
	nameW := 0
	for _, lp := range lines {
		nameW = max(nameW, lipgloss.Width(lp.SeriesID))
	}
	nameW = min(nameW, 24)
	sparkW := max(width-nameW-14, 4)

	var b strings.Builder
	b.WriteString(dimStyle.Render("last samples (time)"))
	for _, lp := range lines {
		b.WriteRune('\n')
		last := 0.0
		if n := len(lp.Samples); n > 0 {
			last = lp.Samples[n-1]
		}
		b.WriteString(fmt.Sprintf("%-*s ", nameW, truncate(lp.SeriesID, nameW)))
		b.WriteString(sparkStyle.Render(sparkline(lp.Samples, sparkW)))
		b.WriteString(dimStyle.Render(fmt.Sprintf(" %.6f", last)))
	}
	return b.String()
}

// sparkline maps the newest width samples onto eight block heights.
func sparkline(samples []float64, width int) string {
	if width <= 0 || len(samples) == 0 {
		return ""
	}
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range samples {
		if !math.IsNaN(v) {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
	}
	out := make([]rune, len(samples))
	for i, v := range samples {
		idx := 0
		if hi > lo && !math.IsNaN(v) {
			idx = int((v - lo) / (hi - lo) * float64(len(sparkRunes)-1))
		}
		out[i] = sparkRunes[min(max(idx, 0), len(sparkRunes)-1)]
	}
	return string(out)
}

func truncate(s string, w int) string {
	r := []rune(s)
	if len(r) <= w {
		return s
	}
	if w <= 1 {
		return string(r[:w])
	}
	return string(r[:w-1]) + "…"
}
