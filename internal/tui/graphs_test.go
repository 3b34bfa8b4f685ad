package tui

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"cocoview/internal/render"
)

func TestSparkline(t *testing.T) {
	if got := sparkline([]float64{0, 7}, 10); got != "▁█" {
		t.Fatalf("got %q", got)
	}
	if got := sparkline([]float64{5, 5, 5}, 10); got != "▁▁▁" {
		t.Fatalf("flat series: %q", got)
	}
	if got := sparkline([]float64{1, 2, 3, 4, 5}, 3); utf8.RuneCountInString(got) != 3 || !strings.HasSuffix(got, "█") {
		t.Fatalf("keeps newest samples: %q", got)
	}
	if got := sparkline([]float64{math.NaN(), 1, 2}, 5); utf8.RuneCountInString(got) != 3 {
		t.Fatalf("NaN sample: %q", got)
	}
	if sparkline(nil, 5) != "" {
		t.Fatalf("empty input")
	}
}

func TestBarScaling(t *testing.T) {
	if got := bar(10, 10, 8); got != strings.Repeat("█", 8) {
		t.Fatalf("peak bar %q", got)
	}
	if got := bar(0.01, 10, 8); got != "█" {
		t.Fatalf("tiny values keep one cell: %q", got)
	}
	if bar(0, 10, 8) != "" || bar(1, 0, 8) != "" {
		t.Fatalf("zero should be empty")
	}
}

func TestRenderBarsEmpty(t *testing.T) {
	if !strings.Contains(renderBars(render.BarChart{}, 80), "no statistics") {
		t.Fatalf("missing placeholder")
	}
}

func TestTruncate(t *testing.T) {
	if truncate("scheduler", 5) != "sche…" || truncate("abc", 5) != "abc" {
		t.Fatalf("truncate")
	}
}
