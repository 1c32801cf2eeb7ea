package render

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"TableChat/internal/chart"
	"TableChat/internal/rowset"
)

const barWidth = 40

var sparks = []rune("▁▂▃▄▅▆▇█")

// Chart infers a chart for rows and draws it. Nothing is printed when no chart fits.
func (r *Renderer) Chart(rows []rowset.Record) {
	spec := chart.Infer(rows)
	switch spec.Shape {
	case chart.ShapeBar:
		r.bars(spec, chart.Points(rows, spec))
	case chart.ShapeLine:
		r.line(spec, chart.Points(rows, spec))
	case chart.ShapePie:
		r.pie(spec, chart.PieSlices(rows, spec.CategoryColumn), len(rows))
	}
}

func (r *Renderer) bars(spec chart.Spec, points []chart.Point) {
	_, _ = fmt.Fprintln(r.w, r.styles.Muted.Render(spec.Describe()))
	labelWidth := 0
	maxY := 0.0
	for _, p := range points {
		labelWidth = max(labelWidth, utf8.RuneCountInString(p.X))
		if !math.IsInf(p.Y, 0) {
			maxY = max(maxY, p.Y)
		}
	}
	for _, p := range points {
		_, _ = fmt.Fprintf(r.w, "%-*s %s %s\n", labelWidth, p.X, r.styles.Bar.Render(bar(p.Y, maxY)), formatNumber(p.Y))
	}
}

func (r *Renderer) line(spec chart.Spec, points []chart.Point) {
	_, _ = fmt.Fprintln(r.w, r.styles.Muted.Render(spec.Describe()))
	ys := make([]float64, len(points))
	for i, p := range points {
		ys[i] = p.Y
	}
	_, _ = fmt.Fprintln(r.w, r.styles.Bar.Render(Sparkline(ys)))
	if len(points) > 0 {
		first, last := points[0], points[len(points)-1]
		_, _ = fmt.Fprintf(r.w, "%s %s ... %s %s\n", first.X, formatNumber(first.Y), last.X, formatNumber(last.Y))
	}
}

func (r *Renderer) pie(spec chart.Spec, slices []chart.Slice, total int) {
	_, _ = fmt.Fprintln(r.w, r.styles.Muted.Render(spec.Describe()))
	labelWidth := 0
	for _, s := range slices {
		labelWidth = max(labelWidth, utf8.RuneCountInString(s.Category))
	}
	for _, s := range slices {
		share := float64(s.Count) / float64(total)
		_, _ = fmt.Fprintf(r.w, "%-*s %s %5.1f%% (%d)\n", labelWidth, s.Category, r.styles.Bar.Render(bar(share, 1)), share*100, s.Count)
	}
}

// bar returns a horizontal bar for v scaled against maxV. Non-positive values get no
// bar and +Inf gets a full one.
func bar(v, maxV float64) string {
	if math.IsInf(v, 1) {
		return strings.Repeat("█", barWidth)
	}
	if maxV <= 0 || v <= 0 || math.IsNaN(v) || math.IsNaN(maxV) || math.IsInf(maxV, 0) {
		return ""
	}
	n := min(max(int(math.Round(v/maxV*barWidth)), 1), barWidth)
	return strings.Repeat("█", n)
}

// Sparkline draws values as a row of block characters scaled between the smallest and
// largest finite value. +Inf draws at the top, -Inf and NaN at the bottom.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			continue
		}
		lo = min(lo, v)
		hi = max(hi, v)
	}
	top := len(sparks) - 1
	// halved so that extremes near ±MaxFloat64 do not overflow the span
	span := hi/2 - lo/2
	out := make([]rune, len(values))
	for i, v := range values {
		var idx int
		switch {
		case math.IsInf(v, 1):
			idx = top
		case math.IsInf(v, -1), math.IsNaN(v):
			idx = 0
		case span > 0:
			idx = int((v/2 - lo/2) / span * float64(top))
		default:
			idx = top
		}
		out[i] = sparks[min(max(idx, 0), top)]
	}
	return string(out)
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return fmt.Sprintf("%.0f", f)
	}
	return fmt.Sprintf("%.2f", f)
}
