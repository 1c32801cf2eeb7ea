package chart

import "TableChat/internal/rowset"

// Point is one plotted value of a line or bar chart.
type Point struct {
	X string
	Y float64
}

// Slice is one category of a pie chart.
type Slice struct {
	Category string
	Count    int
}

// Points binds rows to the x and y columns of a line or bar spec, in row order.
func Points(rows []rowset.Record, spec Spec) []Point {
	if spec.Shape != ShapeLine && spec.Shape != ShapeBar {
		return nil
	}
	points := make([]Point, 0, len(rows))
	for _, r := range rows {
		points = append(points, Point{
			X: rowset.FormatValue(r.Value(spec.XColumn)),
			Y: Float(r.Value(spec.YColumn)),
		})
	}
	return points
}

// PieSlices counts occurrences of each distinct value of column, in order of first
// occurrence.
func PieSlices(rows []rowset.Record, column string) []Slice {
	index := make(map[string]int)
	var slices []Slice
	for _, r := range rows {
		key := rowset.FormatValue(r.Value(column))
		i, ok := index[key]
		if !ok {
			i = len(slices)
			index[key] = i
			slices = append(slices, Slice{Category: key})
		}
		slices[i].Count++
	}
	return slices
}
