// Package chart picks a visualization for an arbitrary result set.
//
// Inference is zero-configuration: it looks only at the rows and always returns the same
// Spec for the same rows, so historical exchanges can be re-rendered at any time.
package chart

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"TableChat/internal/rowset"
)

// MaxDiscreteRows is the largest row count still drawn as bar or pie.
// Larger categorical result sets fall back to a line chart or to no chart.
const MaxDiscreteRows = 10

// Shape is the kind of chart selected for a result set.
type Shape string

const (
	ShapeNone Shape = "none"
	ShapeLine Shape = "line"
	ShapeBar  Shape = "bar"
	ShapePie  Shape = "pie"
)

// Spec describes the chart selected for a result set.
type Spec struct {
	Shape          Shape  `json:"shape"`
	XColumn        string `json:"xColumn,omitempty"`
	YColumn        string `json:"yColumn,omitempty"`
	CategoryColumn string `json:"categoryColumn,omitempty"`
}

// None is the Spec for result sets that are not charted.
var None = Spec{Shape: ShapeNone}

// dateLayouts are tried in order when checking whether a value is date-like.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"2006-01",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2006",
	"January 2006",
	time.RFC1123,
	time.RFC1123Z,
	time.RFC822,
	time.ANSIC,
}

// Infer selects a chart for rows. Column set and column types come from the first row;
// the row count decides between discrete and continuous shapes.
func Infer(rows []rowset.Record) Spec {
	if len(rows) == 0 {
		return None
	}

	first := rows[0]
	var numeric, categorical, dateLike []string
	for _, col := range first.Columns() {
		v := first.Value(col)
		if IsNumeric(v) {
			numeric = append(numeric, col)
			continue
		}
		categorical = append(categorical, col)
		if IsDateLike(v) {
			dateLike = append(dateLike, col)
		}
	}

	switch {
	case len(dateLike) > 0 && len(numeric) > 0:
		return Spec{Shape: ShapeLine, XColumn: dateLike[0], YColumn: numeric[0]}
	case len(categorical) > 0 && len(numeric) > 0:
		if len(rows) <= MaxDiscreteRows {
			return Spec{Shape: ShapeBar, XColumn: categorical[0], YColumn: numeric[0]}
		}
		return Spec{Shape: ShapeLine, XColumn: categorical[0], YColumn: numeric[0]}
	case len(categorical) > 0 && len(rows) <= MaxDiscreteRows:
		return Spec{Shape: ShapePie, CategoryColumn: categorical[0]}
	default:
		return None
	}
}

// IsNumeric reports whether v counts as a number. Booleans and nulls never do; strings do
// when they parse as a finite or infinite float.
func IsNumeric(v any) bool {
	switch n := v.(type) {
	case nil, bool:
		return false
	case json.Number:
		_, err := n.Float64()
		return err == nil
	case float64:
		return !math.IsNaN(n)
	case float32:
		return !math.IsNaN(float64(n))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case string:
		_, ok := ParseNumber(n)
		return ok
	default:
		return false
	}
}

// ParseNumber parses a numeric string, ignoring surrounding whitespace. NaN is rejected.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// IsDateLike reports whether v is a string holding a calendar date or timestamp.
func IsDateLike(v any) bool {
	switch t := v.(type) {
	case time.Time:
		return !t.IsZero()
	case string:
		_, ok := ParseDate(t)
		return ok
	default:
		return false
	}
}

// ParseDate tries the known layouts in order.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Float converts a cell to a float for plotting. Non-numeric values plot as zero.
func Float(v any) float64 {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case string:
		f, _ := ParseNumber(n)
		return f
	default:
		return 0
	}
}

// Label turns a column name into an axis label: underscores become spaces, upper-cased.
func Label(column string) string {
	return strings.ToUpper(strings.ReplaceAll(column, "_", " "))
}

// Describe renders a spec as a short human-readable caption.
func (s Spec) Describe() string {
	switch s.Shape {
	case ShapeLine, ShapeBar:
		return fmt.Sprintf("%s chart: %s by %s", s.Shape, Label(s.YColumn), Label(s.XColumn))
	case ShapePie:
		return fmt.Sprintf("pie chart: %s", Label(s.CategoryColumn))
	default:
		return "no chart"
	}
}
