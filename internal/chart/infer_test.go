package chart

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TableChat/internal/rowset"
)

func monthRows(n int) []rowset.Record {
	months := []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}
	rows := make([]rowset.Record, n)
	for i := range rows {
		rows[i] = rowset.NewRecord("month", months[i%len(months)], "revenue", json.Number(fmt.Sprint((i+1)*10)))
	}
	return rows
}

func TestInfer(t *testing.T) {
	tests := []struct {
		name string
		rows []rowset.Record
		want Spec
	}{
		{
			name: "empty rows",
			rows: nil,
			want: None,
		},
		{
			name: "date and numeric",
			rows: []rowset.Record{
				rowset.NewRecord("day", "2024-01-01", "total", json.Number("3")),
				rowset.NewRecord("day", "2024-01-02", "total", json.Number("5")),
			},
			want: Spec{Shape: ShapeLine, XColumn: "day", YColumn: "total"},
		},
		{
			name: "numeric before date column",
			rows: []rowset.Record{
				rowset.NewRecord("total", 3.0, "created_at", "2024-01-01T10:00:00Z"),
			},
			want: Spec{Shape: ShapeLine, XColumn: "created_at", YColumn: "total"},
		},
		{
			name: "date column wins over earlier plain categorical",
			rows: []rowset.Record{
				rowset.NewRecord("region", "north", "day", "2024-03-01", "sales", json.Number("7")),
			},
			want: Spec{Shape: ShapeLine, XColumn: "day", YColumn: "sales"},
		},
		{
			name: "categorical and numeric with few rows",
			rows: monthRows(10),
			want: Spec{Shape: ShapeBar, XColumn: "month", YColumn: "revenue"},
		},
		{
			name: "categorical and numeric with eleven rows",
			rows: monthRows(11),
			want: Spec{Shape: ShapeLine, XColumn: "month", YColumn: "revenue"},
		},
		{
			name: "categorical only",
			rows: []rowset.Record{
				rowset.NewRecord("status", "ok"),
				rowset.NewRecord("status", "ok"),
				rowset.NewRecord("status", "fail"),
			},
			want: Spec{Shape: ShapePie, CategoryColumn: "status"},
		},
		{
			name: "categorical only with too many rows",
			rows: func() []rowset.Record {
				rows := make([]rowset.Record, 11)
				for i := range rows {
					rows[i] = rowset.NewRecord("status", "ok")
				}
				return rows
			}(),
			want: None,
		},
		{
			name: "numeric only",
			rows: []rowset.Record{
				rowset.NewRecord("count", json.Number("12")),
			},
			want: None,
		},
		{
			name: "record without columns",
			rows: []rowset.Record{rowset.NewRecord()},
			want: None,
		},
		{
			name: "numeric string is numeric even though it parses as a year",
			rows: []rowset.Record{
				rowset.NewRecord("year", "2024", "label", "launch"),
			},
			want: Spec{Shape: ShapeBar, XColumn: "label", YColumn: "year"},
		},
		{
			name: "boolean is categorical",
			rows: []rowset.Record{
				rowset.NewRecord("active", true, "users", json.Number("4")),
				rowset.NewRecord("active", false, "users", json.Number("2")),
			},
			want: Spec{Shape: ShapeBar, XColumn: "active", YColumn: "users"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Infer(tt.rows))
		})
	}
}

// TestInfer_DateLineIgnoresColumnOrder checks every ordering of a date and a numeric column.
func TestInfer_DateLineIgnoresColumnOrder(t *testing.T) {
	dates := []string{"2024-05-01", "2024-05-01 08:30:00", "2024-05-01T08:30:00Z", "May 1, 2024", "05/01/2024"}
	for _, d := range dates {
		forward := []rowset.Record{rowset.NewRecord("when", d, "amount", json.Number("1.5"))}
		backward := []rowset.Record{rowset.NewRecord("amount", json.Number("1.5"), "when", d)}

		want := Spec{Shape: ShapeLine, XColumn: "when", YColumn: "amount"}
		assert.Equal(t, want, Infer(forward), "date %q", d)
		assert.Equal(t, want, Infer(backward), "date %q", d)
	}
}

func TestInfer_BarThreshold(t *testing.T) {
	for n := 1; n <= MaxDiscreteRows+5; n++ {
		spec := Infer(monthRows(n))
		if n <= MaxDiscreteRows {
			assert.Equal(t, ShapeBar, spec.Shape, "rows=%d", n)
		} else {
			assert.Equal(t, ShapeLine, spec.Shape, "rows=%d", n)
		}
		assert.Equal(t, "month", spec.XColumn)
		assert.Equal(t, "revenue", spec.YColumn)
	}
}

func TestInfer_UsesFirstRowTypes(t *testing.T) {
	rows := []rowset.Record{
		rowset.NewRecord("v", json.Number("1"), "name", "a"),
		rowset.NewRecord("v", "not a number", "name", "b"),
	}
	assert.Equal(t, Spec{Shape: ShapeBar, XColumn: "name", YColumn: "v"}, Infer(rows))
}

func TestInfer_Deterministic(t *testing.T) {
	rows := monthRows(7)
	first := Infer(rows)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, Infer(rows))
	}
}

func TestPieSlices(t *testing.T) {
	rows := []rowset.Record{
		rowset.NewRecord("status", "ok"),
		rowset.NewRecord("status", "ok"),
		rowset.NewRecord("status", "fail"),
	}

	slices := PieSlices(rows, "status")
	assert.Equal(t, []Slice{{Category: "ok", Count: 2}, {Category: "fail", Count: 1}}, slices)

	total := 0
	for _, s := range slices {
		total += s.Count
	}
	assert.Equal(t, len(rows), total)
}

func TestPieSlices_CountsSumToRowCount(t *testing.T) {
	values := []any{"a", "b", "a", nil, "c", "b", "a", nil, "d", "a"}
	rows := make([]rowset.Record, len(values))
	for i, v := range values {
		rows[i] = rowset.NewRecord("cat", v)
	}

	require.Equal(t, ShapePie, Infer(rows).Shape)

	slices := PieSlices(rows, "cat")
	total := 0
	for _, s := range slices {
		total += s.Count
	}
	assert.Equal(t, len(rows), total)
	assert.Equal(t, []string{"a", "b", "NULL", "c", "d"}, func() []string {
		out := make([]string, len(slices))
		for i, s := range slices {
			out[i] = s.Category
		}
		return out
	}())
}

func TestPoints(t *testing.T) {
	rows := monthRows(3)
	spec := Infer(rows)

	points := Points(rows, spec)
	assert.Equal(t, []Point{{X: "Jan", Y: 10}, {X: "Feb", Y: 20}, {X: "Mar", Y: 30}}, points)
	assert.Nil(t, Points(rows, None))
}

func TestIsNumeric(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{json.Number("3.14"), true},
		{42, true},
		{2.5, true},
		{" 7 ", true},
		{"1e3", true},
		{"", false},
		{"   ", false},
		{"NaN", false},
		{"abc", false},
		{"2024-01-01", false},
		{true, false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsNumeric(tt.value), "value %#v", tt.value)
	}
}

func TestIsDateLike(t *testing.T) {
	assert.True(t, IsDateLike("2024-02-29"))
	assert.True(t, IsDateLike("2024-02"))
	assert.True(t, IsDateLike("Feb 3, 2024"))
	assert.False(t, IsDateLike("2024-02-30"))
	assert.False(t, IsDateLike("Jan"))
	assert.False(t, IsDateLike("north"))
	assert.False(t, IsDateLike(json.Number("20240101")))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "TOTAL REVENUE", Label("total_revenue"))
	assert.Equal(t, "MONTH", Label("month"))
}

func TestSpec_Describe(t *testing.T) {
	assert.Equal(t, "bar chart: REVENUE by MONTH", Spec{Shape: ShapeBar, XColumn: "month", YColumn: "revenue"}.Describe())
	assert.Equal(t, "pie chart: STATUS", Spec{Shape: ShapePie, CategoryColumn: "status"}.Describe())
	assert.Equal(t, "no chart", None.Describe())
}
