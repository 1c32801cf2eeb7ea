package devserver

import (
	"fmt"
	"strings"

	"TableChat/internal/api"
	"TableChat/internal/rowset"
)

// describeTable writes the description shown once analysis of a table
// completes. It covers the columns and, when rows exist, a sample of the
// first one.
func describeTable(name string, columns []api.ColumnInfo, sample []rowset.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table %s has %d column", name, len(columns))
	if len(columns) != 1 {
		b.WriteString("s")
	}
	b.WriteString(": ")

	parts := make([]string, len(columns))
	for i, c := range columns {
		typ := c.Type
		if typ == "" {
			typ = "ANY"
		}
		parts[i] = fmt.Sprintf("%s (%s)", c.Name, typ)
	}
	b.WriteString(strings.Join(parts, ", "))
	b.WriteString(".")

	if len(sample) == 0 {
		b.WriteString(" It has no rows yet.")
		return b.String()
	}

	first := sample[0]
	values := make([]string, 0, first.Len())
	for _, col := range first.Columns() {
		values = append(values, fmt.Sprintf("%s=%s", col, rowset.FormatValue(first.Value(col))))
	}
	fmt.Fprintf(&b, " Example row: %s.", strings.Join(values, ", "))
	return b.String()
}

// answerText summarizes a query result
func answerText(n int) string {
	switch n {
	case 0:
		return "The query returned no rows."
	case 1:
		return "The query returned 1 row."
	default:
		return fmt.Sprintf("The query returned %d rows.", n)
	}
}
