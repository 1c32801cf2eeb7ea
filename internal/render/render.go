// Package render draws catalog listings, exchanges, result tables and charts for the terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"TableChat/internal/catalog"
	"TableChat/internal/conversation"
	"TableChat/internal/rowset"
)

// DefaultPreviewRows is how many result rows are shown before "show all rows".
const DefaultPreviewRows = 5

// Styles groups the lipgloss styles used by the renderer
type Styles struct {
	User    lipgloss.Style
	Answer  lipgloss.Style
	Error   lipgloss.Style
	Pending lipgloss.Style
	Muted   lipgloss.Style
	Query   lipgloss.Style
	Bar     lipgloss.Style
}

// NewStyles builds the styles for output written to w. Colors are dropped when w is not
// a terminal.
func NewStyles(w io.Writer) Styles {
	r := lipgloss.NewRenderer(w)
	return Styles{
		User:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Answer:  r.NewStyle().Foreground(lipgloss.Color("10")),
		Error:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		Pending: r.NewStyle().Foreground(lipgloss.Color("11")),
		Muted:   r.NewStyle().Faint(true),
		Query:   r.NewStyle().Foreground(lipgloss.Color("14")),
		Bar:     r.NewStyle().Foreground(lipgloss.Color("13")),
	}
}

// Renderer writes presentation output to a writer
type Renderer struct {
	w           io.Writer
	styles      Styles
	previewRows int
	now         func() time.Time
}

// New creates a renderer. previewRows <= 0 selects DefaultPreviewRows.
func New(w io.Writer, previewRows int) *Renderer {
	if previewRows <= 0 {
		previewRows = DefaultPreviewRows
	}
	return &Renderer{w: w, styles: NewStyles(w), previewRows: previewRows, now: time.Now}
}

// Info prints a plain status line
func (r *Renderer) Info(format string, args ...any) {
	_, _ = fmt.Fprintln(r.w, fmt.Sprintf(format, args...))
}

// Errorf prints an error line
func (r *Renderer) Errorf(format string, args ...any) {
	_, _ = fmt.Fprintln(r.w, r.styles.Error.Render(fmt.Sprintf(format, args...)))
}

// Exchange prints one log entry. Answers include the generated query when its flag is
// set, the result table and the inferred chart.
func (r *Renderer) Exchange(e conversation.Exchange) {
	switch e.Role {
	case conversation.RoleUser:
		_, _ = fmt.Fprintf(r.w, "%s %s\n", r.styles.User.Render("You:"), e.Text)
	case conversation.RoleError:
		_, _ = fmt.Fprintf(r.w, "%s %s\n", r.styles.Error.Render("Error:"), e.Text)
	case conversation.RoleAnswer:
		_, _ = fmt.Fprintf(r.w, "%s %s\n", r.styles.Answer.Render(fmt.Sprintf("[#%d]", e.ID)), e.Text)
		if e.HasQuery() {
			if e.QueryVisible {
				_, _ = fmt.Fprintln(r.w, r.styles.Query.Render(e.GeneratedQuery))
			} else {
				_, _ = fmt.Fprintln(r.w, r.styles.Muted.Render(fmt.Sprintf("(SQL hidden, /sql %d to show)", e.ID)))
			}
		}
		if e.HasRows() {
			limit := r.previewRows
			if e.AllRowsVisible {
				limit = 0
			}
			r.Table(e.Rows, limit)
			if limit > 0 && len(e.Rows) > limit {
				_, _ = fmt.Fprintln(r.w, r.styles.Muted.Render(fmt.Sprintf("(showing %d of %d rows, /rows %d to show all)", limit, len(e.Rows), e.ID)))
			}
			r.Chart(e.Rows)
		}
	}
}

// Table prints rows as a table. limit <= 0 prints every row.
func (r *Renderer) Table(rows []rowset.Record, limit int) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(r.w, "(0 rows)")
		return
	}

	cols := rowset.Columns(rows)
	t := table.NewWriter()
	t.SetOutputMirror(r.w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(cols))
	for i, col := range cols {
		header[i] = col
	}
	t.AppendHeader(header)

	shown := rows
	if limit > 0 && len(rows) > limit {
		shown = rows[:limit]
	}
	for _, rec := range shown {
		row := make(table.Row, len(cols))
		for i, col := range cols {
			row[i] = rowset.FormatValue(rec.Value(col))
		}
		t.AppendRow(row)
	}

	t.Render()
	_, _ = fmt.Fprintf(r.w, "(%d rows)\n", len(rows))
}

// Catalog prints both resource lists with selection and status
func (r *Renderer) Catalog(persistent, ephemeral []catalog.Resource) {
	if len(persistent) == 0 && len(ephemeral) == 0 {
		_, _ = fmt.Fprintln(r.w, "No tables configured. Use /available and /add <name>, or /upload <file>.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"", "Name", "Source", "Columns", "Status"})

	now := r.now()
	for _, res := range append(append([]catalog.Resource(nil), persistent...), ephemeral...) {
		t.AppendRow(table.Row{
			checkbox(res.Selected),
			res.DisplayLabel,
			source(res),
			len(res.Columns),
			r.status(res, now),
		})
	}
	t.Render()
}

// Describe prints a resource's columns and description
func (r *Renderer) Describe(res catalog.Resource) {
	_, _ = fmt.Fprintf(r.w, "%s (%s)\n", res.DisplayLabel, source(res))
	if res.AnalysisPending {
		_, _ = fmt.Fprintln(r.w, r.styles.Pending.Render(res.Description))
	} else if res.Description != "" {
		_, _ = fmt.Fprintln(r.w, res.Description)
	}
	if len(res.Columns) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Column", "Type"})
	for _, c := range res.Columns {
		t.AppendRow(table.Row{c.Name, c.Type})
	}
	t.Render()
}

func checkbox(selected bool) string {
	if selected {
		return "[x]"
	}
	return "[ ]"
}

func source(res catalog.Resource) string {
	if res.Kind == catalog.KindEphemeral {
		return "upload " + res.Name
	}
	return "database"
}

func (r *Renderer) status(res catalog.Resource, now time.Time) string {
	switch {
	case res.AnalysisPending:
		return r.styles.Pending.Render("analyzing...")
	case res.Kind == catalog.KindEphemeral && !res.ExpiresAt.IsZero():
		return "expires in " + Countdown(res.Remaining(now))
	default:
		return "ready"
	}
}

// Countdown formats a remaining duration as minutes and seconds
func Countdown(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	d = d.Round(time.Second)
	m := int(d / time.Minute)
	s := int((d % time.Minute) / time.Second)
	if m >= 60 {
		return fmt.Sprintf("%dh%02dm", m/60, m%60)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

// Help prints the REPL command list
func (r *Renderer) Help(commands [][2]string) {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-24s %s\n", c[0], c[1])
	}
	_, _ = io.WriteString(r.w, b.String())
}
