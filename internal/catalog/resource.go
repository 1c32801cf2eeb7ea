// Package catalog tracks the tabular data sources the user can query.
//
// Two kinds exist: persistent tables configured in the backend database, which may still be
// under analysis, and ephemeral tables derived from uploaded spreadsheets, which expire.
// Fetched snapshots are folded into the current state with Merge, which keeps the user's
// selection for every resource that still exists.
package catalog

import (
	"time"

	"TableChat/internal/api"
)

const pendingDescription = api.AnalyzingDescription

// Kind distinguishes database tables from uploaded spreadsheets.
type Kind string

const (
	KindPersistent Kind = "persistent"
	KindEphemeral  Kind = "ephemeral"
)

// Column is one column of a resource.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Resource is one selectable data source.
type Resource struct {
	Name         string    `json:"name"`
	Kind         Kind      `json:"kind"`
	DisplayLabel string    `json:"display_label"`
	Columns      []Column  `json:"columns"`
	Description  string    `json:"description"`
	Selected     bool      `json:"selected"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`

	// AnalysisPending is set on persistent resources while the backend is still
	// deriving a description.
	AnalysisPending bool `json:"analysis_pending"`

	// Optimistic marks a resource created locally after a successful add that no
	// snapshot has listed yet.
	Optimistic bool `json:"optimistic,omitempty"`
}

// Remaining returns the time left before an ephemeral resource expires, never negative.
func (r Resource) Remaining(now time.Time) time.Duration {
	if r.Kind != KindEphemeral || r.ExpiresAt.IsZero() {
		return 0
	}
	d := r.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// FromTableInfo converts a configured database table.
func FromTableInfo(t api.TableInfo) Resource {
	cols := make([]Column, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = Column{Name: c.Name, Type: c.Type}
	}
	return Resource{
		Name:            t.Name,
		Kind:            KindPersistent,
		DisplayLabel:    t.Name,
		Columns:         cols,
		Description:     t.Description,
		AnalysisPending: t.Description == api.AnalyzingDescription,
	}
}

// FromExcelTable converts an uploaded spreadsheet table. An unparseable expiry is left zero.
func FromExcelTable(t api.ExcelTable) Resource {
	cols := make([]Column, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = Column{Name: c}
	}
	label := t.OriginalFilename
	if label == "" {
		label = t.Name
	}
	expires, _ := t.ExpiryTime()
	return Resource{
		Name:         t.Name,
		Kind:         KindEphemeral,
		DisplayLabel: label,
		Columns:      cols,
		Description:  t.Description,
		ExpiresAt:    expires,
	}
}

// PersistentSnapshot converts a GET /api/tables response.
func PersistentSnapshot(tables []api.TableInfo) []Resource {
	out := make([]Resource, len(tables))
	for i, t := range tables {
		out[i] = FromTableInfo(t)
	}
	return out
}

// EphemeralSnapshot converts a GET /api/excel-tables response.
func EphemeralSnapshot(tables []api.ExcelTable) []Resource {
	out := make([]Resource, len(tables))
	for i, t := range tables {
		out[i] = FromExcelTable(t)
	}
	return out
}
