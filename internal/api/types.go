// Package api is the HTTP client for the answering and catalog service, plus its wire types.
package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"TableChat/internal/rowset"
)

// AnalyzingDescription is the description the backend stores for a table whose
// analysis has not finished yet.
const AnalyzingDescription = "Analyzing table structure..."

// ColumnInfo describes one column of a configured database table
type ColumnInfo struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable *bool   `json:"nullable,omitempty"`
	Default  *string `json:"default,omitempty"`
}

// TableInfo is one entry of GET /api/tables
type TableInfo struct {
	Name        string          `json:"name"`
	Columns     []ColumnInfo    `json:"columns"`
	Description string          `json:"description"`
	SampleData  []rowset.Record `json:"sample_data,omitempty"`
}

// AvailableTablesResponse is the body of GET /api/available-tables
type AvailableTablesResponse struct {
	Tables []string `json:"tables"`
}

// ExcelTable is one entry of GET /api/excel-tables
type ExcelTable struct {
	Name             string   `json:"name"`
	OriginalFilename string   `json:"original_filename"`
	Columns          []string `json:"columns"`
	CleanColumns     []string `json:"clean_columns,omitempty"`
	Description      string   `json:"description"`
	ExpiresAt        string   `json:"expires_at"`
}

// expiryLayouts covers RFC 3339 and the zone-less ISO form some backends emit.
var expiryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ExpiryTime parses ExpiresAt. Zone-less timestamps are read in local time.
func (t ExcelTable) ExpiryTime() (time.Time, error) {
	s := strings.TrimSpace(t.ExpiresAt)
	for i, layout := range expiryLayouts {
		var (
			ts  time.Time
			err error
		)
		if i == 0 {
			ts, err = time.Parse(layout, s)
		} else {
			ts, err = time.ParseInLocation(layout, s, time.Local)
		}
		if err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid expires_at %q", t.ExpiresAt)
}

// TableCreate is the body of POST /api/tables
type TableCreate struct {
	TableName string `json:"table_name"`
}

// TableUpdate is the body of PUT /api/tables/{name}
type TableUpdate struct {
	Description string `json:"description"`
}

// MessageResponse is the acknowledgement returned by mutating calls
type MessageResponse struct {
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

// ExcelUpload is the body returned by POST /api/upload-excel
type ExcelUpload struct {
	Name        string          `json:"name"`
	Columns     []string        `json:"columns"`
	PreviewData []rowset.Record `json:"preview_data"`
}

// ChatRequest is the body of POST /api/chat
type ChatRequest struct {
	Message string   `json:"message"`
	Tables  []string `json:"tables"`
}

// ChatResponse is the answer to a question
type ChatResponse struct {
	Answer   string          `json:"answer"`
	SQLQuery string          `json:"sql_query"`
	Data     []rowset.Record `json:"data"`
}

// HealthResponse is the body of GET /api/health
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the error body. Detail is either a string or a list of
// validation entries carrying a "msg" field.
type ErrorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// DetailText flattens Detail into a single message.
func (e ErrorResponse) DetailText() string {
	if len(e.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(e.Detail, &s); err == nil {
		return s
	}

	var entries []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(e.Detail, &entries); err == nil {
		msgs := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.Msg != "" {
				msgs = append(msgs, entry.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}

	return strings.TrimSpace(string(e.Detail))
}
