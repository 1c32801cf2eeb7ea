package devserver

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"TableChat/internal/api"
	"TableChat/internal/upload"
)

// uploadedTable is the bookkeeping for one uploaded sheet
type uploadedTable struct {
	name             string
	originalFilename string
	columns          []string // header text as uploaded
	cleanColumns     []string // sqlite column names
	description      string
	expiresAt        time.Time
}

// uploads tracks uploaded sheets and drops them from the store once they expire
type uploads struct {
	mu     sync.Mutex
	store  *Store
	ttl    time.Duration
	now    func() time.Time
	tables map[string]*uploadedTable
	order  []string
}

func newUploads(store *Store, ttl time.Duration, now func() time.Time) *uploads {
	return &uploads{
		store:  store,
		ttl:    ttl,
		now:    now,
		tables: make(map[string]*uploadedTable),
	}
}

// add loads a sheet into a new table and returns its bookkeeping entry
func (u *uploads) add(ctx context.Context, filename string, sheet upload.Sheet) (*uploadedTable, error) {
	t := &uploadedTable{
		name:             uploadTableName(filename),
		originalFilename: filename,
		columns:          sheet.Headers,
		cleanColumns:     cleanColumnNames(sheet.Headers),
		expiresAt:        u.now().Add(u.ttl),
	}

	types := columnTypes(sheet.Rows, len(t.cleanColumns))
	defs := make([]string, len(t.cleanColumns))
	for i, c := range t.cleanColumns {
		defs[i] = quoteIdent(c) + " " + types[i]
	}
	if err := u.store.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(t.name), strings.Join(defs, ", "))); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.cleanColumns)), ", ")
	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(t.name), placeholders)
	for _, row := range sheet.Rows {
		args := make([]any, len(row))
		for i, cell := range row {
			args[i] = cellValue(cell, types[i])
		}
		if err := u.store.Exec(ctx, insert, args...); err != nil {
			_ = u.store.DropTable(ctx, t.name)
			return nil, fmt.Errorf("failed to insert row: %w", err)
		}
	}

	cols, err := u.store.Columns(ctx, t.name)
	if err != nil {
		return nil, err
	}
	sample, err := u.store.Sample(ctx, t.name, sampleRows)
	if err != nil {
		return nil, err
	}
	t.description = describeTable(filename, cols, sample)

	u.mu.Lock()
	u.tables[t.name] = t
	u.order = append(u.order, t.name)
	u.mu.Unlock()
	return t, nil
}

// live returns the unexpired uploads in upload order, dropping expired ones
func (u *uploads) live(ctx context.Context) []uploadedTable {
	u.mu.Lock()
	now := u.now()
	var expired []string
	out := make([]uploadedTable, 0, len(u.order))
	kept := u.order[:0]
	for _, name := range u.order {
		t := u.tables[name]
		if !now.Before(t.expiresAt) {
			expired = append(expired, name)
			delete(u.tables, name)
			continue
		}
		kept = append(kept, name)
		out = append(out, *t)
	}
	u.order = kept
	u.mu.Unlock()

	for _, name := range expired {
		_ = u.store.DropTable(ctx, name)
	}
	return out
}

// get returns an unexpired upload
func (u *uploads) get(ctx context.Context, name string) (uploadedTable, bool) {
	for _, t := range u.live(ctx) {
		if t.name == name {
			return t, true
		}
	}
	return uploadedTable{}, false
}

// remove drops an upload and reports whether it existed
func (u *uploads) remove(ctx context.Context, name string) (bool, error) {
	u.mu.Lock()
	_, ok := u.tables[name]
	if ok {
		delete(u.tables, name)
		for i, n := range u.order {
			if n == name {
				u.order = append(u.order[:i], u.order[i+1:]...)
				break
			}
		}
	}
	u.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, u.store.DropTable(ctx, name)
}

func (t uploadedTable) info() api.ExcelTable {
	return api.ExcelTable{
		Name:             t.name,
		OriginalFilename: t.originalFilename,
		Columns:          append([]string(nil), t.columns...),
		CleanColumns:     append([]string(nil), t.cleanColumns...),
		Description:      t.description,
		ExpiresAt:        t.expiresAt.Format(time.RFC3339Nano),
	}
}

// uploadTableName builds excel_<alphanumeric filename>_<8 hex chars>
func uploadTableName(filename string) string {
	var b strings.Builder
	for _, r := range filename {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return uploadPrefix + b.String() + "_" + uuid.NewString()[:8]
}

// cleanColumnName makes a header usable as an unquoted SQL identifier: runs of
// non-alphanumerics become one underscore, a leading digit gets an n_ prefix,
// and the result is lower case.
func cleanColumnName(header string) string {
	parts := strings.FieldsFunc(header, func(r rune) bool {
		return r >= unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	cleaned := strings.ToLower(strings.Join(parts, "_"))
	if cleaned == "" {
		return "column"
	}
	if cleaned[0] >= '0' && cleaned[0] <= '9' {
		cleaned = "n_" + cleaned
	}
	return cleaned
}

// cleanColumnNames cleans every header, suffixing repeats so names stay unique
func cleanColumnNames(headers []string) []string {
	seen := make(map[string]int, len(headers))
	out := make([]string, len(headers))
	for i, h := range headers {
		name := cleanColumnName(h)
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}

// columnTypes picks INTEGER or REAL for columns whose non-empty cells all parse
// as numbers, TEXT otherwise.
func columnTypes(rows [][]string, width int) []string {
	types := make([]string, width)
	for i := range types {
		typ := "INTEGER"
		seen := false
		for _, row := range rows {
			cell := strings.TrimSpace(row[i])
			if cell == "" {
				continue
			}
			seen = true
			if _, err := strconv.ParseInt(cell, 10, 64); err == nil {
				continue
			}
			if _, err := strconv.ParseFloat(cell, 64); err == nil {
				typ = "REAL"
				continue
			}
			typ = "TEXT"
			break
		}
		if !seen {
			typ = "TEXT"
		}
		types[i] = typ
	}
	return types
}

func cellValue(cell, typ string) any {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil
	}
	switch typ {
	case "INTEGER":
		if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
			return n
		}
	case "REAL":
		if f, err := strconv.ParseFloat(cell, 64); err == nil {
			return f
		}
	}
	return cell
}
