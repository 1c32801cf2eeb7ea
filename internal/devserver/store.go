package devserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"TableChat/internal/api"
	"TableChat/internal/rowset"
)

const (
	metadataTable = "table_metadata"
	uploadPrefix  = "excel_"
	sampleRows    = 5
)

// ErrNotFound is returned for tables that do not exist in the database
var ErrNotFound = errors.New("table not found")

// Store is the sqlite database behind the development backend. It holds user
// tables, uploaded sheets and the table_metadata bookkeeping table.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the database at path. ":memory:" keeps
// everything in process.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	createMetadataTable := `
	CREATE TABLE IF NOT EXISTS table_metadata (
		table_name TEXT PRIMARY KEY,
		description TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := db.Exec(createMetadataTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create metadata table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Exec runs a statement that returns no rows
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return nil
}

// DatabaseTables lists user tables, excluding bookkeeping and uploaded ones
func (s *Store) DatabaseTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name != ? AND name NOT LIKE ?
		ORDER BY name`, metadataTable, uploadPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableExists reports whether a table of that name exists
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up table: %w", err)
	}
	return n > 0, nil
}

// Columns returns the declared columns of a table
func (s *Store) Columns(ctx context.Context, table string) ([]api.ColumnInfo, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []api.ColumnInfo
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull bool
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		nullable := !notNull
		col := api.ColumnInfo{Name: name, Type: typ, Nullable: &nullable}
		if dflt.Valid {
			d := dflt.String
			col.Default = &d
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, ErrNotFound
	}
	return cols, nil
}

// Sample returns the first rows of a table
func (s *Store) Sample(ctx context.Context, table string, limit int) ([]rowset.Record, error) {
	return s.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), limit))
}

// Query runs a read statement and returns its rows in column order
func (s *Store) Query(ctx context.Context, query string, args ...any) ([]rowset.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []rowset.Record{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		var rec rowset.Record
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			rec.Set(col, v)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Configured returns the metadata of configured tables, oldest first
func (s *Store) Configured(ctx context.Context) ([]Metadata, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT table_name, description FROM table_metadata ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to read table metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Metadata
	for rows.Next() {
		var m Metadata
		var desc sql.NullString
		if err := rows.Scan(&m.Name, &desc); err != nil {
			return nil, fmt.Errorf("failed to scan table metadata: %w", err)
		}
		m.Description = desc.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// Configure records a table with its initial description. Adding an already
// configured table restarts its analysis.
func (s *Store) Configure(ctx context.Context, name, description string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO table_metadata (table_name, description) VALUES (?, ?)
		ON CONFLICT(table_name) DO UPDATE SET description = excluded.description`, name, description)
	if err != nil {
		return fmt.Errorf("failed to store table metadata: %w", err)
	}
	return nil
}

// SetDescription replaces a configured table's description
func (s *Store) SetDescription(ctx context.Context, name, description string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE table_metadata SET description = ? WHERE table_name = ?`, description, name)
	if err != nil {
		return fmt.Errorf("failed to update table metadata: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Unconfigure removes a table from the configuration. The table itself stays.
func (s *Store) Unconfigure(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM table_metadata WHERE table_name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete table metadata: %w", err)
	}
	return nil
}

// DropTable deletes a table and its data
func (s *Store) DropTable(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
		return fmt.Errorf("failed to drop %s: %w", name, err)
	}
	return nil
}

// Metadata is one row of table_metadata
type Metadata struct {
	Name        string
	Description string
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
