// Package upload reads spreadsheet workbooks: the client checks a file before sending it,
// and the development backend loads the same sheet into a table.
package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"TableChat/internal/apperr"
)

// Sheet is the first worksheet of a workbook: a header row and the data rows below it.
// Data rows are padded or cut to the header width.
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]string
}

// Summary describes a file that passed the pre-flight checks
type Summary struct {
	Path     string
	Filename string
	Size     int64
	Sheet    string
	Headers  []string
	DataRows int
}

var allowedExtensions = map[string]bool{
	".xlsx": true,
	".xlsm": true,
}

// Preflight validates a local workbook before upload: the extension, the size limit and
// the presence of a header plus at least one data row. maxBytes <= 0 disables the limit.
func Preflight(path string, maxBytes int64) (Summary, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Summary{}, apperr.Validation("file", "Please choose a file to upload")
	}
	name := filepath.Base(path)
	if !allowedExtensions[strings.ToLower(filepath.Ext(name))] {
		return Summary{}, apperr.Validation("file", fmt.Sprintf("%s is not an Excel workbook (.xlsx or .xlsm)", name))
	}

	info, err := os.Stat(path)
	if err != nil {
		return Summary{}, apperr.Validation("file", fmt.Sprintf("Cannot read %s: %v", name, err))
	}
	if info.IsDir() {
		return Summary{}, apperr.Validation("file", fmt.Sprintf("%s is a directory", name))
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return Summary{}, apperr.Validation("file", fmt.Sprintf("%s is larger than the %s upload limit", name, formatSize(maxBytes)))
	}

	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet, err := ReadSheet(f)
	if err != nil {
		return Summary{}, apperr.Validation("file", fmt.Sprintf("%s: %v", name, err))
	}

	return Summary{
		Path:     path,
		Filename: name,
		Size:     info.Size(),
		Sheet:    sheet.Name,
		Headers:  sheet.Headers,
		DataRows: len(sheet.Rows),
	}, nil
}

// ReadSheet parses the first worksheet of a workbook
func ReadSheet(r io.Reader) (Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Sheet{}, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	name := f.GetSheetName(0)
	if name == "" {
		return Sheet{}, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(name)
	if err != nil {
		return Sheet{}, fmt.Errorf("failed to read rows: %w", err)
	}
	rows = dropBlankRows(rows)
	if len(rows) < 2 {
		return Sheet{}, fmt.Errorf("file must have header and at least one data row")
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		headers[i] = h
	}

	data := make([][]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		values := make([]string, len(headers))
		copy(values, row)
		data = append(data, values)
	}

	return Sheet{Name: name, Headers: headers, Rows: data}, nil
}

func dropBlankRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

func formatSize(n int64) string {
	if n >= 1<<20 {
		return fmt.Sprintf("%d MB", n>>20)
	}
	return fmt.Sprintf("%d byte", n)
}
