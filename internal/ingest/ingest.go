// Package ingest reads research subjects from XLSX and CSV files so they can
// be queued for batch collection.
package ingest

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/intel-engine/internal/store"
)

// Options configures subject file parsing.
type Options struct {
	// SheetName selects an XLSX sheet by name. Empty means the first sheet.
	SheetName string

	// NameColumn and CategoryColumn override header matching. When empty,
	// headers named subject/name/company and category are matched
	// case-insensitively.
	NameColumn     string
	CategoryColumn string
}

var defaultNameHeaders = []string{"subject", "name", "company"}

// ReadSubjects parses the file at path into queueable subjects. The format
// is chosen by extension (.xlsx or .csv). The first row must be a header
// row. Rows without a subject name are skipped; duplicate names (case
// insensitive) keep the first occurrence.
func ReadSubjects(path string, opts Options) ([]store.Subject, error) {
	var rows [][]string
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSXRows(path, opts.SheetName)
	case ".csv":
		rows, err = readCSVRows(path)
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.New("ingest: file has no rows")
	}

	nameIdx, categoryIdx := matchColumns(rows[0], opts)
	if nameIdx < 0 {
		return nil, eris.Errorf("ingest: no subject column found in header %v", rows[0])
	}

	seen := make(map[string]struct{})
	var subjects []store.Subject
	var skipped int
	for _, row := range rows[1:] {
		if nameIdx >= len(row) {
			skipped++
			continue
		}
		name := strings.TrimSpace(row[nameIdx])
		if name == "" {
			skipped++
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			skipped++
			continue
		}
		seen[key] = struct{}{}

		var category string
		if categoryIdx >= 0 && categoryIdx < len(row) {
			category = strings.TrimSpace(row[categoryIdx])
		}
		subjects = append(subjects, store.Subject{Name: name, Category: category})
	}

	if skipped > 0 {
		zap.L().Debug("ingest: skipped rows",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return subjects, nil
}

func matchColumns(header []string, opts Options) (nameIdx, categoryIdx int) {
	nameIdx, categoryIdx = -1, -1

	nameHeaders := defaultNameHeaders
	if opts.NameColumn != "" {
		nameHeaders = []string{opts.NameColumn}
	}
	categoryHeader := "category"
	if opts.CategoryColumn != "" {
		categoryHeader = opts.CategoryColumn
	}

	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		if nameIdx < 0 {
			for _, want := range nameHeaders {
				if h == strings.ToLower(want) {
					nameIdx = i
					break
				}
			}
		}
		if categoryIdx < 0 && h == strings.ToLower(categoryHeader) {
			categoryIdx = i
		}
	}
	return nameIdx, categoryIdx
}

func readXLSXRows(path, sheetName string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open xlsx")
	}

	var sheet *xlsx.Sheet
	if sheetName != "" {
		var ok bool
		sheet, ok = f.Sheet[sheetName]
		if !ok {
			return nil, eris.Errorf("ingest: sheet %q not found", sheetName)
		}
	} else {
		if len(f.Sheets) == 0 {
			return nil, eris.New("ingest: xlsx has no sheets")
		}
		sheet = f.Sheets[0]
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func readCSVRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open csv")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "ingest: read csv row")
		}
		rows = append(rows, record)
	}
	return rows, nil
}
