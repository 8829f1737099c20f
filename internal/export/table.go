// Package export turns a page snapshot into CSV files and SQLite tables.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"time"

	"lab-counter/internal/page"

	"github.com/google/uuid"
)

// Fixed leading columns.
const (
	ColumnItem   = "Item"
	ColumnSource = "Source"
)

// Table is a flattened export: one record per item, all values formatted.
type Table struct {
	RunID      string
	Page       string
	ExportedAt time.Time
	Columns    []string
	Records    [][]string
	// Measured marks the columns that hold output values, aligned with
	// Columns. Only measured columns are summarized.
	Measured []bool
}

// Mapper renames a field to its export column.
type Mapper func(field string) string

// Build flattens snap. Field columns are renamed with mapColumn; when
// template is non-empty the columns follow its order, template columns with
// no matching field stay empty, and unmatched fields are appended.
func Build(snap page.Snapshot, mapColumn Mapper, template []string) Table {
	if mapColumn == nil {
		mapColumn = func(s string) string { return s }
	}

	fields := make([]string, 0, len(snap.InputNames)+len(snap.OutputNames))
	for _, name := range snap.InputNames {
		fields = append(fields, mapColumn(name))
	}
	for _, name := range snap.OutputNames {
		fields = append(fields, mapColumn(name))
	}

	// order[i] is the field position shown in column i, or -1 for an empty
	// template column.
	columns, order := arrange(fields, template)

	t := Table{
		RunID:      uuid.NewString(),
		Page:       snap.Page,
		ExportedAt: time.Now().UTC(),
		Columns:    append([]string{ColumnItem, ColumnSource}, columns...),
		Records:    make([][]string, 0, len(snap.Rows)),
		Measured:   make([]bool, 2, 2+len(order)),
	}
	for _, pos := range order {
		t.Measured = append(t.Measured, pos >= len(snap.InputNames))
	}

	for _, row := range snap.Rows {
		values := make([]any, 0, len(fields))
		values = append(values, row.Inputs...)
		values = append(values, row.Outputs...)

		source := ""
		if row.Index < len(snap.Sources) {
			source = snap.Sources[row.Index]
		}
		record := make([]string, 0, len(t.Columns))
		record = append(record, fmt.Sprintf("%d", row.Index+1), source)
		for _, pos := range order {
			if pos < 0 || pos >= len(values) {
				record = append(record, "")
				continue
			}
			record = append(record, formatValue(values[pos]))
		}
		t.Records = append(t.Records, record)
	}
	return t
}

func arrange(fields, template []string) ([]string, []int) {
	if len(template) == 0 {
		order := make([]int, len(fields))
		for i := range order {
			order[i] = i
		}
		return append([]string(nil), fields...), order
	}

	used := make([]bool, len(fields))
	var columns []string
	var order []int
	for _, col := range template {
		col = strings.TrimSpace(col)
		if col == "" || col == ColumnItem || col == ColumnSource {
			continue
		}
		pos := -1
		for i, f := range fields {
			if !used[i] && f == col {
				pos = i
				used[i] = true
				break
			}
		}
		columns = append(columns, col)
		order = append(order, pos)
	}
	for i, f := range fields {
		if !used[i] {
			columns = append(columns, f)
			order = append(order, i)
		}
	}
	return columns, order
}

// ReadTemplateHeader returns the header row of a CSV template file.
func ReadTemplateHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read template header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	return header, nil
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	case float32:
		return fmt.Sprintf("%g", v)
	case float64:
		return fmt.Sprintf("%g", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		return fmt.Sprint(v)
	}
}
