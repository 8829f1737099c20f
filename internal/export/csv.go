package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteCSV writes t with a header row. When summary is set, mean, std, min
// and max rows follow the item rows.
func WriteCSV(w io.Writer, t Table, summary bool) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Columns); err != nil {
		return err
	}
	for _, rec := range t.Records {
		if err := writer.Write(rec); err != nil {
			return err
		}
	}
	if summary {
		for _, rec := range summaryRecords(t, Summarize(t)) {
			if err := writer.Write(rec); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteCSVFile writes t to path, replacing any existing file in one rename.
func WriteCSVFile(path string, t Table, summary bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := WriteCSV(f, t, summary); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write csv: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
