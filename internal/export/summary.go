package export

import (
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stat summarizes one numeric column.
type Stat struct {
	Index  int // position in Table.Columns
	Column string
	N      int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// Summarize computes statistics for every measured column whose non-empty
// values all parse as numbers. Input columns are never summarized, even when
// they hold numeric identifiers.
func Summarize(t Table) []Stat {
	var stats []Stat
	for col := 2; col < len(t.Columns); col++ {
		if col >= len(t.Measured) || !t.Measured[col] {
			continue
		}
		values, ok := numericColumn(t.Records, col)
		if !ok || len(values) == 0 {
			continue
		}
		mean, std := stat.MeanStdDev(values, nil)
		if len(values) < 2 {
			std = 0
		}
		stats = append(stats, Stat{
			Index:  col,
			Column: t.Columns[col],
			N:      len(values),
			Mean:   mean,
			StdDev: std,
			Min:    floats.Min(values),
			Max:    floats.Max(values),
		})
	}
	return stats
}

func numericColumn(records [][]string, col int) ([]float64, bool) {
	var values []float64
	for _, rec := range records {
		if col >= len(rec) || rec[col] == "" {
			continue
		}
		v, err := strconv.ParseFloat(rec[col], 64)
		if err != nil {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}

// summaryRecords renders stats as trailing CSV rows aligned to t's columns.
func summaryRecords(t Table, stats []Stat) [][]string {
	if len(stats) == 0 {
		return nil
	}
	labels := []string{"mean", "std", "min", "max"}
	out := make([][]string, len(labels))
	for i, label := range labels {
		out[i] = make([]string, len(t.Columns))
		out[i][0] = label
	}
	for _, s := range stats {
		col := s.Index
		if col < 0 || col >= len(t.Columns) {
			continue
		}
		for i, v := range []float64{s.Mean, s.StdDev, s.Min, s.Max} {
			out[i][col] = strconv.FormatFloat(v, 'g', 6, 64)
		}
	}
	return out
}
