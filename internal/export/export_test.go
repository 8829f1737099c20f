package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lab-counter/internal/form"
	"lab-counter/internal/page"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot() page.Snapshot {
	return page.Snapshot{
		Page:    "eggs",
		Sources: []string{"/data/a.png", "/data/b.png", "/data/c.png"},
		Snapshot: form.Snapshot{
			InputNames:  []string{"Group Number", "Notes"},
			OutputNames: []string{"Count", "Eggs per mL"},
			Rows: []form.Row{
				{Index: 0, Visited: true, Inputs: []any{"7", "ok"}, Outputs: []any{10, 25.0}},
				{Index: 1, Visited: true, Inputs: []any{"8", nil}, Outputs: []any{20, 50.0}},
				{Index: 2, Inputs: []any{nil, nil}, Outputs: []any{nil, nil}},
			},
		},
	}
}

func TestBuildDefaultOrder(t *testing.T) {
	tbl := Build(snapshot(), func(s string) string {
		if s == "Group Number" {
			return "group"
		}
		return s
	}, nil)

	assert.NotEmpty(t, tbl.RunID)
	assert.Equal(t, "eggs", tbl.Page)
	want := [][]string{
		{"1", "/data/a.png", "7", "ok", "10", "25"},
		{"2", "/data/b.png", "8", "", "20", "50"},
		{"3", "/data/c.png", "", "", "", ""},
	}
	if diff := cmp.Diff([]string{"Item", "Source", "group", "Notes", "Count", "Eggs per mL"}, tbl.Columns); diff != "" {
		t.Errorf("columns (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, tbl.Records); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}
}

func TestBuildFollowsTemplate(t *testing.T) {
	tbl := Build(snapshot(), nil, []string{"Item", "Count", "Tank", "Group Number"})

	wantCols := []string{"Item", "Source", "Count", "Tank", "Group Number", "Notes", "Eggs per mL"}
	if diff := cmp.Diff(wantCols, tbl.Columns); diff != "" {
		t.Errorf("columns (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"1", "/data/a.png", "10", "", "7", "ok", "25"}, tbl.Records[0])
}

func TestSummarize(t *testing.T) {
	stats := Summarize(Build(snapshot(), nil, nil))
	require.Len(t, stats, 2, "only output columns are summarized")

	byName := map[string]Stat{}
	for _, s := range stats {
		byName[s.Column] = s
	}
	count := byName["Count"]
	assert.Equal(t, 2, count.N)
	assert.InDelta(t, 15.0, count.Mean, 1e-9)
	assert.InDelta(t, 7.0710678, count.StdDev, 1e-6)
	assert.Equal(t, 10.0, count.Min)
	assert.Equal(t, 20.0, count.Max)
	_, hasNotes := byName["Notes"]
	assert.False(t, hasNotes)
	_, hasGroup := byName["Group Number"]
	assert.False(t, hasGroup, "numeric identifiers are inputs, not measurements")
}

func TestSummaryWithDuplicateHeaders(t *testing.T) {
	// Both outputs mapped to the same export header.
	tbl := Build(snapshot(), func(s string) string {
		if s == "Count" || s == "Eggs per mL" {
			return "eggs"
		}
		return s
	}, nil)
	require.Equal(t, []string{"Item", "Source", "Group Number", "Notes", "eggs", "eggs"}, tbl.Columns)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tbl, true))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	mean := records[4]
	require.Equal(t, "mean", mean[0])
	assert.Equal(t, "", mean[2], "Group Number is not summarized")
	assert.Equal(t, "15", mean[4])
	assert.Equal(t, "37.5", mean[5])
}

func TestWriteCSVWithSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, Build(snapshot(), nil, nil), true))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1+3+4)
	assert.Equal(t, "Item", records[0][0])
	assert.Equal(t, "mean", records[4][0])
	assert.Equal(t, "15", records[4][4])
	assert.Equal(t, "max", records[7][0])
	assert.Equal(t, "50", records[7][5])
	assert.Equal(t, "", records[4][3], "non-numeric column has no summary")
	assert.Equal(t, "", records[4][2], "input column has no summary")
}

func TestWriteCSVFileAndTemplate(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "template.csv")
	require.NoError(t, os.WriteFile(tmpl, []byte("\ufeffCount, Group Number\n1,2\n"), 0o644))
	header, err := ReadTemplateHeader(tmpl)
	require.NoError(t, err)
	assert.Equal(t, []string{"Count", "Group Number"}, header)

	out := filepath.Join(dir, "out", "eggs.csv")
	require.NoError(t, WriteCSVFile(out, Build(snapshot(), nil, header), false))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "Item,Source,Count,Group Number,Notes,Eggs per mL\n"))

	_, err = ReadTemplateHeader(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}

func TestWriteSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.db")
	first := Build(snapshot(), nil, nil)
	second := Build(snapshot(), nil, nil)
	require.NoError(t, WriteSQLite(ctx, path, first))
	require.NoError(t, WriteSQLite(ctx, path, second))

	db, err := OpenDB(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	var runs int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&runs))
	assert.Equal(t, 2, runs)

	var n int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM results WHERE run_id = ?`, first.RunID).Scan(&n))
	assert.Equal(t, 7, n, "empty values are skipped")

	var value string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT value FROM results WHERE run_id = ? AND item = 2 AND field = 'Count'`, second.RunID).Scan(&value))
	assert.Equal(t, "20", value)
}
