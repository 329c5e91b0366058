// Package csvtable manages the merged question and answer CSV table.
package csvtable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/qa"
)

// ErrMissingIDColumn is returned when an existing table has no question_id header.
var ErrMissingIDColumn = errors.New("output table has no question_id column")

// Table holds the rows already on disk plus rows appended during this run.
// Every Append rewrites the whole file as existing rows followed by new rows.
type Table struct {
	path      string
	header    []string
	existing  [][]string
	added     [][]string
	processed map[int64]bool
	topN      int
}

// Open reads the table at path when it exists. Existing rows are kept verbatim
// and realigned to the current header by column name.
func Open(path string, topN int) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("output path is required")
	}
	t := &Table{
		path:      path,
		header:    qa.Columns(topN),
		processed: make(map[int64]bool),
		topN:      topN,
	}
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open output table: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	if err := t.load(f); err != nil {
		return nil, fmt.Errorf("load output table %s: %w", path, err)
	}
	return t, nil
}

func (t *Table) load(r io.Reader) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	fileHeader := records[0]
	idCol := indexOf(fileHeader, "question_id")
	if idCol < 0 {
		return ErrMissingIDColumn
	}
	mapping := make([]int, len(t.header))
	for i, col := range t.header {
		mapping[i] = indexOf(fileHeader, col)
	}
	for line, rec := range records[1:] {
		if idCol >= len(rec) {
			return fmt.Errorf("row %d: missing question_id", line+2)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(rec[idCol]), 10, 64)
		if err != nil {
			return fmt.Errorf("row %d: parse question_id: %w", line+2, err)
		}
		t.processed[id] = true
		aligned := make([]string, len(t.header))
		for i, src := range mapping {
			if src >= 0 && src < len(rec) {
				aligned[i] = rec[src]
			}
		}
		t.existing = append(t.existing, aligned)
	}
	return nil
}

// Path returns the file location.
func (t *Table) Path() string {
	return t.path
}

// Header returns the columns written to the file.
func (t *Table) Header() []string {
	return append([]string(nil), t.header...)
}

// Processed reports whether a row for id is already in the table.
func (t *Table) Processed(id int64) bool {
	return t.processed[id]
}

// ProcessedCount returns the number of distinct question IDs in the table.
func (t *Table) ProcessedCount() int {
	return len(t.processed)
}

// Len returns the number of rows the file holds after the last write.
func (t *Table) Len() int {
	return len(t.existing) + len(t.added)
}

// Append adds rows for unprocessed questions and rewrites the file. Rows whose
// question_id is already present are dropped; it returns how many were added.
func (t *Table) Append(rows []qa.Row) (int, error) {
	added := 0
	for _, row := range rows {
		if t.processed[row.QuestionID] {
			continue
		}
		t.processed[row.QuestionID] = true
		t.added = append(t.added, row.Record(t.topN))
		added++
	}
	if err := t.write(); err != nil {
		return added, err
	}
	return added, nil
}

func (t *Table) write() error {
	if dir := filepath.Dir(t.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("create output table: %w", err)
	}
	w := csv.NewWriter(f)
	records := make([][]string, 0, 1+t.Len())
	records = append(records, t.header)
	records = append(records, t.existing...)
	records = append(records, t.added...)
	if err := w.WriteAll(records); err != nil {
		_ = f.Close()
		return fmt.Errorf("write output table: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output table: %w", err)
	}
	return nil
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if strings.TrimSpace(strings.TrimPrefix(c, "\ufeff")) == name {
			return i
		}
	}
	return -1
}
