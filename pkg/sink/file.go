package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/politicai/apportion/pkg/models"
)

// resultsSheet is the worksheet written by the xlsx sink
const resultsSheet = "results"

// fileSink holds rows in memory and rewrites the whole file on Close. Rows
// already in the file are loaded on open so re-runs upsert instead of append.
type fileSink struct {
	name  string
	path  string
	write func(path string, rows []models.AggregateResult) error

	mu    sync.Mutex
	table *resultTable
}

func (f *fileSink) Name() string { return f.name }

func (f *fileSink) Upsert(ctx context.Context, rows []models.AggregateResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.table.upsert(rows)
	return nil
}

// Close writes the file through a temporary sibling and a rename
func (f *fileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	tmp := f.path + ".tmp" + filepath.Ext(f.path)
	if err := f.write(tmp, f.table.snapshot()); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

// OpenCSV opens a CSV sink at path
func OpenCSV(path string) (Sink, error) {
	table := newResultTable()
	existing, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	table.upsert(existing)
	return &fileSink{name: "csv", path: path, write: writeCSV, table: table}, nil
}

// OpenXLSX opens an Excel sink at path
func OpenXLSX(path string) (Sink, error) {
	table := newResultTable()
	existing, err := readXLSX(path)
	if err != nil {
		return nil, err
	}
	table.upsert(existing)
	return &fileSink{name: "xlsx", path: path, write: writeXLSX, table: table}, nil
}

func readCSV(path string) ([]models.AggregateResult, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return parseRecords(path, records)
}

func writeCSV(path string, rows []models.AggregateResult) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := csv.NewWriter(file)
	if err := w.Write(models.ResultColumns); err != nil {
		file.Close()
		return err
	}
	for _, r := range rows {
		if err := w.Write(formatRecord(r)); err != nil {
			file.Close()
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}

func readXLSX(path string) ([]models.AggregateResult, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	sheet := resultsSheet
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		sheet = f.GetSheetName(0)
	}
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return parseRecords(path, records)
}

func writeXLSX(path string, rows []models.AggregateResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), resultsSheet); err != nil {
		return err
	}
	header := make([]interface{}, len(models.ResultColumns))
	for i, c := range models.ResultColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(resultsSheet, "A1", &header); err != nil {
		return err
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []interface{}{r.Constituency, r.Year, r.Source, r.Category, r.Amount, r.Percent}
		if err := f.SetSheetRow(resultsSheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func formatRecord(r models.AggregateResult) []string {
	return []string{
		r.Constituency,
		strconv.Itoa(r.Year),
		r.Source,
		r.Category,
		strconv.FormatFloat(r.Amount, 'f', -1, 64),
		strconv.FormatFloat(r.Percent, 'f', -1, 64),
	}
}

func parseRecords(path string, records [][]string) ([]models.AggregateResult, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if strings.Join(records[0], ",") != strings.Join(models.ResultColumns, ",") {
		return nil, fmt.Errorf("existing file %s has columns %v, want %v", path, records[0], models.ResultColumns)
	}
	out := make([]models.AggregateResult, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) < len(models.ResultColumns) {
			return nil, fmt.Errorf("%s row %d: expected %d fields, got %d", path, i+2, len(models.ResultColumns), len(rec))
		}
		year, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: invalid year %q", path, i+2, rec[1])
		}
		amount, err := strconv.ParseFloat(rec[4], 64)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: invalid amount %q", path, i+2, rec[4])
		}
		percent, err := strconv.ParseFloat(rec[5], 64)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: invalid percent %q", path, i+2, rec[5])
		}
		out = append(out, models.AggregateResult{
			Constituency: rec[0],
			Year:         year,
			Source:       rec[2],
			Category:     rec[3],
			Amount:       amount,
			Percent:      percent,
		})
	}
	return out, nil
}
