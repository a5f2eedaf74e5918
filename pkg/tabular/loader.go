package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/politicai/apportion/pkg/models"
)

// Options controls how a file is turned into a Table
type Options struct {
	Sheet      string `yaml:"sheet,omitempty"`
	SkipRows   int    `yaml:"skip_rows,omitempty"`
	HasHeaders *bool  `yaml:"has_headers,omitempty"`
	Delimiter  string `yaml:"delimiter,omitempty"`
}

func (o Options) headers() bool {
	return o.HasHeaders == nil || *o.HasHeaders
}

// Loader reads one file format
type Loader interface {
	Load(path string, opts Options) (*Table, error)
	Name() string
}

// Registry maps file extensions to loaders
type Registry struct {
	loaders map[string]Loader
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{loaders: make(map[string]Loader)}
}

// DefaultRegistry knows CSV and XLSX
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(CSVLoader{}, ".csv", ".tsv", ".txt")
	r.MustRegister(ExcelLoader{}, ".xlsx", ".xlsm")
	return r
}

// Register binds a loader to one or more extensions
func (r *Registry) Register(l Loader, exts ...string) error {
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if existing, ok := r.loaders[ext]; ok {
			return fmt.Errorf("extension %s already handled by %s loader", ext, existing.Name())
		}
		r.loaders[ext] = l
	}
	return nil
}

// MustRegister is Register for static setup
func (r *Registry) MustRegister(l Loader, exts ...string) {
	if err := r.Register(l, exts...); err != nil {
		panic(err)
	}
}

// Load reads path with the loader registered for its extension. A missing
// file is a *models.SchemaError since a required input table is absent.
func (r *Registry) Load(path string, opts Options) (*Table, error) {
	name := filepath.Base(path)
	if _, err := os.Stat(path); err != nil {
		return nil, &models.SchemaError{Table: name, Reason: fmt.Sprintf("input not readable: %v", err)}
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".xls" {
		return nil, &models.SchemaError{Table: name, Reason: "legacy .xls workbooks are not supported; save the sheet as .xlsx or .csv"}
	}
	loader, ok := r.loaders[ext]
	if !ok {
		return nil, &models.SchemaError{Table: name, Reason: fmt.Sprintf("no loader for extension %q", ext)}
	}
	return loader.Load(path, opts)
}

// CSVLoader reads delimited text
type CSVLoader struct{}

// Name returns the loader name
func (CSVLoader) Name() string { return "csv" }

// Load reads a delimited file
func (CSVLoader) Load(path string, opts Options) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	switch {
	case len(opts.Delimiter) == 1:
		reader.Comma = rune(opts.Delimiter[0])
	case strings.EqualFold(filepath.Ext(path), ".tsv"):
		reader.Comma = '\t'
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV %s: %w", path, err)
		}
		records = append(records, record)
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	}

	return build(filepath.Base(path), records, opts), nil
}

// ExcelLoader reads .xlsx workbooks
type ExcelLoader struct{}

// Name returns the loader name
func (ExcelLoader) Name() string { return "xlsx" }

// Load reads one sheet of a workbook; the first sheet unless opts.Sheet is set
func (ExcelLoader) Load(path string, opts Options) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, &models.SchemaError{Table: filepath.Base(path), Reason: fmt.Sprintf("sheet %q not found (available: %s)", sheet, strings.Join(f.GetSheetList(), ", "))}
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	name := filepath.Base(path)
	if opts.Sheet != "" {
		name += "#" + sheet
	}
	return build(name, rows, opts), nil
}

func build(name string, records [][]string, opts Options) *Table {
	if opts.SkipRows > 0 {
		if opts.SkipRows >= len(records) {
			records = nil
		} else {
			records = records[opts.SkipRows:]
		}
	}

	t := &Table{Name: name}
	if len(records) == 0 {
		t.Columns = []string{}
		t.Rows = [][]string{}
		return t
	}

	if opts.headers() {
		t.Columns = make([]string, len(records[0]))
		for i, h := range records[0] {
			t.Columns[i] = strings.TrimSpace(h)
		}
		records = records[1:]
	} else {
		width := 0
		for _, r := range records {
			if len(r) > width {
				width = len(r)
			}
		}
		t.Columns = make([]string, width)
		for i := range t.Columns {
			t.Columns[i] = fmt.Sprintf("column_%d", i+1)
		}
	}

	t.Rows = make([][]string, 0, len(records))
	for _, r := range records {
		if isBlank(r) {
			continue
		}
		t.Rows = append(t.Rows, r)
	}
	return t
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
