// Package spreadsheet decodes uploaded contact files into a header row and
// row records, and samples large files for interactive preview.
package spreadsheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrParse        = errors.New("spreadsheet parse failed")
	ErrFileTooLarge = fmt.Errorf("%w: file too large", ErrParse)
	ErrUnreadable   = fmt.Errorf("%w: file is not a readable spreadsheet", ErrParse)
	ErrNoHeaders    = fmt.Errorf("%w: no headers detected", ErrParse)
	ErrNoRows       = fmt.Errorf("%w: file contains no data rows", ErrParse)
)

const (
	MaxFileSize             = 50 * 1024 * 1024 // 50MB
	DefaultPreviewThreshold = 10000
	DefaultSampleSize       = 5000
)

// Row is one data row keyed by header text.
type Row map[string]string

// Table is the decoded content of the first sheet. All holds every data row in
// file order; Sample, when set, selects the rows used for interactive work.
type Table struct {
	SheetName string   `json:"sheet_name"`
	Headers   []string `json:"headers"`
	All       []Row    `json:"all"`
	Sample    []int    `json:"sample,omitempty"`
}

// IsSampled reports whether the table is previewed through a sample.
func (t *Table) IsSampled() bool { return len(t.Sample) > 0 }

// Rows returns the rows used for preview: the sample if present, else all rows.
func (t *Table) Rows() []Row {
	if !t.IsSampled() {
		return t.All
	}
	rows := make([]Row, len(t.Sample))
	for i, idx := range t.Sample {
		rows[i] = t.All[idx]
	}
	return rows
}

// Indexes returns the original position of every row returned by Rows.
func (t *Table) Indexes() []int {
	if t.IsSampled() {
		return t.Sample
	}
	idx := make([]int, len(t.All))
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// SampleRows returns up to n rows from the start of the preview set.
func (t *Table) SampleRows(n int) []Row {
	rows := t.Rows()
	if len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

// Metadata describes the size of a parsed file.
type Metadata struct {
	FileSizeBytes     int64    `json:"file_size_bytes"`
	TotalRowCount     int      `json:"total_row_count"`
	SampledRowCount   int      `json:"sampled_row_count"`
	EstimatedMemoryMB float64  `json:"estimated_memory_mb"`
	IsLargeDataset    bool     `json:"is_large_dataset"`
	DuplicateHeaders  []string `json:"duplicate_headers,omitempty"`
}

// ReaderOptions tunes size limits. Zero values take the package defaults.
type ReaderOptions struct {
	MaxFileSize      int64
	PreviewThreshold int
	SampleSize       int
	Budget           MemoryBudget
}

// Reader parses uploaded files.
type Reader struct {
	opts ReaderOptions
}

// NewReader creates a reader with the given limits.
func NewReader(opts ReaderOptions) *Reader {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = MaxFileSize
	}
	if opts.PreviewThreshold <= 0 {
		opts.PreviewThreshold = DefaultPreviewThreshold
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}
	if opts.Budget.AvailableBytes == 0 {
		opts.Budget = DefaultMemoryBudget()
	}
	return &Reader{opts: opts}
}

// Parse decodes the first sheet of an XLSX file (or a CSV file, chosen by
// extension) into a Table.
func (r *Reader) Parse(data []byte, fileName string) (*Table, Metadata, error) {
	meta := Metadata{FileSizeBytes: int64(len(data))}
	if int64(len(data)) > r.opts.MaxFileSize {
		return nil, meta, fmt.Errorf("%w: %.1f MB exceeds the %.0f MB limit", ErrFileTooLarge,
			float64(len(data))/(1024*1024), float64(r.opts.MaxFileSize)/(1024*1024))
	}

	var (
		sheetName string
		grid      [][]string
		err       error
	)
	if strings.EqualFold(filepath.Ext(fileName), ".csv") {
		sheetName = strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
		grid, err = readCSV(data)
	} else {
		sheetName, grid, err = readXLSX(data)
	}
	if err != nil {
		return nil, meta, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	table, m, err := r.build(sheetName, grid)
	if err != nil {
		return nil, meta, err
	}
	m.FileSizeBytes = meta.FileSizeBytes
	return table, m, nil
}

// FromGrid builds a Table from manually entered cells. The first row with a
// non-blank cell is the header row.
func (r *Reader) FromGrid(headers []string, rows [][]string) (*Table, Metadata, error) {
	grid := make([][]string, 0, len(rows)+1)
	grid = append(grid, headers)
	grid = append(grid, rows...)
	return r.build("Manual entry", grid)
}

func (r *Reader) build(sheetName string, grid [][]string) (*Table, Metadata, error) {
	var meta Metadata

	headerAt := -1
	for i, row := range grid {
		if !blankRow(row) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil, meta, ErrNoHeaders
	}

	cols, dups := headerColumns(grid[headerAt])
	if len(cols) == 0 {
		return nil, meta, ErrNoHeaders
	}
	meta.DuplicateHeaders = dups

	table := &Table{SheetName: sheetName}
	for _, c := range cols {
		table.Headers = append(table.Headers, c.name)
	}

	for _, raw := range grid[headerAt+1:] {
		row := make(Row, len(cols))
		filled := false
		for _, c := range cols {
			if c.index >= len(raw) {
				continue
			}
			v := strings.TrimSpace(raw[c.index])
			row[c.name] = v
			if v != "" {
				filled = true
			}
		}
		if filled {
			table.All = append(table.All, row)
		}
	}
	if len(table.All) == 0 {
		return nil, meta, ErrNoRows
	}

	meta.TotalRowCount = len(table.All)
	meta.SampledRowCount = len(table.All)
	if len(table.All) > r.opts.PreviewThreshold {
		table.Sample = SystematicSample(len(table.All), r.opts.SampleSize)
		meta.IsLargeDataset = true
		meta.SampledRowCount = len(table.Sample)
	}
	meta.EstimatedMemoryMB = r.opts.Budget.EstimateMB(table.All)

	return table, meta, nil
}

type headerColumn struct {
	index int
	name  string
}

// headerColumns trims header cells, drops blanks and disambiguates repeated
// names with a " (n)" suffix so no column is silently overwritten. A suffix
// never reuses a name that appears elsewhere in the header row.
func headerColumns(cells []string) ([]headerColumn, []string) {
	var (
		cols []headerColumn
		dups []string
	)
	present := make(map[string]bool, len(cells))
	for _, cell := range cells {
		present[strings.TrimSpace(cell)] = true
	}
	seen := make(map[string]int)
	emitted := make(map[string]bool, len(cells))
	for i, cell := range cells {
		name := strings.TrimSpace(cell)
		if name == "" {
			continue
		}
		seen[name]++
		if n := seen[name]; n > 1 || emitted[name] {
			if n == 2 {
				dups = append(dups, name)
			}
			base := name
			for n = max(n, 2); ; n++ {
				name = fmt.Sprintf("%s (%d)", base, n)
				if !present[name] && !emitted[name] {
					break
				}
			}
		}
		emitted[name] = true
		cols = append(cols, headerColumn{index: i, name: name})
	}
	return cols, dups
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func readXLSX(data []byte) (string, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", nil, errors.New("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return "", nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return sheets[0], rows, nil
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
