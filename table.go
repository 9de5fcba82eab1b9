package dtm

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Column names.
const (
	ColumnX = "x"
	ColumnY = "y"
)

var (
	ErrEmptyTable    = errors.New("empty table")
	ErrMissingColumn = errors.New("missing column")
)

// A TableError is an error in a table.
type TableError struct {
	Line   int
	Column string
	Err    error
}

func (e *TableError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: column %s: %v", e.Line, e.Column, e.Err)
}

func (e *TableError) Unwrap() error {
	return e.Err
}

// A Table is a comma-separated table with a header row and at least the
// columns x and y. Cells are kept as text so that a table is written exactly
// as it was read.
type Table struct {
	header  []string
	records [][]string
	xIndex  int
	yIndex  int
}

// ReadTable reads a Table from r.
func ReadTable(r io.Reader) (*Table, error) {
	csvReader := csv.NewReader(r)
	header, err := csvReader.Read()
	switch {
	case errors.Is(err, io.EOF):
		return nil, &TableError{Line: 1, Err: ErrEmptyTable}
	case err != nil:
		return nil, err
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, err
	}

	t := &Table{
		header:  header,
		records: records,
	}
	for _, column := range []struct {
		name  string
		index *int
	}{
		{name: ColumnX, index: &t.xIndex},
		{name: ColumnY, index: &t.yIndex},
	} {
		*column.index = slices.Index(header, column.name)
		if *column.index == -1 {
			return nil, &TableError{Line: 1, Column: column.name, Err: ErrMissingColumn}
		}
	}
	return t, nil
}

// Header returns t's column names.
func (t *Table) Header() []string {
	return t.header
}

// Len returns the number of rows in t.
func (t *Table) Len() int {
	return len(t.records)
}

// Points returns the points in t, in order. Empty cells are NaN.
func (t *Table) Points() ([]Point, error) {
	points := make([]Point, len(t.records))
	for i, record := range t.records {
		x, err := parseCell(record[t.xIndex])
		if err != nil {
			return nil, &TableError{Line: i + 2, Column: ColumnX, Err: err}
		}
		y, err := parseCell(record[t.yIndex])
		if err != nil {
			return nil, &TableError{Line: i + 2, Column: ColumnY, Err: err}
		}
		points[i] = Point{X: x, Y: y}
	}
	return points, nil
}

// SetColumn sets the column name to values, replacing any existing column
// with the same name or appending a new column.
func (t *Table) SetColumn(name string, values []float64) error {
	if len(values) != len(t.records) {
		return fmt.Errorf("column %s: got %d values, want %d", name, len(values), len(t.records))
	}
	index := slices.Index(t.header, name)
	if index == -1 {
		t.header = append(t.header, name)
	}
	for i, value := range values {
		if index == -1 {
			t.records[i] = append(t.records[i], FormatFloat(value))
		} else {
			t.records[i][index] = FormatFloat(value)
		}
	}
	return nil
}

// Write writes t to w.
func (t *Table) Write(w io.Writer) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(t.header); err != nil {
		return err
	}
	if err := csvWriter.WriteAll(t.records); err != nil {
		return err
	}
	return csvWriter.Error()
}

// WritePoints writes points to w as a table with the columns x and y.
func WritePoints(w io.Writer, points []Point) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write([]string{ColumnX, ColumnY}); err != nil {
		return err
	}
	record := make([]string, 2)
	for _, point := range points {
		record[0] = FormatFloat(point.X)
		record[1] = FormatFloat(point.Y)
		if err := csvWriter.Write(record); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

// FormatFloat formats value as the shortest decimal that parses back to
// value. Integral values keep a trailing .0 and NaN is empty.
func FormatFloat(value float64) string {
	switch {
	case math.IsNaN(value):
		return ""
	case math.IsInf(value, 0):
		return strconv.FormatFloat(value, 'g', -1, 64)
	case value == math.Trunc(value) && math.Abs(value) < 1e16:
		return strconv.FormatFloat(value, 'f', 1, 64)
	default:
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
}

func parseCell(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(cell, 64)
}
