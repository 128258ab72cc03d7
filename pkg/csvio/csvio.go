// Package csvio converts between CSV text and colf tables.
//
// An empty or whitespace-only cell is NULL. Types are either inferred from
// the data (int32, then float64, then utf8) or taken from an explicit schema.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"colf/pkg/colf_file"
)

func isNullCell(v string) bool {
	return strings.TrimSpace(v) == ""
}

func parseInt32(v string) (int32, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
	return int32(n), err
}

func parseFloat64(v string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(v), 64)
}

// InferSchema picks the narrowest type every non-NULL cell of a column
// parses as. A column is nullable iff it has a NULL cell. A column without
// any non-NULL cell is utf8.
func InferSchema(header []string, records [][]string) []colf_file.ColumnSchema {
	schema := make([]colf_file.ColumnSchema, len(header))
	for c, name := range header {
		isInt, isFloat, nullable, seen := true, true, false, false
		for _, record := range records {
			v := record[c]
			if isNullCell(v) {
				nullable = true
				continue
			}
			seen = true
			if isInt {
				if _, err := parseInt32(v); err != nil {
					isInt = false
				}
			}
			if isFloat {
				if _, err := parseFloat64(v); err != nil {
					isFloat = false
				}
			}
		}

		typ := colf_file.TypeUtf8
		switch {
		case !seen:
		case isInt:
			typ = colf_file.TypeInt32
		case isFloat:
			typ = colf_file.TypeFloat64
		}
		schema[c] = colf_file.ColumnSchema{Name: name, Type: typ, Nullable: nullable}
	}
	return schema
}

// ReadTable reads a CSV with a header row and infers the schema.
func ReadTable(r io.Reader) (*colf_file.ColumnarTable, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty CSV, no header row")
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	schema := InferSchema(header, records)
	return buildTable(schema, records, identityMapping(len(schema)))
}

type ReadOptions struct {
	// HasHeader skips the first row.
	HasHeader bool
	// ColumnsMapping names the table column for each CSV column. nil maps
	// CSV columns to table columns by position.
	ColumnsMapping []string
}

// ReadTableWithSchema reads CSV records into the given schema.
func ReadTableWithSchema(r io.Reader, schema []colf_file.ColumnSchema, opts ReadOptions) (*colf_file.ColumnarTable, error) {
	reader := csv.NewReader(r)

	if opts.HasHeader {
		if _, err := reader.Read(); err != nil {
			return nil, fmt.Errorf("failed to read CSV header: %w", err)
		}
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	csvToTableMap, err := createCsvToTableMap(opts.ColumnsMapping, schema)
	if err != nil {
		return nil, err
	}
	return buildTable(schema, records, csvToTableMap)
}

func identityMapping(n int) map[int]int {
	m := make(map[int]int, n)
	for i := 0; i < n; i++ {
		m[i] = i
	}
	return m
}

func createCsvToTableMap(columnsMapping []string, schema []colf_file.ColumnSchema) (map[int]int, error) {
	if columnsMapping == nil {
		return identityMapping(len(schema)), nil
	}

	tableColToIndex := make(map[string]int)
	for i, col := range schema {
		tableColToIndex[col.Name] = i
	}

	csvToTableMap := make(map[int]int)
	mapped := make(map[int]bool)
	for csvIdx, colName := range columnsMapping {
		targetIdx, ok := tableColToIndex[colName]
		if !ok {
			return nil, fmt.Errorf("column %s from CSV mapping not found in table definition", colName)
		}
		if mapped[targetIdx] {
			return nil, fmt.Errorf("column %s mapped more than once", colName)
		}
		mapped[targetIdx] = true
		csvToTableMap[csvIdx] = targetIdx
	}
	for i, col := range schema {
		if !mapped[i] && !col.Nullable {
			return nil, fmt.Errorf("column %s is not nullable and has no CSV source", col.Name)
		}
	}
	return csvToTableMap, nil
}

type columnBuilder struct {
	schema  colf_file.ColumnSchema
	ints    []int32
	floats  []float64
	strings []string
	nulls   []bool
}

func (b *columnBuilder) appendNull() {
	switch b.schema.Type {
	case colf_file.TypeInt32:
		b.ints = append(b.ints, 0)
	case colf_file.TypeFloat64:
		b.floats = append(b.floats, 0)
	case colf_file.TypeUtf8:
		b.strings = append(b.strings, "")
	}
	b.nulls = append(b.nulls, true)
}

func (b *columnBuilder) appendValue(v string) error {
	switch b.schema.Type {
	case colf_file.TypeInt32:
		n, err := parseInt32(v)
		if err != nil {
			return fmt.Errorf("invalid INT32 %q", v)
		}
		b.ints = append(b.ints, n)
	case colf_file.TypeFloat64:
		f, err := parseFloat64(v)
		if err != nil {
			return fmt.Errorf("invalid FLOAT64 %q", v)
		}
		b.floats = append(b.floats, f)
	case colf_file.TypeUtf8:
		b.strings = append(b.strings, v)
	default:
		return fmt.Errorf("unknown column type: %s", b.schema.Type)
	}
	b.nulls = append(b.nulls, false)
	return nil
}

func (b *columnBuilder) build() colf_file.AnyColumn {
	s := b.schema
	switch s.Type {
	case colf_file.TypeInt32:
		return colf_file.NewInt32Column(s.Name, s.Nullable, b.ints, b.nulls)
	case colf_file.TypeFloat64:
		return colf_file.NewFloat64Column(s.Name, s.Nullable, b.floats, b.nulls)
	default:
		return colf_file.NewUtf8Column(s.Name, s.Nullable, b.strings, b.nulls)
	}
}

func buildTable(schema []colf_file.ColumnSchema, records [][]string, csvToTableMap map[int]int) (*colf_file.ColumnarTable, error) {
	builders := make([]*columnBuilder, len(schema))
	for i, s := range schema {
		if !s.Type.IsValid() {
			return nil, fmt.Errorf("unknown column type: %s", s.Type)
		}
		builders[i] = &columnBuilder{schema: s}
	}

	for i, record := range records {
		if len(record) != len(csvToTableMap) {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i, len(record), len(csvToTableMap))
		}

		filled := make([]bool, len(schema))
		for csvColIdx, value := range record {
			tableColIdx := csvToTableMap[csvColIdx]
			filled[tableColIdx] = true
			b := builders[tableColIdx]

			if isNullCell(value) {
				if !b.schema.Nullable {
					return nil, fmt.Errorf("row %d, col %s: NULL in non-nullable column", i, b.schema.Name)
				}
				b.appendNull()
				continue
			}
			if err := b.appendValue(value); err != nil {
				return nil, fmt.Errorf("row %d, col %s: %w", i, b.schema.Name, err)
			}
		}
		for idx, ok := range filled {
			if !ok {
				builders[idx].appendNull()
			}
		}
	}

	table := &colf_file.ColumnarTable{
		NumRows: uint64(len(records)),
		Columns: make([]colf_file.AnyColumn, len(builders)),
	}
	for i, b := range builders {
		table.Columns[i] = b.build()
	}
	return table, nil
}

// WriteTable writes a header row and one row per table row. NULL becomes
// an empty cell.
func WriteTable(w io.Writer, table *colf_file.ColumnarTable) error {
	writer := csv.NewWriter(w)

	header := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		header[i] = col.GetName()
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	if err := writeRows(writer, table); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// WriteRows writes table rows without a header. Used to stream batches.
func WriteRows(w io.Writer, table *colf_file.ColumnarTable) error {
	writer := csv.NewWriter(w)
	if err := writeRows(writer, table); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func WriteHeader(w io.Writer, names []string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(names); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	writer.Flush()
	return writer.Error()
}

func writeRows(writer *csv.Writer, table *colf_file.ColumnarTable) error {
	row := make([]string, len(table.Columns))
	for r := 0; r < int(table.NumRows); r++ {
		for c, col := range table.Columns {
			row[c] = FormatValue(col.ValueAt(r))
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", r, err)
		}
	}
	return nil
}

// FormatValue renders a cell. Integral floats keep a ".0" so the value is
// inferred as float64 again on the way back in.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case float64:
		s := strconv.FormatFloat(val, 'g', -1, 64)
		if !math.IsInf(val, 0) && !math.IsNaN(val) && !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		return s
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
