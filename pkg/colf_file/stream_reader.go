package colf_file

import (
	"fmt"
	"io"
)

// BatchReader walks a sequence of COLF files and hands out row batches of
// the selected columns. Files are decoded one at a time.
type BatchReader struct {
	filePaths     []string
	columnsToRead []string
	opts          []Option

	currentFileIdx int
	currentTable   *ColumnarTable
	currentRow     uint64
}

func NewBatchReader(filePaths []string, columnsToRead []string, opts ...Option) *BatchReader {
	return &BatchReader{
		filePaths:     filePaths,
		columnsToRead: columnsToRead,
		opts:          opts,
	}
}

func (r *BatchReader) Close() error {
	r.currentTable = nil
	return nil
}

// GetNextBatch returns up to batchSize rows, or io.EOF once every file has
// been consumed. Batches never span two files.
func (r *BatchReader) GetNextBatch(batchSize int) (*ColumnarTable, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	for {
		if r.currentTable == nil {
			if r.currentFileIdx >= len(r.filePaths) {
				return nil, io.EOF
			}
			if err := r.loadNextFile(); err != nil {
				return nil, err
			}
		}

		remaining := r.currentTable.NumRows - r.currentRow
		if remaining > 0 {
			break
		}
		r.currentFileIdx++
		r.currentTable = nil
		r.currentRow = 0
	}

	remaining := r.currentTable.NumRows - r.currentRow
	toRead := uint64(batchSize)
	if toRead > remaining {
		toRead = remaining
	}

	batch := &ColumnarTable{
		NumRows: toRead,
		Columns: make([]AnyColumn, len(r.currentTable.Columns)),
	}

	for i, col := range r.currentTable.Columns {
		sliced, err := sliceColumn(col, r.currentRow, toRead)
		if err != nil {
			return nil, err
		}
		batch.Columns[i] = sliced
	}

	r.currentRow += toRead
	return batch, nil
}

func (r *BatchReader) loadNextFile() error {
	filePath := r.filePaths[r.currentFileIdx]

	table, err := DeserializeColumns(filePath, r.columnsToRead, r.opts...)
	if err != nil {
		return fmt.Errorf("failed to load file %s: %w", filePath, err)
	}
	r.currentTable = table
	r.currentRow = 0
	return nil
}

func sliceNulls(nulls []bool, start, end uint64) []bool {
	if nulls == nil {
		return nil
	}
	out := make([]bool, end-start)
	copy(out, nulls[start:end])
	return normalizeNulls(out)
}

// sliceColumn copies rows [start, start+count) of col into a new column.
func sliceColumn(col AnyColumn, start, count uint64) (AnyColumn, error) {
	end := start + count
	if end < start || end > uint64(col.GetNumRows()) {
		return nil, fmt.Errorf("slice [%d, %d) out of bounds for column %q with %d rows",
			start, end, col.GetName(), col.GetNumRows())
	}

	switch c := col.(type) {
	case *Int32Column:
		values := make([]int32, count)
		copy(values, c.Values[start:end])
		return &Int32Column{Name: c.Name, Nullable: c.Nullable, Values: values, Nulls: sliceNulls(c.Nulls, start, end)}, nil

	case *Float64Column:
		values := make([]float64, count)
		copy(values, c.Values[start:end])
		return &Float64Column{Name: c.Name, Nullable: c.Nullable, Values: values, Nulls: sliceNulls(c.Nulls, start, end)}, nil

	case *Utf8Column:
		out := &Utf8Column{
			Name:     c.Name,
			Nullable: c.Nullable,
			Offsets:  make([]uint32, 0, count),
			Data:     make([]byte, 0),
			Nulls:    sliceNulls(c.Nulls, start, end),
		}
		for i := int(start); i < int(end); i++ {
			out.Offsets = append(out.Offsets, uint32(len(out.Data)))
			if c.IsNull(i) {
				continue
			}
			out.Data = append(out.Data, c.Bytes(i)...)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown column type: %T", col)
	}
}
