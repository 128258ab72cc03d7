package colf_file

import (
	"fmt"
	"io"
	"path/filepath"
	"testing"
)

func TestBatchReader_Integration(t *testing.T) {
	tempDir := t.TempDir()

	table1 := newExampleTable(0, 15)
	table2 := newExampleTable(15, 5)
	empty := newExampleTable(20, 0)

	file1Path := filepath.Join(tempDir, "file1.colf")
	if err := table1.Serialize(file1Path); err != nil {
		t.Fatalf("Failed to serialize file1: %v", err)
	}

	file2Path := filepath.Join(tempDir, "file2.colf")
	if err := table2.Serialize(file2Path); err != nil {
		t.Fatalf("Failed to serialize file2: %v", err)
	}

	emptyPath := filepath.Join(tempDir, "empty.colf")
	if err := empty.Serialize(emptyPath); err != nil {
		t.Fatalf("Failed to serialize empty file: %v", err)
	}

	tests := []struct {
		name            string
		files           []string
		columns         []string
		batchSize       int
		expectedBatches []expectedBatch
	}{
		{
			name:      "Read all with small batch",
			files:     []string{file1Path, emptyPath, file2Path},
			columns:   []string{"id", "name"},
			batchSize: 4,
			expectedBatches: []expectedBatch{
				{rowCount: 4, startId: 0},
				{rowCount: 4, startId: 4},
				{rowCount: 4, startId: 8},
				{rowCount: 3, startId: 12},
				{rowCount: 4, startId: 15},
				{rowCount: 1, startId: 19},
			},
		},
		{
			name:      "Read specific column with large batch",
			files:     []string{file1Path, file2Path},
			columns:   []string{"id"},
			batchSize: 10,
			expectedBatches: []expectedBatch{
				{rowCount: 10, startId: 0},
				{rowCount: 5, startId: 10},
				{rowCount: 5, startId: 15},
			},
		},
		{
			name:      "Read batch larger than file",
			files:     []string{file1Path},
			columns:   nil,
			batchSize: 100,
			expectedBatches: []expectedBatch{
				{rowCount: 15, startId: 0},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reader := NewBatchReader(tc.files, tc.columns)
			defer reader.Close()

			batchIdx := 0
			for {
				batch, err := reader.GetNextBatch(tc.batchSize)
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("GetNextBatch failed: %v", err)
				}

				if batchIdx >= len(tc.expectedBatches) {
					t.Fatalf("Received more batches than expected")
				}
				exp := tc.expectedBatches[batchIdx]

				if batch.NumRows != uint64(exp.rowCount) {
					t.Errorf("Batch %d: expected %d rows, got %d", batchIdx, exp.rowCount, batch.NumRows)
				}

				intCol := batch.Columns[0].(*Int32Column)
				for i, val := range intCol.Values {
					expectedVal := int32(exp.startId + i)
					if val != expectedVal {
						t.Errorf("Batch %d: expected id %d, got %d", batchIdx, expectedVal, val)
					}
				}

				if nameCol, ok := batch.Column("name"); ok {
					for i := 0; i < nameCol.GetNumRows(); i++ {
						id := exp.startId + i
						if id%3 == 0 {
							if !nameCol.IsNull(i) {
								t.Errorf("Batch %d: expected NULL name for id %d", batchIdx, id)
							}
							continue
						}
						if got := nameCol.ValueAt(i); got != fmt.Sprintf("row%d", id) {
							t.Errorf("Batch %d: expected name row%d, got %v", batchIdx, id, got)
						}
					}
				}

				batchIdx++
			}

			if batchIdx != len(tc.expectedBatches) {
				t.Errorf("Expected %d batches, got %d", len(tc.expectedBatches), batchIdx)
			}
		})
	}
}

func TestBatchReader_Errors(t *testing.T) {
	reader := NewBatchReader([]string{filepath.Join(t.TempDir(), "missing.colf")}, nil)
	if _, err := reader.GetNextBatch(0); err == nil {
		t.Errorf("Expected error for non-positive batch size")
	}
	if _, err := reader.GetNextBatch(10); err == nil || err == io.EOF {
		t.Errorf("Expected open error for missing file, got %v", err)
	}
}

func TestSliceColumn(t *testing.T) {
	table := newExampleTable(0, 7)
	floats := NewFloat64Column("f", true, []float64{1, 2, 3, 4}, []bool{false, true, false, false})

	tests := []struct {
		name       string
		col        AnyColumn
		start      uint64
		count      uint64
		wantValues []any
		wantErr    bool
	}{
		{"int32 middle", table.Columns[0], 2, 3, []any{int32(2), int32(3), int32(4)}, false},
		{"utf8 with nulls", table.Columns[1], 2, 3, []any{"row2", nil, "row4"}, false},
		{"utf8 leading null", table.Columns[1], 0, 2, []any{nil, "row1"}, false},
		{"float64 tail", floats, 1, 3, []any{nil, 3.0, 4.0}, false},
		{"empty slice", floats, 4, 0, []any{}, false},
		{"past the end", floats, 3, 2, nil, true},
		{"overflowing count", floats, 1, ^uint64(0), nil, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := sliceColumn(tc.col, tc.start, tc.count)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Expected error for slice [%d, +%d)", tc.start, tc.count)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got.GetName() != tc.col.GetName() {
				t.Errorf("Expected name %q, got %q", tc.col.GetName(), got.GetName())
			}
			if got.GetNumRows() != int(tc.count) {
				t.Fatalf("Expected %d rows, got %d", tc.count, got.GetNumRows())
			}
			for i, want := range tc.wantValues {
				if v := got.ValueAt(i); v != want {
					t.Errorf("Row %d: expected %v, got %v", i, want, v)
				}
			}
		})
	}
}

type expectedBatch struct {
	rowCount int
	startId  int
}

func newExampleTable(start, count int) *ColumnarTable {
	return &ColumnarTable{
		NumRows: uint64(count),
		Columns: []AnyColumn{
			makeInt32Column("id", start, count),
			makeUtf8Column("name", "row", start, count), // row{start}..row{start+count-1}, NULL every third id
		},
	}
}

func makeInt32Column(name string, start, count int) *Int32Column {
	values := make([]int32, count)
	for i := 0; i < count; i++ {
		values[i] = int32(start + i)
	}
	return NewInt32Column(name, false, values, nil)
}

func makeUtf8Column(name, prefix string, start, count int) *Utf8Column {
	values := make([]string, count)
	nulls := make([]bool, count)
	for i := 0; i < count; i++ {
		values[i] = fmt.Sprintf("%s%d", prefix, start+i)
		nulls[i] = (start+i)%3 == 0
	}
	return NewUtf8Column(name, true, values, nulls)
}
