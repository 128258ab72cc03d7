package colf_file

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackingReader records every byte range read from the underlying source.
type trackingReader struct {
	r     *bytes.Reader
	reads [][2]int64
}

func newTrackingReader(data []byte) *trackingReader {
	return &trackingReader{r: bytes.NewReader(data)}
}

func (t *trackingReader) Read(p []byte) (int, error) {
	pos, _ := t.r.Seek(0, io.SeekCurrent)
	n, err := t.r.Read(p)
	if n > 0 {
		t.reads = append(t.reads, [2]int64{pos, pos + int64(n)})
	}
	return n, err
}

func (t *trackingReader) Seek(offset int64, whence int) (int64, error) {
	return t.r.Seek(offset, whence)
}

func (t *trackingReader) touches(start, end int64) bool {
	for _, rd := range t.reads {
		if rd[0] < end && start < rd[1] {
			return true
		}
	}
	return false
}

func concreteTable() ColumnarTable {
	return ColumnarTable{
		NumRows: 3,
		Columns: []AnyColumn{
			NewInt32Column("id", false, []int32{1, 2, 3}, nil),
			NewFloat64Column("price", true, []float64{9.99, 0, 1.5}, []bool{false, true, false}),
			NewUtf8Column("name", false, []string{"a", "bb", ""}, nil),
		},
	}
}

func encodeToBytes(t *testing.T, table ColumnarTable, opts ...Option) ([]byte, *FileHeader) {
	t.Helper()
	var buf bytes.Buffer
	header, err := EncodeTable(&buf, table, opts...)
	require.NoError(t, err)
	return buf.Bytes(), header
}

func columnValues(col AnyColumn) []any {
	values := make([]any, col.GetNumRows())
	for i := range values {
		values[i] = col.ValueAt(i)
	}
	return values
}

func requireTablesEqual(t *testing.T, expected, actual *ColumnarTable) {
	t.Helper()
	require.Equal(t, expected.NumRows, actual.NumRows)
	require.Len(t, actual.Columns, len(expected.Columns))
	for i, exp := range expected.Columns {
		got := actual.Columns[i]
		require.Equal(t, SchemaOf(exp), SchemaOf(got), "column %d schema", i)
		require.Equal(t, columnValues(exp), columnValues(got), "column %q values", exp.GetName())
		require.Equal(t, exp.HasNulls(), got.HasNulls(), "column %q has nulls", exp.GetName())
	}
}

func TestConcreteScenario(t *testing.T) {
	table := concreteTable()
	data, header := encodeToBytes(t, table)

	r, err := Open(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, header, r.Header())

	all, err := r.ReadColumns(nil)
	require.NoError(t, err)
	requireTablesEqual(t, &table, all)

	price, _ := all.Column("price")
	assert.Nil(t, price.ValueAt(1))
	assert.Equal(t, []any{int32(1), int32(2), int32(3)}, columnValues(all.Columns[0]))

	src := newTrackingReader(data)
	r, err = Open(src)
	require.NoError(t, err)
	names, err := r.ReadColumns([]string{"name"})
	require.NoError(t, err)
	require.Len(t, names.Columns, 1)
	assert.Equal(t, []any{"a", "bb", ""}, columnValues(names.Columns[0]))

	for _, other := range []string{"id", "price"} {
		e, ok := r.Entry(other)
		require.True(t, ok)
		start := int64(e.Meta.Offset)
		assert.False(t, src.touches(start, start+int64(e.Meta.CompressedSize)), "read bytes of %q", other)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		table ColumnarTable
	}{
		{
			name: "zero rows",
			table: ColumnarTable{
				NumRows: 0,
				Columns: []AnyColumn{
					NewInt32Column("i", true, nil, nil),
					NewFloat64Column("f", false, nil, nil),
					NewUtf8Column("s", true, nil, nil),
				},
			},
		},
		{
			name:  "zero columns",
			table: ColumnarTable{NumRows: 0, Columns: []AnyColumn{}},
		},
		{
			name: "all null",
			table: ColumnarTable{
				NumRows: 3,
				Columns: []AnyColumn{
					NewInt32Column("i", true, []int32{0, 0, 0}, []bool{true, true, true}),
					NewFloat64Column("f", true, []float64{0, 0, 0}, []bool{true, true, true}),
					NewUtf8Column("s", true, []string{"", "", ""}, []bool{true, true, true}),
				},
			},
		},
		{
			name: "empty and non-ascii strings",
			table: ColumnarTable{
				NumRows: 6,
				Columns: []AnyColumn{
					NewUtf8Column("s", true,
						[]string{"", "zażółć", "", "日本語", "", "🙂 emoji"},
						[]bool{false, false, true, false, false, false}),
				},
			},
		},
		{
			name: "nulls straddling bitmap bytes",
			table: ColumnarTable{
				NumRows: 17,
				Columns: []AnyColumn{
					NewInt32Column("i", true,
						[]int32{-1, 2, 0, 4, 5, 6, 7, 0, 9, 10, 11, 12, 13, 14, 15, 16, 0},
						[]bool{false, false, true, false, false, false, false, true, false, false, false, false, false, false, false, false, true}),
					NewUtf8Column("s", true,
						[]string{"a", "", "", "d", "e", "f", "g", "", "i", "j", "k", "l", "m", "n", "o", "p", ""},
						[]bool{false, true, true, false, false, false, false, true, false, false, false, false, false, false, false, false, true}),
				},
			},
		},
		{
			name: "nullable column without nulls",
			table: ColumnarTable{
				NumRows: 2,
				Columns: []AnyColumn{
					NewFloat64Column("f", true, []float64{-0.5, 1e300}, []bool{false, false}),
				},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, header := encodeToBytes(t, tc.table)
			require.Len(t, header.Entries, len(tc.table.Columns))

			r, err := Open(bytes.NewReader(data))
			require.NoError(t, err)
			decoded, err := r.ReadColumns(nil)
			require.NoError(t, err)
			requireTablesEqual(t, &tc.table, decoded)
		})
	}
}

func TestRoundTripEveryCompressor(t *testing.T) {
	table := concreteTable()
	for _, name := range CompressorNames() {
		t.Run(name, func(t *testing.T) {
			c, err := CompressorByName(name)
			require.NoError(t, err)

			data, _ := encodeToBytes(t, table, WithCompressor(c))
			r, err := Open(bytes.NewReader(data), WithCompressor(c))
			require.NoError(t, err)
			decoded, err := r.ReadColumns(nil)
			require.NoError(t, err)
			requireTablesEqual(t, &table, decoded)
		})
	}
}

func TestSelectiveReadEquivalence(t *testing.T) {
	table := concreteTable()
	data, _ := encodeToBytes(t, table)

	r, err := Open(bytes.NewReader(data))
	require.NoError(t, err)
	full, err := r.ReadColumns(nil)
	require.NoError(t, err)

	names := []string{"id", "price", "name"}
	for mask := 0; mask < 1<<len(names); mask++ {
		var subset []string
		for i, n := range names {
			if mask&(1<<i) != 0 {
				subset = append(subset, n)
			}
		}
		if subset == nil {
			subset = []string{}
		}

		src := newTrackingReader(data)
		r, err := Open(src)
		require.NoError(t, err)
		got, err := r.ReadColumns(subset)
		require.NoError(t, err)
		require.Len(t, got.Columns, len(subset))
		assert.Equal(t, full.NumRows, got.NumRows)

		want := map[string]bool{}
		for _, n := range subset {
			want[n] = true
			col, ok := got.Column(n)
			require.True(t, ok)
			fullCol, _ := full.Column(n)
			assert.Equal(t, columnValues(fullCol), columnValues(col))
		}

		for _, e := range r.Header().Entries {
			start := int64(e.Meta.Offset)
			touched := src.touches(start, start+int64(e.Meta.CompressedSize))
			assert.Equal(t, want[e.Schema.Name], touched, "subset %v, column %q", subset, e.Schema.Name)
		}
	}
}

func TestReadColumnsOrdering(t *testing.T) {
	data, _ := encodeToBytes(t, concreteTable())
	r, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	got, err := r.ReadColumns([]string{"name", "id", "name"})
	require.NoError(t, err)
	require.Len(t, got.Columns, 2)
	assert.Equal(t, "id", got.Columns[0].GetName())
	assert.Equal(t, "name", got.Columns[1].GetName())

	got, err = r.ReadColumnsInRequestOrder([]string{"name", "id"})
	require.NoError(t, err)
	assert.Equal(t, "name", got.Columns[0].GetName())
	assert.Equal(t, "id", got.Columns[1].GetName())
}

func TestUnknownColumn(t *testing.T) {
	data, _ := encodeToBytes(t, concreteTable())
	src := newTrackingReader(data)
	r, err := Open(src)
	require.NoError(t, err)
	headerEnd := int64(r.Header().End())

	_, err = r.ReadColumns([]string{"id", "missing"})
	require.ErrorIs(t, err, ErrUnknownColumn)
	assert.Contains(t, err.Error(), `"missing"`)
	assert.False(t, src.touches(headerEnd, int64(len(data))))
}

func TestOffsetIntegrity(t *testing.T) {
	table := concreteTable()
	data, header := encodeToBytes(t, table)

	for i, e := range header.Entries {
		if i == 0 {
			assert.Equal(t, header.End(), e.Meta.Offset)
			continue
		}
		prev := header.Entries[i-1].Meta
		assert.Equal(t, prev.Offset+prev.CompressedSize, e.Meta.Offset)
	}
	last := header.Entries[len(header.Entries)-1].Meta
	assert.Equal(t, uint64(len(data)), last.Offset+last.CompressedSize)

	// layout of the preamble and header body
	assert.Equal(t, Magic, string(data[:4]))
	assert.Equal(t, byte(Version), data[4])
	assert.Equal(t, byte(LittleEndian), data[5])
	assert.Equal(t, header.HeaderSize, binary.LittleEndian.Uint32(data[6:10]))

	schemaLen := binary.LittleEndian.Uint32(data[10:14])
	var schema map[string]any
	require.NoError(t, json.Unmarshal(data[14:14+schemaLen], &schema))
	assert.Equal(t, float64(3), schema["num_rows"])
	cols := schema["columns"].([]any)
	require.Len(t, cols, 3)
	assert.Equal(t, map[string]any{"name": "price", "type": "float64", "nullable": true}, cols[1])

	metaStart := 14 + int(schemaLen)
	assert.Equal(t, int(header.End()), metaStart+3*MetaRecordSize)
	for i, e := range header.Entries {
		rec := data[metaStart+i*MetaRecordSize:]
		assert.Equal(t, e.Meta.Offset, binary.LittleEndian.Uint64(rec[0:]))
		assert.Equal(t, e.Meta.CompressedSize, binary.LittleEndian.Uint64(rec[8:]))
		assert.Equal(t, e.Meta.UncompressedSize, binary.LittleEndian.Uint64(rec[16:]))
		assert.Equal(t, boolToByte(e.Meta.HasNulls), rec[24])
	}
}

func decompressedBlock(t *testing.T, data []byte, e ColumnEntry) []byte {
	t.Helper()
	block := data[e.Meta.Offset : e.Meta.Offset+e.Meta.CompressedSize]
	payload, err := ZlibCompressor{}.Decompress(block, int(e.Meta.UncompressedSize))
	require.NoError(t, err)
	require.Len(t, payload, int(e.Meta.UncompressedSize))
	return payload
}

func TestBitmapCorrectness(t *testing.T) {
	const rows = 21
	nullRows := map[int]bool{0: true, 7: true, 8: true, 13: true, 20: true}
	values := make([]int32, rows)
	nulls := make([]bool, rows)
	for i := range values {
		values[i] = int32(i * 10)
		nulls[i] = nullRows[i]
	}
	table := ColumnarTable{NumRows: rows, Columns: []AnyColumn{NewInt32Column("v", true, values, nulls)}}
	data, header := encodeToBytes(t, table)

	e := header.Entries[0]
	require.True(t, e.Meta.HasNulls)
	payload := decompressedBlock(t, data, e)
	assert.Equal(t, byte(TypeInt32), payload[0])
	assert.Equal(t, byte(1), payload[1])

	bitmap := payload[2 : 2+3]
	for i := 0; i < rows; i++ {
		set := bitmap[i/8]&(1<<(i%8)) != 0
		assert.Equal(t, nullRows[i], set, "row %d", i)
	}

	body := payload[2+3:]
	require.Len(t, body, 4*rows)
	for i := 0; i < rows; i++ {
		v := int32(binary.LittleEndian.Uint32(body[4*i:]))
		if nullRows[i] {
			assert.Equal(t, int32(0), v, "placeholder at row %d", i)
		} else {
			assert.Equal(t, values[i], v)
		}
	}
}

func TestStringOffsetCorrectness(t *testing.T) {
	values := []string{"alpha", "", "gamma", "δέλτα", "", "z"}
	nulls := []bool{false, false, false, false, true, false}
	table := ColumnarTable{NumRows: 6, Columns: []AnyColumn{NewUtf8Column("s", true, values, nulls)}}
	data, header := encodeToBytes(t, table)

	payload := decompressedBlock(t, data, header.Entries[0])
	body := payload[2+1:]
	offsets := make([]uint32, len(values))
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(body[4*i:])
	}
	blob := body[4*len(values):]

	for i := range values {
		if nulls[i] {
			continue
		}
		end := uint32(len(blob))
		if i < len(values)-1 {
			end = offsets[i+1]
		}
		assert.Equal(t, values[i], string(blob[offsets[i]:end]), "row %d", i)
	}
}

func TestHasNullsFalseIsAuthoritative(t *testing.T) {
	table := ColumnarTable{NumRows: 2, Columns: []AnyColumn{NewInt32Column("n", true, []int32{4, 5}, nil)}}
	data, header := encodeToBytes(t, table)
	require.False(t, header.Entries[0].Meta.HasNulls)
	require.True(t, header.Entries[0].Schema.Nullable)

	r, err := Open(bytes.NewReader(data))
	require.NoError(t, err)
	got, err := r.ReadColumns(nil)
	require.NoError(t, err)
	col := got.Columns[0]
	assert.True(t, col.IsNullable())
	assert.False(t, col.HasNulls())
	assert.Equal(t, []any{int32(4), int32(5)}, columnValues(col))
}

func TestSerializeAndDeserialize(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "table.colf")

	table := concreteTable()
	require.NoError(t, table.Serialize(filePath))

	all, err := Deserialize(filePath)
	require.NoError(t, err)
	requireTablesEqual(t, &table, all)

	part, err := DeserializeColumns(filePath, []string{"price"})
	require.NoError(t, err)
	require.Len(t, part.Columns, 1)
	assert.Equal(t, []any{9.99, nil, 1.5}, columnValues(part.Columns[0]))

	header, err := ReadFileHeader(filePath)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), header.NumRows)

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestSerializeFailureLeavesNothing(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "bad.colf")

	table := ColumnarTable{NumRows: 2, Columns: []AnyColumn{NewInt32Column("id", false, []int32{1}, nil)}}
	err := table.Serialize(filePath)
	require.ErrorIs(t, err, ErrSchemaViolation)

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSerializeReplacesExistingFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "t.colf")
	require.NoError(t, os.WriteFile(filePath, []byte("old contents"), 0644))

	table := concreteTable()
	require.NoError(t, table.Serialize(filePath))

	got, err := Deserialize(filePath)
	require.NoError(t, err)
	requireTablesEqual(t, &table, got)
}

func TestOpenWithHeaderSkipsHeader(t *testing.T) {
	data, header := encodeToBytes(t, concreteTable())

	tr := newTrackingReader(data)
	r, err := OpenWithHeader(tr, header)
	require.NoError(t, err)

	got, err := r.ReadColumns([]string{"price"})
	require.NoError(t, err)
	assert.Equal(t, []any{9.99, nil, 1.5}, columnValues(got.Columns[0]))
	assert.False(t, tr.touches(0, int64(header.End())), "header bytes must not be re-read")

	_, err = OpenWithHeader(bytes.NewReader(data[:header.End()-1]), header)
	require.ErrorIs(t, err, ErrMalformedHeader)
}
