package colf_file

import (
	"fmt"
)

// In memory data structures

type AnyColumn interface {
	GetName() string
	GetType() ColumnType
	GetNumRows() int
	IsNullable() bool
	// HasNulls reports whether at least one row is NULL.
	HasNulls() bool
	IsNull(row int) bool
	// ValueAt returns int32, float64 or string, or nil for a NULL row.
	ValueAt(row int) any
}

type ColumnarTable struct {
	NumRows uint64
	Columns []AnyColumn
}

// Schema describes the table in the same order as Columns.
func (t *ColumnarTable) Schema() Schema {
	cols := make([]ColumnSchema, len(t.Columns))
	for i, col := range t.Columns {
		cols[i] = SchemaOf(col)
	}
	return Schema{NumRows: t.NumRows, Columns: cols}
}

func (t *ColumnarTable) Column(name string) (AnyColumn, bool) {
	for _, col := range t.Columns {
		if col.GetName() == name {
			return col, true
		}
	}
	return nil, false
}

func SchemaOf(col AnyColumn) ColumnSchema {
	return ColumnSchema{
		Name:     col.GetName(),
		Type:     col.GetType(),
		Nullable: col.IsNullable(),
	}
}

type Int32Column struct {
	Name     string
	Nullable bool
	Values   []int32
	Nulls    []bool // nil when no row is NULL
}

func NewInt32Column(name string, nullable bool, values []int32, nulls []bool) *Int32Column {
	if values == nil {
		values = []int32{}
	}
	return &Int32Column{Name: name, Nullable: nullable, Values: values, Nulls: normalizeNulls(nulls)}
}

func (c *Int32Column) GetName() string     { return c.Name }
func (c *Int32Column) GetType() ColumnType { return TypeInt32 }
func (c *Int32Column) GetNumRows() int     { return len(c.Values) }
func (c *Int32Column) IsNullable() bool    { return c.Nullable }
func (c *Int32Column) HasNulls() bool      { return anyNull(c.Nulls) }
func (c *Int32Column) IsNull(row int) bool { return nullAt(c.Nulls, row) }

func (c *Int32Column) ValueAt(row int) any {
	if c.IsNull(row) {
		return nil
	}
	return c.Values[row]
}

type Float64Column struct {
	Name     string
	Nullable bool
	Values   []float64
	Nulls    []bool
}

func NewFloat64Column(name string, nullable bool, values []float64, nulls []bool) *Float64Column {
	if values == nil {
		values = []float64{}
	}
	return &Float64Column{Name: name, Nullable: nullable, Values: values, Nulls: normalizeNulls(nulls)}
}

func (c *Float64Column) GetName() string     { return c.Name }
func (c *Float64Column) GetType() ColumnType { return TypeFloat64 }
func (c *Float64Column) GetNumRows() int     { return len(c.Values) }
func (c *Float64Column) IsNullable() bool    { return c.Nullable }
func (c *Float64Column) HasNulls() bool      { return anyNull(c.Nulls) }
func (c *Float64Column) IsNull(row int) bool { return nullAt(c.Nulls, row) }

func (c *Float64Column) ValueAt(row int) any {
	if c.IsNull(row) {
		return nil
	}
	return c.Values[row]
}

// Utf8Column keeps strings the way they are laid out on disk: Offsets[i] is
// the start of row i in Data. A row ends where the next non-NULL row starts,
// or at the end of Data. Offsets of NULL rows are never dereferenced.
type Utf8Column struct {
	Name     string
	Nullable bool
	Offsets  []uint32
	Data     []byte
	Nulls    []bool
}

// NewUtf8Column builds a column from plain strings. NULL rows get the
// cumulative length as their offset.
func NewUtf8Column(name string, nullable bool, values []string, nulls []bool) *Utf8Column {
	col := &Utf8Column{
		Name:     name,
		Nullable: nullable,
		Offsets:  make([]uint32, 0, len(values)),
		Data:     make([]byte, 0),
		Nulls:    normalizeNulls(nulls),
	}
	for i, v := range values {
		col.Offsets = append(col.Offsets, uint32(len(col.Data)))
		if nullAt(col.Nulls, i) {
			continue
		}
		col.Data = append(col.Data, v...)
	}
	return col
}

func (c *Utf8Column) GetName() string     { return c.Name }
func (c *Utf8Column) GetType() ColumnType { return TypeUtf8 }
func (c *Utf8Column) GetNumRows() int     { return len(c.Offsets) }
func (c *Utf8Column) IsNullable() bool    { return c.Nullable }
func (c *Utf8Column) HasNulls() bool      { return anyNull(c.Nulls) }
func (c *Utf8Column) IsNull(row int) bool { return nullAt(c.Nulls, row) }

func (c *Utf8Column) ValueAt(row int) any {
	if c.IsNull(row) {
		return nil
	}
	return string(c.Bytes(row))
}

// Bytes returns the raw bytes of a non-NULL row. It panics on rows whose
// offsets fall outside Data, which the encoder rejects and the decoder never
// produces.
func (c *Utf8Column) Bytes(row int) []byte {
	start, end := c.bounds(row)
	return c.Data[start:end]
}

func (c *Utf8Column) bounds(row int) (uint32, uint32) {
	start := c.Offsets[row]
	end := uint32(len(c.Data))
	for j := row + 1; j < len(c.Offsets); j++ {
		if !nullAt(c.Nulls, j) {
			end = c.Offsets[j]
			break
		}
	}
	return start, end
}

func normalizeNulls(nulls []bool) []bool {
	if anyNull(nulls) {
		return nulls
	}
	return nil
}

func anyNull(nulls []bool) bool {
	for _, n := range nulls {
		if n {
			return true
		}
	}
	return false
}

func nullAt(nulls []bool, row int) bool {
	return row < len(nulls) && nulls[row]
}

// File format constants and structures

const (
	Magic        = "COLF" // 4B
	Version      = 1
	LittleEndian = 1

	// magic + version + endianness + HeaderSize
	PreambleSize = 4 + 1 + 1 + 4
	// Offset + CompressedSize + UncompressedSize + HasNulls
	MetaRecordSize = 8 + 8 + 8 + 1
)

type ColumnType byte

const (
	TypeInt32   ColumnType = 0x01
	TypeFloat64 ColumnType = 0x02
	TypeUtf8    ColumnType = 0x03
)

func (t ColumnType) String() string {
	switch t {
	case TypeInt32:
		return "int32"
	case TypeFloat64:
		return "float64"
	case TypeUtf8:
		return "utf8"
	default:
		return fmt.Sprintf("ColumnType(%d)", byte(t))
	}
}

func (t ColumnType) IsValid() bool {
	return t == TypeInt32 || t == TypeFloat64 || t == TypeUtf8
}

// width of a fixed-width slot, 0 for utf8
func (t ColumnType) width() int {
	switch t {
	case TypeInt32:
		return 4
	case TypeFloat64:
		return 8
	default:
		return 0
	}
}

func (t ColumnType) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("unknown column type %d", byte(t))
	}
	return []byte(t.String()), nil
}

func (t *ColumnType) UnmarshalText(text []byte) error {
	parsed, err := ParseColumnType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseColumnType(s string) (ColumnType, error) {
	switch s {
	case "int32":
		return TypeInt32, nil
	case "float64":
		return TypeFloat64, nil
	case "utf8":
		return TypeUtf8, nil
	default:
		return 0, fmt.Errorf("unknown column type %q", s)
	}
}

type ColumnSchema struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable"`
}

type Schema struct {
	NumRows uint64         `json:"num_rows"`
	Columns []ColumnSchema `json:"columns"`
}

type ColumnMetaData struct {
	Offset           uint64
	CompressedSize   uint64
	UncompressedSize uint64
	HasNulls         bool
}

// ColumnEntry pairs a schema column with its on-disk record. Entries are
// positional, so the two halves are never stored apart.
type ColumnEntry struct {
	Schema ColumnSchema
	Meta   ColumnMetaData
}

type FileHeader struct {
	Version    byte
	Endianness byte
	HeaderSize uint32
	NumRows    uint64
	Entries    []ColumnEntry
}

func (h *FileHeader) Schema() Schema {
	cols := make([]ColumnSchema, len(h.Entries))
	for i, e := range h.Entries {
		cols[i] = e.Schema
	}
	return Schema{NumRows: h.NumRows, Columns: cols}
}

// End is the absolute position of the first column block.
func (h *FileHeader) End() uint64 {
	return uint64(PreambleSize) + uint64(h.HeaderSize)
}
