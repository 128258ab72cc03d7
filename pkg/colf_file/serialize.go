package colf_file

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/google/uuid"
)

type encodedColumn struct {
	entry      ColumnEntry
	compressed []byte
}

// EncodeTable writes table to w as a complete COLF stream: preamble, header
// and one compressed block per column, in schema order. Nothing is written
// when validation, serialization or compression fails.
func EncodeTable(w io.Writer, table ColumnarTable, opts ...Option) (*FileHeader, error) {
	o := newOptions(opts)

	if err := validateTable(table); err != nil {
		return nil, err
	}

	schema := table.Schema()
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	columns := make([]encodedColumn, 0, len(table.Columns))
	for i, col := range table.Columns {
		payload, hasNulls, err := buildPayload(col)
		if err != nil {
			return nil, err
		}

		compressed, err := o.compressor.Compress(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to compress column %q (index %d): %w", col.GetName(), i, err)
		}

		columns = append(columns, encodedColumn{
			entry: ColumnEntry{
				Schema: schema.Columns[i],
				Meta: ColumnMetaData{
					CompressedSize:   uint64(len(compressed)),
					UncompressedSize: uint64(len(payload)),
					HasNulls:         hasNulls,
				},
			},
			compressed: compressed,
		})
	}

	headerSize := 4 + uint64(len(schemaJSON)) + uint64(MetaRecordSize*len(columns))
	if headerSize > math.MaxUint32 {
		return nil, fmt.Errorf("%w: header of %d bytes does not fit in u32", ErrSchemaViolation, headerSize)
	}

	header := &FileHeader{
		Version:    Version,
		Endianness: LittleEndian,
		HeaderSize: uint32(headerSize),
		NumRows:    table.NumRows,
		Entries:    make([]ColumnEntry, len(columns)),
	}

	// Offsets
	offset := header.End()
	for i := range columns {
		columns[i].entry.Meta.Offset = offset
		offset += columns[i].entry.Meta.CompressedSize
		header.Entries[i] = columns[i].entry
	}

	var buf bytes.Buffer
	buf.Grow(int(header.End()))
	writeHeader(&buf, header, schemaJSON)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for _, col := range columns {
		if _, err := w.Write(col.compressed); err != nil {
			return nil, fmt.Errorf("failed to write column %q: %w", col.entry.Schema.Name, err)
		}
	}

	return header, nil
}

func writeHeader(buf *bytes.Buffer, header *FileHeader, schemaJSON []byte) {
	// Preamble
	buf.WriteString(Magic)
	buf.WriteByte(header.Version)
	buf.WriteByte(header.Endianness)
	buf.Write(binary.LittleEndian.AppendUint32(nil, header.HeaderSize))

	// Schema
	buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(schemaJSON))))
	buf.Write(schemaJSON)

	// Column metadata
	for _, e := range header.Entries {
		rec := make([]byte, 0, MetaRecordSize)
		rec = binary.LittleEndian.AppendUint64(rec, e.Meta.Offset)
		rec = binary.LittleEndian.AppendUint64(rec, e.Meta.CompressedSize)
		rec = binary.LittleEndian.AppendUint64(rec, e.Meta.UncompressedSize)
		rec = append(rec, boolToByte(e.Meta.HasNulls))
		buf.Write(rec)
	}
}

func validateTable(table ColumnarTable) error {
	seen := make(map[string]bool, len(table.Columns))

	for i, col := range table.Columns {
		if col == nil {
			return fmt.Errorf("%w: column %d is nil", ErrSchemaViolation, i)
		}
		name := col.GetName()
		if name == "" {
			return fmt.Errorf("%w: column %d has an empty name", ErrSchemaViolation, i)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate column name %q", ErrSchemaViolation, name)
		}
		seen[name] = true

		if uint64(col.GetNumRows()) != table.NumRows {
			return fmt.Errorf("%w: column %q has %d rows, table has %d",
				ErrSchemaViolation, name, col.GetNumRows(), table.NumRows)
		}

		if err := validateNulls(col); err != nil {
			return err
		}

		if c, ok := col.(*Utf8Column); ok {
			if err := validateUtf8(c); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateNulls(col AnyColumn) error {
	var nulls []bool
	switch c := col.(type) {
	case *Int32Column:
		nulls = c.Nulls
	case *Float64Column:
		nulls = c.Nulls
	case *Utf8Column:
		nulls = c.Nulls
	}
	if nulls != nil && len(nulls) != col.GetNumRows() {
		return fmt.Errorf("%w: column %q has %d null flags for %d rows",
			ErrSchemaViolation, col.GetName(), len(nulls), col.GetNumRows())
	}

	if col.IsNullable() {
		return nil
	}
	for i := 0; i < col.GetNumRows(); i++ {
		if col.IsNull(i) {
			return fmt.Errorf("%w: column %q is not nullable but row %d is NULL",
				ErrSchemaViolation, col.GetName(), i)
		}
	}
	return nil
}

func validateUtf8(c *Utf8Column) error {
	for i := range c.Offsets {
		if c.IsNull(i) {
			continue
		}
		start, end := c.bounds(i)
		if start > end || end > uint32(len(c.Data)) || uint64(len(c.Data)) > math.MaxUint32 {
			return fmt.Errorf("%w: column %q: row %d spans [%d, %d) of %d bytes",
				ErrSchemaViolation, c.Name, i, start, end, len(c.Data))
		}
		if !utf8.Valid(c.Data[start:end]) {
			return fmt.Errorf("%w: column %q: row %d is not valid UTF-8", ErrSchemaViolation, c.Name, i)
		}
	}
	return nil
}

// Serialize encodes the table into a temporary file next to filePath and
// renames it into place, so filePath either holds a complete file or is
// left untouched.
func (table ColumnarTable) Serialize(filePath string, opts ...Option) (err error) {
	dir := filepath.Dir(filePath)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(filePath), uuid.NewString()))

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err = EncodeTable(f, table, opts...); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmpPath, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", filePath, err)
	}
	return nil
}
