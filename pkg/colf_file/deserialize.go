package colf_file

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Reader decodes columns from a COLF source. Open reads only the preamble
// and header; each ReadColumns call seeks straight to the requested blocks.
// A Reader owns the cursor of its source and must not be shared between
// goroutines; open one Reader per handle instead.
type Reader struct {
	src        io.ReadSeeker
	size       int64
	header     *FileHeader
	nameToIdx  map[string]int
	compressor Compressor
}

func Open(src io.ReadSeeker, opts ...Option) (*Reader, error) {
	o := newOptions(opts)

	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to determine source size: %w", err)
	}

	header, err := ReadHeader(src)
	if err != nil {
		return nil, err
	}
	return newReader(src, size, header, o), nil
}

// OpenWithHeader builds a Reader over src from a header parsed earlier from
// the same file, so only column blocks are read.
func OpenWithHeader(src io.ReadSeeker, header *FileHeader, opts ...Option) (*Reader, error) {
	o := newOptions(opts)

	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to determine source size: %w", err)
	}
	if uint64(size) < header.End() {
		return nil, fmt.Errorf("%w: source is %d bytes, header ends at %d", ErrMalformedHeader, size, header.End())
	}
	return newReader(src, size, header, o), nil
}

func newReader(src io.ReadSeeker, size int64, header *FileHeader, o options) *Reader {
	nameToIdx := make(map[string]int, len(header.Entries))
	for i, e := range header.Entries {
		if _, dup := nameToIdx[e.Schema.Name]; !dup {
			nameToIdx[e.Schema.Name] = i
		}
	}

	return &Reader{
		src:        src,
		size:       size,
		header:     header,
		nameToIdx:  nameToIdx,
		compressor: o.compressor,
	}
}

func (r *Reader) Header() *FileHeader { return r.header }

func (r *Reader) Schema() Schema { return r.header.Schema() }

func (r *Reader) Entry(name string) (ColumnEntry, bool) {
	idx, ok := r.nameToIdx[name]
	if !ok {
		return ColumnEntry{}, false
	}
	return r.header.Entries[idx], true
}

// ReadColumns decodes the named columns and returns them in schema order.
// A nil slice selects every column, an empty one selects none. Repeated
// names are decoded once.
func (r *Reader) ReadColumns(names []string) (*ColumnarTable, error) {
	indices, err := r.resolve(names)
	if err != nil {
		return nil, err
	}

	selected := make([]bool, len(r.header.Entries))
	for _, idx := range indices {
		selected[idx] = true
	}
	ordered := make([]int, 0, len(indices))
	for idx, ok := range selected {
		if ok {
			ordered = append(ordered, idx)
		}
	}
	return r.readIndices(ordered)
}

// ReadColumnsInRequestOrder is ReadColumns with the output following names.
func (r *Reader) ReadColumnsInRequestOrder(names []string) (*ColumnarTable, error) {
	indices, err := r.resolve(names)
	if err != nil {
		return nil, err
	}
	return r.readIndices(indices)
}

func (r *Reader) resolve(names []string) ([]int, error) {
	if names == nil {
		indices := make([]int, len(r.header.Entries))
		for i := range indices {
			indices[i] = i
		}
		return indices, nil
	}

	seen := make(map[int]bool, len(names))
	indices := make([]int, 0, len(names))
	for _, name := range names {
		idx, ok := r.nameToIdx[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		indices = append(indices, idx)
	}
	return indices, nil
}

func (r *Reader) readIndices(indices []int) (*ColumnarTable, error) {
	table := &ColumnarTable{
		NumRows: r.header.NumRows,
		Columns: make([]AnyColumn, 0, len(indices)),
	}
	for _, idx := range indices {
		col, err := r.readColumn(idx)
		if err != nil {
			return nil, err
		}
		table.Columns = append(table.Columns, col)
	}
	return table, nil
}

func (r *Reader) readColumn(idx int) (AnyColumn, error) {
	entry := r.header.Entries[idx]
	name := entry.Schema.Name
	meta := entry.Meta

	compressed, err := r.readBlock(entry)
	if err != nil {
		return nil, err
	}

	if meta.UncompressedSize > uint64(maxInt) {
		return nil, fmt.Errorf("%w: column %q: uncompressed size %d is not addressable",
			ErrCorruptColumn, name, meta.UncompressedSize)
	}

	payload, err := r.compressor.Decompress(compressed, int(meta.UncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("%w: column %q (index %d): %w", ErrCorruptColumn, name, idx, err)
	}
	if uint64(len(payload)) != meta.UncompressedSize {
		return nil, fmt.Errorf("%w: column %q (index %d): decompressed %d bytes, header says %d",
			ErrCorruptColumn, name, idx, len(payload), meta.UncompressedSize)
	}

	return parsePayload(entry, r.header.NumRows, payload)
}

func (r *Reader) readBlock(entry ColumnEntry) ([]byte, error) {
	name := entry.Schema.Name
	meta := entry.Meta

	if meta.Offset > uint64(r.size) || meta.CompressedSize > uint64(r.size)-meta.Offset {
		return nil, fmt.Errorf("%w: column %q: block [%d, +%d) runs past end of file (%d bytes)",
			ErrCorruptColumn, name, meta.Offset, meta.CompressedSize, r.size)
	}

	if _, err := r.src.Seek(int64(meta.Offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to column %q data: %w", name, err)
	}

	compressed := make([]byte, meta.CompressedSize)
	if _, err := io.ReadFull(r.src, compressed); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: column %q: truncated block: %w", ErrCorruptColumn, name, err)
		}
		return nil, fmt.Errorf("failed to read column %q data: %w", name, err)
	}
	return compressed, nil
}

const maxInt = int(^uint(0) >> 1)

// ReadHeader parses the preamble and header body starting at offset 0.
func ReadHeader(src io.ReadSeeker) (*FileHeader, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to file start: %w", err)
	}

	preamble := make([]byte, PreambleSize)
	if err := readHeaderBytes(src, preamble, "preamble"); err != nil {
		return nil, err
	}

	if string(preamble[:len(Magic)]) != Magic {
		return nil, fmt.Errorf("%w: invalid magic: expected '%s', got %q",
			ErrMalformedHeader, Magic, preamble[:len(Magic)])
	}

	header := &FileHeader{
		Version:    preamble[4],
		Endianness: preamble[5],
		HeaderSize: binary.LittleEndian.Uint32(preamble[6:]),
	}
	if header.Version != Version {
		return nil, fmt.Errorf("%w: %d (supported: %d)", ErrUnsupportedVersion, header.Version, Version)
	}
	if header.Endianness != LittleEndian {
		return nil, fmt.Errorf("%w: endianness tag %d (supported: %d)",
			ErrUnsupportedEncoding, header.Endianness, LittleEndian)
	}

	body := make([]byte, 0, min(int(header.HeaderSize), maxPrealloc))
	buf := bytes.NewBuffer(body)
	n, err := io.CopyN(buf, src, int64(header.HeaderSize))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: header body truncated: read %d of %d bytes",
				ErrMalformedHeader, n, header.HeaderSize)
		}
		return nil, fmt.Errorf("failed to read header body: %w", err)
	}

	if err := parseHeaderBody(header, buf.Bytes()); err != nil {
		return nil, err
	}
	return header, nil
}

func readHeaderBytes(src io.Reader, dst []byte, what string) error {
	if _, err := io.ReadFull(src, dst); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: file is too short to hold the %s: %w", ErrMalformedHeader, what, err)
		}
		return fmt.Errorf("failed to read %s: %w", what, err)
	}
	return nil
}

// parseSchemaJSON requires every key with its exact lowercase name.
// encoding/json alone would match keys case-insensitively and leave missing
// ones at their zero value.
func parseSchemaJSON(data []byte) (Schema, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return Schema{}, fmt.Errorf("failed to parse schema JSON: %w", err)
	}

	var schema Schema
	if err := decodeSchemaField(top, "num_rows", &schema.NumRows); err != nil {
		return Schema{}, err
	}
	var rawColumns []map[string]json.RawMessage
	if err := decodeSchemaField(top, "columns", &rawColumns); err != nil {
		return Schema{}, err
	}

	schema.Columns = make([]ColumnSchema, len(rawColumns))
	for i, rc := range rawColumns {
		c := &schema.Columns[i]
		if err := decodeSchemaField(rc, "name", &c.Name); err != nil {
			return Schema{}, fmt.Errorf("column %d: %w", i, err)
		}
		if c.Name == "" {
			return Schema{}, fmt.Errorf("column %d has an empty name", i)
		}
		if err := decodeSchemaField(rc, "type", &c.Type); err != nil {
			return Schema{}, fmt.Errorf("column %d (%q): %w", i, c.Name, err)
		}
		if err := decodeSchemaField(rc, "nullable", &c.Nullable); err != nil {
			return Schema{}, fmt.Errorf("column %d (%q): %w", i, c.Name, err)
		}
	}
	return schema, nil
}

func decodeSchemaField(obj map[string]json.RawMessage, key string, dst any) error {
	raw, ok := obj[key]
	if !ok || string(raw) == "null" {
		return fmt.Errorf("schema is missing %q", key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("schema key %q: %w", key, err)
	}
	return nil
}

func parseHeaderBody(header *FileHeader, body []byte) error {
	if len(body) < 4 {
		return fmt.Errorf("%w: header body of %d bytes cannot hold the schema length",
			ErrMalformedHeader, len(body))
	}
	schemaLen := uint64(binary.LittleEndian.Uint32(body))
	body = body[4:]
	if schemaLen > uint64(len(body)) {
		return fmt.Errorf("%w: schema length %d exceeds remaining header (%d bytes)",
			ErrMalformedHeader, schemaLen, len(body))
	}

	schema, err := parseSchemaJSON(body[:schemaLen])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedHeader, err)
	}
	body = body[schemaLen:]

	want := uint64(len(schema.Columns)) * MetaRecordSize
	if uint64(len(body)) != want {
		return fmt.Errorf("%w: %d columns need %d bytes of metadata, header has %d",
			ErrMalformedHeader, len(schema.Columns), want, len(body))
	}

	header.NumRows = schema.NumRows
	header.Entries = make([]ColumnEntry, len(schema.Columns))
	for i, c := range schema.Columns {
		rec := body[i*MetaRecordSize : (i+1)*MetaRecordSize]
		if rec[24] > 1 {
			return fmt.Errorf("%w: column %q: has_nulls byte is %d", ErrMalformedHeader, c.Name, rec[24])
		}
		header.Entries[i] = ColumnEntry{
			Schema: c,
			Meta: ColumnMetaData{
				Offset:           binary.LittleEndian.Uint64(rec[0:]),
				CompressedSize:   binary.LittleEndian.Uint64(rec[8:]),
				UncompressedSize: binary.LittleEndian.Uint64(rec[16:]),
				HasNulls:         rec[24] == 1,
			},
		}
	}
	return nil
}

// Deserialize reads every column of the file at filePath.
func Deserialize(filePath string, opts ...Option) (*ColumnarTable, error) {
	return DeserializeColumns(filePath, nil, opts...)
}

// DeserializeColumns reads the named columns (nil for all) of the file at
// filePath, in schema order.
func DeserializeColumns(filePath string, columns []string, opts ...Option) (*ColumnarTable, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("can't open the file: %w", err)
	}
	defer f.Close()

	r, err := Open(f, opts...)
	if err != nil {
		return nil, err
	}
	return r.ReadColumns(columns)
}

// ReadFileHeader returns the header of the file at filePath without touching
// any column block.
func ReadFileHeader(filePath string) (*FileHeader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("can't open the file: %w", err)
	}
	defer f.Close()
	return ReadHeader(f)
}
