package colf_file

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Uncompressed column payload:
// [type tag 1B][has_nulls 1B][bitmap ceil(rows/8)B, only if has_nulls][body]
// body: int32/float64 little-endian slots, or utf8 u32 offsets + concatenated bytes.

func buildPayload(col AnyColumn) (payload []byte, hasNulls bool, err error) {
	hasNulls = col.HasNulls()
	numRows := col.GetNumRows()

	var buf bytes.Buffer
	buf.WriteByte(byte(col.GetType()))
	buf.WriteByte(boolToByte(hasNulls))
	if hasNulls {
		buf.Write(buildBitmap(col))
	}

	switch c := col.(type) {
	case *Int32Column:
		body := make([]byte, 4*numRows)
		for i, v := range c.Values {
			if c.IsNull(i) {
				v = 0
			}
			binary.LittleEndian.PutUint32(body[4*i:], uint32(v))
		}
		buf.Write(body)

	case *Float64Column:
		body := make([]byte, 8*numRows)
		for i, v := range c.Values {
			if c.IsNull(i) {
				v = 0
			}
			binary.LittleEndian.PutUint64(body[8*i:], math.Float64bits(v))
		}
		buf.Write(body)

	case *Utf8Column:
		offsets := make([]byte, 4*numRows)
		data := make([]byte, 0, len(c.Data))
		for i := 0; i < numRows; i++ {
			// NULL rows point at the current end and contribute no bytes
			binary.LittleEndian.PutUint32(offsets[4*i:], uint32(len(data)))
			if c.IsNull(i) {
				continue
			}
			data = append(data, c.Bytes(i)...)
			if uint64(len(data)) > math.MaxUint32 {
				return nil, false, fmt.Errorf("%w: column %q: string data exceeds %d bytes",
					ErrSchemaViolation, c.Name, uint64(math.MaxUint32))
			}
		}
		buf.Write(offsets)
		buf.Write(data)

	default:
		return nil, false, fmt.Errorf("%w: column %q: unsupported column implementation %T",
			ErrSchemaViolation, col.GetName(), col)
	}

	return buf.Bytes(), hasNulls, nil
}

func parsePayload(entry ColumnEntry, numRows uint64, payload []byte) (AnyColumn, error) {
	name := entry.Schema.Name
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: column %q: payload of %d bytes is shorter than its preamble",
			ErrCorruptColumn, name, len(payload))
	}

	tag := ColumnType(payload[0])
	if tag != entry.Schema.Type {
		return nil, fmt.Errorf("%w: column %q: block holds %s, schema declares %s",
			ErrSchemaTypeMismatch, name, tag, entry.Schema.Type)
	}

	if payload[1] > 1 || (payload[1] == 1) != entry.Meta.HasNulls {
		return nil, fmt.Errorf("%w: column %q: payload has_nulls=%d disagrees with header has_nulls=%t",
			ErrCorruptColumn, name, payload[1], entry.Meta.HasNulls)
	}

	body := payload[2:]
	var bitmap []byte
	if entry.Meta.HasNulls {
		bl := bitmapLen(numRows)
		if bl > uint64(len(body)) {
			return nil, fmt.Errorf("%w: column %q: null bitmap needs %d bytes, %d left",
				ErrCorruptColumn, name, bl, len(body))
		}
		bitmap = body[:bl]
		body = body[bl:]
	}

	if w := tag.width(); w > 0 {
		if numRows > uint64(len(body))/uint64(w) || uint64(len(body)) != numRows*uint64(w) {
			return nil, fmt.Errorf("%w: column %q: expected %d rows of %d bytes, body has %d bytes",
				ErrCorruptColumn, name, numRows, w, len(body))
		}
	} else if numRows > uint64(len(body))/4 {
		return nil, fmt.Errorf("%w: column %q: expected %d string offsets, body has %d bytes",
			ErrCorruptColumn, name, numRows, len(body))
	}

	// the checks above bound numRows by the payload length
	rows := int(numRows)
	nulls := nullsFromBitmap(bitmap, rows)
	nullable := entry.Schema.Nullable

	switch tag {
	case TypeInt32:
		values := make([]int32, rows)
		for i := range values {
			if nullAt(nulls, i) {
				continue
			}
			values[i] = int32(binary.LittleEndian.Uint32(body[4*i:]))
		}
		return &Int32Column{Name: name, Nullable: nullable, Values: values, Nulls: nulls}, nil

	case TypeFloat64:
		values := make([]float64, rows)
		for i := range values {
			if nullAt(nulls, i) {
				continue
			}
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[8*i:]))
		}
		return &Float64Column{Name: name, Nullable: nullable, Values: values, Nulls: nulls}, nil

	case TypeUtf8:
		return parseUtf8Body(name, nullable, rows, nulls, body)

	default:
		return nil, fmt.Errorf("%w: column %q: unknown type tag %d", ErrSchemaTypeMismatch, name, byte(tag))
	}
}

// parseUtf8Body rebuilds the column with compact data and cumulative offsets
// for NULL rows. Offsets stored for NULL rows are never read.
func parseUtf8Body(name string, nullable bool, rows int, nulls []bool, body []byte) (*Utf8Column, error) {
	blob := body[4*rows:]

	// a row ends where the next non-NULL row starts
	ends := make([]uint32, rows)
	next := uint32(len(blob))
	for i := rows - 1; i >= 0; i-- {
		if nullAt(nulls, i) {
			continue
		}
		ends[i] = next
		next = binary.LittleEndian.Uint32(body[4*i:])
	}

	col := &Utf8Column{
		Name:     name,
		Nullable: nullable,
		Offsets:  make([]uint32, rows),
		Data:     make([]byte, 0, len(blob)),
		Nulls:    nulls,
	}
	for i := 0; i < rows; i++ {
		col.Offsets[i] = uint32(len(col.Data))
		if nullAt(nulls, i) {
			continue
		}
		start := binary.LittleEndian.Uint32(body[4*i:])
		end := ends[i]
		if start > end || end > uint32(len(blob)) {
			return nil, fmt.Errorf("%w: column %q: row %d spans [%d, %d) of a %d-byte string blob",
				ErrCorruptColumn, name, i, start, end, len(blob))
		}
		col.Data = append(col.Data, blob[start:end]...)
	}
	return col, nil
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
