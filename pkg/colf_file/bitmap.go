package colf_file

// Null bitmap: bit i set (LSB-first within each byte) => row i is NULL.

// ceil(rows/8) without overflowing for rows near MaxUint64
func bitmapLen(rows uint64) uint64 {
	n := rows / 8
	if rows%8 != 0 {
		n++
	}
	return n
}

func setBit(bits []byte, idx int) {
	byteIdx := idx / 8
	if byteIdx >= len(bits) {
		return
	}
	bits[byteIdx] |= 1 << uint(idx%8)
}

func isBitSet(bits []byte, idx int) bool {
	if idx < 0 {
		return false
	}
	byteIdx := idx / 8
	if byteIdx >= len(bits) {
		return false
	}
	return bits[byteIdx]&(1<<uint(idx%8)) != 0
}

func buildBitmap(col AnyColumn) []byte {
	bits := make([]byte, bitmapLen(uint64(col.GetNumRows())))
	for i := 0; i < col.GetNumRows(); i++ {
		if col.IsNull(i) {
			setBit(bits, i)
		}
	}
	return bits
}

// nullsFromBitmap returns nil when no bit is set.
func nullsFromBitmap(bits []byte, rows int) []bool {
	var nulls []bool
	for i := 0; i < rows; i++ {
		if !isBitSet(bits, i) {
			continue
		}
		if nulls == nil {
			nulls = make([]bool, rows)
		}
		nulls[i] = true
	}
	return nulls
}
