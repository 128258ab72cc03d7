package colf_file

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compressor is the black-box byte transform applied to every column
// payload. Decompress may read at most expectedLen+1 bytes of output so a
// size mismatch is detected without inflating arbitrary amounts of data.
type Compressor interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, expectedLen int) ([]byte, error)
}

const DefaultCompression = "zlib"

// sizes in a header are untrusted until the data is actually there
const maxPrealloc = 64 << 20

func CompressorByName(name string) (Compressor, error) {
	switch strings.ToLower(name) {
	case "", "zlib":
		return ZlibCompressor{Level: zlib.DefaultCompression}, nil
	case "zstd":
		return ZstdCompressor{}, nil
	case "s2":
		return S2Compressor{}, nil
	case "lz4":
		return LZ4Compressor{}, nil
	case "none":
		return NoCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

func CompressorNames() []string {
	return []string{"zlib", "zstd", "s2", "lz4", "none"}
}

// Zlib

// ZlibCompressor writes RFC 1950 streams, the format produced by Python's
// zlib.compress. Level is passed to zlib as is, so the zero value stores
// blocks uncompressed; CompressorByName picks zlib.DefaultCompression.
type ZlibCompressor struct {
	Level int
}

func (ZlibCompressor) Name() string { return "zlib" }

func (c ZlibCompressor) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, c.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: zlib writer: %w", ErrCompression, err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("%w: zlib write: %w", ErrCompression, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: zlib close: %w", ErrCompression, err)
	}
	return buf.Bytes(), nil
}

func (ZlibCompressor) Decompress(src []byte, expectedLen int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib reader: %w", ErrCompression, err)
	}
	defer r.Close()
	return readLimited(r, expectedLen, "zlib")
}

// Zstd

type ZstdCompressor struct{}

func (ZstdCompressor) Name() string { return "zstd" }

func (ZstdCompressor) Compress(src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd writer: %w", ErrCompression, err)
	}
	defer enc.Close()
	return enc.EncodeAll(src, make([]byte, 0, len(src))), nil
}

func (ZstdCompressor) Decompress(src []byte, expectedLen int) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd reader: %w", ErrCompression, err)
	}
	defer dec.Close()
	return readLimited(dec, expectedLen, "zstd")
}

// S2

type S2Compressor struct{}

func (S2Compressor) Name() string { return "s2" }

func (S2Compressor) Compress(src []byte) ([]byte, error) {
	return s2.Encode(nil, src), nil
}

func (S2Compressor) Decompress(src []byte, expectedLen int) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("%w: s2: %w", ErrCompression, err)
	}
	if n != expectedLen {
		return nil, fmt.Errorf("%w: s2: decoded length %d, expected %d", ErrCompression, n, expectedLen)
	}
	out, err := s2.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("%w: s2: %w", ErrCompression, err)
	}
	return out, nil
}

// LZ4

type LZ4Compressor struct{}

func (LZ4Compressor) Name() string { return "lz4" }

func (LZ4Compressor) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("%w: lz4 write: %w", ErrCompression, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: lz4 close: %w", ErrCompression, err)
	}
	return buf.Bytes(), nil
}

func (LZ4Compressor) Decompress(src []byte, expectedLen int) ([]byte, error) {
	return readLimited(lz4.NewReader(bytes.NewReader(src)), expectedLen, "lz4")
}

// None

type NoCompressor struct{}

func (NoCompressor) Name() string { return "none" }

func (NoCompressor) Compress(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (NoCompressor) Decompress(src []byte, _ int) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func readLimited(r io.Reader, expectedLen int, codec string) ([]byte, error) {
	if expectedLen < 0 {
		return nil, fmt.Errorf("%w: %s: negative expected length %d", ErrCompression, codec, expectedLen)
	}
	out := bytes.NewBuffer(make([]byte, 0, min(expectedLen, maxPrealloc)))
	if _, err := io.Copy(out, io.LimitReader(r, int64(expectedLen)+1)); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCompression, codec, err)
	}
	return out.Bytes(), nil
}
