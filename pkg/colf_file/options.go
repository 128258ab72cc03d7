package colf_file

import "github.com/klauspost/compress/zlib"

// Option configures both the encoder and the decoder. A file must be read
// with the compressor it was written with; the format carries no codec tag.
type Option func(*options)

type options struct {
	compressor Compressor
}

func newOptions(opts []Option) options {
	o := options{compressor: ZlibCompressor{Level: zlib.DefaultCompression}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithCompressor replaces the default zlib compressor.
func WithCompressor(c Compressor) Option {
	return func(o *options) {
		if c != nil {
			o.compressor = c
		}
	}
}
