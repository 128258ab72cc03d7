package colf_file

import "errors"

var (
	// ErrSchemaViolation is returned by the encoder when the table does not
	// match its own schema (row counts, NULLs in non-nullable columns, ...).
	ErrSchemaViolation = errors.New("schema violation")

	// ErrMalformedHeader covers bad magic, unreadable schema JSON, metadata
	// count mismatches and truncated headers.
	ErrMalformedHeader = errors.New("malformed header")

	ErrUnsupportedVersion  = errors.New("unsupported version")
	ErrUnsupportedEncoding = errors.New("unsupported encoding")

	// ErrUnknownColumn is returned when a requested column is not in the schema.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrSchemaTypeMismatch is returned when a block's type tag disagrees
	// with the schema.
	ErrSchemaTypeMismatch = errors.New("schema type mismatch")

	// ErrCorruptColumn covers truncated blocks, decompression failures and
	// payloads whose sizes disagree with the header.
	ErrCorruptColumn = errors.New("corrupt column")

	// ErrCompression wraps failures of the underlying compressor.
	ErrCompression = errors.New("compression error")
)
