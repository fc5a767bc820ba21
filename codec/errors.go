package codec

import "errors"

// ErrSchemaMismatch is returned when the byte stream being decoded
// cannot satisfy the schema (truncated block, corrupt length prefix).
var ErrSchemaMismatch = errors.New("codec: schema mismatch")

// ErrEncodingError is returned when a value cannot be represented under
// its declared type (e.g. a varchar whose encoded length overflows its
// length type).
var ErrEncodingError = errors.New("codec: encoding error")
