package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Go value mapping for each Kind:
//
//	Short          int16
//	Int            int32
//	Long           int64
//	Float          float32
//	Double         float64
//	Bool           bool
//	UnsignedShort  uint16
//	UnsignedInt    uint32
//	UnsignedLong   uint64
//	Varchar        string
//	Array          []any
//	Struct         map[string]any
//
// All multi-byte integers are encoded big-endian (spec.md §4.1).

// Encode serializes value according to t, returning the encoded bytes.
func Encode(value any, t Type) ([]byte, error) {
	switch tt := t.(type) {
	case PrimitiveType:
		return encodePrimitive(value, tt)
	case VarcharType:
		return encodeVarchar(value, tt)
	case ArrayType:
		return encodeArray(value, tt)
	case StructType:
		return encodeStruct(value, tt)
	default:
		return nil, fmt.Errorf("%w: unknown type %T", ErrEncodingError, t)
	}
}

// Decode deserializes a value of type t from the front of block,
// returning the value and the number of bytes consumed.
func Decode(block []byte, t Type) (any, int, error) {
	switch tt := t.(type) {
	case PrimitiveType:
		return decodePrimitive(block, tt)
	case VarcharType:
		return decodeVarchar(block, tt)
	case ArrayType:
		return decodeArray(block, tt)
	case StructType:
		return decodeStruct(block, tt)
	default:
		return nil, 0, fmt.Errorf("%w: unknown type %T", ErrSchemaMismatch, t)
	}
}

func encodePrimitive(value any, t PrimitiveType) ([]byte, error) {
	buf := make([]byte, t.BaseSize())
	switch t.kind {
	case Short:
		v, ok := value.(int16)
		if !ok {
			return nil, fmt.Errorf("%w: want int16, got %T", ErrEncodingError, value)
		}
		binary.BigEndian.PutUint16(buf, uint16(v))
	case Int:
		v, ok := value.(int32)
		if !ok {
			return nil, fmt.Errorf("%w: want int32, got %T", ErrEncodingError, value)
		}
		binary.BigEndian.PutUint32(buf, uint32(v))
	case Long:
		v, ok := value.(int64)
		if !ok {
			return nil, fmt.Errorf("%w: want int64, got %T", ErrEncodingError, value)
		}
		binary.BigEndian.PutUint64(buf, uint64(v))
	case Float:
		v, ok := value.(float32)
		if !ok {
			return nil, fmt.Errorf("%w: want float32, got %T", ErrEncodingError, value)
		}
		binary.BigEndian.PutUint32(buf, math.Float32bits(v))
	case Double:
		v, ok := value.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: want float64, got %T", ErrEncodingError, value)
		}
		binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	case Bool:
		v, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: want bool, got %T", ErrEncodingError, value)
		}
		if v {
			buf[0] = 1
		}
	case UnsignedShort:
		v, ok := asUint(value)
		if !ok {
			return nil, fmt.Errorf("%w: want uint16, got %T", ErrEncodingError, value)
		}
		binary.BigEndian.PutUint16(buf, uint16(v))
	case UnsignedInt:
		v, ok := asUint(value)
		if !ok {
			return nil, fmt.Errorf("%w: want uint32, got %T", ErrEncodingError, value)
		}
		binary.BigEndian.PutUint32(buf, uint32(v))
	case UnsignedLong:
		v, ok := asUint(value)
		if !ok {
			return nil, fmt.Errorf("%w: want uint64, got %T", ErrEncodingError, value)
		}
		binary.BigEndian.PutUint64(buf, v)
	default:
		return nil, fmt.Errorf("%w: not a primitive kind %v", ErrEncodingError, t.kind)
	}
	return buf, nil
}

// asUint accepts any of the unsigned Go integer types so callers can
// pass a plain uint64 or the exact-width type interchangeably.
func asUint(value any) (uint64, bool) {
	switch v := value.(type) {
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	default:
		return 0, false
	}
}

func decodePrimitive(block []byte, t PrimitiveType) (any, int, error) {
	n := t.BaseSize()
	if len(block) < n {
		return nil, 0, fmt.Errorf("%w: need %d bytes, have %d", ErrSchemaMismatch, n, len(block))
	}
	switch t.kind {
	case Short:
		return int16(binary.BigEndian.Uint16(block)), n, nil
	case Int:
		return int32(binary.BigEndian.Uint32(block)), n, nil
	case Long:
		return int64(binary.BigEndian.Uint64(block)), n, nil
	case Float:
		return math.Float32frombits(binary.BigEndian.Uint32(block)), n, nil
	case Double:
		return math.Float64frombits(binary.BigEndian.Uint64(block)), n, nil
	case Bool:
		return block[0] != 0, n, nil
	case UnsignedShort:
		return binary.BigEndian.Uint16(block), n, nil
	case UnsignedInt:
		return binary.BigEndian.Uint32(block), n, nil
	case UnsignedLong:
		return binary.BigEndian.Uint64(block), n, nil
	default:
		return nil, 0, fmt.Errorf("%w: not a primitive kind %v", ErrSchemaMismatch, t.kind)
	}
}

// encodeLength packs n into lt, erroring with ErrEncodingError on
// overflow of the declared length type.
func encodeLength(n int, lt PrimitiveType) ([]byte, error) {
	switch lt.kind {
	case UnsignedShort:
		if n > math.MaxUint16 {
			return nil, fmt.Errorf("%w: length %d overflows UNSIGNED_SHORT", ErrEncodingError, n)
		}
		return encodePrimitive(uint16(n), lt)
	case UnsignedInt:
		if n > math.MaxUint32 {
			return nil, fmt.Errorf("%w: length %d overflows UNSIGNED_INT", ErrEncodingError, n)
		}
		return encodePrimitive(uint32(n), lt)
	case UnsignedLong:
		return encodePrimitive(uint64(n), lt)
	default:
		return nil, fmt.Errorf("%w: '%v' is not a valid length type", ErrEncodingError, lt.kind)
	}
}

func decodeLength(block []byte, lt PrimitiveType) (int, int, error) {
	v, n, err := decodePrimitive(block, lt)
	if err != nil {
		return 0, 0, err
	}
	u, _ := asUint(v)
	return int(u), n, nil
}

func encodeVarchar(value any, t VarcharType) ([]byte, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("%w: want string, got %T", ErrEncodingError, value)
	}
	text := []byte(s)
	lenBytes, err := encodeLength(len(text), t.LengthType)
	if err != nil {
		return nil, err
	}
	return append(lenBytes, text...), nil
}

func decodeVarchar(block []byte, t VarcharType) (any, int, error) {
	n, consumed, err := decodeLength(block, t.LengthType)
	if err != nil {
		return nil, 0, err
	}
	if len(block) < consumed+n {
		return nil, 0, fmt.Errorf("%w: varchar of length %d truncated", ErrSchemaMismatch, n)
	}
	return string(block[consumed : consumed+n]), consumed + n, nil
}

func encodeArray(value any, t ArrayType) ([]byte, error) {
	elems, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: want []any, got %T", ErrEncodingError, value)
	}
	out, err := encodeLength(len(elems), t.LengthType)
	if err != nil {
		return nil, err
	}
	for _, el := range elems {
		enc, err := Encode(el, t.Inner)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}

func decodeArray(block []byte, t ArrayType) (any, int, error) {
	n, offset, err := decodeLength(block, t.LengthType)
	if err != nil {
		return nil, 0, err
	}
	elems := make([]any, 0, n)
	for i := 0; i < n; i++ {
		el, consumed, err := Decode(block[offset:], t.Inner)
		if err != nil {
			return nil, 0, err
		}
		elems = append(elems, el)
		offset += consumed
	}
	return elems, offset, nil
}

func encodeStruct(value any, t StructType) ([]byte, error) {
	fields, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: want map[string]any, got %T", ErrEncodingError, value)
	}
	var out []byte
	for _, f := range t.Fields {
		v, present := fields[f.Name]
		if !present {
			return nil, fmt.Errorf("%w: missing field %q", ErrEncodingError, f.Name)
		}
		enc, err := Encode(v, f.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}

func decodeStruct(block []byte, t StructType) (any, int, error) {
	out := make(map[string]any, len(t.Fields))
	offset := 0
	for _, f := range t.Fields {
		v, consumed, err := Decode(block[offset:], f.Type)
		if err != nil {
			return nil, 0, err
		}
		out[f.Name] = v
		offset += consumed
	}
	return out, offset, nil
}
