// Package codec implements the record type system and binary encoding
// used by sorted runs and the mem-table: fixed-width primitives,
// length-prefixed varchars and arrays, and declaration-ordered structs.
//
// The codec is purely functional — it never retains state across calls,
// matching the single-responsibility split the rest of the store relies
// on (encode/decode are safe to call concurrently with no locking).
package codec

import "fmt"

// Kind is the tag of the closed type union. Every Type value carries
// exactly one Kind; encoders and decoders dispatch on it.
type Kind int

const (
	Short Kind = iota
	Int
	Long
	Float
	Double
	Bool
	UnsignedShort
	UnsignedInt
	UnsignedLong
	Varchar
	Array
	Struct
)

func (k Kind) String() string {
	switch k {
	case Short:
		return "SHORT"
	case Int:
		return "INT"
	case Long:
		return "LONG"
	case Float:
		return "FLOAT"
	case Double:
		return "DOUBLE"
	case Bool:
		return "BOOL"
	case UnsignedShort:
		return "UNSIGNED_SHORT"
	case UnsignedInt:
		return "UNSIGNED_INT"
	case UnsignedLong:
		return "UNSIGNED_LONG"
	case Varchar:
		return "VARCHAR"
	case Array:
		return "ARRAY"
	case Struct:
		return "STRUCT"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Type is implemented by every member of the closed tagged union:
// PrimitiveType, VarcharType, ArrayType, StructType.
type Type interface {
	Kind() Kind
}

// PrimitiveType is a fixed-width integer, float, double or bool.
type PrimitiveType struct {
	kind Kind
}

func (p PrimitiveType) Kind() Kind { return p.kind }

// BaseSize returns the number of raw bytes a single value of this
// primitive occupies. Varchar/Array/Struct are not fixed-width and do
// not implement BaseSize.
func (p PrimitiveType) BaseSize() int {
	switch p.kind {
	case Short, UnsignedShort:
		return 2
	case Int, UnsignedInt, Float:
		return 4
	case Long, UnsignedLong, Double:
		return 8
	case Bool:
		return 1
	default:
		return 0
	}
}

// IsUnsignedInteger reports whether this primitive may legally be used
// as a length type for VARCHAR/ARRAY (schema-load-time validation).
func (p PrimitiveType) IsUnsignedInteger() bool {
	switch p.kind {
	case UnsignedShort, UnsignedInt, UnsignedLong:
		return true
	default:
		return false
	}
}

func ShortType() PrimitiveType         { return PrimitiveType{Short} }
func IntType() PrimitiveType           { return PrimitiveType{Int} }
func LongType() PrimitiveType          { return PrimitiveType{Long} }
func FloatType() PrimitiveType         { return PrimitiveType{Float} }
func DoubleType() PrimitiveType        { return PrimitiveType{Double} }
func BoolType() PrimitiveType          { return PrimitiveType{Bool} }
func UnsignedShortType() PrimitiveType { return PrimitiveType{UnsignedShort} }
func UnsignedIntType() PrimitiveType   { return PrimitiveType{UnsignedInt} }
func UnsignedLongType() PrimitiveType  { return PrimitiveType{UnsignedLong} }

// Charset values recognized for VarcharType.
const (
	CharsetUTF8  = "utf-8"
	CharsetASCII = "ascii"
)

// VarcharType is a length-prefixed string. Default length type is
// unsigned 16-bit (spec default); default charset is UTF-8.
type VarcharType struct {
	Charset    string
	LengthType PrimitiveType
}

func (VarcharType) Kind() Kind { return Varchar }

// NewVarcharType fills in the defaults spec.md §4.1 names when the
// caller leaves them zero-valued.
func NewVarcharType(charset string, lengthType *PrimitiveType) VarcharType {
	v := VarcharType{Charset: charset, LengthType: UnsignedShortType()}
	if v.Charset == "" {
		v.Charset = CharsetUTF8
	}
	if lengthType != nil {
		v.LengthType = *lengthType
	}
	return v
}

// ArrayType is a length-prefixed homogeneous sequence of Inner.
type ArrayType struct {
	Inner      Type
	LengthType PrimitiveType
}

func (ArrayType) Kind() Kind { return Array }

func NewArrayType(inner Type, lengthType *PrimitiveType) ArrayType {
	a := ArrayType{Inner: inner, LengthType: UnsignedShortType()}
	if lengthType != nil {
		a.LengthType = *lengthType
	}
	return a
}

// StructField is one entry of a StructType's ordered field list.
// Declaration order is significant — see spec.md §4.1 ("no per-field
// tag; schema-driven").
type StructField struct {
	Name string
	Type Type
}

// StructType is an ordered map from field name to Type, encoded as the
// concatenation of field encodings in declaration order.
type StructType struct {
	Fields []StructField
}

func (StructType) Kind() Kind { return Struct }

func (s StructType) Field(name string) (Type, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Type, true
		}
	}
	return nil, false
}
