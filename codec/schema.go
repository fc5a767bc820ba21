package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Schema describes a table's on-disk record layout: the declared types
// of its key and value, plus the fixed BOOL tombstone. It is parsed
// once from metadata.json (spec.md §6) and is immutable thereafter —
// like the rest of the codec, it carries no per-call state.
type Schema struct {
	TableName     string
	KeyType       Type
	ValueType     Type
	TombstoneType Type
}

// Fields returns (key, value, tombstone) in the fixed encoding order a
// Record is always serialized in (spec.md §4.1's "Record" rule).
func (s *Schema) Fields() [3]Type {
	return [3]Type{s.KeyType, s.ValueType, s.TombstoneType}
}

// MarshalMetadata renders s back into the metadata.json shape spec.md
// §6 defines — the inverse of ParseSchema, used the first time a table
// directory is opened with a provided schema and no metadata.json yet
// on disk.
func (s *Schema) MarshalMetadata() ([]byte, error) {
	keyDesc, err := typeToDoc(s.KeyType)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	valueDesc, err := typeToDoc(s.ValueType)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}

	doc := struct {
		TableName string `json:"table_name"`
		Fields    struct {
			Key       typeDescDoc `json:"key"`
			Value     typeDescDoc `json:"value"`
			Tombstone typeDescDoc `json:"tombstone"`
		} `json:"fields"`
	}{TableName: s.TableName}
	doc.Fields.Key = keyDesc
	doc.Fields.Value = valueDesc
	doc.Fields.Tombstone = typeDescDoc{Type: "BOOL"}

	return json.MarshalIndent(doc, "", "  ")
}

func typeToDoc(t Type) (typeDescDoc, error) {
	switch v := t.(type) {
	case PrimitiveType:
		return typeDescDoc{Type: v.Kind().String()}, nil

	case VarcharType:
		opts, err := json.Marshal(struct {
			Charset    string `json:"charset"`
			LengthType string `json:"length_type"`
		}{Charset: v.Charset, LengthType: v.LengthType.Kind().String()})
		if err != nil {
			return typeDescDoc{}, err
		}
		return typeDescDoc{Type: "VARCHAR", Options: opts}, nil

	case ArrayType:
		innerDesc, err := typeToDoc(v.Inner)
		if err != nil {
			return typeDescDoc{}, fmt.Errorf("inner_type: %w", err)
		}
		innerRaw, err := json.Marshal(innerDesc)
		if err != nil {
			return typeDescDoc{}, err
		}
		opts, err := json.Marshal(struct {
			LengthType string          `json:"length_type"`
			InnerType  json.RawMessage `json:"inner_type"`
		}{LengthType: v.LengthType.Kind().String(), InnerType: innerRaw})
		if err != nil {
			return typeDescDoc{}, err
		}
		return typeDescDoc{Type: "ARRAY", Options: opts}, nil

	case StructType:
		// json.Marshal on a map sorts keys, so a struct written here and
		// reloaded through ParseSchema loses its declared field order.
		// Harmless for every other type; only matters for a freshly
		// created table whose value type nests STRUCT fields.
		inner := make(map[string]json.RawMessage, len(v.Fields))
		for _, f := range v.Fields {
			fieldDesc, err := typeToDoc(f.Type)
			if err != nil {
				return typeDescDoc{}, fmt.Errorf("field %q: %w", f.Name, err)
			}
			raw, err := json.Marshal(fieldDesc)
			if err != nil {
				return typeDescDoc{}, err
			}
			inner[f.Name] = raw
		}
		innerRaw, err := json.Marshal(inner)
		if err != nil {
			return typeDescDoc{}, err
		}
		opts, err := json.Marshal(struct {
			Inner json.RawMessage `json:"inner"`
		}{Inner: innerRaw})
		if err != nil {
			return typeDescDoc{}, err
		}
		return typeDescDoc{Type: "STRUCT", Options: opts}, nil

	default:
		return typeDescDoc{}, fmt.Errorf("%w: unsupported type %T", ErrSchemaMismatch, t)
	}
}

type metadataDoc struct {
	TableName string                     `json:"table_name"`
	Fields    map[string]json.RawMessage `json:"fields"`
}

type typeDescDoc struct {
	Type    string          `json:"type"`
	Options json.RawMessage `json:"options"`
}

// ParseSchema parses a metadata.json document (spec.md §6). Parsing is
// idempotent: calling it twice on the same bytes yields structurally
// equal schemas.
func ParseSchema(data []byte) (*Schema, error) {
	var doc metadataDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	keyRaw, ok := doc.Fields["key"]
	if !ok {
		return nil, fmt.Errorf("%w: metadata missing \"key\" field", ErrSchemaMismatch)
	}
	valueRaw, ok := doc.Fields["value"]
	if !ok {
		return nil, fmt.Errorf("%w: metadata missing \"value\" field", ErrSchemaMismatch)
	}

	keyType, err := parseType(keyRaw)
	if err != nil {
		return nil, fmt.Errorf("field \"key\": %w", err)
	}
	valueType, err := parseType(valueRaw)
	if err != nil {
		return nil, fmt.Errorf("field \"value\": %w", err)
	}

	return &Schema{
		TableName:     doc.TableName,
		KeyType:       keyType,
		ValueType:     valueType,
		TombstoneType: BoolType(),
	}, nil
}

func parsePrimitiveName(name string) (PrimitiveType, bool) {
	switch name {
	case "SHORT":
		return ShortType(), true
	case "INT":
		return IntType(), true
	case "LONG":
		return LongType(), true
	case "FLOAT":
		return FloatType(), true
	case "DOUBLE":
		return DoubleType(), true
	case "BOOL":
		return BoolType(), true
	case "UNSIGNED_SHORT":
		return UnsignedShortType(), true
	case "UNSIGNED_INT":
		return UnsignedIntType(), true
	case "UNSIGNED_LONG":
		return UnsignedLongType(), true
	default:
		return PrimitiveType{}, false
	}
}

func parseLengthType(name string) (PrimitiveType, error) {
	if name == "" {
		return UnsignedShortType(), nil
	}
	pt, ok := parsePrimitiveName(name)
	if !ok || !pt.IsUnsignedInteger() {
		return PrimitiveType{}, fmt.Errorf("%w: %q is not a valid length type", ErrSchemaMismatch, name)
	}
	return pt, nil
}

func parseType(raw json.RawMessage) (Type, error) {
	var desc typeDescDoc
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	if pt, ok := parsePrimitiveName(desc.Type); ok && desc.Type != "VARCHAR" {
		return pt, nil
	}

	switch desc.Type {
	case "VARCHAR":
		var opts struct {
			Charset    string `json:"charset"`
			LengthType string `json:"length_type"`
		}
		if len(desc.Options) > 0 {
			if err := json.Unmarshal(desc.Options, &opts); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
			}
		}
		if opts.Charset == "" {
			opts.Charset = CharsetUTF8
		}
		if opts.Charset != CharsetUTF8 && opts.Charset != CharsetASCII {
			return nil, fmt.Errorf("%w: %q is not a valid charset", ErrSchemaMismatch, opts.Charset)
		}
		lt, err := parseLengthType(opts.LengthType)
		if err != nil {
			return nil, err
		}
		return VarcharType{Charset: opts.Charset, LengthType: lt}, nil

	case "ARRAY":
		var opts struct {
			LengthType string          `json:"length_type"`
			InnerType  json.RawMessage `json:"inner_type"`
		}
		if err := json.Unmarshal(desc.Options, &opts); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
		}
		if len(opts.InnerType) == 0 {
			return nil, fmt.Errorf("%w: ARRAY missing inner_type", ErrSchemaMismatch)
		}
		inner, err := parseType(opts.InnerType)
		if err != nil {
			return nil, fmt.Errorf("inner_type: %w", err)
		}
		lt, err := parseLengthType(opts.LengthType)
		if err != nil {
			return nil, err
		}
		return ArrayType{Inner: inner, LengthType: lt}, nil

	case "STRUCT":
		var opts struct {
			Inner json.RawMessage `json:"inner"`
		}
		if err := json.Unmarshal(desc.Options, &opts); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
		}
		fields, err := parseOrderedStructFields(opts.Inner)
		if err != nil {
			return nil, fmt.Errorf("inner: %w", err)
		}
		return StructType{Fields: fields}, nil

	default:
		return nil, fmt.Errorf("%w: unrecognized type %q", ErrSchemaMismatch, desc.Type)
	}
}

// parseOrderedStructFields walks the "inner" JSON object with a token
// decoder instead of unmarshaling into a Go map, because STRUCT field
// order is significant (spec.md §4.1: struct encoding is "concatenation
// of field encodings in declaration order") and map iteration order is
// not.
func parseOrderedStructFields(raw json.RawMessage) ([]StructField, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: missing inner field map", ErrSchemaMismatch)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: inner must be a JSON object", ErrSchemaMismatch)
	}

	var fields []StructField
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: inner field name must be a string", ErrSchemaMismatch)
		}

		var fieldRaw json.RawMessage
		if err := dec.Decode(&fieldRaw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
		}
		fieldType, err := parseType(fieldRaw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields = append(fields, StructField{Name: name, Type: fieldType})
	}
	return fields, nil
}
