package codec

import "fmt"

// Record is the (key, value, tombstone) triple spec.md §3 defines. Two
// records are equal iff their keys are equal; records are ordered by
// key. Key/Value comparison and ordering is the caller's
// responsibility (memtable.Tree, sstable) since the codec itself never
// compares values, only encodes/decodes them.
type Record struct {
	Key       any
	Value     any
	Tombstone bool
}

// EncodeRecord serializes key, value and tombstone in that order,
// per spec.md §4.1.
func EncodeRecord(r Record, s *Schema) ([]byte, error) {
	keyBytes, err := Encode(r.Key, s.KeyType)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	valueBytes, err := Encode(r.Value, s.ValueType)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}
	tombBytes, err := Encode(r.Tombstone, s.TombstoneType)
	if err != nil {
		return nil, fmt.Errorf("tombstone: %w", err)
	}
	out := make([]byte, 0, len(keyBytes)+len(valueBytes)+len(tombBytes))
	out = append(out, keyBytes...)
	out = append(out, valueBytes...)
	out = append(out, tombBytes...)
	return out, nil
}

// DecodeRecord is the dual of EncodeRecord: it returns the record and
// the number of bytes consumed from block.
func DecodeRecord(block []byte, s *Schema) (Record, int, error) {
	key, n1, err := Decode(block, s.KeyType)
	if err != nil {
		return Record{}, 0, fmt.Errorf("key: %w", err)
	}
	value, n2, err := Decode(block[n1:], s.ValueType)
	if err != nil {
		return Record{}, 0, fmt.Errorf("value: %w", err)
	}
	tomb, n3, err := Decode(block[n1+n2:], s.TombstoneType)
	if err != nil {
		return Record{}, 0, fmt.Errorf("tombstone: %w", err)
	}
	return Record{Key: key, Value: value, Tombstone: tomb.(bool)}, n1 + n2 + n3, nil
}

// CompareKeys orders two key values of the same Type. Only the key
// kinds that can legally back an ordered key (the spec's sparse-index
// and mem-table ordering both assume a totally ordered key space) are
// supported: primitives and VARCHAR.
func CompareKeys(a, b any) int {
	switch av := a.(type) {
	case int16:
		return compareOrdered(av, b.(int16))
	case int32:
		return compareOrdered(av, b.(int32))
	case int64:
		return compareOrdered(av, b.(int64))
	case uint16:
		return compareOrdered(av, b.(uint16))
	case uint32:
		return compareOrdered(av, b.(uint32))
	case uint64:
		return compareOrdered(av, b.(uint64))
	case float32:
		return compareOrdered(av, b.(float32))
	case float64:
		return compareOrdered(av, b.(float64))
	case string:
		return compareOrdered(av, b.(string))
	case bool:
		bv := b.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	default:
		panic(fmt.Sprintf("codec: key type %T is not orderable", a))
	}
}

type ordered interface {
	~int16 | ~int32 | ~int64 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64 | ~string
}

func compareOrdered[T ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
