// Package schema defines the column and row types shared by the heap,
// btree and hashindex packages, along with the fixed marshalling codec
// every relation and index key uses: INT as 4-byte signed big-endian,
// BOOLEAN as 1 byte, TEXT as a 2-byte big-endian length followed by
// UTF-8 bytes.
package schema

import (
	"encoding/binary"

	"github.com/klundeen/cpsc5300go/dberr"
)

// DataType identifies the wire representation of a column's values.
type DataType int

const (
	INT DataType = iota
	BOOLEAN
	TEXT
)

// Validator rejects values a column should not accept. Returning false
// fails the insert/update with dberr.BadValue.
type Validator func(value any) bool

// Column describes one attribute of a relation or index key.
type Column struct {
	Name      string
	Type      DataType
	Validate  Validator
	PrimaryKeySeq int // 0 means not part of the primary key
}

// Row is a mapping from column name to typed value: int32 for INT, bool
// for BOOLEAN, string for TEXT.
type Row map[string]any

// KeyProfile is the ordered list of data types used to (de)serialize a
// composite key identically across every node that stores or compares it.
type KeyProfile []DataType

// Validate checks that row has a value for every column in cols, running
// each column's Validator. It returns a new row holding just those
// columns (keys of row not named in cols are dropped), or a
// dberr.BadValue error naming the offending column.
func Validate(cols []Column, row Row) (Row, error) {
	full := make(Row, len(cols))
	for _, col := range cols {
		value, ok := row[col.Name]
		if !ok {
			return nil, dberr.Newf(dberr.BadValue, "column %s: no value given (NULLs/defaults not supported)", col.Name)
		}
		if col.Validate != nil && !col.Validate(value) {
			return nil, dberr.Newf(dberr.BadValue, "column %s: value %v is unacceptable", col.Name, value)
		}
		full[col.Name] = value
	}
	return full, nil
}

// Project restricts row to the given column names. A nil names returns
// row unchanged.
func Project(row Row, names []string) Row {
	if names == nil {
		return row
	}
	out := make(Row, len(names))
	for _, n := range names {
		out[n] = row[n]
	}
	return out
}

// Marshal encodes row's columns, in cols order, using the fixed wire
// codec. Every column in cols must be present in row.
func Marshal(cols []Column, row Row) ([]byte, error) {
	var buf []byte
	for _, col := range cols {
		value, ok := row[col.Name]
		if !ok {
			return nil, dberr.Newf(dberr.BadValue, "column %s: no value to marshal", col.Name)
		}
		enc, err := marshalValue(col.Type, value)
		if err != nil {
			return nil, dberr.Newf(dberr.BadValue, "column %s: %v", col.Name, err)
		}
		buf = append(buf, enc...)
	}
	return buf, nil
}

func marshalValue(t DataType, value any) ([]byte, error) {
	switch t {
	case INT:
		v, ok := value.(int32)
		if !ok {
			return nil, dberr.New(dberr.BadValue)
		}
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(v))
		return b, nil
	case BOOLEAN:
		v, ok := value.(bool)
		if !ok {
			return nil, dberr.New(dberr.BadValue)
		}
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case TEXT:
		v, ok := value.(string)
		if !ok {
			return nil, dberr.New(dberr.BadValue)
		}
		text := []byte(v)
		b := make([]byte, 2+len(text))
		binary.BigEndian.PutUint16(b[0:2], uint16(len(text)))
		copy(b[2:], text)
		return b, nil
	default:
		return nil, dberr.Newf(dberr.BadValue, "unknown data type %d", t)
	}
}

// Unmarshal decodes data into a Row, in cols order, using the fixed wire
// codec.
func Unmarshal(cols []Column, data []byte) (Row, error) {
	row := make(Row, len(cols))
	offset := 0
	for _, col := range cols {
		value, n, err := unmarshalValue(col.Type, data[offset:])
		if err != nil {
			return nil, dberr.Newf(dberr.BadValue, "column %s: %v", col.Name, err)
		}
		row[col.Name] = value
		offset += n
	}
	return row, nil
}

func unmarshalValue(t DataType, data []byte) (any, int, error) {
	switch t {
	case INT:
		if len(data) < 4 {
			return nil, 0, dberr.New(dberr.BadValue)
		}
		return int32(binary.BigEndian.Uint32(data[:4])), 4, nil
	case BOOLEAN:
		if len(data) < 1 {
			return nil, 0, dberr.New(dberr.BadValue)
		}
		return data[0] != 0, 1, nil
	case TEXT:
		if len(data) < 2 {
			return nil, 0, dberr.New(dberr.BadValue)
		}
		size := int(binary.BigEndian.Uint16(data[:2]))
		if len(data) < 2+size {
			return nil, 0, dberr.New(dberr.BadValue)
		}
		return string(data[2 : 2+size]), 2 + size, nil
	default:
		return nil, 0, dberr.Newf(dberr.BadValue, "unknown data type %d", t)
	}
}

// MarshalKey encodes a composite key's components per profile, using the
// same fixed codec as Marshal.
func MarshalKey(profile KeyProfile, key []any) ([]byte, error) {
	if len(key) != len(profile) {
		return nil, dberr.Newf(dberr.BadValue, "key has %d components, profile wants %d", len(key), len(profile))
	}
	var buf []byte
	for i, t := range profile {
		enc, err := marshalValue(t, key[i])
		if err != nil {
			return nil, err
		}
		buf = append(buf, enc...)
	}
	return buf, nil
}

// UnmarshalKey decodes a composite key per profile.
func UnmarshalKey(profile KeyProfile, data []byte) ([]any, error) {
	key := make([]any, len(profile))
	offset := 0
	for i, t := range profile {
		value, n, err := unmarshalValue(t, data[offset:])
		if err != nil {
			return nil, err
		}
		key[i] = value
		offset += n
	}
	return key, nil
}

// CompareKeys compares two keys component-wise using each component's
// natural ordering, returning -1, 0 or 1 at the first differing
// component (or based on length if one is a prefix of the other).
func CompareKeys(a, b []any) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := compareValue(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareValue(a, b any) int {
	switch av := a.(type) {
	case int32:
		bv := b.(int32)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av && bv:
			return -1
		default:
			return 1
		}
	default:
		panic("schema: unsupported key component type")
	}
}
