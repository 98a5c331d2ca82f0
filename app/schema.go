// schema.go: user-declared inbound payload schema decoding
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package app implements the single-threaded cooperative App Event
// Loop (spec.md §2.7): it drains inbound rings from every worker,
// decodes each READ message's payload per the app's declared Schema,
// invokes the app's lifecycle callbacks, and publishes outbound
// messages through its own ProducerHub.
package app

import (
	"encoding/binary"
	"fmt"
)

// FieldKind names a schema field's wire shape (spec.md §3 "Inbound
// Message": "integers with optional byte-order conversion,
// variable-length arrays with min/max element counts, strings with
// min/max byte lengths, switched by a leading 1-byte case tag").
type FieldKind int

const (
	FieldInt8 FieldKind = iota
	FieldInt16
	FieldInt32
	FieldInt64
	FieldString
	FieldArray
)

// Field describes one value in a Schema.
type Field struct {
	Name string
	Kind FieldKind

	// NetworkOrder applies big-endian conversion to integer kinds
	// (spec.md §6: "integers... tagged with the network-order flag are
	// big-endian on the wire"). False means native (little-endian on
	// every platform this core targets) byte order.
	NetworkOrder bool

	// MinLen/MaxLen bound a FieldString's byte length. Zero MaxLen
	// means unbounded (still implicitly capped by the message's own
	// max size).
	MinLen, MaxLen int

	// MinCount/MaxCount bound a FieldArray's element count.
	MinCount, MaxCount int
	// Elem describes a FieldArray's element schema.
	Elem *Field
}

// Schema is either a flat ordered list of Fields, or (when CaseTag is
// true) a leading 1-byte tag selecting one of several field lists —
// the "switched by a leading 1-byte case tag when configured" clause.
type Schema struct {
	CaseTag bool
	Cases   map[byte][]Field // consulted when CaseTag
	Fields  []Field          // consulted when !CaseTag
}

// Value is one decoded field. Exactly one of Int/Str/Array is
// meaningful, selected by Kind.
type Value struct {
	Name  string
	Kind  FieldKind
	Int   int64
	Str   string
	Array []Value
}

// Decode parses buf against s, returning the ordered decoded fields
// for whichever case (or the flat list) applied.
func Decode(s *Schema, buf []byte) ([]Value, error) {
	fields := s.Fields
	off := 0
	if s.CaseTag {
		if len(buf) < 1 {
			return nil, fmt.Errorf("app: schema case tag missing")
		}
		tag := buf[0]
		off = 1
		var ok bool
		fields, ok = s.Cases[tag]
		if !ok {
			return nil, fmt.Errorf("app: unknown schema case tag %d", tag)
		}
	}
	out := make([]Value, 0, len(fields))
	for _, f := range fields {
		v, n, err := decodeField(f, buf[off:])
		if err != nil {
			return nil, fmt.Errorf("app: field %q: %w", f.Name, err)
		}
		off += n
		out = append(out, v)
	}
	return out, nil
}

func decodeField(f Field, buf []byte) (Value, int, error) {
	v := Value{Name: f.Name, Kind: f.Kind}
	switch f.Kind {
	case FieldInt8:
		if len(buf) < 1 {
			return v, 0, fmt.Errorf("short int8")
		}
		v.Int = int64(int8(buf[0]))
		return v, 1, nil
	case FieldInt16:
		if len(buf) < 2 {
			return v, 0, fmt.Errorf("short int16")
		}
		if f.NetworkOrder {
			v.Int = int64(int16(binary.BigEndian.Uint16(buf)))
		} else {
			v.Int = int64(int16(binary.LittleEndian.Uint16(buf)))
		}
		return v, 2, nil
	case FieldInt32:
		if len(buf) < 4 {
			return v, 0, fmt.Errorf("short int32")
		}
		if f.NetworkOrder {
			v.Int = int64(int32(binary.BigEndian.Uint32(buf)))
		} else {
			v.Int = int64(int32(binary.LittleEndian.Uint32(buf)))
		}
		return v, 4, nil
	case FieldInt64:
		if len(buf) < 8 {
			return v, 0, fmt.Errorf("short int64")
		}
		if f.NetworkOrder {
			v.Int = int64(binary.BigEndian.Uint64(buf))
		} else {
			v.Int = int64(binary.LittleEndian.Uint64(buf))
		}
		return v, 8, nil
	case FieldString:
		if len(buf) < 4 {
			return v, 0, fmt.Errorf("short string length prefix")
		}
		n := int(binary.BigEndian.Uint32(buf))
		if n < f.MinLen || (f.MaxLen > 0 && n > f.MaxLen) {
			return v, 0, fmt.Errorf("string length %d out of bounds [%d,%d]", n, f.MinLen, f.MaxLen)
		}
		if len(buf) < 4+n {
			return v, 0, fmt.Errorf("short string payload")
		}
		v.Str = string(buf[4 : 4+n])
		return v, 4 + n, nil
	case FieldArray:
		if f.Elem == nil {
			return v, 0, fmt.Errorf("array field missing element schema")
		}
		if len(buf) < 4 {
			return v, 0, fmt.Errorf("short array length prefix")
		}
		count := int(binary.BigEndian.Uint32(buf))
		if count < f.MinCount || (f.MaxCount > 0 && count > f.MaxCount) {
			return v, 0, fmt.Errorf("array count %d out of bounds [%d,%d]", count, f.MinCount, f.MaxCount)
		}
		off := 4
		elems := make([]Value, 0, count)
		for i := 0; i < count; i++ {
			ev, n, err := decodeField(*f.Elem, buf[off:])
			if err != nil {
				return v, 0, fmt.Errorf("element %d: %w", i, err)
			}
			off += n
			elems = append(elems, ev)
		}
		v.Array = elems
		return v, off, nil
	default:
		return v, 0, fmt.Errorf("unknown field kind %d", f.Kind)
	}
}
