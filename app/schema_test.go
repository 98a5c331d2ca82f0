// schema_test.go: inbound payload schema decoding
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package app

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFlatSchema(t *testing.T) {
	schema := &Schema{
		Fields: []Field{
			{Name: "id", Kind: FieldInt32, NetworkOrder: true},
			{Name: "name", Kind: FieldString, MaxLen: 32},
		},
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, 7)
	nameBuf := make([]byte, 4+len("bob"))
	binary.BigEndian.PutUint32(nameBuf, 3)
	copy(nameBuf[4:], "bob")
	buf = append(buf, nameBuf...)

	vals, err := Decode(schema, buf)
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.Equal(t, int64(7), vals[0].Int)
	assert.Equal(t, "bob", vals[1].Str)
}

func TestDecodeCaseTagSelectsFieldList(t *testing.T) {
	schema := &Schema{
		CaseTag: true,
		Cases: map[byte][]Field{
			0: {{Name: "x", Kind: FieldInt8}},
			1: {{Name: "y", Kind: FieldInt16}},
		},
	}
	vals, err := Decode(schema, []byte{1, 5, 0})
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.Equal(t, "y", vals[0].Name)
	assert.Equal(t, int64(5), vals[0].Int)
}

func TestDecodeCaseTagUnknownTag(t *testing.T) {
	schema := &Schema{CaseTag: true, Cases: map[byte][]Field{0: {}}}
	_, err := Decode(schema, []byte{9})
	assert.Error(t, err)
}

func TestDecodeCaseTagMissingByte(t *testing.T) {
	schema := &Schema{CaseTag: true, Cases: map[byte][]Field{}}
	_, err := Decode(schema, nil)
	assert.Error(t, err)
}

func TestDecodeIntegerByteOrders(t *testing.T) {
	f16 := Field{Kind: FieldInt16, NetworkOrder: true}
	v, n, err := decodeField(f16, []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(0x0102), v.Int)

	f16le := Field{Kind: FieldInt16}
	v, n, err = decodeField(f16le, []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, int64(0x0201), v.Int)

	f64 := Field{Kind: FieldInt64, NetworkOrder: true}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, 42)
	v, n, err = decodeField(f64, buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, int64(42), v.Int)
}

func TestDecodeIntegerShortBuffers(t *testing.T) {
	cases := []Field{
		{Kind: FieldInt8}, {Kind: FieldInt16}, {Kind: FieldInt32}, {Kind: FieldInt64},
	}
	for _, f := range cases {
		_, _, err := decodeField(f, nil)
		assert.Error(t, err, f.Kind)
	}
}

func TestDecodeStringBounds(t *testing.T) {
	f := Field{Kind: FieldString, MinLen: 2, MaxLen: 4}

	buf := make([]byte, 4+1)
	binary.BigEndian.PutUint32(buf, 1)
	buf[4] = 'a'
	_, _, err := decodeField(f, buf)
	assert.Error(t, err, "below MinLen")

	buf = make([]byte, 4+5)
	binary.BigEndian.PutUint32(buf, 5)
	_, _, err = decodeField(f, buf)
	assert.Error(t, err, "above MaxLen")

	buf = make([]byte, 4+3)
	binary.BigEndian.PutUint32(buf, 3)
	copy(buf[4:], "abc")
	v, n, err := decodeField(f, buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", v.Str)
	assert.Equal(t, 7, n)
}

func TestDecodeStringShortPayload(t *testing.T) {
	f := Field{Kind: FieldString}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, 10)
	_, _, err := decodeField(f, buf)
	assert.Error(t, err)
}

func TestDecodeArrayOfInts(t *testing.T) {
	f := Field{
		Kind:     FieldArray,
		MinCount: 1,
		MaxCount: 5,
		Elem:     &Field{Kind: FieldInt8},
	}
	buf := make([]byte, 4+3)
	binary.BigEndian.PutUint32(buf, 3)
	buf[4], buf[5], buf[6] = 1, 2, 3

	v, n, err := decodeField(f, buf)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	require.Len(t, v.Array, 3)
	assert.Equal(t, int64(2), v.Array[1].Int)
}

func TestDecodeArrayBoundsAndMissingElem(t *testing.T) {
	f := Field{Kind: FieldArray, MaxCount: 2, Elem: &Field{Kind: FieldInt8}}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, 3)
	_, _, err := decodeField(f, buf)
	assert.Error(t, err, "count above MaxCount")

	noElem := Field{Kind: FieldArray}
	_, _, err = decodeField(noElem, buf)
	assert.Error(t, err, "missing Elem")
}

func TestDecodeUnknownFieldKind(t *testing.T) {
	_, _, err := decodeField(Field{Kind: FieldKind(99)}, nil)
	assert.Error(t, err)
}
