// frame_test.go: server frame encoding and client frame header parsing
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package wsframe

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeShortPayload(t *testing.T) {
	payload := []byte("hi")
	dst := make([]byte, EncodedLen(len(payload)))
	n := Encode(dst, OpText, payload)
	assert.Equal(t, len(dst), n)
	assert.Equal(t, byte(finBit|byte(OpText)), dst[0])
	assert.Equal(t, byte(len(payload)), dst[1])
	assert.True(t, bytes.Equal(payload, dst[2:]))
}

func TestEncodeMediumPayloadUses16BitLength(t *testing.T) {
	payload := make([]byte, 200)
	dst := make([]byte, EncodedLen(len(payload)))
	n := Encode(dst, OpBinary, payload)
	assert.Equal(t, len(dst), n)
	assert.Equal(t, byte(len16Marker), dst[1])

	ln, err := ServerFrameLen(dst[:4])
	require.NoError(t, err)
	assert.Equal(t, len(dst), ln)
}

func TestServerFrameLenShortHeader(t *testing.T) {
	_, err := ServerFrameLen([]byte{0x81})
	assert.ErrorIs(t, err, ErrShortHeader)

	dst := make([]byte, EncodedLen(200))
	Encode(dst, OpBinary, make([]byte, 200))
	_, err = ServerFrameLen(dst[:2])
	assert.ErrorIs(t, err, ErrShortHeader)
}

func maskedClientFrame(payload []byte, key [4]byte) []byte {
	buf := make([]byte, 2+4+len(payload))
	buf[0] = finBit | byte(OpBinary)
	buf[1] = maskedBit | byte(len(payload))
	copy(buf[2:6], key[:])
	masked := append([]byte(nil), payload...)
	Unmask(masked, key, 0)
	copy(buf[6:], masked)
	return buf
}

func TestParseHeaderRoundTrip(t *testing.T) {
	key := [4]byte{1, 2, 3, 4}
	payload := []byte("hello world")
	buf := maskedClientFrame(payload, key)

	h, err := ParseHeader(buf)
	require.NoError(t, err)
	assert.True(t, h.FIN)
	assert.Equal(t, OpBinary, h.Opcode)
	assert.True(t, h.Masked)
	assert.Equal(t, key, h.MaskKey)
	assert.Equal(t, uint64(len(payload)), h.PayloadLen)
	assert.Equal(t, 6, h.HeaderLen)

	got := append([]byte(nil), buf[h.HeaderLen:]...)
	Unmask(got, h.MaskKey, 0)
	assert.Equal(t, payload, got)
}

func TestParseHeaderRejectsUnmasked(t *testing.T) {
	buf := []byte{finBit | byte(OpText), 5, 'h', 'e', 'l', 'l', 'o'}
	_, err := ParseHeader(buf)
	assert.Error(t, err)
}

func TestParseHeaderShortBuffer(t *testing.T) {
	_, err := ParseHeader([]byte{0x81})
	assert.ErrorIs(t, err, ErrShortHeader)
}

func TestParseHeaderRejectsFragmentedControlFrame(t *testing.T) {
	buf := []byte{byte(OpPing), maskedBit | 0, 0, 0, 0, 0}
	_, err := ParseHeader(buf)
	assert.Error(t, err)
}

func TestUnmaskIsInvolution(t *testing.T) {
	key := [4]byte{9, 8, 7, 6}
	orig := []byte("round trip payload")
	buf := append([]byte(nil), orig...)
	Unmask(buf, key, 0)
	assert.NotEqual(t, orig, buf)
	Unmask(buf, key, 0)
	assert.Equal(t, orig, buf)
}
