// inbound.go: worker->app inbound message encode/decode
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package wiremsg

import (
	"encoding/binary"
	"fmt"
)

// InKind tags an inbound record's lifecycle event (spec.md §3 "Inbound
// Message", §4.5 callback surface: open/read/close).
type InKind byte

const (
	InOpen InKind = iota
	InRead
	InClose
)

const inboundHeaderLen = 1 + 4 // kind + peer slot index

// EncodedInboundLen returns the wire length of an inbound record for
// kind carrying payloadLen bytes (InOpen and InClose ignore
// payloadLen: InOpen carries nothing, InClose carries a 2-byte close
// code).
func EncodedInboundLen(kind InKind, payloadLen int) int {
	switch kind {
	case InOpen:
		return inboundHeaderLen
	case InClose:
		return inboundHeaderLen + 2
	default: // InRead
		return inboundHeaderLen + 4 + payloadLen
	}
}

// EncodeInbound writes one inbound record into dst (sized via
// EncodedInboundLen) and returns the bytes written. closeCode is only
// consulted for InClose; payload is only consulted for InRead.
func EncodeInbound(dst []byte, kind InKind, peerIndex uint32, closeCode uint16, payload []byte) int {
	dst[0] = byte(kind)
	binary.BigEndian.PutUint32(dst[1:], peerIndex)
	off := inboundHeaderLen
	switch kind {
	case InClose:
		binary.BigEndian.PutUint16(dst[off:], closeCode)
		off += 2
	case InRead:
		binary.BigEndian.PutUint32(dst[off:], uint32(len(payload)))
		off += 4
		off += copy(dst[off:], payload)
	}
	return off
}

// ErrShortInbound signals buf does not yet hold a complete record.
var ErrShortInbound = fmt.Errorf("wiremsg: short inbound record")

// Inbound is a parsed worker->app record.
type Inbound struct {
	Kind      InKind
	PeerIndex uint32
	CloseCode uint16 // valid when Kind == InClose
	Payload   []byte // aliases buf, valid when Kind == InRead; caller must copy via the app schema decoder before buf is reused
	Len       int    // total bytes consumed from buf
}

// DecodeInbound parses one record from the front of buf.
func DecodeInbound(buf []byte) (Inbound, error) {
	if len(buf) < inboundHeaderLen {
		return Inbound{}, ErrShortInbound
	}
	var in Inbound
	in.Kind = InKind(buf[0])
	in.PeerIndex = binary.BigEndian.Uint32(buf[1:])
	off := inboundHeaderLen

	switch in.Kind {
	case InOpen:
		in.Len = off
	case InClose:
		if len(buf) < off+2 {
			return Inbound{}, ErrShortInbound
		}
		in.CloseCode = binary.BigEndian.Uint16(buf[off:])
		off += 2
		in.Len = off
	case InRead:
		if len(buf) < off+4 {
			return Inbound{}, ErrShortInbound
		}
		n := int(binary.BigEndian.Uint32(buf[off:]))
		off += 4
		if len(buf) < off+n {
			return Inbound{}, ErrShortInbound
		}
		in.Payload = buf[off : off+n]
		off += n
		in.Len = off
	default:
		return Inbound{}, fmt.Errorf("wiremsg: invalid inbound kind %d", in.Kind)
	}
	return in, nil
}
