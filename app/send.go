// send.go: app->worker outbound message construction
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package app

import (
	"fmt"

	"github.com/agilira/ringsocket/clientid"
	"github.com/agilira/ringsocket/rsconfig"
	"github.com/agilira/ringsocket/rserrors"
	"github.com/agilira/ringsocket/wiremsg"
	"github.com/agilira/ringsocket/wsframe"
)

// ensureScratch grows the app's lazily-allocated scratch write buffer
// (spec.md §6 "a scratch write buffer pointer, lazy-allocated, grown
// by the configured multiplier on demand") to at least n bytes.
func (a *App) ensureScratch(n int) {
	if cap(a.scratch) >= n {
		a.scratch = a.scratch[:n]
		return
	}
	newCap := int(float64(n) * a.multiplier)
	if newCap < n {
		newCap = n
	}
	a.scratch = make([]byte, n, newCap)
}

func (a *App) encodeFrame(op wsframe.Opcode, payload []byte) []byte {
	n := wsframe.EncodedLen(len(payload))
	a.ensureScratch(n)
	m := wsframe.Encode(a.scratch, op, payload)
	return a.scratch[:m]
}

// publish writes one outbound record into the ring linking this app to
// workerIndex and touches that worker's entry in the app's
// ProducerHub. The actual atomic publish + wake is deferred to the
// next Flush (spec.md §4.2 batching).
func (a *App) publish(workerIndex uint32, kind wiremsg.OutKind, recipients []uint32, frame []byte) error {
	link := a.linkFor(workerIndex)
	if link == nil {
		return fmt.Errorf("app: no link registered for worker %d", workerIndex)
	}
	n := wiremsg.EncodedOutboundLen(kind, len(recipients), len(frame))
	if a.policy == rsconfig.BackpressureDropOldest && a.maxRingSize > 0 {
		if link.pair.Outbound.Ring.Occupancy()+n > a.maxRingSize {
			return nil // drop: telemetry-style apps opt into this, spec.md §5 generalization (SPEC_FULL.md §C)
		}
	}
	dst := link.pair.Outbound.Ring.Reserve(n)
	wiremsg.EncodeOutbound(dst, kind, recipients, frame)
	link.pair.Outbound.Ring.Commit(n)
	if err := a.hub.Touch(workerIndex); err != nil {
		if ferr := a.hub.Flush(); ferr != nil {
			return ferr
		}
		return a.hub.Touch(workerIndex)
	}
	return nil
}

// ToSingle delivers payload to exactly one peer (spec.md §4.4 SINGLE).
func (a *App) ToSingle(cid clientid.ID, payload []byte, op wsframe.Opcode) error {
	frame := a.encodeFrame(op, payload)
	return a.publish(cid.Worker(), wiremsg.OutSingle, []uint32{cid.Slot()}, frame)
}

// ToArray delivers payload to an explicit set of peers, partitioning
// by worker itself (spec.md §4.4: "apps... do their own per-worker
// partitioning").
func (a *App) ToArray(cids []clientid.ID, payload []byte, op wsframe.Opcode) error {
	frame := a.encodeFrame(op, payload)
	for w, ids := range clientid.PartitionByWorker(cids) {
		if err := a.publish(w, wiremsg.OutArray, slotsOf(ids), frame); err != nil {
			return err
		}
	}
	return nil
}

// ToEvery broadcasts payload to every live WS peer on every worker.
func (a *App) ToEvery(payload []byte, op wsframe.Opcode) error {
	frame := a.encodeFrame(op, payload)
	for _, l := range a.links {
		if err := a.publish(l.workerIndex, wiremsg.OutEvery, nil, frame); err != nil {
			return err
		}
	}
	return nil
}

// ToEveryExceptSingle broadcasts to every live WS peer except cid.
func (a *App) ToEveryExceptSingle(cid clientid.ID, payload []byte, op wsframe.Opcode) error {
	frame := a.encodeFrame(op, payload)
	for _, l := range a.links {
		wi := l.workerIndex
		if wi == cid.Worker() {
			if err := a.publish(wi, wiremsg.OutEveryExceptSingle, []uint32{cid.Slot()}, frame); err != nil {
				return err
			}
			continue
		}
		if err := a.publish(wi, wiremsg.OutEvery, nil, frame); err != nil {
			return err
		}
	}
	return nil
}

// ToEveryExceptArray broadcasts to every live WS peer except cids.
func (a *App) ToEveryExceptArray(cids []clientid.ID, payload []byte, op wsframe.Opcode) error {
	frame := a.encodeFrame(op, payload)
	parts := clientid.PartitionByWorker(cids)
	for _, l := range a.links {
		wi := l.workerIndex
		ids, ok := parts[wi]
		if !ok {
			if err := a.publish(wi, wiremsg.OutEvery, nil, frame); err != nil {
				return err
			}
			continue
		}
		if err := a.publish(wi, wiremsg.OutEveryExceptArray, slotsOf(ids), frame); err != nil {
			return err
		}
	}
	return nil
}

// closePeer instructs cid's owning worker to begin shutdown on that one
// peer with code (spec.md §4.5's "close this peer with WebSocket close
// code C" callback outcome). Unlike publish, this is never dropped
// under the BackpressureDropOldest policy (SPEC_FULL.md §C applies that
// policy to best-effort payload sends, not to this control instruction)
// — the ring is grown to fit if necessary, same as any other Reserve.
func (a *App) closePeer(cid clientid.ID, code rserrors.CloseCode) error {
	workerIndex := cid.Worker()
	link := a.linkFor(workerIndex)
	if link == nil {
		return fmt.Errorf("app: no link registered for worker %d", workerIndex)
	}
	n := wiremsg.EncodedClosePeerLen()
	dst := link.pair.Outbound.Ring.Reserve(n)
	wiremsg.EncodeClosePeer(dst, cid.Slot(), uint16(code))
	link.pair.Outbound.Ring.Commit(n)
	if err := a.hub.Touch(workerIndex); err != nil {
		if ferr := a.hub.Flush(); ferr != nil {
			return ferr
		}
		return a.hub.Touch(workerIndex)
	}
	return nil
}

func slotsOf(ids []clientid.ID) []uint32 {
	out := make([]uint32, len(ids))
	for i, id := range ids {
		out[i] = id.Slot()
	}
	return out
}
