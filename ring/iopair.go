// iopair.go: the two rings linking one worker thread to one app thread
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package ring

import "github.com/agilira/ringsocket/wake"

// Direction is one half of an IOPair: a Ring and the Signal its sole
// consumer sleeps on. Publishing and wake-coalescing across every
// Direction a producer thread owns is the job of a ProducerHub, which
// Registers each Direction under the consumer index it corresponds to
// (see updatequeue.go) — a Direction itself holds no queue.
type Direction struct {
	Ring   *Ring
	Signal *wake.Signal
}

// IOPair is the pair of SPSC rings bound to one (worker, app) link
// (spec.md §3 "I/O Pair"): Outbound carries app->worker fan-out
// instructions (the worker is the consumer), Inbound carries
// worker->app events (the app is the consumer).
type IOPair struct {
	Outbound Direction // producer: app.  consumer: worker.
	Inbound  Direction // producer: worker.  consumer: app.
}

// NewIOPair allocates both rings and their wake signals. The caller
// registers Outbound and Inbound into the appropriate producer's
// ProducerHub (the app's hub for Outbound, the worker's hub for
// Inbound) under this pair's consumer index.
func NewIOPair(outboundSize, inboundSize int, multiplier float64) (*IOPair, error) {
	workerSignal, err := wake.New()
	if err != nil {
		return nil, err
	}
	appSignal, err := wake.New()
	if err != nil {
		_ = workerSignal.Close()
		return nil, err
	}
	return &IOPair{
		Outbound: Direction{
			Ring:   New(outboundSize, multiplier),
			Signal: workerSignal,
		},
		Inbound: Direction{
			Ring:   New(inboundSize, multiplier),
			Signal: appSignal,
		},
	}, nil
}

// Close releases both directions' wake descriptors.
func (p *IOPair) Close() error {
	err1 := p.Outbound.Signal.Close()
	err2 := p.Inbound.Signal.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
