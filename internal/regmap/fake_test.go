// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package regmap

import (
	"context"
	"errors"
	"fmt"

	"github.com/ffutop/mbverify/modbus"
	"github.com/ffutop/mbverify/transport"
)

var errLink = errors.New("link down")

// fakeTransport serves two register tables and records every request.
type fakeTransport struct {
	input   map[uint16]uint16
	holding map[uint16]uint16

	reads  []transport.ReadRequest
	writes []transport.WriteRequest

	// failRead and failWrite decide from the zero based call index.
	failRead  func(call int) bool
	failWrite func(call int) bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{input: map[uint16]uint16{}, holding: map[uint16]uint16{}}
}

func (f *fakeTransport) Read(_ context.Context, req transport.ReadRequest) ([]uint16, error) {
	call := len(f.reads)
	f.reads = append(f.reads, req)
	if f.failRead != nil && f.failRead(call) {
		return nil, errLink
	}
	table := f.input
	if req.Table == modbus.TableHoldingRegisters {
		table = f.holding
	}
	words := make([]uint16, req.Count)
	for i := range words {
		words[i] = table[req.Address+uint16(i)]
	}
	return words, nil
}

func (f *fakeTransport) Write(_ context.Context, req transport.WriteRequest) error {
	call := len(f.writes)
	f.writes = append(f.writes, req)
	if f.failWrite != nil && f.failWrite(call) {
		return errLink
	}
	for i, v := range req.Values {
		f.holding[req.Address+uint16(i)] = v
	}
	return nil
}

func always(int) bool { return true }

func testConfig() Config {
	return Config{Slave: 1, Attempts: 2}
}

func entry(name, typ string, format string, addresses ...int) Entry {
	return Entry{Name: name, Type: typ, Format: format, Address: addresses}
}

func mustLoad(tr Transport, entries ...Entry) *Map {
	m, err := Load(tr, testConfig(), entries)
	if err != nil {
		panic(fmt.Sprintf("Load failed: %v", err))
	}
	return m
}
