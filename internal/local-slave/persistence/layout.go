// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"unsafe"

	"github.com/ffutop/mbverify/internal/local-slave/model"
	"github.com/ffutop/mbverify/modbus"
)

// Image layout shared by the file and mmap backends:
//
//	Coils:            65536 bytes     (offset 0)
//	DiscreteInputs:   65536 bytes     (offset 65536)
//	HoldingRegisters: 65536 * 2 bytes (offset 131072)
//	InputRegisters:   65536 * 2 bytes (offset 262144)
const (
	sizeCoils    = model.MaxAddress + 1
	sizeDiscrete = model.MaxAddress + 1
	sizeHolding  = (model.MaxAddress + 1) * 2
	sizeInput    = (model.MaxAddress + 1) * 2
	totalSize    = sizeCoils + sizeDiscrete + sizeHolding + sizeInput

	offsetCoils    = 0
	offsetDiscrete = offsetCoils + sizeCoils
	offsetHolding  = offsetDiscrete + sizeDiscrete
	offsetInput    = offsetHolding + sizeHolding
)

// mapBytesToModel constructs a DataModel backed by the provided data slice.
// Register tables are cast in place and therefore use host byte order.
func mapBytesToModel(data []byte) *model.DataModel {
	m := &model.DataModel{}

	m.Coils = data[offsetCoils : offsetCoils+sizeCoils]
	m.DiscreteInputs = data[offsetDiscrete : offsetDiscrete+sizeDiscrete]

	holdingBytes := data[offsetHolding : offsetHolding+sizeHolding]
	m.HoldingRegisters = unsafe.Slice((*uint16)(unsafe.Pointer(&holdingBytes[0])), sizeHolding/2)

	inputBytes := data[offsetInput : offsetInput+sizeInput]
	m.InputRegisters = unsafe.Slice((*uint16)(unsafe.Pointer(&inputBytes[0])), sizeInput/2)

	return m
}

// span returns the byte range of the image covering a table range.
func span(table modbus.Table, address, quantity uint16) (from, to int) {
	switch table {
	case modbus.TableCoils:
		from = offsetCoils + int(address)
		to = from + int(quantity)
	case modbus.TableDiscreteInputs:
		from = offsetDiscrete + int(address)
		to = from + int(quantity)
	case modbus.TableHoldingRegisters:
		from = offsetHolding + int(address)*2
		to = from + int(quantity)*2
	default:
		from = offsetInput + int(address)*2
		to = from + int(quantity)*2
	}
	if to > totalSize {
		to = totalSize
	}
	return from, to
}
