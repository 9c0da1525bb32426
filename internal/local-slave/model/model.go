// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package model holds the register image of the simulated device.
package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ffutop/mbverify/modbus"
)

const (
	MaxAddress = 65535
)

var (
	ErrOutOfRange       = errors.New("address range out of bounds")
	ErrUnsupportedTable = errors.New("unsupported table")
)

// DataModel holds the modbus data in memory.
// It uses a simple flat memory model covering the full 16-bit address space.
type DataModel struct {
	mu sync.RWMutex

	// 0x Coils (Read/Write). Stored as 1 (ON) or 0 (OFF).
	Coils []byte
	// 1x Discrete Inputs (Read Only). Stored as 1 (ON) or 0 (OFF).
	DiscreteInputs []byte
	// 4x Holding Registers (Read/Write).
	HoldingRegisters []uint16
	// 3x Input Registers (Read Only over the wire).
	InputRegisters []uint16
}

// NewDataModel creates a new memory model initialized to zero.
func NewDataModel() *DataModel {
	return &DataModel{
		Coils:            make([]byte, MaxAddress+1),
		DiscreteInputs:   make([]byte, MaxAddress+1),
		HoldingRegisters: make([]uint16, MaxAddress+1),
		InputRegisters:   make([]uint16, MaxAddress+1),
	}
}

func (m *DataModel) bits(table modbus.Table) ([]byte, error) {
	switch table {
	case modbus.TableCoils:
		return m.Coils, nil
	case modbus.TableDiscreteInputs:
		return m.DiscreteInputs, nil
	default:
		return nil, fmt.Errorf("%w: %v is not a bit table", ErrUnsupportedTable, table)
	}
}

func (m *DataModel) registers(table modbus.Table) ([]uint16, error) {
	switch table {
	case modbus.TableHoldingRegisters:
		return m.HoldingRegisters, nil
	case modbus.TableInputRegisters:
		return m.InputRegisters, nil
	default:
		return nil, fmt.Errorf("%w: %v is not a register table", ErrUnsupportedTable, table)
	}
}

// ReadBits reads a range of coils or discrete inputs packed LSB first (Modbus format).
func (m *DataModel) ReadBits(table modbus.Table, address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src, err := m.bits(table)
	if err != nil {
		return nil, err
	}
	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}

	result := make([]byte, (int(quantity)+7)/8)
	for i := 0; i < int(quantity); i++ {
		if src[int(address)+i] != 0 {
			result[i/8] |= 1 << uint(i%8)
		}
	}
	return result, nil
}

// WriteCoil writes a single coil. value should be 0xFF00 (ON) or 0x0000 (OFF).
func (m *DataModel) WriteCoil(address uint16, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch value {
	case 0xFF00:
		m.Coils[address] = 1
	case 0x0000:
		m.Coils[address] = 0
	default:
		return fmt.Errorf("invalid coil value 0x%04X", value)
	}
	return nil
}

// WriteCoils writes a range of coils from packed bytes.
func (m *DataModel) WriteCoils(address, quantity uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := validateRange(address, quantity); err != nil {
		return err
	}
	if len(data) < (int(quantity)+7)/8 {
		return fmt.Errorf("insufficient data length")
	}

	for i := 0; i < int(quantity); i++ {
		m.Coils[int(address)+i] = (data[i/8] >> uint(i%8)) & 1
	}
	return nil
}

// ReadRegisters reads a range of holding or input registers as BigEndian bytes.
func (m *DataModel) ReadRegisters(table modbus.Table, address, quantity uint16) ([]byte, error) {
	words, err := m.Registers(table, address, quantity)
	if err != nil {
		return nil, err
	}
	result := make([]byte, len(words)*2)
	for i, v := range words {
		binary.BigEndian.PutUint16(result[i*2:], v)
	}
	return result, nil
}

// Registers returns a copy of a range of holding or input registers.
func (m *DataModel) Registers(table modbus.Table, address, quantity uint16) ([]uint16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src, err := m.registers(table)
	if err != nil {
		return nil, err
	}
	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	out := make([]uint16, quantity)
	copy(out, src[address:int(address)+int(quantity)])
	return out, nil
}

// WriteRegisters stores values starting at address. Input registers are
// writable here so the device image can be seeded.
func (m *DataModel) WriteRegisters(table modbus.Table, address uint16, values []uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dst, err := m.registers(table)
	if err != nil {
		return err
	}
	if len(values) > MaxAddress+1 {
		return ErrOutOfRange
	}
	if err := validateRange(address, uint16(len(values))); err != nil {
		return err
	}
	copy(dst[address:], values)
	return nil
}

// WriteRegisterBytes stores BigEndian encoded register values starting at address.
func (m *DataModel) WriteRegisterBytes(table modbus.Table, address, quantity uint16, data []byte) error {
	if len(data) < int(quantity)*2 {
		return fmt.Errorf("insufficient data length")
	}
	values := make([]uint16, quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return m.WriteRegisters(table, address, values)
}

func validateRange(address, quantity uint16) error {
	if quantity == 0 {
		return fmt.Errorf("quantity must be greater than 0")
	}
	// address is 0-based.
	if int(address)+int(quantity) > MaxAddress+1 {
		return ErrOutOfRange
	}
	return nil
}
