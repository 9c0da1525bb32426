// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package localslave emulates a Modbus device on top of an in-memory register model.
package localslave

import (
	"context"
	"encoding/binary"

	"github.com/ffutop/mbverify/internal/local-slave/model"
	"github.com/ffutop/mbverify/internal/local-slave/persistence"
	"github.com/ffutop/mbverify/modbus"
)

// WriteHook runs after a successful write to the holding registers.
type WriteHook func(m *model.DataModel, address, quantity uint16)

// Option configures a LocalSlave.
type Option func(*LocalSlave)

// WithStorage notifies s of every modification.
func WithStorage(s persistence.Storage) Option {
	return func(ls *LocalSlave) { ls.storage = s }
}

// WithFunctions restricts the accepted function codes. Others are answered
// with IllegalFunction.
func WithFunctions(codes ...byte) Option {
	return func(ls *LocalSlave) {
		ls.functions = make(map[byte]bool, len(codes))
		for _, c := range codes {
			ls.functions[c] = true
		}
	}
}

// WithAddressLimit makes register addresses at or above limit answer with
// IllegalDataAddress. Zero keeps the full address space.
func WithAddressLimit(limit int) Option {
	return func(ls *LocalSlave) { ls.limit = limit }
}

// WithWriteHook adds a hook run after holding register writes.
func WithWriteHook(h WriteHook) Option {
	return func(ls *LocalSlave) { ls.hooks = append(ls.hooks, h) }
}

// RegisterFunctions are the function codes of a register-only device.
var RegisterFunctions = []byte{
	modbus.FuncCodeReadHoldingRegisters,
	modbus.FuncCodeReadInputRegisters,
	modbus.FuncCodeWriteMultipleRegisters,
}

// LocalSlave implements the Modbus protocol logic on top of a DataModel.
type LocalSlave struct {
	model     *model.DataModel
	storage   persistence.Storage
	functions map[byte]bool
	limit     int
	hooks     []WriteHook
}

// NewLocalSlave creates a new LocalSlave.
func NewLocalSlave(m *model.DataModel, opts ...Option) *LocalSlave {
	s := &LocalSlave{model: m, storage: persistence.NewMemoryStorage()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model returns the register model served by s.
func (s *LocalSlave) Model() *model.DataModel {
	return s.model
}

// Handle is a transport.RequestHandler answering every slave id.
func (s *LocalSlave) Handle(_ context.Context, _ byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	return s.Process(req)
}

// Process executes the Modbus Function Code against the memory model.
func (s *LocalSlave) Process(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if s.functions != nil && !s.functions[req.FunctionCode] {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction), nil
	}
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return s.readBits(req, modbus.TableCoils)
	case modbus.FuncCodeReadDiscreteInputs:
		return s.readBits(req, modbus.TableDiscreteInputs)
	case modbus.FuncCodeReadHoldingRegisters:
		return s.readRegisters(req, modbus.TableHoldingRegisters)
	case modbus.FuncCodeReadInputRegisters:
		return s.readRegisters(req, modbus.TableInputRegisters)
	case modbus.FuncCodeWriteSingleCoil:
		return s.writeSingleCoil(req)
	case modbus.FuncCodeWriteSingleRegister:
		return s.writeSingleRegister(req)
	case modbus.FuncCodeWriteMultipleCoils:
		return s.writeMultipleCoils(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return s.writeMultipleRegisters(req)
	default:
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction), nil
	}
}

func (s *LocalSlave) inRange(address, quantity uint16) bool {
	return s.limit == 0 || int(address)+int(quantity) <= s.limit
}

func (s *LocalSlave) readBits(req modbus.ProtocolDataUnit, table modbus.Table) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > modbus.ReadBitsQuantityMax {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}
	data, err := s.model.ReadBits(table, address, quantity)
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress), nil
	}
	return countedResponse(req.FunctionCode, data), nil
}

func (s *LocalSlave) readRegisters(req modbus.ProtocolDataUnit, table modbus.Table) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > modbus.ReadRegistersQuantityMax {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}
	if !s.inRange(address, quantity) {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress), nil
	}
	data, err := s.model.ReadRegisters(table, address, quantity)
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress), nil
	}
	return countedResponse(req.FunctionCode, data), nil
}

func (s *LocalSlave) writeSingleCoil(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	if err := s.model.WriteCoil(address, value); err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}
	s.storage.OnWrite(modbus.TableCoils, address, 1)
	return req, nil
}

func (s *LocalSlave) writeSingleRegister(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	if !s.inRange(address, 1) {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress), nil
	}
	if err := s.model.WriteRegisterBytes(modbus.TableHoldingRegisters, address, 1, req.Data[2:4]); err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress), nil
	}
	s.written(address, 1)
	return req, nil
}

func (s *LocalSlave) writeMultipleCoils(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	address, quantity, payload, ok := multipleWrite(req, modbus.WriteBitsQuantityMax)
	if !ok {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}
	if err := s.model.WriteCoils(address, quantity, payload); err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress), nil
	}
	s.storage.OnWrite(modbus.TableCoils, address, quantity)
	return echoWrite(req.FunctionCode, address, quantity), nil
}

func (s *LocalSlave) writeMultipleRegisters(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	address, quantity, payload, ok := multipleWrite(req, modbus.WriteRegistersQuantityMax)
	if !ok || len(payload) != int(quantity)*2 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue), nil
	}
	if !s.inRange(address, quantity) {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress), nil
	}
	if err := s.model.WriteRegisterBytes(modbus.TableHoldingRegisters, address, quantity, payload); err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress), nil
	}
	s.written(address, quantity)
	return echoWrite(req.FunctionCode, address, quantity), nil
}

func (s *LocalSlave) written(address, quantity uint16) {
	for _, h := range s.hooks {
		h(s.model, address, quantity)
	}
	s.storage.OnWrite(modbus.TableHoldingRegisters, address, quantity)
}

// multipleWrite splits a 0x0F/0x10 request into address, quantity and payload.
func multipleWrite(req modbus.ProtocolDataUnit, max uint16) (address, quantity uint16, payload []byte, ok bool) {
	if len(req.Data) < 6 {
		return 0, 0, nil, false
	}
	address = binary.BigEndian.Uint16(req.Data[0:2])
	quantity = binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > max {
		return 0, 0, nil, false
	}
	if len(req.Data)-5 != int(byteCount) {
		return 0, 0, nil, false
	}
	return address, quantity, req.Data[5:], true
}

func countedResponse(funcCode byte, data []byte) modbus.ProtocolDataUnit {
	respData := make([]byte, 1+len(data))
	respData[0] = byte(len(data))
	copy(respData[1:], data)
	return modbus.ProtocolDataUnit{FunctionCode: funcCode, Data: respData}
}

func echoWrite(funcCode byte, address, quantity uint16) modbus.ProtocolDataUnit {
	respData := make([]byte, 4)
	binary.BigEndian.PutUint16(respData[0:2], address)
	binary.BigEndian.PutUint16(respData[2:4], quantity)
	return modbus.ProtocolDataUnit{FunctionCode: funcCode, Data: respData}
}

func exception(funcCode byte, code byte) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{
		FunctionCode: funcCode | 0x80,
		Data:         []byte{code},
	}
}
