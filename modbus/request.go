// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"fmt"
)

// Request:
//
//	Function code         : 1 byte (0x03 or 0x04)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
func ReadRegistersRequest(functionCode byte, address, quantity uint16) (ProtocolDataUnit, error) {
	if functionCode != FuncCodeReadHoldingRegisters && functionCode != FuncCodeReadInputRegisters {
		return ProtocolDataUnit{}, fmt.Errorf("modbus: function code '%v' is not a register read", functionCode)
	}
	if quantity < 1 || quantity > ReadRegistersQuantityMax {
		return ProtocolDataUnit{}, fmt.Errorf("modbus: quantity '%v' must be between '%v' and '%v'",
			quantity, 1, ReadRegistersQuantityMax)
	}
	return ProtocolDataUnit{
		FunctionCode: functionCode,
		Data:         uint16Bytes(address, quantity),
	}, nil
}

// Request:
//
//	Function code         : 1 byte (0x10)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
//	Byte count            : 1 byte
//	Registers value       : N* bytes
func WriteMultipleRegistersRequest(address uint16, values []uint16) (ProtocolDataUnit, error) {
	quantity := len(values)
	if quantity < 1 || quantity > WriteRegistersQuantityMax {
		return ProtocolDataUnit{}, fmt.Errorf("modbus: quantity '%v' must be between '%v' and '%v'",
			quantity, 1, WriteRegistersQuantityMax)
	}
	data := make([]byte, 5+2*quantity)
	binary.BigEndian.PutUint16(data[0:], address)
	binary.BigEndian.PutUint16(data[2:], uint16(quantity))
	data[4] = byte(2 * quantity)
	for i, v := range values {
		binary.BigEndian.PutUint16(data[5+2*i:], v)
	}
	return ProtocolDataUnit{
		FunctionCode: FuncCodeWriteMultipleRegisters,
		Data:         data,
	}, nil
}

// RawRequest builds a PDU whose data is the big-endian encoding of the given
// words. It performs no validation and is meant for protocol conformance checks.
func RawRequest(functionCode byte, words ...uint16) ProtocolDataUnit {
	return ProtocolDataUnit{
		FunctionCode: functionCode,
		Data:         uint16Bytes(words...),
	}
}

// CheckResponse returns an ExceptionError for exception responses and an
// error when the response does not belong to the request function.
func CheckResponse(request, response ProtocolDataUnit) error {
	if response.FunctionCode == request.FunctionCode|0x80 {
		if len(response.Data) < 1 {
			return fmt.Errorf("modbus: exception response for function '%v' carries no code", request.FunctionCode)
		}
		return &ExceptionError{FunctionCode: response.FunctionCode, ExceptionCode: response.Data[0]}
	}
	if response.FunctionCode != request.FunctionCode {
		return fmt.Errorf("modbus: response function '%v' does not match request '%v'",
			response.FunctionCode, request.FunctionCode)
	}
	return nil
}

// Response:
//
//	Function code         : 1 byte (0x03 or 0x04)
//	Byte count            : 1 byte
//	Register value        : Nx2 bytes
func ParseReadRegistersResponse(request, response ProtocolDataUnit) ([]uint16, error) {
	if err := CheckResponse(request, response); err != nil {
		return nil, err
	}
	quantity := binary.BigEndian.Uint16(request.Data[2:])
	switch {
	case len(response.Data) < 1:
		return nil, fmt.Errorf("modbus: response data is empty")
	case len(response.Data)-1 != int(response.Data[0]):
		return nil, fmt.Errorf("modbus: response byte size '%v' does not match count '%v'",
			len(response.Data)-1, int(response.Data[0]))
	case int(response.Data[0]) != int(quantity)*2:
		return nil, fmt.Errorf("modbus: response byte size '%v' does not match quantity to bytes '%v'",
			response.Data[0], quantity*2)
	}
	regs := make([]uint16, quantity)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(response.Data[1+2*i:])
	}
	return regs, nil
}

// Response:
//
//	Function code         : 1 byte (0x10)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
func ParseWriteMultipleRegistersResponse(request, response ProtocolDataUnit) error {
	if err := CheckResponse(request, response); err != nil {
		return err
	}
	if len(response.Data) != 4 {
		return fmt.Errorf("modbus: response data size '%v' does not match expected '%v'", len(response.Data), 4)
	}
	if address := binary.BigEndian.Uint16(response.Data); address != binary.BigEndian.Uint16(request.Data) {
		return fmt.Errorf("modbus: response address '%v' does not match request '%v'",
			address, binary.BigEndian.Uint16(request.Data))
	}
	if quantity := binary.BigEndian.Uint16(response.Data[2:]); quantity != binary.BigEndian.Uint16(request.Data[2:]) {
		return fmt.Errorf("modbus: response quantity '%v' does not match request '%v'",
			quantity, binary.BigEndian.Uint16(request.Data[2:]))
	}
	return nil
}

func uint16Bytes(values ...uint16) []byte {
	data := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(data[2*i:], v)
	}
	return data
}
