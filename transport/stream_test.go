// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ffutop/mbverify/modbus"
	rtupacket "github.com/ffutop/mbverify/modbus/rtu"
)

type pipe struct {
	in  io.Reader
	out bytes.Buffer
}

func (p *pipe) Read(b []byte) (int, error)  { return p.in.Read(b) }
func (p *pipe) Write(b []byte) (int, error) { return p.out.Write(b) }

func encodeFrame(t *testing.T, slave byte, pdu modbus.ProtocolDataUnit) []byte {
	t.Helper()
	raw, err := (&rtupacket.ApplicationDataUnit{SlaveID: slave, Pdu: pdu}).Encode()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestServeRTUFrame(t *testing.T) {
	req := encodeFrame(t, 3, modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x00, 0x00, 0x01}})
	rw := &pipe{in: bytes.NewReader(req)}

	err := ServeRTUFrame(context.Background(), rw, func(_ context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		if slaveID != 3 {
			t.Errorf("handler got slave %d", slaveID)
		}
		return modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x02, 0x12, 0x34}}, nil
	})
	if err != nil {
		t.Fatalf("ServeRTUFrame failed: %v", err)
	}

	resp, err := rtupacket.ReadResponse(3, 0x03, &rw.out, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	adu, err := rtupacket.Decode(resp)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(adu.Pdu.Data, []byte{0x02, 0x12, 0x34}) {
		t.Errorf("unexpected response %X", adu.Pdu.Data)
	}
}

func TestServeRTUFrame_HandlerError(t *testing.T) {
	req := encodeFrame(t, 1, modbus.ProtocolDataUnit{FunctionCode: 0x04, Data: []byte{0x00, 0x00, 0x00, 0x01}})
	rw := &pipe{in: bytes.NewReader(req)}

	err := ServeRTUFrame(context.Background(), rw, func(context.Context, byte, modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		return modbus.ProtocolDataUnit{}, &modbus.ExceptionError{FunctionCode: 0x84, ExceptionCode: modbus.ExceptionCodeIllegalDataValue}
	})
	if err != nil {
		t.Fatalf("ServeRTUFrame failed: %v", err)
	}
	adu, err := rtupacket.Decode(rw.out.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if adu.Pdu.FunctionCode != 0x84 || adu.Pdu.Data[0] != modbus.ExceptionCodeIllegalDataValue {
		t.Errorf("unexpected exception %+v", adu.Pdu)
	}
}

func TestServeRTUFrame_BadCRC(t *testing.T) {
	req := encodeFrame(t, 1, modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x00, 0x00, 0x01}})
	req[len(req)-1] ^= 0xFF
	rw := &pipe{in: bytes.NewReader(req)}

	err := ServeRTUFrame(context.Background(), rw, func(context.Context, byte, modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		t.Error("handler called for a corrupt frame")
		return modbus.ProtocolDataUnit{}, nil
	})
	if !errors.Is(err, ErrBadFrame) {
		t.Fatalf("expected ErrBadFrame, got %v", err)
	}
	if rw.out.Len() != 0 {
		t.Error("response written for a corrupt frame")
	}
}

func TestExceptionFor(t *testing.T) {
	if pdu := ExceptionFor(0x03, context.DeadlineExceeded); pdu.Data[0] != modbus.ExceptionCodeGatewayTargetDeviceFailedToRespond {
		t.Errorf("deadline mapped to %d", pdu.Data[0])
	}
	if pdu := ExceptionFor(0x03, errors.New("x")); pdu.FunctionCode != 0x83 || pdu.Data[0] != modbus.ExceptionCodeServerDeviceFailure {
		t.Errorf("generic error mapped to %+v", pdu)
	}
}
