// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package tcp

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ffutop/mbverify/modbus"
)

func startServer(t *testing.T, handler func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)) (string, context.CancelFunc) {
	t.Helper()
	s := NewServer("127.0.0.1:0")
	addr, err := s.Listen()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go s.Start(ctx, handler)
	return addr.String(), cancel
}

func TestServer_Start_And_Handle(t *testing.T) {
	addr, cancel := startServer(t, func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		if slaveID != 1 {
			t.Errorf("Handler expected slaveID 1, got %d", slaveID)
		}
		switch pdu.FunctionCode {
		case 0x03:
			return modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x02, 0xAA, 0xBB}}, nil
		case 0x10:
			return modbus.ProtocolDataUnit{FunctionCode: 0x10, Data: pdu.Data[:4]}, nil
		}
		return modbus.ProtocolDataUnit{}, errors.New("unsupported")
	})
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(time.Second))

	send := func(tid uint16, pdu []byte) *ApplicationDataUnit {
		t.Helper()
		reqADU := make([]byte, 7+len(pdu))
		binary.BigEndian.PutUint16(reqADU[0:], tid)
		binary.BigEndian.PutUint16(reqADU[4:], uint16(1+len(pdu)))
		reqADU[6] = 1
		copy(reqADU[7:], pdu)
		if _, err := conn.Write(reqADU); err != nil {
			t.Fatalf("Failed to write request: %v", err)
		}
		raw, err := readFrame(conn)
		if err != nil {
			t.Fatalf("Failed to read response: %v", err)
		}
		resp, err := Decode(raw)
		if err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if resp.TransactionID != tid {
			t.Errorf("Wrong TransID: %v", resp.TransactionID)
		}
		return resp
	}

	if resp := send(123, []byte{0x03, 0x00, 0x01, 0x00, 0x01}); resp.Pdu.FunctionCode != 0x03 {
		t.Errorf("Wrong FunctionCode: %02X", resp.Pdu.FunctionCode)
	}
	if resp := send(124, []byte{0x10, 0x00, 0x01, 0x00, 0x01, 0x02, 0x12, 0x34}); resp.Pdu.FunctionCode != 0x10 {
		t.Errorf("Wrong FunctionCode 2: %02X", resp.Pdu.FunctionCode)
	}
	// Handler errors become a server device failure exception.
	resp := send(125, []byte{0x2B, 0x0E, 0x01, 0x00})
	if resp.Pdu.FunctionCode != 0xAB || resp.Pdu.Data[0] != modbus.ExceptionCodeServerDeviceFailure {
		t.Errorf("unexpected exception %+v", resp.Pdu)
	}
}

func TestServer_LifeCycle(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx, func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
			return pdu, nil
		})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
}
