// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ffutop/mbverify/modbus"
	"github.com/google/go-cmp/cmp"
)

type fakeLink struct {
	connects int
	sent     []modbus.ProtocolDataUnit
	reply    func(pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)
}

func (f *fakeLink) Send(_ context.Context, _ byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	f.sent = append(f.sent, pdu)
	return f.reply(pdu)
}

func (f *fakeLink) Connect(context.Context) error {
	f.connects++
	return nil
}

func (f *fakeLink) Close() error { return nil }

func TestClient_Read(t *testing.T) {
	link := &fakeLink{reply: func(pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		return modbus.ProtocolDataUnit{FunctionCode: pdu.FunctionCode, Data: []byte{0x04, 0x00, 0x01, 0xAB, 0xCD}}, nil
	}}
	c := NewClient(link)

	got, err := c.Read(context.Background(), ReadRequest{Address: 7, Count: 2, Table: modbus.TableInputRegisters, Slave: 1})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if diff := cmp.Diff([]uint16{0x0001, 0xABCD}, got); diff != "" {
		t.Errorf("Read mismatch (-want +got):\n%s", diff)
	}
	want := modbus.ProtocolDataUnit{FunctionCode: 0x04, Data: []byte{0x00, 0x07, 0x00, 0x02}}
	if diff := cmp.Diff(want, link.sent[0]); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
	if link.connects != 1 {
		t.Errorf("expected 1 connect, got %d", link.connects)
	}
}

func TestClient_ReadException(t *testing.T) {
	link := &fakeLink{reply: func(pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		return modbus.ProtocolDataUnit{FunctionCode: pdu.FunctionCode | 0x80, Data: []byte{0x02}}, nil
	}}
	c := NewClient(link)

	_, err := c.Read(context.Background(), ReadRequest{Address: 900, Count: 10, Table: modbus.TableHoldingRegisters})
	var exc *modbus.ExceptionError
	if !errors.As(err, &exc) {
		t.Fatalf("expected ExceptionError, got %v", err)
	}
	if exc.ExceptionCode != modbus.ExceptionCodeIllegalDataAddress {
		t.Errorf("unexpected exception code %d", exc.ExceptionCode)
	}
}

func TestClient_ReadRejectsBitTables(t *testing.T) {
	c := NewClient(&fakeLink{})
	if _, err := c.Read(context.Background(), ReadRequest{Count: 1, Table: modbus.TableCoils}); err == nil {
		t.Error("expected error for coil table")
	}
}

func TestClient_Write(t *testing.T) {
	link := &fakeLink{reply: func(pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		return modbus.ProtocolDataUnit{FunctionCode: pdu.FunctionCode, Data: pdu.Data[:4]}, nil
	}}
	c := NewClient(link)

	if err := c.Write(context.Background(), WriteRequest{Address: 0x100, Values: []uint16{1, 0xFFFF}}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	want := []byte{0x01, 0x00, 0x00, 0x02, 0x04, 0x00, 0x01, 0xFF, 0xFF}
	if diff := cmp.Diff(want, link.sent[0].Data); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}

	if err := c.Write(context.Background(), WriteRequest{Address: 0}); err == nil {
		t.Error("expected error for empty write")
	}
}

func TestClient_SendError(t *testing.T) {
	boom := errors.New("boom")
	c := NewClient(&fakeLink{reply: func(modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		return modbus.ProtocolDataUnit{}, boom
	}})
	if _, err := c.Read(context.Background(), ReadRequest{Count: 1, Table: modbus.TableInputRegisters}); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}
