// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package localslave

import (
	"testing"

	"github.com/ffutop/mbverify/internal/local-slave/model"
	"github.com/ffutop/mbverify/modbus"
	"github.com/google/go-cmp/cmp"
)

type recordingStorage struct {
	writes []modbus.Table
}

func (r *recordingStorage) Load() (*model.DataModel, error) { return model.NewDataModel(), nil }
func (r *recordingStorage) Save(*model.DataModel) error      { return nil }
func (r *recordingStorage) OnWrite(table modbus.Table, address, quantity uint16) {
	r.writes = append(r.writes, table)
}
func (r *recordingStorage) Close() error { return nil }

func TestProcess(t *testing.T) {
	m := model.NewDataModel()
	m.InputRegisters[5] = 0x0102
	s := NewLocalSlave(m)

	tests := []struct {
		name string
		req  modbus.ProtocolDataUnit
		want modbus.ProtocolDataUnit
	}{
		{
			name: "read input",
			req:  modbus.RawRequest(0x04, 5, 1),
			want: modbus.ProtocolDataUnit{FunctionCode: 0x04, Data: []byte{0x02, 0x01, 0x02}},
		},
		{
			name: "write multiple registers",
			req:  modbus.ProtocolDataUnit{FunctionCode: 0x10, Data: []byte{0x00, 0x0A, 0x00, 0x01, 0x02, 0xBE, 0xEF}},
			want: modbus.ProtocolDataUnit{FunctionCode: 0x10, Data: []byte{0x00, 0x0A, 0x00, 0x01}},
		},
		{
			name: "read back holding",
			req:  modbus.RawRequest(0x03, 10, 1),
			want: modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x02, 0xBE, 0xEF}},
		},
		{
			name: "write single register",
			req:  modbus.RawRequest(0x06, 1, 150),
			want: modbus.RawRequest(0x06, 1, 150),
		},
		{
			name: "read quantity too large",
			req:  modbus.RawRequest(0x04, 0, 150),
			want: modbus.ProtocolDataUnit{FunctionCode: 0x84, Data: []byte{modbus.ExceptionCodeIllegalDataValue}},
		},
		{
			name: "read past end",
			req:  modbus.RawRequest(0x03, 65535, 2),
			want: modbus.ProtocolDataUnit{FunctionCode: 0x83, Data: []byte{modbus.ExceptionCodeIllegalDataAddress}},
		},
		{
			name: "unknown function",
			req:  modbus.ProtocolDataUnit{FunctionCode: 0x2B, Data: []byte{0x0E}},
			want: modbus.ProtocolDataUnit{FunctionCode: 0xAB, Data: []byte{modbus.ExceptionCodeIllegalFunction}},
		},
		{
			name: "byte count mismatch",
			req:  modbus.ProtocolDataUnit{FunctionCode: 0x10, Data: []byte{0x00, 0x00, 0x00, 0x02, 0x02, 0x00, 0x01}},
			want: modbus.ProtocolDataUnit{FunctionCode: 0x90, Data: []byte{modbus.ExceptionCodeIllegalDataValue}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Process(tt.req)
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("response mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProcess_Coils(t *testing.T) {
	s := NewLocalSlave(model.NewDataModel())

	if _, err := s.Process(modbus.RawRequest(0x05, 2, 0xFF00)); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Process(modbus.RawRequest(0x01, 0, 4))
	if diff := cmp.Diff(modbus.ProtocolDataUnit{FunctionCode: 0x01, Data: []byte{0x01, 0x04}}, got); diff != "" {
		t.Errorf("read coils mismatch (-want +got):\n%s", diff)
	}

	got, _ = s.Process(modbus.RawRequest(0x05, 2, 0x1234))
	if got.FunctionCode != 0x85 {
		t.Errorf("expected exception for bad coil value, got %+v", got)
	}
}

func TestRegistersOnlyDevice(t *testing.T) {
	s := NewLocalSlave(model.NewDataModel(), WithFunctions(RegisterFunctions...), WithAddressLimit(900))

	cases := []struct {
		name string
		req  modbus.ProtocolDataUnit
		code byte
	}{
		{"read coils", modbus.RawRequest(0x01, 0, 10), modbus.ExceptionCodeIllegalFunction},
		{"read discrete", modbus.RawRequest(0x02, 0, 10), modbus.ExceptionCodeIllegalFunction},
		{"write coil", modbus.RawRequest(0x05, 1, 0xFF00), modbus.ExceptionCodeIllegalFunction},
		{"write coils", modbus.ProtocolDataUnit{FunctionCode: 0x0F, Data: []byte{0, 0, 0, 2, 1, 3}}, modbus.ExceptionCodeIllegalFunction},
		{"write register", modbus.RawRequest(0x06, 1, 150), modbus.ExceptionCodeIllegalFunction},
		{"read input past limit", modbus.RawRequest(0x04, 900, 10), modbus.ExceptionCodeIllegalDataAddress},
		{"read input too many", modbus.RawRequest(0x04, 0, 150), modbus.ExceptionCodeIllegalDataValue},
	}
	for _, p := range cases {
		t.Run(p.name, func(t *testing.T) {
			got, err := s.Process(p.req)
			if err != nil {
				t.Fatal(err)
			}
			want := modbus.ProtocolDataUnit{FunctionCode: p.req.FunctionCode | 0x80, Data: []byte{p.code}}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("exception mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if got, _ := s.Process(modbus.RawRequest(0x03, 890, 10)); got.IsException() {
		t.Errorf("read below limit failed: %+v", got)
	}
}

func TestWriteHookAndStorage(t *testing.T) {
	storage := &recordingStorage{}
	var hooked [][2]uint16
	s := NewLocalSlave(model.NewDataModel(),
		WithStorage(storage),
		WithWriteHook(func(_ *model.DataModel, address, quantity uint16) {
			hooked = append(hooked, [2]uint16{address, quantity})
		}))

	s.Process(modbus.ProtocolDataUnit{FunctionCode: 0x10, Data: []byte{0x00, 0x04, 0x00, 0x02, 0x04, 0, 1, 0, 2}})
	s.Process(modbus.RawRequest(0x05, 0, 0xFF00))
	// Exceptions are not persisted.
	s.Process(modbus.ProtocolDataUnit{FunctionCode: 0x10, Data: []byte{0x00, 0x00, 0x00, 0x02, 0x02, 0x00, 0x01}})
	s.Process(modbus.RawRequest(0x06, 7, 1))

	if diff := cmp.Diff([][2]uint16{{4, 2}, {7, 1}}, hooked); diff != "" {
		t.Errorf("hook calls mismatch (-want +got):\n%s", diff)
	}
	want := []modbus.Table{modbus.TableHoldingRegisters, modbus.TableCoils, modbus.TableHoldingRegisters}
	if diff := cmp.Diff(want, storage.writes); diff != "" {
		t.Errorf("storage writes mismatch (-want +got):\n%s", diff)
	}
}

func TestUpgradeEmulator(t *testing.T) {
	const base, pageBytes = 100, 8
	m := model.NewDataModel()
	s := NewLocalSlave(m, WithWriteHook(UpgradeEmulator(base, pageBytes)))

	// [len, offset lo, offset hi, 4 payload words, status, 1]
	page := []uint16{pageBytes, 0x0100, 0, 0x1111, 0x2222, 0x3333, 0x4444, 0, 1}
	pdu, err := modbus.WriteMultipleRegistersRequest(base+4, page)
	if err != nil {
		t.Fatal(err)
	}
	if resp, _ := s.Process(pdu); resp.IsException() {
		t.Fatalf("page write failed: %+v", resp)
	}
	status, _ := m.Registers(modbus.TableHoldingRegisters, base+4+3+pageBytes/2, 1)
	if status[0] != PageStatusAccepted {
		t.Errorf("page status = %d, want %d", status[0], PageStatusAccepted)
	}

	// Writes of another size leave the status slot alone.
	m.HoldingRegisters[base+4+3+pageBytes/2] = 0
	pdu, _ = modbus.WriteMultipleRegistersRequest(base+4, page[:3])
	s.Process(pdu)
	if m.HoldingRegisters[base+4+3+pageBytes/2] != 0 {
		t.Error("status set by a partial write")
	}
}
