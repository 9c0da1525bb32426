// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package local

import (
	"context"
	"testing"

	localslave "github.com/ffutop/mbverify/internal/local-slave"
	"github.com/ffutop/mbverify/internal/local-slave/model"
	"github.com/ffutop/mbverify/modbus"
	"github.com/ffutop/mbverify/transport"
	"github.com/google/go-cmp/cmp"
)

func TestClient_ReadWrite(t *testing.T) {
	m := model.NewDataModel()
	m.InputRegisters[3] = 99
	c := transport.NewClient(NewClient(localslave.NewLocalSlave(m), nil))
	defer c.Close()
	ctx := context.Background()

	if err := c.Write(ctx, transport.WriteRequest{Address: 10, Values: []uint16{1, 2}, Slave: 1}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := c.Read(ctx, transport.ReadRequest{Address: 10, Count: 2, Table: modbus.TableHoldingRegisters, Slave: 1})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if diff := cmp.Diff([]uint16{1, 2}, got); diff != "" {
		t.Errorf("holding mismatch (-want +got):\n%s", diff)
	}
	got, err = c.Read(ctx, transport.ReadRequest{Address: 3, Count: 1, Table: modbus.TableInputRegisters, Slave: 1})
	if err != nil || got[0] != 99 {
		t.Errorf("Read input = %v, %v", got, err)
	}
}

func TestClient_CancelledContext(t *testing.T) {
	c := NewClient(localslave.NewLocalSlave(model.NewDataModel()), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Send(ctx, 1, modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0, 0, 0, 1}}); err == nil {
		t.Error("expected context error")
	}
}
