// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ffutop/mbverify/modbus"
)

// ReadRequest reads Count registers starting at Address.
type ReadRequest struct {
	Address uint16
	Count   uint16
	Table   modbus.Table // TableHoldingRegisters or TableInputRegisters
	Slave   byte
}

// WriteRequest writes Values to consecutive holding registers starting at Address.
type WriteRequest struct {
	Address uint16
	Values  []uint16
	Slave   byte
}

// Client issues register reads and writes over a Link.
type Client struct {
	Link
}

func NewClient(link Link) *Client {
	return &Client{Link: link}
}

// Read sends a 0x03 or 0x04 request and returns the register values.
func (c *Client) Read(ctx context.Context, req ReadRequest) ([]uint16, error) {
	if req.Table != modbus.TableHoldingRegisters && req.Table != modbus.TableInputRegisters {
		return nil, fmt.Errorf("transport: cannot read registers from %v", req.Table)
	}
	pdu, err := modbus.ReadRegistersRequest(req.Table.ReadFunctionCode(), req.Address, req.Count)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, req.Slave, pdu)
	if err != nil {
		return nil, err
	}
	return modbus.ParseReadRegistersResponse(pdu, resp)
}

// Write sends a 0x10 request.
func (c *Client) Write(ctx context.Context, req WriteRequest) error {
	pdu, err := modbus.WriteMultipleRegistersRequest(req.Address, req.Values)
	if err != nil {
		return err
	}
	resp, err := c.roundTrip(ctx, req.Slave, pdu)
	if err != nil {
		return err
	}
	return modbus.ParseWriteMultipleRegistersResponse(pdu, resp)
}

// Reopen opens the link again if it was closed.
func (c *Client) Reopen(ctx context.Context) error {
	return c.Connect(ctx)
}

func (c *Client) roundTrip(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if err := c.Connect(ctx); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	resp, err := c.Send(ctx, slaveID, pdu)
	if err != nil {
		slog.Debug("Modbus request failed", "slave", slaveID, "func", pdu.FunctionCode, "err", err)
		return modbus.ProtocolDataUnit{}, err
	}
	return resp, nil
}
