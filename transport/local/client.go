// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package local links the master side directly to an in-process simulated
// device.
package local

import (
	"context"

	localslave "github.com/ffutop/mbverify/internal/local-slave"
	"github.com/ffutop/mbverify/internal/local-slave/persistence"
	"github.com/ffutop/mbverify/modbus"
)

// Client answers requests with a LocalSlave.
type Client struct {
	slave   *localslave.LocalSlave
	storage persistence.Storage
}

// NewClient creates a local link to slave. storage is closed with the link
// and may be nil.
func NewClient(slave *localslave.LocalSlave, storage persistence.Storage) *Client {
	return &Client{
		slave:   slave,
		storage: storage,
	}
}

// Send processes the PDU locally. ctx cancellation is honoured before the
// request is processed.
func (c *Client) Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if err := ctx.Err(); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	return c.slave.Handle(ctx, slaveID, pdu)
}

// Connect is a no-op for local slave.
func (c *Client) Connect(ctx context.Context) error {
	return nil
}

// Close closes the storage.
func (c *Client) Close() error {
	if c.storage == nil {
		return nil
	}
	return c.storage.Close()
}
