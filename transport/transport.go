// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport connects the tool to a Modbus device and serves the
// simulated device.
package transport

import (
	"context"

	"github.com/ffutop/mbverify/modbus"
)

// RequestHandler answers one request PDU addressed to slaveID.
type RequestHandler func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

// Link carries PDUs to a device (the tool acts as master).
type Link interface {
	modbus.Transporter
	modbus.Connector
}

// Server serves requests from an external master (the tool acts as slave).
type Server interface {
	// Start blocks until ctx is done or the server fails.
	Start(ctx context.Context, handler RequestHandler) error
	Close() error
}
