// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ffutop/mbverify/modbus"
	rtupacket "github.com/ffutop/mbverify/modbus/rtu"
)

// ErrBadFrame is returned by ServeRTUFrame for a frame that was read
// completely but failed its CRC check. The stream is still in sync.
var ErrBadFrame = errors.New("transport: bad rtu frame")

// ServeRTUFrame reads one RTU request from rw, answers it with handler and
// writes the response. Handler errors are answered with an exception.
func ServeRTUFrame(ctx context.Context, rw io.ReadWriter, handler RequestHandler) error {
	raw, err := rtupacket.ReadRequest(rw)
	if err != nil {
		return err
	}
	adu, err := rtupacket.Decode(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadFrame, err)
	}

	respPdu, err := handler(ctx, adu.SlaveID, adu.Pdu)
	if err != nil {
		slog.Error("Handler failed", "slave", adu.SlaveID, "err", err)
		respPdu = ExceptionFor(adu.Pdu.FunctionCode, err)
	}

	respAdu := &rtupacket.ApplicationDataUnit{
		SlaveID: adu.SlaveID,
		Pdu:     respPdu,
	}
	respRaw, err := respAdu.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	if _, err := rw.Write(respRaw); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// ExceptionFor maps a handler error to an exception PDU.
func ExceptionFor(functionCode byte, err error) modbus.ProtocolDataUnit {
	code := byte(modbus.ExceptionCodeServerDeviceFailure)
	var exc *modbus.ExceptionError
	switch {
	case errors.As(err, &exc):
		code = exc.ExceptionCode
	case errors.Is(err, context.DeadlineExceeded):
		code = modbus.ExceptionCodeGatewayTargetDeviceFailedToRespond
	}
	return modbus.ProtocolDataUnit{
		FunctionCode: functionCode | 0x80,
		Data:         []byte{code},
	}
}
