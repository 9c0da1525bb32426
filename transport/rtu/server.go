// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ffutop/mbverify/internal/config"
	"github.com/ffutop/mbverify/transport"
	"github.com/grid-x/serial"
)

// Server is a Modbus RTU slave on a serial line, serving requests from an
// external master.
type Server struct {
	Config config.SerialConfig

	mu   sync.Mutex
	port io.ReadWriteCloser
}

// NewServer creates a new RTU Server.
func NewServer(cfg config.SerialConfig) *Server {
	return &Server{
		Config: cfg,
	}
}

// Start opens the serial port and serves requests until ctx is done.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	spConfig := serialConfig(s.Config)
	port, err := serial.Open(&spConfig)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.Config.Device, err)
	}
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	defer s.Close()
	slog.Info("RTU Server listening", "device", s.Config.Device)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return s.scanLoop(ctx, port, handler)
}

// scanLoop answers frames one at a time; the bus is half duplex.
func (s *Server) scanLoop(ctx context.Context, port io.ReadWriter, handler transport.RequestHandler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := transport.ServeRTUFrame(ctx, port, handler)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, transport.ErrBadFrame):
			slog.Warn("Dropping RTU frame", "err", err)
		case errors.Is(err, io.EOF):
			return nil
		default:
			// Timeouts and unknown function codes: resynchronise on the next byte.
			slog.Debug("RTU read", "err", err)
		}
	}
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
