// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtuovertcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/ffutop/mbverify/transport"
)

// Server implements a Modbus RTU over TCP Server.
// Every accepted connection is handled as an RTU stream.
type Server struct {
	Address string

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new RTU over TCP Server.
func NewServer(address string) *Server {
	return &Server{
		Address: address,
	}
}

// Listen binds the listener. Start calls it when needed.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.listener = listener
	return listener.Addr(), nil
}

// Start serves connections until ctx is done.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	addr, err := s.Listen()
	if err != nil {
		return err
	}
	slog.Info("RTU over TCP server listening", "addr", addr)

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("Failed to accept connection", "err", err)
			continue
		}
		go s.handleConnection(ctx, conn, handler)
	}
}

// Close closes the server listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.listener = nil
	return err
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, handler transport.RequestHandler) {
	defer conn.Close()
	slog.Info("New RTU over TCP client connected", "addr", conn.RemoteAddr())

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		err := transport.ServeRTUFrame(ctx, conn, handler)
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrBadFrame):
			slog.Warn("RTU frame decode failed", "addr", conn.RemoteAddr(), "err", err)
		case errors.Is(err, io.EOF), ctx.Err() != nil:
			return
		default:
			// Unknown function codes leave the stream out of sync.
			slog.Error("Closing RTU over TCP connection", "addr", conn.RemoteAddr(), "err", err)
			return
		}
	}
}
