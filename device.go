// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"fmt"
	"log/slog"

	"github.com/ffutop/mbverify/internal/config"
	localslave "github.com/ffutop/mbverify/internal/local-slave"
	"github.com/ffutop/mbverify/internal/local-slave/model"
	"github.com/ffutop/mbverify/internal/local-slave/persistence"
	"github.com/ffutop/mbverify/internal/regmap"
	"github.com/ffutop/mbverify/transport"
	"github.com/ffutop/mbverify/transport/local"
	"github.com/ffutop/mbverify/transport/rtu"
	"github.com/ffutop/mbverify/transport/rtuovertcp"
	"github.com/ffutop/mbverify/transport/tcp"
)

// newLink creates the link to the device under test.
func newLink(cfg *config.Config, entries []regmap.Entry) (transport.Link, error) {
	switch cfg.Link.Type {
	case "rtu":
		return rtu.NewClient(cfg.Link.Serial), nil
	case "tcp":
		return tcp.NewClient(cfg.Link.Tcp.Address), nil
	case "rtu-over-tcp":
		return rtuovertcp.NewClient(cfg.Link.Tcp.Address), nil
	case "local":
		slave, storage, err := newDevice(cfg.Link.Local, cfg.Upgrade, entries)
		if err != nil {
			return nil, err
		}
		return local.NewClient(slave, storage), nil
	default:
		return nil, fmt.Errorf("unknown link type %q", cfg.Link.Type)
	}
}

// newServer creates the server side of the simulated device.
func newServer(cfg config.SimulateConfig) (transport.Server, error) {
	switch cfg.Type {
	case "tcp":
		return tcp.NewServer(cfg.Tcp.Address), nil
	case "rtu":
		return rtu.NewServer(cfg.Serial), nil
	case "rtu-over-tcp":
		return rtuovertcp.NewServer(cfg.Tcp.Address), nil
	default:
		return nil, fmt.Errorf("unknown server type %q", cfg.Type)
	}
}

// newDevice builds a simulated device. The returned storage belongs to the
// caller.
func newDevice(dc config.DeviceConfig, up config.UpgradeConfig, entries []regmap.Entry) (*localslave.LocalSlave, persistence.Storage, error) {
	storage, err := persistence.Open(dc.Persistence.Type, dc.Persistence.Path)
	if err != nil {
		return nil, nil, err
	}
	m, err := storage.Load()
	if err != nil {
		storage.Close()
		return nil, nil, fmt.Errorf("failed to load device image: %w", err)
	}
	if dc.Seed {
		seed(m, entries)
		if err := storage.Save(m); err != nil {
			storage.Close()
			return nil, nil, err
		}
	}

	opts := []localslave.Option{localslave.WithStorage(storage)}
	if dc.RegistersOnly {
		opts = append(opts, localslave.WithFunctions(localslave.RegisterFunctions...))
	}
	if dc.AddressLimit > 0 {
		opts = append(opts, localslave.WithAddressLimit(dc.AddressLimit))
	}
	if dc.EmulateUpgrade {
		opts = append(opts, localslave.WithWriteHook(localslave.UpgradeEmulator(uint16(up.Address), uint16(up.PageBytes))))
	}
	slog.Info("Simulated device ready",
		"persistence", dc.Persistence.Type,
		"registersOnly", dc.RegistersOnly,
		"addressLimit", dc.AddressLimit,
		"emulateUpgrade", dc.EmulateUpgrade)
	return localslave.NewLocalSlave(m, opts...), storage, nil
}

// seed writes the initial value of every definition into the image.
// Invalid entries are skipped.
func seed(m *model.DataModel, entries []regmap.Entry) {
	for _, e := range entries {
		d, err := regmap.NewDefinition(e)
		if err != nil {
			slog.Warn("Skipping register", "err", err)
			continue
		}
		words, err := regmap.Encode(d.Format, d.Value, d.Width())
		if err != nil {
			slog.Warn("Skipping register", "name", d.Name, "err", err)
			continue
		}
		if err := m.WriteRegisters(d.Kind.Table(), d.First(), words); err != nil {
			slog.Warn("Skipping register", "name", d.Name, "err", err)
		}
	}
}
