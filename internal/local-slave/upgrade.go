// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package localslave

import (
	"log/slog"

	"github.com/ffutop/mbverify/internal/local-slave/model"
	"github.com/ffutop/mbverify/modbus"
)

// Page status values reported by the bootloader.
const (
	PageStatusPending  = 0
	PageStatusAccepted = 1
	PageStatusLast     = 2
)

// UpgradeEmulator returns a hook acting as the device bootloader of a
// firmware upgrade window at base. Every page written at base+4 has its
// status slot set to PageStatusAccepted.
func UpgradeEmulator(base, pageBytes uint16) WriteHook {
	pageAddress := base + 4
	pageWords := pageBytes/2 + 5
	statusAddress := pageAddress + 3 + pageBytes/2

	return func(m *model.DataModel, address, quantity uint16) {
		switch {
		case address == base && quantity == 4:
			slog.Info("Upgrade header received", "base", base)
		case address == pageAddress && quantity == pageWords:
			page, err := m.Registers(modbus.TableHoldingRegisters, pageAddress, 3)
			if err != nil {
				return
			}
			offset := uint32(page[1]) | uint32(page[2])<<16
			slog.Debug("Upgrade page received", "offset", offset, "bytes", page[0])
			if err := m.WriteRegisters(modbus.TableHoldingRegisters, statusAddress, []uint16{PageStatusAccepted}); err != nil {
				slog.Error("Failed to set page status", "address", statusAddress, "err", err)
			}
		case address == base+1 && quantity == 1:
			slog.Info("Upgrade apply received", "base", base)
		}
	}
}
