// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"strings"

	"github.com/ffutop/mbverify/internal/local-slave/model"
	"github.com/ffutop/mbverify/modbus"
)

// Storage defines the interface for persisting the simulated device image.
type Storage interface {
	// Load loads the data model from storage.
	// If no data exists it returns a new zeroed model.
	Load() (*model.DataModel, error)

	// Save flushes the current data model to storage.
	Save(model *model.DataModel) error

	// OnWrite is called after every modification of the model.
	OnWrite(table modbus.Table, address, quantity uint16)

	Close() error
}

// Open returns the storage named by kind ("memory", "file" or "mmap").
// An empty kind selects memory.
func Open(kind, path string) (Storage, error) {
	switch strings.ToLower(kind) {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		if path == "" {
			return nil, fmt.Errorf("file persistence requires a path")
		}
		return NewFileStorage(path), nil
	case "mmap":
		if path == "" {
			return nil, fmt.Errorf("mmap persistence requires a path")
		}
		return NewMmapStorage(path), nil
	default:
		return nil, fmt.Errorf("unknown persistence type %q", kind)
	}
}
