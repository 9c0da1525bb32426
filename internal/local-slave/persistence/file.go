// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ffutop/mbverify/internal/local-slave/model"
	"github.com/ffutop/mbverify/modbus"
)

// FileStorage keeps the device image in memory and writes every modified
// range back to a file with plain file operations.
type FileStorage struct {
	path string
	file *os.File
	data []byte
}

// NewFileStorage creates a new FileStorage.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{
		path: path,
	}
}

// Load reads the image file, creating or resizing it as needed.
func (fs *FileStorage) Load() (*model.DataModel, error) {
	f, err := os.OpenFile(fs.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize file: %w", err)
		}
	}

	data := make([]byte, totalSize)
	if _, err := io.ReadFull(f, data); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	fs.file = f
	fs.data = data

	return mapBytesToModel(data), nil
}

// Save writes the whole image and syncs it to disk.
func (fs *FileStorage) Save(*model.DataModel) error {
	if fs.file == nil {
		return nil
	}
	if _, err := fs.file.WriteAt(fs.data, 0); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return fs.file.Sync()
}

// OnWrite writes the modified range and syncs it to disk.
func (fs *FileStorage) OnWrite(table modbus.Table, address, quantity uint16) {
	if fs.file == nil {
		return
	}
	from, to := span(table, address, quantity)
	if _, err := fs.file.WriteAt(fs.data[from:to], int64(from)); err != nil {
		slog.Error("Failed to write file", "path", fs.path, "err", err)
		return
	}
	if err := fs.file.Sync(); err != nil {
		slog.Error("Failed to sync file", "path", fs.path, "err", err)
	}
}

// Close closes the file.
func (fs *FileStorage) Close() error {
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}
