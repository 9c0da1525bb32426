// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"path/filepath"
	"testing"

	"github.com/ffutop/mbverify/modbus"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		kind    string
		path    string
		wantErr bool
	}{
		{"", "", false},
		{"memory", "", false},
		{"FILE", "image.bin", false},
		{"mmap", "image.bin", false},
		{"file", "", true},
		{"mmap", "", true},
		{"sql", "x", true},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.path, func(t *testing.T) {
			s, err := Open(tt.kind, tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open(%q, %q) error = %v, wantErr %v", tt.kind, tt.path, err, tt.wantErr)
			}
			if err == nil && s == nil {
				t.Fatal("nil storage without error")
			}
		})
	}
}

func TestStorage_Recovery(t *testing.T) {
	backends := map[string]func(path string) Storage{
		"file": func(path string) Storage { return NewFileStorage(path) },
		"mmap": func(path string) Storage { return NewMmapStorage(path) },
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name+".bin")

			s := open(path)
			m, err := s.Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if err := m.WriteRegisters(modbus.TableHoldingRegisters, 100, []uint16{0xCAFE, 0xBEEF}); err != nil {
				t.Fatalf("WriteRegisters failed: %v", err)
			}
			s.OnWrite(modbus.TableHoldingRegisters, 100, 2)
			m.Coils[7] = 1
			s.OnWrite(modbus.TableCoils, 7, 1)
			if err := s.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			s = open(path)
			defer s.Close()
			m, err = s.Load()
			if err != nil {
				t.Fatalf("reload failed: %v", err)
			}
			got, _ := m.Registers(modbus.TableHoldingRegisters, 100, 2)
			if got[0] != 0xCAFE || got[1] != 0xBEEF {
				t.Errorf("registers not recovered: %04X", got)
			}
			if m.Coils[7] != 1 {
				t.Errorf("coil not recovered")
			}
		})
	}
}

func TestSpan(t *testing.T) {
	from, to := span(modbus.TableInputRegisters, 0xFFFF, 1)
	if from != offsetInput+0xFFFF*2 || to != totalSize {
		t.Errorf("span = %d..%d", from, to)
	}
	from, to = span(modbus.TableDiscreteInputs, 2, 3)
	if from != offsetDiscrete+2 || to != offsetDiscrete+5 {
		t.Errorf("span = %d..%d", from, to)
	}
}
