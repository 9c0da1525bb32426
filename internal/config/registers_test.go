// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ffutop/mbverify/internal/regmap"
	"github.com/google/go-cmp/cmp"
)

const registersJSON = "\xEF\xBB\xBF[\n" +
	"\t{\"Name\": \"SYS_TEST\", \"Type\": \"HOLD\", \"Address\": [10], \"Value\": 0},\n" +
	"\t{\"Name\": \"TEMP\", \"Type\": \"INPUT\", \"Address\": 3, \"Format\": \"FLOAT\", \"Value\": \"21.5\", \"Min\": -20, \"Max\": 80, \"Label\": \"Temperature\"},\n" +
	"\t{\"Name\": \"SERIAL\", \"Type\": \"INPUT\", \"Address\": [20, 21], \"Value\": 305419896}\n" +
	"]\n"

func TestLoadRegisterMap_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registers.json")
	if err := os.WriteFile(path, []byte(registersJSON), 0644); err != nil {
		t.Fatal(err)
	}
	entries, err := LoadRegisterMap(path)
	if err != nil {
		t.Fatalf("LoadRegisterMap failed: %v", err)
	}
	want := []regmap.Entry{
		{Name: "SYS_TEST", Type: "HOLD", Address: []int{10}, Value: "0"},
		{Name: "TEMP", Type: "INPUT", Address: []int{3}, Format: "FLOAT", Value: "21.5", Min: -20, Max: 80, Label: "Temperature"},
		{Name: "SERIAL", Type: "INPUT", Address: []int{20, 21}, Value: "305419896"},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	m, err := regmap.Load(nil, regmap.DefaultConfig(), entries)
	if err != nil {
		t.Fatalf("regmap.Load failed: %v", err)
	}
	d, _ := m.Lookup("SERIAL")
	if d.Value != regmap.UintValue(305419896) {
		t.Errorf("SERIAL = %v", d.Value)
	}
}

func TestParseRegisterMap_YAML(t *testing.T) {
	doc := `
- Name: EMUL_TEMPERATURE_1
  Type: HOLD
  Address: [100]
  Format: FLOAT
  Value: 1.5
- Name: FW_NAME
  Type: INPUT
  Address:
    - 200
    - 201
  Format: STRING
  Value: v1
`
	entries, err := ParseRegisterMap([]byte(doc))
	if err != nil {
		t.Fatalf("ParseRegisterMap failed: %v", err)
	}
	want := []regmap.Entry{
		{Name: "EMUL_TEMPERATURE_1", Type: "HOLD", Address: []int{100}, Format: "FLOAT", Value: 1.5},
		{Name: "FW_NAME", Type: "INPUT", Address: []int{200, 201}, Format: "STRING", Value: "v1"},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRegisterMap_Invalid(t *testing.T) {
	if _, err := ParseRegisterMap([]byte("- Name: A\n  Address: [x]\n")); err == nil {
		t.Error("expected error for non numeric address")
	}
	if _, err := LoadRegisterMap(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
