// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ffutop/mbverify/internal/regmap"
	"gopkg.in/yaml.v3"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// registerEntry is one element of a register definition file.
type registerEntry struct {
	Name        string      `yaml:"Name" json:"Name"`
	Type        string      `yaml:"Type" json:"Type"`
	Address     Addresses   `yaml:"Address" json:"Address"`
	Format      string      `yaml:"Format" json:"Format"`
	Value       interface{} `yaml:"Value" json:"Value"`
	Min         float64     `yaml:"Min" json:"Min"`
	Max         float64     `yaml:"Max" json:"Max"`
	Label       string      `yaml:"Label" json:"Label"`
	Description string      `yaml:"Description" json:"Description"`
}

// Addresses accepts a single address or a list of addresses.
type Addresses []int

func (a *Addresses) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var v int
		if err := node.Decode(&v); err != nil {
			return err
		}
		*a = Addresses{v}
		return nil
	}
	var list []int
	if err := node.Decode(&list); err != nil {
		return err
	}
	*a = list
	return nil
}

func (a *Addresses) UnmarshalJSON(data []byte) error {
	var v int
	if err := json.Unmarshal(data, &v); err == nil {
		*a = Addresses{v}
		return nil
	}
	var list []int
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*a = list
	return nil
}

// LoadRegisterMap reads register definitions from a JSON or YAML file.
func LoadRegisterMap(path string) ([]regmap.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read register map: %w", err)
	}
	var entries []regmap.Entry
	if strings.EqualFold(filepath.Ext(path), ".json") {
		entries, err = parseJSONRegisterMap(data)
	} else {
		entries, err = ParseRegisterMap(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// ParseRegisterMap decodes a YAML register definition document. JSON
// documents without tab indentation decode as well.
func ParseRegisterMap(data []byte) ([]regmap.Entry, error) {
	var raw []registerEntry
	if err := yaml.Unmarshal(bytes.TrimPrefix(data, utf8BOM), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse register map: %w", err)
	}
	return toEntries(raw), nil
}

func parseJSONRegisterMap(data []byte) ([]regmap.Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	dec.UseNumber()
	var raw []registerEntry
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse register map: %w", err)
	}
	return toEntries(raw), nil
}

func toEntries(raw []registerEntry) []regmap.Entry {
	entries := make([]regmap.Entry, len(raw))
	for i, r := range raw {
		value := r.Value
		if n, ok := value.(json.Number); ok {
			value = n.String()
		}
		entries[i] = regmap.Entry{
			Name:        r.Name,
			Type:        r.Type,
			Address:     r.Address,
			Format:      r.Format,
			Value:       value,
			Min:         r.Min,
			Max:         r.Max,
			Label:       r.Label,
			Description: r.Description,
		}
	}
	return entries
}
