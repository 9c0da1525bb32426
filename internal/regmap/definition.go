// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package regmap

import (
	"fmt"

	"github.com/ffutop/mbverify/modbus"
)

// Entry is a register definition as read from a definition file.
type Entry struct {
	Name        string
	Type        string
	Address     []int
	Format      string
	Value       interface{}
	Min         float64
	Max         float64
	Label       string
	Description string
}

// Bounds is the accepted range of a register value. Text registers compare
// their length in characters.
type Bounds struct {
	Min float64
	Max float64
}

// Definition is a named register spanning one or more consecutive words.
type Definition struct {
	Name        string
	Kind        Kind
	Addresses   []uint16 // least significant word first
	Format      Format
	Value       Value
	Bounds      *Bounds // nil only when Min and Max are both zero; a single zero bound is still checked
	Label       string
	Description string
}

// Width is the number of words the value occupies.
func (d *Definition) Width() int { return len(d.Addresses) }

// First is the address of the least significant word.
func (d *Definition) First() uint16 { return d.Addresses[0] }

// Last is the address of the most significant word.
func (d *Definition) Last() uint16 { return d.Addresses[len(d.Addresses)-1] }

// Hex renders Integer values as 0x..., other formats as "".
func (d *Definition) Hex() string {
	if d.Format != Integer {
		return ""
	}
	if d.Value.Type == TypeInt && d.Value.Int < 0 {
		return fmt.Sprintf("-0x%x", -d.Value.Int)
	}
	if d.Value.Type == TypeInt {
		return fmt.Sprintf("0x%x", d.Value.Int)
	}
	return fmt.Sprintf("0x%x", d.Value.Uint)
}

func (d *Definition) inBounds(v Value) bool {
	if d.Bounds == nil {
		return true
	}
	m := v.magnitude()
	return m >= d.Bounds.Min && m <= d.Bounds.Max
}

// NewDefinition validates e and converts it into a Definition.
func NewDefinition(e Entry) (*Definition, error) {
	if e.Name == "" {
		return nil, &DefinitionError{Reason: "empty name"}
	}
	fail := func(format string, args ...interface{}) (*Definition, error) {
		return nil, &DefinitionError{Name: e.Name, Reason: fmt.Sprintf(format, args...)}
	}

	kind, err := ParseKind(e.Type)
	if err != nil {
		return fail("%v", err)
	}
	format, err := ParseFormat(e.Format)
	if err != nil {
		return fail("%v", err)
	}

	if len(e.Address) == 0 {
		return fail("no addresses")
	}
	if len(e.Address) > modbus.ReadRegistersQuantityMax {
		return fail("%d words exceed a single request", len(e.Address))
	}
	addresses := make([]uint16, len(e.Address))
	for i, a := range e.Address {
		if a < 0 || a > 0xFFFF {
			return fail("address %d out of register space", a)
		}
		if i > 0 && a != e.Address[i-1]+1 {
			return fail("addresses %v are not consecutive", e.Address)
		}
		addresses[i] = uint16(a)
	}

	switch {
	case format == FixedPoint && len(addresses) != 1:
		return fail("FLOAT needs 1 address, got %d", len(addresses))
	case format == Float32 && len(addresses) != 2:
		return fail("FLOAT32 needs 2 addresses, got %d", len(addresses))
	case format == Integer && len(addresses) > MaxIntegerWords:
		return fail("integer wider than %d words", MaxIntegerWords)
	}

	value, err := ParseValue(format, e.Value)
	if err != nil {
		return fail("invalid value %v: %v", e.Value, err)
	}
	if _, err := Encode(format, value, len(addresses)); err != nil {
		return fail("invalid value %v: %v", e.Value, err)
	}

	d := &Definition{
		Name:        e.Name,
		Kind:        kind,
		Addresses:   addresses,
		Format:      format,
		Value:       value,
		Label:       e.Label,
		Description: e.Description,
	}
	if e.Min != 0 || e.Max != 0 {
		d.Bounds = &Bounds{Min: e.Min, Max: e.Max}
	}
	return d, nil
}
