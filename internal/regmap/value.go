// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package regmap

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ffutop/mbverify/modbus"
	"github.com/spf13/cast"
)

// Kind selects the register table of a definition.
type Kind int

const (
	Input Kind = iota
	Holding
)

func (k Kind) String() string {
	if k == Holding {
		return "Holding"
	}
	return "Input"
}

// Table returns the Modbus table holding registers of kind k.
func (k Kind) Table() modbus.Table {
	if k == Holding {
		return modbus.TableHoldingRegisters
	}
	return modbus.TableInputRegisters
}

// ParseKind maps a definition Type tag to a Kind.
func ParseKind(tag string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(tag)) {
	case "HOLD", "HOLDING":
		return Holding, nil
	case "", "IN", "INPUT":
		return Input, nil
	default:
		return Input, fmt.Errorf("unknown register type %q", tag)
	}
}

// Format is the encoding of a register value in device words.
type Format int

const (
	Integer Format = iota
	FixedPoint
	Float32
	Text
)

func (f Format) String() string {
	switch f {
	case Integer:
		return "Integer"
	case FixedPoint:
		return "FixedPoint"
	case Float32:
		return "Float32"
	case Text:
		return "Text"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat maps a definition Format tag to a Format.
func ParseFormat(tag string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(tag)) {
	case "FLOAT":
		return FixedPoint, nil
	case "FLOAT32":
		return Float32, nil
	case "STRING":
		return Text, nil
	case "", "INT", "INTEGER", "UINT", "HEX", "DEC":
		return Integer, nil
	default:
		return Integer, fmt.Errorf("unknown register format %q", tag)
	}
}

// ValueType tags the active member of a Value.
type ValueType int

const (
	TypeUint ValueType = iota
	TypeInt
	TypeFloat
	TypeText
)

// Value is a register value. Only the member selected by Type is meaningful.
type Value struct {
	Type  ValueType
	Int   int64
	Uint  uint64
	Float float64
	Text  string
}

func IntValue(v int64) Value     { return Value{Type: TypeInt, Int: v} }
func UintValue(v uint64) Value   { return Value{Type: TypeUint, Uint: v} }
func FloatValue(v float64) Value { return Value{Type: TypeFloat, Float: v} }
func TextValue(v string) Value   { return Value{Type: TypeText, Text: v} }

func (v Value) String() string {
	switch v.Type {
	case TypeInt:
		return strconv.FormatInt(v.Int, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case TypeText:
		return v.Text
	default:
		return strconv.FormatUint(v.Uint, 10)
	}
}

// Float64 returns the numeric value. Text parses as a number or yields 0.
func (v Value) Float64() float64 {
	switch v.Type {
	case TypeInt:
		return float64(v.Int)
	case TypeFloat:
		return v.Float
	case TypeText:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
		return f
	default:
		return float64(v.Uint)
	}
}

// magnitude is the quantity compared against bounds.
func (v Value) magnitude() float64 {
	if v.Type == TypeText {
		return float64(utf8.RuneCountInString(v.Text))
	}
	return v.Float64()
}

// ParseValue converts a textual or decoded document value into a Value of
// format f. Integers accept a 0x prefix.
func ParseValue(f Format, raw interface{}) (Value, error) {
	switch f {
	case FixedPoint, Float32:
		if raw == nil {
			return FloatValue(0), nil
		}
		x, err := cast.ToFloat64E(raw)
		if err != nil {
			return Value{}, err
		}
		return FloatValue(x), nil
	case Text:
		if raw == nil {
			return TextValue(""), nil
		}
		s, err := cast.ToStringE(raw)
		if err != nil {
			return Value{}, err
		}
		return TextValue(s), nil
	default:
		return parseInteger(raw)
	}
}

func parseInteger(raw interface{}) (Value, error) {
	if raw == nil {
		return UintValue(0), nil
	}
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return UintValue(0), nil
		}
		lower := strings.ToLower(s)
		if strings.HasPrefix(lower, "0x") {
			u, err := strconv.ParseUint(lower[2:], 16, 64)
			if err != nil {
				return Value{}, fmt.Errorf("invalid hex value %q", s)
			}
			return UintValue(u), nil
		}
		if strings.HasPrefix(s, "-") {
			i, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return Value{}, fmt.Errorf("invalid integer %q", s)
			}
			return IntValue(i), nil
		}
		u, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid integer %q", s)
		}
		return UintValue(u), nil
	}

	switch n := raw.(type) {
	case uint64:
		return UintValue(n), nil
	case uint:
		return UintValue(uint64(n)), nil
	}

	i, err := cast.ToInt64E(raw)
	if err != nil {
		return Value{}, err
	}
	if i < 0 {
		return IntValue(i), nil
	}
	u, err := cast.ToUint64E(raw)
	if err != nil {
		return Value{}, err
	}
	return UintValue(u), nil
}
