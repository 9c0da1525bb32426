// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package regmap

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// MaxIntegerWords is the widest Integer register, 64 bits.
const MaxIntegerWords = 4

var (
	errOutOfRange = errors.New("value out of range")
	errWidth      = errors.New("word count not allowed for format")
	errType       = errors.New("value type does not match format")
)

// Encode converts v into wordCount device words, least significant word first.
func Encode(f Format, v Value, wordCount int) ([]uint16, error) {
	if wordCount < 1 {
		return nil, errWidth
	}
	switch f {
	case Integer:
		return encodeInteger(v, wordCount)
	case FixedPoint:
		return encodeFixedPoint(v, wordCount)
	case Float32:
		if wordCount != 2 {
			return nil, errWidth
		}
		if v.Type == TypeText {
			return nil, errType
		}
		bits := math.Float32bits(float32(v.Float64()))
		return []uint16{uint16(bits), uint16(bits >> 16)}, nil
	case Text:
		if v.Type != TypeText {
			return nil, errType
		}
		buf := make([]byte, 2*wordCount)
		copy(buf, v.Text)
		words := make([]uint16, wordCount)
		for i := range words {
			words[i] = uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
		}
		return words, nil
	default:
		return nil, fmt.Errorf("unknown format %v", f)
	}
}

func encodeInteger(v Value, wordCount int) ([]uint16, error) {
	if wordCount > MaxIntegerWords {
		return nil, errWidth
	}
	bits := uint(16 * wordCount)

	var raw uint64
	switch v.Type {
	case TypeUint:
		if bits < 64 && v.Uint >= 1<<bits {
			return nil, errOutOfRange
		}
		raw = v.Uint
	case TypeInt:
		// Negative values are stored as two's complement of the register width.
		if bits < 64 && (v.Int < -(1<<(bits-1)) || v.Int >= 1<<bits) {
			return nil, errOutOfRange
		}
		raw = uint64(v.Int)
	case TypeFloat:
		if v.Float != math.Trunc(v.Float) || math.IsInf(v.Float, 0) {
			return nil, errType
		}
		if v.Float < 0 {
			return encodeInteger(IntValue(int64(v.Float)), wordCount)
		}
		if v.Float >= math.Pow(2, float64(bits)) {
			return nil, errOutOfRange
		}
		return encodeInteger(UintValue(uint64(v.Float)), wordCount)
	default:
		return nil, errType
	}

	words := make([]uint16, wordCount)
	for i := range words {
		words[i] = uint16(raw >> (16 * uint(i)))
	}
	return words, nil
}

func encodeFixedPoint(v Value, wordCount int) ([]uint16, error) {
	if wordCount != 1 {
		return nil, errWidth
	}
	if v.Type == TypeText {
		return nil, errType
	}
	scaled := math.Round(v.Float64() * 10)
	if math.IsNaN(scaled) || scaled < math.MinInt16 || scaled > math.MaxInt16 {
		return nil, errOutOfRange
	}
	if scaled < 0 {
		scaled += 65536
	}
	return []uint16{uint16(scaled)}, nil
}

// Decode converts device words, least significant first, into a value of format f.
func Decode(f Format, words []uint16) (Value, error) {
	if len(words) == 0 {
		return Value{}, errWidth
	}
	switch f {
	case Integer:
		if len(words) > MaxIntegerWords {
			return Value{}, errWidth
		}
		var raw uint64
		for i, w := range words {
			raw |= uint64(w) << (16 * uint(i))
		}
		return UintValue(raw), nil
	case FixedPoint:
		return FloatValue(float64(int16(words[0])) / 10), nil
	case Float32:
		if len(words) != 2 {
			return Value{}, errWidth
		}
		x := float64(math.Float32frombits(uint32(words[0]) | uint32(words[1])<<16))
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return FloatValue(x), nil
		}
		return FloatValue(math.Round(x*1e4) / 1e4), nil
	case Text:
		buf := make([]byte, 0, 2*len(words))
		for _, w := range words {
			buf = append(buf, byte(w), byte(w>>8))
		}
		for i, b := range buf {
			if b == 0 {
				buf = buf[:i]
				break
			}
		}
		if !utf8.Valid(buf) {
			return Value{}, fmt.Errorf("invalid utf-8 text % x", buf)
		}
		return TextValue(string(buf)), nil
	default:
		return Value{}, fmt.Errorf("unknown format %v", f)
	}
}
