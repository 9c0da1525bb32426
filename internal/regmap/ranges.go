// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package regmap

import "github.com/ffutop/mbverify/modbus"

// maxSpan caps a coalesced range below the register read limit.
const maxSpan = modbus.WriteRegistersQuantityMax

// AddressRange is an inclusive span of addresses read with one request.
type AddressRange struct {
	Start uint16
	End   uint16
}

// Count is the number of words in r.
func (r AddressRange) Count() uint16 {
	return r.End - r.Start + 1
}

// coalesce merges definitions, in order, whose first word directly follows
// the span so far while the span stays under maxSpan words.
func coalesce(defs []*Definition) []AddressRange {
	var ranges []AddressRange
	for _, d := range defs {
		if n := len(ranges); n > 0 {
			cur := &ranges[n-1]
			if int(d.First()) == int(cur.End)+1 && int(d.Last())-int(cur.Start) < maxSpan {
				cur.End = d.Last()
				continue
			}
		}
		ranges = append(ranges, AddressRange{Start: d.First(), End: d.Last()})
	}
	return ranges
}
