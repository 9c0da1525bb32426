// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package upgrade

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math/bits"
	"time"

	"github.com/ffutop/mbverify/modbus"
)

// Layout of the upgrade window, in words from the base address.
const (
	headerWords  = 4 // binary tag, mode, length low, length high
	pagePrefix   = 3 // page bytes, offset low, offset high
	pageSuffix   = 2 // status slot, marker
	applyOffset  = 1
	applyCommand = 2
	pageMarker   = 1
)

// Config describes the upgrade window of the device.
type Config struct {
	Align            int    // image length is padded to a multiple of Align bytes
	PageBytes        int    // payload bytes per page, even
	Base             uint16 // first register of the upgrade window
	BinaryTag        uint16
	Mode             uint16
	InitDelay        time.Duration // after the header is accepted
	BlockDelay       time.Duration // before each status poll
	SkipApplyOnAbort bool
	Slave            byte
}

// Validate reports settings that cannot produce a page layout.
func (c Config) Validate() error {
	if c.Align <= 0 {
		return fmt.Errorf("upgrade: align must be positive, got %d", c.Align)
	}
	if c.PageBytes <= 0 || c.PageBytes%2 != 0 {
		return fmt.Errorf("upgrade: page bytes must be a positive even number, got %d", c.PageBytes)
	}
	if c.PageWords() > modbus.WriteRegistersQuantityMax {
		return fmt.Errorf("upgrade: page of %d bytes needs %d words, a write carries at most %d",
			c.PageBytes, c.PageWords(), modbus.WriteRegistersQuantityMax)
	}
	if int(c.Base)+headerWords+c.PageWords() > 0x10000 {
		return fmt.Errorf("upgrade: page of %d words at %d leaves the register space", c.PageWords(), c.Base)
	}
	return nil
}

// PageWords is the size of a page request in words.
func (c Config) PageWords() int {
	return pagePrefix + c.PageBytes/2 + pageSuffix
}

// PageAddress is where page requests are written.
func (c Config) PageAddress() uint16 {
	return c.Base + headerWords
}

// StatusAddress is the status slot polled after each page.
func (c Config) StatusAddress() uint16 {
	return c.Base + headerWords + pagePrefix + uint16(c.PageBytes/2)
}

// ApplyAddress receives the final apply command.
func (c Config) ApplyAddress() uint16 {
	return c.Base + applyOffset
}

// RequestKind tells the phase a request belongs to.
type RequestKind int

const (
	RequestHeader RequestKind = iota
	RequestPage
	RequestApply
)

func (k RequestKind) String() string {
	switch k {
	case RequestHeader:
		return "header"
	case RequestPage:
		return "page"
	default:
		return "apply"
	}
}

// Request is one register write of the upgrade.
type Request struct {
	Kind    RequestKind
	Address uint16
	Values  []uint16
	Offset  int // image byte offset of a page
}

// Image is a firmware image padded to the configured alignment.
type Image struct {
	Data []byte
	CRC  uint32
}

// NewImage pads data with zero bytes to a multiple of align.
func NewImage(data []byte, align int) Image {
	padded := make([]byte, len(data)+padding(len(data), align))
	copy(padded, data)
	return Image{Data: padded, CRC: CRC32(padded)}
}

func padding(n, align int) int {
	if align <= 0 || n%align == 0 {
		return 0
	}
	return align - n%align
}

// header builds the request announcing the image.
func header(cfg Config, img Image) Request {
	n := uint32(len(img.Data))
	return Request{
		Kind:    RequestHeader,
		Address: cfg.Base,
		Values:  []uint16{cfg.BinaryTag, cfg.Mode, uint16(n), uint16(n >> 16)},
	}
}

// pages slices the image into page requests. Payload bytes are packed two
// per word, low byte first; a short last page is zero filled.
func pages(cfg Config, img Image) []Request {
	count := (len(img.Data) + cfg.PageBytes - 1) / cfg.PageBytes
	reqs := make([]Request, 0, count)
	for p := 0; p < count; p++ {
		off := p * cfg.PageBytes
		end := off + cfg.PageBytes
		if end > len(img.Data) {
			end = len(img.Data)
		}
		chunk := img.Data[off:end]

		values := make([]uint16, cfg.PageWords())
		values[0] = uint16(cfg.PageBytes)
		values[1] = uint16(uint32(off))
		values[2] = uint16(uint32(off) >> 16)
		for i := 0; i+1 < len(chunk); i += 2 {
			values[pagePrefix+i/2] = binary.LittleEndian.Uint16(chunk[i:])
		}
		if len(chunk)%2 == 1 {
			values[pagePrefix+len(chunk)/2] = uint16(chunk[len(chunk)-1])
		}
		values[len(values)-1] = pageMarker

		reqs = append(reqs, Request{Kind: RequestPage, Address: cfg.PageAddress(), Values: values, Offset: off})
	}
	return reqs
}

func apply(cfg Config) Request {
	return Request{Kind: RequestApply, Address: cfg.ApplyAddress(), Values: []uint16{applyCommand}}
}

var crcTable = crc32.MakeTable(crc32.IEEE)

// CRC32 is the checksum the STM32 CRC unit computes over data as
// little-endian 32-bit words: polynomial 0x04C11DB7, initial value
// 0xFFFFFFFF, no reflection, no final xor. Trailing bytes short of a word
// are ignored.
func CRC32(data []byte) uint32 {
	words := make([]byte, len(data)/4*4)
	for i := 0; i < len(words); i += 4 {
		binary.LittleEndian.PutUint32(words[i:], bits.Reverse32(binary.LittleEndian.Uint32(data[i:])))
	}
	return bits.Reverse32(^crc32.Update(0, crcTable, words))
}
