// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package upgrade

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewImage_Padding(t *testing.T) {
	tests := []struct {
		size, align, want int
	}{
		{1000, 256, 1024},
		{1024, 256, 1024},
		{0, 256, 0},
		{3, 1, 3},
		{5, 4, 8},
	}
	for _, tt := range tests {
		img := NewImage(make([]byte, tt.size), tt.align)
		if len(img.Data) != tt.want {
			t.Errorf("NewImage(%d, %d) = %d bytes, want %d", tt.size, tt.align, len(img.Data), tt.want)
		}
	}
}

func TestPages_Layout(t *testing.T) {
	cfg := Config{Align: 4, PageBytes: 8, Base: 100, BinaryTag: 7, Mode: 3}
	img := NewImage([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, cfg.Align)

	if diff := cmp.Diff([]uint16{7, 3, 12, 0}, header(cfg, img).Values); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}

	got := pages(cfg, img)
	want := []Request{
		{Kind: RequestPage, Address: 104, Offset: 0, Values: []uint16{8, 0, 0, 0x0201, 0x0403, 0x0605, 0x0807, 0, 1}},
		{Kind: RequestPage, Address: 104, Offset: 8, Values: []uint16{8, 8, 0, 0x0A09, 0x0000, 0, 0, 0, 1}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}
	if cfg.StatusAddress() != 111 {
		t.Errorf("StatusAddress = %d, want 111", cfg.StatusAddress())
	}
}

func TestPages_OddTrailingByte(t *testing.T) {
	cfg := Config{Align: 1, PageBytes: 4}
	got := pages(cfg, NewImage([]byte{0x11, 0x22, 0x33}, cfg.Align))
	if diff := cmp.Diff([]uint16{4, 0, 0, 0x2211, 0x0033, 0, 1}, got[0].Values); diff != "" {
		t.Errorf("page mismatch (-want +got):\n%s", diff)
	}
}

func TestPages_Split(t *testing.T) {
	cfg := Config{Align: 256, PageBytes: 256}
	img := NewImage(make([]byte, 1000), cfg.Align)
	if len(img.Data) != 1024 {
		t.Fatalf("image = %d bytes, want 1024", len(img.Data))
	}
	got := pages(cfg, img)
	var offsets []int
	for _, p := range got {
		offsets = append(offsets, p.Offset)
	}
	if diff := cmp.Diff([]int{0, 256, 512, 768}, offsets); diff != "" {
		t.Errorf("page offsets mismatch (-want +got):\n%s", diff)
	}
}

func TestPages_LargeOffset(t *testing.T) {
	cfg := Config{Align: 256, PageBytes: 256}
	got := pages(cfg, NewImage(make([]byte, 0x10100), cfg.Align))
	last := got[len(got)-1]
	if last.Offset != 0x10000 || last.Values[1] != 0 || last.Values[2] != 1 {
		t.Errorf("last page offset words = %d, %d", last.Values[1], last.Values[2])
	}
	if h := header(cfg, NewImage(make([]byte, 0x10100), cfg.Align)); h.Values[2] != 0x0100 || h.Values[3] != 1 {
		t.Errorf("header length words = %v", h.Values[2:])
	}
}

func TestCRC32(t *testing.T) {
	seq := make([]byte, 16)
	for i := range seq {
		seq[i] = byte(i)
	}
	tests := []struct {
		name string
		data []byte
		want uint32
	}{
		{"single word", []byte{0x78, 0x56, 0x34, 0x12}, 0xDF8A8A2B},
		{"sequence", seq, 0x081B46CA},
		{"zero page", make([]byte, 1024), 0x8B0A5208},
		{"trailing bytes ignored", []byte{0x78, 0x56, 0x34, 0x12, 0xFF}, 0xDF8A8A2B},
		{"empty", nil, 0xFFFFFFFF},
	}
	for _, tt := range tests {
		if got := CRC32(tt.data); got != tt.want {
			t.Errorf("%s: CRC32 = 0x%08X, want 0x%08X", tt.name, got, tt.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"default", Config{Align: 256, PageBytes: 128}, true},
		{"largest page", Config{Align: 256, PageBytes: 236}, true},
		{"page over one write", Config{Align: 256, PageBytes: 238}, false},
		{"133 word page", Config{Align: 256, PageBytes: 256}, false},
		{"zero align", Config{Align: 0, PageBytes: 128}, false},
		{"odd page", Config{Align: 256, PageBytes: 127}, false},
		{"window past end", Config{Align: 256, PageBytes: 128, Base: 65500}, false},
	}
	for _, tt := range tests {
		if err := tt.cfg.Validate(); (err == nil) != tt.ok {
			t.Errorf("%s: Validate() = %v", tt.name, err)
		}
	}
}
