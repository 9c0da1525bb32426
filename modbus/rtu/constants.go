// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

// ADU size limits: slave id, function code, up to 252 data bytes and CRC.
const (
	MinSize = 4
	MaxSize = 256

	ExceptionSize = 5
)

// requestHeaderSize covers the byte count field of the write-multiple requests.
const requestHeaderSize = 7
