// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package regmap

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every NotFoundError.
	ErrNotFound = errors.New("regmap: register not found")
	// ErrTransport matches every TransportError.
	ErrTransport = errors.New("regmap: transport failure")
)

// DefinitionError reports a malformed register definition.
type DefinitionError struct {
	Name   string
	Reason string
}

func (e *DefinitionError) Error() string {
	if e.Name == "" {
		return "regmap: invalid definition: " + e.Reason
	}
	return fmt.Sprintf("regmap: invalid definition %q: %s", e.Name, e.Reason)
}

// NotFoundError is returned for an unknown register name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("regmap: register %q not found", e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// TransportError is returned once the transport failed every attempt.
type TransportError struct {
	Op       string
	Name     string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	target := e.Name
	if target == "" {
		target = "batch"
	}
	return fmt.Sprintf("regmap: %s %s failed after %d attempt(s): %v", e.Op, target, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// DecodeError is returned when device words do not decode in the register format.
type DecodeError struct {
	Name   string
	Format Format
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("regmap: decode %s as %v: %v", e.Name, e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError is returned when a value cannot be represented in the register format.
type EncodeError struct {
	Name   string
	Format Format
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("regmap: encode %s as %v: %v", e.Name, e.Format, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}
