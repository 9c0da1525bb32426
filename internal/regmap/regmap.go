// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package regmap maps names to typed values stored in device registers.
//
// A Map is not safe for concurrent use.
package regmap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/ffutop/mbverify/transport"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

const (
	DefaultAttempts = 2
	DefaultDelay    = 500 * time.Millisecond
)

// Transport performs register requests against the device.
type Transport interface {
	Read(ctx context.Context, req transport.ReadRequest) ([]uint16, error)
	Write(ctx context.Context, req transport.WriteRequest) error
}

// Reopener is implemented by transports able to reopen a closed link.
type Reopener interface {
	Reopen(ctx context.Context) error
}

// Config holds the addressing and retry policy of a Map.
type Config struct {
	Slave    byte
	Attempts int           // per single register operation, at least 1
	Delay    time.Duration // between attempts
	Logger   *slog.Logger
}

// DefaultConfig addresses slave 1 with the default retry policy.
func DefaultConfig() Config {
	return Config{Slave: 1, Attempts: DefaultAttempts, Delay: DefaultDelay}
}

// Map owns the register definitions of one device.
type Map struct {
	tr  Transport
	cfg Config
	log *slog.Logger

	inputs        []*Definition
	holdings      []*Definition
	byName        map[string]*Definition
	inputRanges   []AddressRange
	holdingRanges []AddressRange

	commErrors       atomic.Int64
	boundsViolations atomic.Int64
}

// Load validates entries and builds the map. Every invalid entry is
// reported as a DefinitionError.
func Load(tr Transport, cfg Config, entries []Entry) (*Map, error) {
	if cfg.Attempts < 1 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	m := &Map{
		tr:     tr,
		cfg:    cfg,
		log:    cfg.Logger,
		byName: make(map[string]*Definition, len(entries)),
	}
	if m.log == nil {
		m.log = slog.Default()
	}

	var errs error
	for _, e := range entries {
		d, err := NewDefinition(e)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if _, dup := m.byName[d.Name]; dup {
			errs = multierr.Append(errs, &DefinitionError{Name: d.Name, Reason: "duplicate name"})
			continue
		}
		m.byName[d.Name] = d
		if d.Kind == Holding {
			m.holdings = append(m.holdings, d)
		} else {
			m.inputs = append(m.inputs, d)
		}
	}
	if errs != nil {
		return nil, errs
	}

	m.inputRanges = coalesce(m.inputs)
	m.holdingRanges = coalesce(m.holdings)
	m.log.Debug("Register map loaded",
		"inputs", len(m.inputs), "holdings", len(m.holdings),
		"input_ranges", len(m.inputRanges), "holding_ranges", len(m.holdingRanges))
	return m, nil
}

// Lookup returns the definition called name.
func (m *Map) Lookup(name string) (*Definition, error) {
	d, ok := m.byName[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return d, nil
}

// Definitions returns the definitions of kind in load order.
func (m *Map) Definitions(kind Kind) []*Definition {
	if kind == Holding {
		return m.holdings
	}
	return m.inputs
}

// Ranges returns the coalesced batch read ranges of kind.
func (m *Map) Ranges(kind Kind) []AddressRange {
	if kind == Holding {
		return m.holdingRanges
	}
	return m.inputRanges
}

// Reopen asks the transport to reopen its link if it was closed.
func (m *Map) Reopen(ctx context.Context) error {
	if r, ok := m.tr.(Reopener); ok {
		return r.Reopen(ctx)
	}
	return nil
}

// ReadByName reads one register, retrying transport failures.
func (m *Map) ReadByName(ctx context.Context, name string) (Value, error) {
	d, err := m.Lookup(name)
	if err != nil {
		return Value{}, err
	}

	var words []uint16
	attempts, err := m.retry(ctx, func() error {
		var rerr error
		words, rerr = m.tr.Read(ctx, m.readRequest(d.Kind, d.First(), uint16(d.Width())))
		if rerr == nil && len(words) != d.Width() {
			rerr = fmt.Errorf("got %d words, want %d", len(words), d.Width())
		}
		return rerr
	})
	if err != nil {
		return Value{}, &TransportError{Op: "read", Name: name, Attempts: attempts, Err: err}
	}

	v, err := Decode(d.Format, words)
	if err != nil {
		return Value{}, &DecodeError{Name: name, Format: d.Format, Err: err}
	}
	m.store(d, v)
	return v, nil
}

// WriteByName writes v to a holding register, retrying transport failures.
// The definition keeps v once the write succeeded.
func (m *Map) WriteByName(ctx context.Context, name string, v Value) error {
	d, err := m.Lookup(name)
	if err != nil {
		return err
	}
	words, err := Encode(d.Format, v, d.Width())
	if err != nil {
		return &EncodeError{Name: name, Format: d.Format, Err: err}
	}

	req := transport.WriteRequest{Address: d.First(), Values: words, Slave: m.cfg.Slave}
	attempts, err := m.retry(ctx, func() error {
		return m.tr.Write(ctx, req)
	})
	if err != nil {
		return &TransportError{Op: "write", Name: name, Attempts: attempts, Err: err}
	}
	m.store(d, v)
	return nil
}

// WriteIndexedSeries writes values to base's series, replacing the trailing
// number of base with 1..len(values). Every write is attempted.
func (m *Map) WriteIndexedSeries(ctx context.Context, base string, values []Value) error {
	var errs error
	for i, v := range values {
		errs = multierr.Append(errs, m.WriteByName(ctx, SeriesName(base, i+1), v))
	}
	return errs
}

// ReadIndexedSeries reads count registers of base's series. Values that
// could not be read are left zero.
func (m *Map) ReadIndexedSeries(ctx context.Context, base string, count int) ([]Value, error) {
	values := make([]Value, count)
	var errs error
	for i := range values {
		v, err := m.ReadByName(ctx, SeriesName(base, i+1))
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		values[i] = v
	}
	return values, errs
}

// SeriesName is the name of member index of base's series.
func SeriesName(base string, index int) string {
	return fmt.Sprintf("%s%d", strings.TrimRightFunc(base, unicode.IsDigit), index)
}

// ReadInputs refreshes every input register, one request per range.
func (m *Map) ReadInputs(ctx context.Context) error {
	return m.readBatch(ctx, Input)
}

// ReadHoldings refreshes every holding register, one request per range.
func (m *Map) ReadHoldings(ctx context.Context) error {
	return m.readBatch(ctx, Holding)
}

// readBatch stops at the first failed request. Ranges already read keep
// their new values.
func (m *Map) readBatch(ctx context.Context, kind Kind) error {
	defs := m.Definitions(kind)
	var decodeErrs error
	for _, r := range m.Ranges(kind) {
		words, err := m.tr.Read(ctx, m.readRequest(kind, r.Start, r.Count()))
		if err == nil && len(words) != int(r.Count()) {
			err = fmt.Errorf("got %d words, want %d", len(words), r.Count())
		}
		if err != nil {
			m.commErrors.Inc()
			m.log.Warn("Batch read aborted", "kind", kind, "start", r.Start, "count", r.Count(), "err", err)
			return multierr.Append(&TransportError{Op: "read " + strings.ToLower(kind.String()), Attempts: 1, Err: err}, decodeErrs)
		}
		decodeErrs = multierr.Append(decodeErrs, m.demux(defs, r, words))
	}
	return decodeErrs
}

// demux decodes the definitions starting inside r from its words.
func (m *Map) demux(defs []*Definition, r AddressRange, words []uint16) error {
	var errs error
	for _, d := range defs {
		if d.First() < r.Start || d.Last() > r.End {
			continue
		}
		off := int(d.First() - r.Start)
		v, err := Decode(d.Format, words[off:off+d.Width()])
		if err != nil {
			errs = multierr.Append(errs, &DecodeError{Name: d.Name, Format: d.Format, Err: err})
			continue
		}
		m.store(d, v)
	}
	return errs
}

// WriteAllHoldings writes the current value of every holding register, one
// request per register. The first failed write stops the batch.
func (m *Map) WriteAllHoldings(ctx context.Context) error {
	for _, d := range m.holdings {
		words, err := Encode(d.Format, d.Value, d.Width())
		if err != nil {
			return &EncodeError{Name: d.Name, Format: d.Format, Err: err}
		}
		err = m.tr.Write(ctx, transport.WriteRequest{Address: d.First(), Values: words, Slave: m.cfg.Slave})
		if err != nil {
			m.commErrors.Inc()
			return &TransportError{Op: "write", Name: d.Name, Attempts: 1, Err: err}
		}
	}
	return nil
}

// Counters returns the communication error and bounds violation counts,
// clearing them in the same step when clear is set.
func (m *Map) Counters(clear bool) (commErrors, boundsViolations int64) {
	return m.ErrorCount(clear), m.OutOfBounds(clear)
}

// ErrorCount returns the number of failed transport calls.
func (m *Map) ErrorCount(clear bool) int64 {
	if clear {
		return m.commErrors.Swap(0)
	}
	return m.commErrors.Load()
}

// OutOfBounds returns the number of values seen outside their bounds.
func (m *Map) OutOfBounds(clear bool) int64 {
	if clear {
		return m.boundsViolations.Swap(0)
	}
	return m.boundsViolations.Load()
}

// store keeps v and counts a bounds violation. The value is never clamped.
func (m *Map) store(d *Definition, v Value) {
	d.Value = v
	if !d.inBounds(v) {
		m.boundsViolations.Inc()
		m.log.Warn("Register value out of bounds", "name", d.Name, "value", v.String(),
			"min", d.Bounds.Min, "max", d.Bounds.Max)
	}
}

func (m *Map) readRequest(kind Kind, address, count uint16) transport.ReadRequest {
	return transport.ReadRequest{Address: address, Count: count, Table: kind.Table(), Slave: m.cfg.Slave}
}

// retry runs op up to cfg.Attempts times, sleeping cfg.Delay between
// attempts. Every failure counts as a communication error.
func (m *Map) retry(ctx context.Context, op func() error) (int, error) {
	var err error
	attempt := 0
	for attempt < m.cfg.Attempts {
		attempt++
		if err = op(); err == nil {
			return attempt, nil
		}
		m.commErrors.Inc()
		m.log.Debug("Register request failed", "attempt", attempt, "err", err)
		if attempt < m.cfg.Attempts {
			if serr := sleep(ctx, m.cfg.Delay); serr != nil {
				return attempt, serr
			}
		}
	}
	return attempt, err
}

// sleep waits for d unless ctx is done first. The upgrade and verify
// packages keep their own copies of it.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
