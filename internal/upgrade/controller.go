// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package upgrade streams a firmware image into the device through its
// upgrade register window.
//
// The device is sent a header, then one page per write. After each page the
// status slot is polled until the bootloader reports the page as accepted.
// A final apply command starts the new firmware.
package upgrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/ffutop/mbverify/modbus"
	"github.com/ffutop/mbverify/transport"
)

const (
	writeAttempts  = 2
	statusAttempts = 3
)

// Transport performs register requests against the device.
type Transport interface {
	Read(ctx context.Context, req transport.ReadRequest) ([]uint16, error)
	Write(ctx context.Context, req transport.WriteRequest) error
}

// State is the phase of an upgrade session.
type State int

const (
	Idle State = iota
	HeaderSent
	Transferring
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case HeaderSent:
		return "HeaderSent"
	case Transferring:
		return "Transferring"
	case Completed:
		return "Completed"
	case Aborted:
		return "Aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	ErrNotLoaded   = errors.New("upgrade: no image loaded")
	ErrLoaded      = errors.New("upgrade: image already loaded")
	ErrAlreadyRun  = errors.New("upgrade: session already run")
	errNotAccepted = errors.New("page not accepted")
)

// ProgressFunc is called after each page with the pages completed so far
// and the page count.
type ProgressFunc func(progress, size int)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller runs one upgrade session. It is not safe for concurrent use.
type Controller struct {
	tr  Transport
	cfg Config
	log *slog.Logger

	image    *Image
	state    State
	queue    []Request
	progress int
	size     int
	errors   int
	ran      bool
}

// New creates a controller for the upgrade window described by cfg.
func New(tr Transport, cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{tr: tr, cfg: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// LoadFile loads the image stored at path.
func (c *Controller) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("upgrade: failed to read image: %w", err)
	}
	if err := c.Load(data); err != nil {
		return err
	}
	c.log.Info("Firmware image opened", "file", path)
	return nil
}

// Load pads data and queues the header and page requests.
func (c *Controller) Load(data []byte) error {
	if c.image != nil {
		return ErrLoaded
	}
	img := NewImage(data, c.cfg.Align)
	if uint64(len(img.Data)) > math.MaxUint32 {
		return fmt.Errorf("upgrade: image of %d bytes is too large", len(img.Data))
	}

	c.image = &img
	c.queue = append([]Request{header(c.cfg, img)}, pages(c.cfg, img)...)
	c.size = len(c.queue) - 1
	c.log.Info("Firmware image loaded",
		"bytes", len(img.Data), "padding", len(img.Data)-len(data), "pages", c.size,
		"crc32", fmt.Sprintf("0x%08X", img.CRC))
	return nil
}

// Plan returns the requests Run would send, apply included.
func (c *Controller) Plan() []Request {
	plan := make([]Request, 0, len(c.queue)+1)
	plan = append(plan, c.queue...)
	return append(plan, apply(c.cfg))
}

// Image returns the loaded image or nil.
func (c *Controller) Image() *Image { return c.image }

// State returns the session phase.
func (c *Controller) State() State { return c.state }

// Progress returns the number of pages accepted so far.
func (c *Controller) Progress() int { return c.progress }

// Size returns the number of pages of the image.
func (c *Controller) Size() int { return c.size }

// Errors returns the number of aborts and failed apply writes.
func (c *Controller) Errors() int { return c.errors }

// Run drives the upgrade handshake and returns the session error count;
// zero means every page was accepted and the apply command was written.
// The returned error only reports misuse: no image loaded or a second run.
func (c *Controller) Run(ctx context.Context, onProgress ProgressFunc) (int, error) {
	if c.image == nil {
		return 0, ErrNotLoaded
	}
	if c.ran {
		return c.errors, ErrAlreadyRun
	}
	c.ran = true

	c.runHeader(ctx)
	for c.state == Transferring && len(c.queue) > 0 {
		c.runPage(ctx, onProgress)
	}
	c.runApply(ctx)

	if c.errors == 0 {
		c.state = Completed
	} else {
		c.state = Aborted
	}
	c.log.Info("Upgrade finished", "state", c.state, "progress", c.progress, "size", c.size, "errors", c.errors)
	return c.errors, nil
}

func (c *Controller) runHeader(ctx context.Context) {
	req := c.dequeue()
	if err := c.write(ctx, req); err != nil {
		c.abort("header write failed", err)
		return
	}
	c.state = HeaderSent
	c.log.Info("Upgrade header accepted", "address", req.Address, "bytes", len(c.image.Data))
	if err := sleep(ctx, c.cfg.InitDelay); err != nil {
		c.abort("cancelled", err)
		return
	}
	c.state = Transferring
}

func (c *Controller) runPage(ctx context.Context, onProgress ProgressFunc) {
	req := c.dequeue()
	if err := c.write(ctx, req); err != nil {
		c.abort("page write failed", err)
		return
	}
	c.progress++
	c.log.Debug("Upgrade page written", "offset", req.Offset, "progress", c.progress, "size", c.size)

	if err := c.waitReady(ctx); err != nil {
		c.abort("page not accepted", err)
	}
	if onProgress != nil {
		onProgress(c.progress, c.size)
	}
}

// runApply writes the apply command. It is sent after an abort too unless
// SkipApplyOnAbort is set.
func (c *Controller) runApply(ctx context.Context) {
	if c.errors > 0 && c.cfg.SkipApplyOnAbort {
		c.log.Warn("Apply skipped after abort")
		return
	}
	req := apply(c.cfg)
	if err := c.tr.Write(ctx, c.writeRequest(req)); err != nil {
		c.errors++
		c.log.Error("Upgrade apply failed", "address", req.Address, "err", err)
		return
	}
	c.log.Info("Upgrade apply sent", "address", req.Address)
}

// waitReady polls the status slot until it reads 1 or 2.
func (c *Controller) waitReady(ctx context.Context) error {
	read := transport.ReadRequest{
		Address: c.cfg.StatusAddress(),
		Count:   1,
		Table:   modbus.TableHoldingRegisters,
		Slave:   c.cfg.Slave,
	}
	err := errNotAccepted
	for attempt := 1; attempt <= statusAttempts; attempt++ {
		if serr := sleep(ctx, c.cfg.BlockDelay); serr != nil {
			return serr
		}
		words, rerr := c.tr.Read(ctx, read)
		if rerr != nil {
			err = rerr
			c.log.Debug("Upgrade status read failed", "attempt", attempt, "err", rerr)
			continue
		}
		if len(words) > 0 && (words[0] == 1 || words[0] == 2) {
			return nil
		}
		if len(words) > 0 {
			err = fmt.Errorf("%w: status %d", errNotAccepted, words[0])
		}
	}
	return err
}

func (c *Controller) write(ctx context.Context, req Request) error {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		if err = c.tr.Write(ctx, c.writeRequest(req)); err == nil {
			return nil
		}
		c.log.Debug("Upgrade write failed", "kind", req.Kind, "attempt", attempt, "err", err)
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (c *Controller) writeRequest(req Request) transport.WriteRequest {
	return transport.WriteRequest{Address: req.Address, Values: req.Values, Slave: c.cfg.Slave}
}

func (c *Controller) dequeue() Request {
	req := c.queue[0]
	c.queue = c.queue[1:]
	return req
}

// abort drops the pending requests and counts the failure.
func (c *Controller) abort(reason string, err error) {
	c.log.Error("Upgrade terminated", "reason", reason, "remaining_pages", len(c.queue), "err", err)
	c.queue = nil
	c.errors++
	c.state = Aborted
}

// sleep is the same ctx-aware delay as in regmap.
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
