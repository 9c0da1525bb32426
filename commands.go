// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/ffutop/mbverify/internal/config"
	"github.com/ffutop/mbverify/internal/regmap"
	"github.com/ffutop/mbverify/internal/upgrade"
	"github.com/ffutop/mbverify/internal/verify"
	"github.com/ffutop/mbverify/transport"
	"github.com/spf13/cast"
	"go.uber.org/multierr"
)

type command struct {
	name    string
	args    string
	help    string
	minArgs int
	run     func(a *app, ctx context.Context, args []string) error
}

var commands = []command{
	{"dump", "", "read inputs and holdings, print every register", 0, (*app).dump},
	{"read", "<name>", "read one register", 1, (*app).read},
	{"read-series", "<base> <n>", "read base_1..base_n", 2, (*app).readSeries},
	{"write", "<name> <value>", "write one register", 2, (*app).write},
	{"write-series", "<base> <v>...", "write base_1..base_n", 2, (*app).writeSeries},
	{"write-holdings", "", "write the current value of every holding register", 0, (*app).writeHoldings},
	{"upgrade", "<image>", "upgrade the device firmware (--dry-run prints the plan)", 1, (*app).upgrade},
	{"test", "", "run the read/write soak test", 0, (*app).test},
	{"simulate", "", "serve the simulated device", 0, (*app).simulate},
}

// app carries the state shared by the commands of one invocation.
type app struct {
	cfg    *config.Config
	dryRun bool
	out    io.Writer

	entries []regmap.Entry
	link    transport.Link
	client  *transport.Client
}

func dispatch(ctx context.Context, a *app, args []string) error {
	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		if len(args)-1 < c.minArgs {
			return fmt.Errorf("usage: %s %s", c.name, c.args)
		}
		defer a.close()
		return c.run(a, ctx, args[1:])
	}
	return fmt.Errorf("unknown command %q", args[0])
}

// connect loads the register map and opens the link to the device.
func (a *app) connect(ctx context.Context) error {
	entries, err := config.LoadRegisterMap(a.cfg.Registers.File)
	if err != nil {
		return err
	}
	a.entries = entries

	link, err := newLink(a.cfg, entries)
	if err != nil {
		return err
	}
	if err := link.Connect(ctx); err != nil {
		link.Close()
		return fmt.Errorf("failed to connect %s link: %w", a.cfg.Link.Type, err)
	}
	a.link = link
	a.client = transport.NewClient(link)
	return nil
}

func (a *app) close() {
	if a.link == nil {
		return
	}
	if err := a.link.Close(); err != nil {
		slog.Warn("Failed to close link", "err", err)
	}
	a.link = nil
	a.client = nil
}

// registers connects and loads the register map of slave.
func (a *app) registers(ctx context.Context, slave int) (*regmap.Map, error) {
	if a.client == nil {
		if err := a.connect(ctx); err != nil {
			return nil, err
		}
	}
	return regmap.Load(a.client, regmap.Config{
		Slave:    byte(slave),
		Attempts: a.cfg.Registers.Attempts,
		Delay:    a.cfg.Registers.Delay,
		Logger:   slog.Default().With("slave", slave),
	}, a.entries)
}

func logCounters(m *regmap.Map) {
	comm, bounds := m.Counters(false)
	slog.Info("Register counters", "commErrors", comm, "outOfBounds", bounds)
}

func (a *app) dump(ctx context.Context, _ []string) error {
	m, err := a.registers(ctx, a.cfg.Slave)
	if err != nil {
		return err
	}
	defer logCounters(m)
	err = multierr.Append(m.ReadInputs(ctx), m.ReadHoldings(ctx))

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tADDRESS\tVALUE\tHEX\tLABEL")
	for _, kind := range []regmap.Kind{regmap.Input, regmap.Holding} {
		for _, d := range m.Definitions(kind) {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", d.Name, d.Kind, d.First(), d.Value, d.Hex(), d.Label)
		}
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	return err
}

func (a *app) read(ctx context.Context, args []string) error {
	m, err := a.registers(ctx, a.cfg.Slave)
	if err != nil {
		return err
	}
	defer logCounters(m)
	v, err := m.ReadByName(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s = %s\n", args[0], v)
	return nil
}

func (a *app) readSeries(ctx context.Context, args []string) error {
	n, err := cast.ToIntE(args[1])
	if err != nil || n < 1 {
		return fmt.Errorf("invalid series length %q", args[1])
	}
	m, err := a.registers(ctx, a.cfg.Slave)
	if err != nil {
		return err
	}
	defer logCounters(m)
	values, err := m.ReadIndexedSeries(ctx, args[0], n)
	for i, v := range values {
		fmt.Fprintf(a.out, "%s = %s\n", regmap.SeriesName(args[0], i+1), v)
	}
	return err
}

func (a *app) write(ctx context.Context, args []string) error {
	m, err := a.registers(ctx, a.cfg.Slave)
	if err != nil {
		return err
	}
	defer logCounters(m)
	d, err := m.Lookup(args[0])
	if err != nil {
		return err
	}
	v, err := regmap.ParseValue(d.Format, args[1])
	if err != nil {
		return &regmap.EncodeError{Name: d.Name, Format: d.Format, Err: err}
	}
	return m.WriteByName(ctx, args[0], v)
}

func (a *app) writeSeries(ctx context.Context, args []string) error {
	m, err := a.registers(ctx, a.cfg.Slave)
	if err != nil {
		return err
	}
	defer logCounters(m)
	base := args[0]
	values := make([]regmap.Value, 0, len(args)-1)
	for i, raw := range args[1:] {
		d, err := m.Lookup(regmap.SeriesName(base, i+1))
		if err != nil {
			return err
		}
		v, err := regmap.ParseValue(d.Format, raw)
		if err != nil {
			return &regmap.EncodeError{Name: d.Name, Format: d.Format, Err: err}
		}
		values = append(values, v)
	}
	return m.WriteIndexedSeries(ctx, base, values)
}

func (a *app) writeHoldings(ctx context.Context, _ []string) error {
	m, err := a.registers(ctx, a.cfg.Slave)
	if err != nil {
		return err
	}
	defer logCounters(m)
	return m.WriteAllHoldings(ctx)
}

func (a *app) upgrade(ctx context.Context, args []string) error {
	up := a.cfg.Upgrade
	ucfg := upgrade.Config{
		Align:            up.Align,
		PageBytes:        up.PageBytes,
		Base:             uint16(up.Address),
		BinaryTag:        uint16(up.TypeBinary),
		Mode:             uint16(up.ModeOperation),
		InitDelay:        up.InitDelay,
		BlockDelay:       up.BlockDelay,
		SkipApplyOnAbort: up.SkipApplyOnAbort,
		Slave:            byte(a.cfg.Slave),
	}

	var tr upgrade.Transport
	if !a.dryRun {
		if err := a.connect(ctx); err != nil {
			return err
		}
		tr = a.client
	}
	c, err := upgrade.New(tr, ucfg)
	if err != nil {
		return err
	}
	if err := c.LoadFile(args[0]); err != nil {
		return err
	}

	if a.dryRun {
		img := c.Image()
		fmt.Fprintf(a.out, "image %s: %d bytes, crc32 0x%08X, %d pages\n", args[0], len(img.Data), img.CRC, c.Size())
		for _, req := range c.Plan() {
			fmt.Fprintf(a.out, "%-6s address %d, %d words, offset %d\n", req.Kind, req.Address, len(req.Values), req.Offset)
		}
		return nil
	}

	errs, err := c.Run(ctx, func(progress, size int) {
		fmt.Fprintf(a.out, "\rpage %d/%d", progress, size)
	})
	fmt.Fprintln(a.out)
	slog.Info("Upgrade finished", "state", c.State(), "progress", c.Progress(), "size", c.Size(), "errors", errs)
	if err != nil {
		return err
	}
	if errs != 0 {
		return fmt.Errorf("upgrade %s with %d errors", c.State(), errs)
	}
	return nil
}

func (a *app) test(ctx context.Context, _ []string) error {
	slaves := a.cfg.Verify.Slaves
	if len(slaves) == 0 {
		slaves = []int{a.cfg.Slave}
	}
	var (
		targets []verify.Target
		maps    []*regmap.Map
	)
	for _, s := range slaves {
		m, err := a.registers(ctx, s)
		if err != nil {
			return err
		}
		targets = append(targets, verify.Target{Slave: byte(s), Registers: m})
		maps = append(maps, m)
	}

	res, err := verify.Run(ctx, targets, a.link, verify.Config{
		Iterations: a.cfg.Verify.Iterations,
		Delay:      a.cfg.Verify.Delay,
		Register:   a.cfg.Verify.Register,
	})
	for i, m := range maps {
		comm, bounds := m.Counters(false)
		slog.Info("Register counters", "slave", slaves[i], "commErrors", comm, "outOfBounds", bounds)
	}
	slog.Info("Test finished", "iterations", res.Iterations, "errors", res.Errors, "elapsed", res.Elapsed)
	fmt.Fprintf(a.out, "%d iterations, %d errors\n", res.Iterations, res.Errors)

	if a.cfg.Verify.Report != "" {
		if rerr := res.Report(a.cfg.Link.Type).Write(a.cfg.Verify.Report); rerr != nil {
			err = multierr.Append(err, rerr)
		}
	}
	if err != nil {
		return err
	}
	if res.Errors != 0 {
		return fmt.Errorf("test failed with %d errors", res.Errors)
	}
	return nil
}

func (a *app) simulate(ctx context.Context, _ []string) error {
	sim := a.cfg.Simulate
	var entries []regmap.Entry
	if sim.Device.Seed {
		var err error
		if entries, err = config.LoadRegisterMap(a.cfg.Registers.File); err != nil {
			return err
		}
	}
	slave, storage, err := newDevice(sim.Device, a.cfg.Upgrade, entries)
	if err != nil {
		return err
	}
	defer storage.Close()

	server, err := newServer(sim)
	if err != nil {
		return err
	}
	slog.Info("Starting simulated device", "type", sim.Type)
	err = server.Start(ctx, slave.Handle)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	slog.Info("Simulated device stopped")
	return err
}
