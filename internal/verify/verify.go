// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package verify runs the read/write soak test against one or more devices.
//
// Each iteration refreshes the register map, checks that unsupported
// requests are rejected with the right exception and writes the iteration
// number to a test register before reading it back.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/mbverify/internal/regmap"
	"github.com/ffutop/mbverify/modbus"
)

// Registers is the part of a register map the test exercises.
type Registers interface {
	ReadInputs(ctx context.Context) error
	ReadHoldings(ctx context.Context) error
	WriteByName(ctx context.Context, name string, v regmap.Value) error
	ReadByName(ctx context.Context, name string) (regmap.Value, error)
}

// Target is one device under test.
type Target struct {
	Slave     byte
	Registers Registers
}

// Config controls the soak test.
type Config struct {
	Iterations int
	Delay      time.Duration // after every device of every iteration
	Register   string        // holding register used for the write/read back
	Logger     *slog.Logger
}

// Rejection is a request the device must reject with Exception.
type Rejection struct {
	Name      string
	Request   modbus.ProtocolDataUnit
	Exception byte
}

// Rejections are sent to every device on each iteration.
var Rejections = []Rejection{
	{"read coils", modbus.RawRequest(modbus.FuncCodeReadCoils, 0, 10), modbus.ExceptionCodeIllegalFunction},
	{"read discrete inputs", modbus.RawRequest(modbus.FuncCodeReadDiscreteInputs, 0, 10), modbus.ExceptionCodeIllegalFunction},
	{"write single coil", modbus.RawRequest(modbus.FuncCodeWriteSingleCoil, 1, 0xFF00), modbus.ExceptionCodeIllegalFunction},
	{"write multiple coils", modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteMultipleCoils,
		Data:         []byte{0x00, 0x00, 0x00, 0x02, 0x01, 0x03},
	}, modbus.ExceptionCodeIllegalFunction},
	{"write single register", modbus.RawRequest(modbus.FuncCodeWriteSingleRegister, 1, 150), modbus.ExceptionCodeIllegalFunction},
	{"read input illegal address", modbus.RawRequest(modbus.FuncCodeReadInputRegisters, 900, 10), modbus.ExceptionCodeIllegalDataAddress},
	{"read input oversized", modbus.RawRequest(modbus.FuncCodeReadInputRegisters, 0, 150), modbus.ExceptionCodeIllegalDataValue},
}

// Result summarises a soak test run.
type Result struct {
	Iterations int
	Errors     int
	Elapsed    time.Duration
}

// DefaultRegister is the holding register written when Config.Register is empty.
const DefaultRegister = "SYS_TEST"

// Run performs cfg.Iterations test iterations over targets and returns the
// number of failed checks. Failed input and holding refreshes are only
// logged; they show in the map's counters.
func Run(ctx context.Context, targets []Target, raw modbus.Transporter, cfg Config) (Result, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Register == "" {
		cfg.Register = DefaultRegister
	}
	start := time.Now()
	var res Result

	for itr := 0; itr < cfg.Iterations; itr++ {
		for _, t := range targets {
			if err := ctx.Err(); err != nil {
				res.Elapsed = time.Since(start)
				return res, err
			}
			if err := t.Registers.ReadInputs(ctx); err != nil {
				log.Warn("Reading input registers failed", "slave", t.Slave, "err", err)
			}
			if err := t.Registers.ReadHoldings(ctx); err != nil {
				log.Warn("Reading holding registers failed", "slave", t.Slave, "err", err)
			}

			for _, p := range Rejections {
				if err := checkRejection(ctx, raw, t.Slave, p); err != nil {
					res.Errors++
					log.Error("Rejection check failed", "slave", t.Slave, "check", p.Name, "err", err)
				}
			}

			if err := readBack(ctx, log, t.Registers, cfg.Register, itr); err != nil {
				res.Errors++
				log.Error("Write/read back failed", "slave", t.Slave, "register", cfg.Register, "err", err)
			}

			log.Info("Test iteration", "iteration", itr+1, "errors", res.Errors, "slave", t.Slave)
			if err := sleep(ctx, cfg.Delay); err != nil {
				res.Elapsed = time.Since(start)
				return res, err
			}
		}
		res.Iterations++
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// checkRejection succeeds only when the device answers p with p.Exception.
func checkRejection(ctx context.Context, raw modbus.Transporter, slave byte, p Rejection) error {
	resp, err := raw.Send(ctx, slave, p.Request)
	if err != nil {
		return err
	}
	err = modbus.CheckResponse(p.Request, resp)
	var exc *modbus.ExceptionError
	switch {
	case err == nil:
		return fmt.Errorf("request accepted, want exception %d", p.Exception)
	case !errors.As(err, &exc):
		return err
	case exc.ExceptionCode != p.Exception:
		return fmt.Errorf("got exception %d, want %d", exc.ExceptionCode, p.Exception)
	}
	return nil
}

func readBack(ctx context.Context, log *slog.Logger, regs Registers, name string, itr int) error {
	if err := regs.WriteByName(ctx, name, regmap.UintValue(uint64(itr))); err != nil {
		log.Warn("Test register write failed", "register", name, "err", err)
	}
	v, err := regs.ReadByName(ctx, name)
	if err != nil {
		return err
	}
	if v.Float64() != float64(itr) {
		return fmt.Errorf("read back %v, want %d", v, itr)
	}
	return nil
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
