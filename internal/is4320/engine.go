// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package is4320

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RegisterIO is the register level access to the gateway.
type RegisterIO interface {
	WriteRegister(reg, value uint16) error
	ReadRegister(reg uint16) (uint16, error)
}

// Config is the immutable configuration of an Engine.
type Config struct {
	Registers RegisterMap
	ChipID    uint16
	Link      LinkParams
	Request   Request

	RetryInterval time.Duration // between chip detection attempts
	CycleDelay    time.Duration // between request cycles
	PollInterval  time.Duration // between status polls, 0 polls back to back
}

// DefaultConfig reads holding register 0 of slave 1 at 19200 8E1.
func DefaultConfig() Config {
	return Config{
		Registers: DefaultRegisterMap(),
		ChipID:    ChipID,
		Link:      DefaultLinkParams(),
		Request: Request{
			SlaveID:      1,
			FunctionCode: 3,
			Starting:     0,
			Quantity:     1,
		},
		RetryInterval: time.Second,
		CycleDelay:    time.Second,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ChipInfo identifies a detected gateway.
type ChipInfo struct {
	ID  uint16
	Rev uint16
}

// Engine drives the gateway through detection, link configuration and
// request/poll/decode cycles. It is not safe for concurrent use: the gateway
// holds exactly one outstanding request.
type Engine struct {
	cfg      Config
	io       RegisterIO
	reporter Reporter
	sleep    SleepFunc
	cycle    uint64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSleep replaces the wait used between retries and cycles.
func WithSleep(fn SleepFunc) Option {
	return func(e *Engine) {
		e.sleep = fn
	}
}

// NewEngine creates an Engine. A nil reporter discards events.
func NewEngine(cfg Config, io RegisterIO, reporter Reporter, opts ...Option) *Engine {
	if reporter == nil {
		reporter = Reporters(nil)
	}
	e := &Engine{
		cfg:      cfg,
		io:       io,
		reporter: reporter,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Detect reads the identity registers until the expected chip id shows up.
// A failed read counts as a mismatch. It only returns early when ctx is done.
func (e *Engine) Detect(ctx context.Context) (ChipInfo, error) {
	regs := e.cfg.Registers
	for {
		id, idErr := e.io.ReadRegister(regs.ChipID)
		rev, revErr := e.io.ReadRegister(regs.ChipRev)

		ev := DetectionEvent{ChipID: id, ChipRev: rev, Err: errors.Join(idErr, revErr)}
		if idErr == nil && id == e.cfg.ChipID {
			ev.Found = true
			e.reporter.Detection(ev)
			return ChipInfo{ID: id, Rev: rev}, nil
		}
		e.reporter.Detection(ev)

		if err := e.sleep(ctx, e.cfg.RetryInterval); err != nil {
			return ChipInfo{}, err
		}
	}
}

// Configure writes the serial link parameters. Every register is attempted
// even after a failure; the failures are joined. Nothing is read back.
func (e *Engine) Configure() error {
	regs := e.cfg.Registers
	link := e.cfg.Link
	writes := []struct {
		name       string
		reg, value uint16
	}{
		{"baud rate", regs.BaudRate, link.BaudRate},
		{"parity", regs.Parity, link.Parity},
		{"stop bits", regs.StopBits, link.StopBits},
	}
	var errs []error
	for _, w := range writes {
		if err := e.io.WriteRegister(w.reg, w.value); err != nil {
			errs = append(errs, fmt.Errorf("failed to configure %s: %w", w.name, err))
		}
	}
	return errors.Join(errs...)
}

// Execute loads req into the request registers, triggers it and waits for
// the status register. The poll has no deadline of its own: the gateway
// reports a Modbus timeout through the status register.
func (e *Engine) Execute(ctx context.Context, req Request) (Outcome, error) {
	regs := e.cfg.Registers
	writes := []struct {
		name       string
		reg, value uint16
	}{
		{"slave", regs.Slave, req.SlaveID},
		{"function code", regs.Function, req.FunctionCode},
		{"starting address", regs.Starting, req.Starting},
		{"quantity", regs.Quantity, req.Quantity},
		{"execute", regs.Execute, 1},
	}
	for _, w := range writes {
		if err := e.io.WriteRegister(w.reg, w.value); err != nil {
			return Outcome{}, fmt.Errorf("failed to write %s register: %w", w.name, err)
		}
	}

	status, err := e.pollStatus(ctx)
	if err != nil {
		return Outcome{}, err
	}

	e.cycle++
	out := Outcome{
		Cycle:  e.cycle,
		Status: status,
		Kind:   Decode(status),
	}
	if out.Kind == KindSuccess {
		v, err := e.io.ReadRegister(regs.Data1)
		if err != nil {
			slog.Warn("Failed to read result data", "register", regs.Data1, "err", err)
		} else {
			out.Value = v
			out.HasValue = true
		}
	}
	return out, nil
}

// pollStatus reads the status register until a read succeeds.
func (e *Engine) pollStatus(ctx context.Context) (uint16, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		status, err := e.io.ReadRegister(e.cfg.Registers.Status)
		if err == nil {
			return status, nil
		}
		if e.cfg.PollInterval > 0 {
			if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
				return 0, err
			}
		}
	}
}

// Cycle executes the configured request and reports its outcome.
func (e *Engine) Cycle(ctx context.Context) (Outcome, error) {
	out, err := e.Execute(ctx, e.cfg.Request)
	if err != nil {
		return Outcome{}, err
	}
	e.reporter.Outcome(out)
	return out, nil
}

// Run detects the chip, configures the link once and then cycles until ctx
// is done. Outcomes never stop the loop.
func (e *Engine) Run(ctx context.Context) error {
	info, err := e.Detect(ctx)
	if err != nil {
		return err
	}
	slog.Debug("Gateway detected", "chipID", info.ID, "chipRev", info.Rev)

	if err := e.Configure(); err != nil {
		slog.Error("Link configuration failed, continuing", "err", err)
	}

	for {
		if _, err := e.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("Request cycle failed", "err", err)
		}
		if err := e.sleep(ctx, e.cfg.CycleDelay); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
