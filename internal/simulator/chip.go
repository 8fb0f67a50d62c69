// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package simulator emulates an IS4320 gateway behind an I2C bus so the
// bridge can run without the hardware. Requests are forwarded to a
// Modbus downstream.
package simulator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/is4320-bridge/internal/is4320"
	"github.com/ffutop/is4320-bridge/modbus"
	"github.com/ffutop/is4320-bridge/transport"
	"github.com/ffutop/is4320-bridge/transport/i2c"
)

const (
	registerCount = is4320.RegisterFileSize

	maxSlaveID  = 247
	maxQuantity = is4320.MaxQuantity

	defaultTimeout = time.Second
)

// ErrNACK is returned when the chip does not acknowledge a transaction.
var ErrNACK = errors.New("simulator: no acknowledge")

// Options configures a Chip.
type Options struct {
	Address   uint16
	ChipRev   uint16
	Registers is4320.RegisterMap
	// Timeout bounds each downstream request.
	Timeout time.Duration
}

// Chip is a software IS4320. It implements i2c.Bus.
type Chip struct {
	opts Options
	ds   transport.Downstream

	mu   sync.Mutex
	regs [registerCount]uint16
	busy bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Chip that forwards requests to ds. Every register of
// opts.Registers must fit in the register file.
func New(ds transport.Downstream, opts Options) (*Chip, error) {
	if err := opts.Registers.CheckBounds(registerCount); err != nil {
		return nil, fmt.Errorf("simulator: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	c := &Chip{opts: opts, ds: ds}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.regs[opts.Registers.ChipID] = is4320.ChipID
	c.regs[opts.Registers.ChipRev] = opts.ChipRev
	return c, nil
}

// Open returns the chip as a bus. It satisfies i2c.Opener.
func (c *Chip) Open() (i2c.Bus, error) {
	return c, nil
}

// Close releases the bus after one transaction. The chip keeps running.
func (c *Chip) Close() error {
	return nil
}

// Shutdown aborts a request in flight and waits for it to finish.
func (c *Chip) Shutdown() {
	c.cancel()
	c.wg.Wait()
}

// Busy reports whether a request is in flight.
func (c *Chip) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Register returns the raw content of a register.
func (c *Chip) Register(reg uint16) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(reg) >= registerCount {
		return 0
	}
	return c.regs[reg]
}

// Tx implements i2c.Bus. Writes carry a register address and a value;
// reads carry a register address and expect one value back.
func (c *Chip) Tx(addr uint16, w, r []byte) error {
	if addr != c.opts.Address {
		return ErrNACK
	}
	switch {
	case len(w) == 4 && len(r) == 0:
		return c.write(binary.BigEndian.Uint16(w[0:]), binary.BigEndian.Uint16(w[2:]))
	case len(w) == 2 && len(r) == 2:
		v, err := c.read(binary.BigEndian.Uint16(w))
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint16(r, v)
		return nil
	default:
		return fmt.Errorf("simulator: unsupported transaction (write %d, read %d bytes)", len(w), len(r))
	}
}

func (c *Chip) read(reg uint16) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int(reg) >= registerCount {
		return 0, ErrNACK
	}
	if reg == c.opts.Registers.Status && c.busy {
		return 0, ErrNACK
	}
	return c.regs[reg], nil
}

func (c *Chip) write(reg, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int(reg) >= registerCount || c.readOnly(reg) {
		return ErrNACK
	}
	if reg != c.opts.Registers.Execute {
		c.regs[reg] = value
		return nil
	}
	if value != 1 {
		return nil
	}
	if c.busy {
		return ErrNACK
	}

	req := is4320.Request{
		SlaveID:      c.regs[c.opts.Registers.Slave],
		FunctionCode: c.regs[c.opts.Registers.Function],
		Starting:     c.regs[c.opts.Registers.Starting],
		Quantity:     c.regs[c.opts.Registers.Quantity],
	}
	c.busy = true
	c.wg.Add(1)
	go c.execute(req)
	return nil
}

func (c *Chip) readOnly(reg uint16) bool {
	m := c.opts.Registers
	if reg == m.ChipID || reg == m.ChipRev || reg == m.Status {
		return true
	}
	return reg >= m.Data1 && reg < m.Data1+maxQuantity
}

func (c *Chip) execute(req is4320.Request) {
	defer c.wg.Done()

	status, values := c.forward(req)
	slog.Debug("simulated request finished", "slave", req.SlaveID, "function", req.FunctionCode,
		"starting", req.Starting, "quantity", req.Quantity, "status", status)

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, v := range values {
		reg := int(c.opts.Registers.Data1) + i
		if reg >= registerCount {
			break
		}
		c.regs[reg] = v
	}
	c.regs[c.opts.Registers.Status] = status
	c.busy = false
}

// forward validates req, sends it downstream and maps the result to a status code.
func (c *Chip) forward(req is4320.Request) (uint16, []uint16) {
	switch {
	case req.SlaveID > maxSlaveID:
		return is4320.StatusBadSlave, nil
	case req.FunctionCode != modbus.FuncCodeReadHoldingRegisters && req.FunctionCode != modbus.FuncCodeReadInputRegisters:
		return is4320.StatusBadFunction, nil
	case req.Quantity == 0 || req.Quantity > maxQuantity:
		return is4320.StatusBadQuantity, nil
	}

	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], req.Starting)
	binary.BigEndian.PutUint16(data[2:], req.Quantity)
	pdu := modbus.ProtocolDataUnit{FunctionCode: byte(req.FunctionCode), Data: data}

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.Timeout)
	defer cancel()
	resp, err := c.ds.Send(ctx, byte(req.SlaveID), pdu)

	if req.SlaveID == 0 {
		return is4320.StatusBroadcastSent, nil
	}
	if err != nil {
		if transport.IsTimeout(err) {
			return is4320.StatusTimeout, nil
		}
		slog.Debug("simulated request failed", "slave", req.SlaveID, "error", err)
		return is4320.StatusFrameError, nil
	}
	if resp.IsException() {
		return 200 + uint16(resp.ExceptionCode()), nil
	}
	if resp.FunctionCode != byte(req.FunctionCode) || len(resp.Data) < 1 {
		return is4320.StatusFrameError, nil
	}
	count := int(resp.Data[0])
	if count != int(req.Quantity)*2 || len(resp.Data) != 1+count {
		return is4320.StatusFrameError, nil
	}

	values := make([]uint16, req.Quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(resp.Data[1+i*2:])
	}
	return is4320.StatusSuccess, values
}
