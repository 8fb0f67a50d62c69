// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package i2c

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Bus is the part of an I2C bus the register transport needs.
// Tx must perform the write and read phases as one combined transaction
// (repeated start, single stop).
type Bus interface {
	Tx(addr uint16, w, r []byte) error
	Close() error
}

// Opener acquires the bus for a single transaction.
type Opener func() (Bus, error)

// TransportError wraps a bus level I/O failure.
type TransportError struct {
	Op       string
	Register uint16
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("i2c: %s register %d: %v", e.Op, e.Register, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transport reads and writes 16-bit registers of a device that uses the
// two-phase address-then-data convention: register address and values are
// sent high byte first.
type Transport struct {
	open Opener
	addr uint16
}

var hostInit struct {
	once sync.Once
	err  error
}

// NewTransport returns a Transport for the device at the 7-bit address addr on
// the named bus ("1", "/dev/i2c-1", "" for the first bus available).
func NewTransport(busName string, addr uint16) *Transport {
	return NewTransportWithOpener(func() (Bus, error) {
		hostInit.once.Do(func() {
			_, hostInit.err = host.Init()
		})
		if hostInit.err != nil {
			return nil, fmt.Errorf("failed to init host drivers: %w", hostInit.err)
		}
		return i2creg.Open(busName)
	}, addr)
}

// NewTransportWithOpener returns a Transport that acquires the bus through open.
func NewTransportWithOpener(open Opener, addr uint16) *Transport {
	return &Transport{
		open: open,
		addr: addr,
	}
}

// WriteRegister writes value to register reg as the 4-byte sequence
// [regHigh, regLow, valueHigh, valueLow].
func (t *Transport) WriteRegister(reg, value uint16) error {
	w := []byte{byte(reg >> 8), byte(reg), byte(value >> 8), byte(value)}
	if err := t.tx(w, nil); err != nil {
		return &TransportError{Op: "write", Register: reg, Err: err}
	}
	return nil
}

// ReadRegister sets the device read pointer to reg and reads the 16-bit value
// back within the same bus transaction.
func (t *Transport) ReadRegister(reg uint16) (uint16, error) {
	w := []byte{byte(reg >> 8), byte(reg)}
	r := make([]byte, 2)
	if err := t.tx(w, r); err != nil {
		return 0, &TransportError{Op: "read", Register: reg, Err: err}
	}
	return uint16(r[0])<<8 | uint16(r[1]), nil
}

// tx acquires the bus, runs one transaction and releases the bus on every path.
func (t *Transport) tx(w, r []byte) (err error) {
	bus, err := t.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := bus.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return bus.Tx(t.addr, w, r)
}
