// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package is4320

import "fmt"

// ChipID is the value of the chip identity register on an IS4320.
const ChipID = 20

// DefaultAddress is the factory 7-bit I2C address of the gateway.
const DefaultAddress = 0x14

// Link parameter codes. The gateway takes lookup codes, not the literal
// baud rate, parity or stop bit count.
const (
	Baud19200  = 113
	ParityEven = 122
	StopBits1  = 131
)

// RegisterMap holds the register addresses used by the engine.
type RegisterMap struct {
	// Link configuration (write)
	BaudRate uint16
	Parity   uint16
	StopBits uint16

	// Identity (read only)
	ChipID  uint16
	ChipRev uint16

	// Request parameters (write)
	Execute  uint16
	Slave    uint16
	Function uint16
	Starting uint16
	Quantity uint16

	// Results (read only)
	Status uint16
	Data1  uint16
}

// DefaultRegisterMap returns the register map of the IS4320.
func DefaultRegisterMap() RegisterMap {
	return RegisterMap{
		BaudRate: 0,
		Parity:   1,
		StopBits: 2,
		ChipID:   4,
		ChipRev:  5,
		Execute:  6,
		Slave:    7,
		Function: 8,
		Starting: 9,
		Quantity: 10,
		Status:   138,
		Data1:    139,
	}
}

// MaxQuantity is the largest number of registers one request can read.
const MaxQuantity = 125

// RegisterFileSize is the number of 16-bit registers of an emulated gateway.
const RegisterFileSize = 1024

// CheckBounds returns an error when a register of m, or the result area
// starting at Data1, does not fit below size.
func (m RegisterMap) CheckBounds(size int) error {
	regs := []struct {
		name string
		addr uint16
	}{
		{"baud_rate", m.BaudRate},
		{"parity", m.Parity},
		{"stop_bits", m.StopBits},
		{"chip_id", m.ChipID},
		{"chip_rev", m.ChipRev},
		{"execute", m.Execute},
		{"slave", m.Slave},
		{"function", m.Function},
		{"starting", m.Starting},
		{"quantity", m.Quantity},
		{"status", m.Status},
		{"data1", m.Data1},
	}
	for _, r := range regs {
		if int(r.addr) >= size {
			return fmt.Errorf("register %s at %d is outside the %d register file", r.name, r.addr, size)
		}
	}
	if end := int(m.Data1) + MaxQuantity; end > size {
		return fmt.Errorf("result area %d..%d is outside the %d register file", m.Data1, end-1, size)
	}
	return nil
}

// LinkParams are the serial parameters of the Modbus RTU side, as gateway codes.
type LinkParams struct {
	BaudRate uint16
	Parity   uint16
	StopBits uint16
}

// DefaultLinkParams selects 19200 baud, even parity, 1 stop bit.
func DefaultLinkParams() LinkParams {
	return LinkParams{
		BaudRate: Baud19200,
		Parity:   ParityEven,
		StopBits: StopBits1,
	}
}

// Request describes one Modbus transaction executed by the gateway.
type Request struct {
	SlaveID      uint16
	FunctionCode uint16
	Starting     uint16
	Quantity     uint16
}
