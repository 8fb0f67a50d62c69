// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/is4320-bridge/modbus"
	"github.com/ffutop/is4320-bridge/modbus/crc"
)

// ApplicationDataUnit is one RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes, low byte first
type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

// Encode returns the raw frame with its CRC appended.
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	size := len(adu.Pdu.Data) + MinSize
	if size > MaxSize {
		return nil, fmt.Errorf("modbus: frame of %d bytes exceeds %d", size, MaxSize)
	}
	raw := make([]byte, 0, size)
	raw = append(raw, adu.SlaveID, adu.Pdu.FunctionCode)
	raw = append(raw, adu.Pdu.Data...)

	var c crc.CRC
	sum := c.Reset().PushBytes(raw).Value()
	return binary.LittleEndian.AppendUint16(raw, sum), nil
}

// Decode parses a raw frame and checks its CRC. The PDU data aliases raw.
func Decode(raw []byte) (*ApplicationDataUnit, error) {
	if len(raw) < MinSize {
		return nil, fmt.Errorf("modbus: frame of %d bytes is shorter than %d", len(raw), MinSize)
	}
	body := raw[:len(raw)-2]

	var c crc.CRC
	want := c.Reset().PushBytes(body).Value()
	if got := binary.LittleEndian.Uint16(raw[len(raw)-2:]); got != want {
		return nil, fmt.Errorf("modbus: frame crc 0x%04X does not match 0x%04X", got, want)
	}
	return &ApplicationDataUnit{
		SlaveID: body[0],
		Pdu:     modbus.ProtocolDataUnit{FunctionCode: body[1], Data: body[2:]},
	}, nil
}

// Verify checks that resp answers adu: same slave, same function code with
// or without the exception bit.
func (adu *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) error {
	if resp.SlaveID != adu.SlaveID {
		return fmt.Errorf("modbus: response slave id %d does not match request %d", resp.SlaveID, adu.SlaveID)
	}
	if resp.Pdu.FunctionCode&0x7F != adu.Pdu.FunctionCode {
		return fmt.Errorf("modbus: response function code 0x%02X does not match request 0x%02X", resp.Pdu.FunctionCode, adu.Pdu.FunctionCode)
	}
	return nil
}
