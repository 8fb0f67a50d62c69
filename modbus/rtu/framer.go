// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ffutop/is4320-bridge/modbus"
)

// RTU frame size limits, including address and CRC.
const (
	MinSize = 4
	MaxSize = 256
)

var ErrRequestTimedOut = errors.New("modbus: request timed out")

const (
	stateSlaveID = 1 << iota
	stateFunctionCode
	stateReadLength
	stateReadPayload
	stateCRC
)

type InvalidLengthError struct {
	Length byte
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid length received: %d", e.Length)
}

// CalculateResponseLength returns the expected length of a response ADU.
func CalculateResponseLength(adu []byte) int {
	length := MinSize
	switch adu[1] {
	case modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadCoils:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count/8
		if count%8 != 0 {
			length++
		}
	case modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadWriteMultipleRegisters:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count*2
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleRegisters:
		length += 4
	case modbus.FuncCodeMaskWriteRegister:
		length += 6
	case modbus.FuncCodeReadFIFOQueue,
		modbus.FuncCodeReadDeviceIdentification:
		// undetermined
	default:
	}
	return length
}

// payloadState returns the state following a matched function code and the
// number of fixed payload bytes, if any.
func payloadState(functionCode byte) (state int, toRead byte, err error) {
	switch functionCode {
	case modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeReadWriteMultipleRegisters,
		modbus.FuncCodeReadFIFOQueue:
		return stateReadLength, 0, nil
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleRegisters,
		modbus.FuncCodeWriteMultipleCoils:
		return stateReadPayload, 4, nil
	case modbus.FuncCodeMaskWriteRegister:
		return stateReadPayload, 6, nil
	default:
		return 0, 0, fmt.Errorf("functioncode not handled: %d", functionCode)
	}
}

// ReadResponse reads an RTU frame byte by byte from r. Bytes before the
// expected slave address are skipped. Exception frames are accepted.
func ReadResponse(slaveID, functionCode byte, r io.Reader, deadline time.Time) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("reader is nil")
	}

	buf := make([]byte, 1)
	data := make([]byte, 0, MaxSize)

	state := stateSlaveID
	var toRead byte
	crcCount := 0

	for {
		if time.Now().After(deadline) {
			return nil, ErrRequestTimedOut
		}

		nn, err := r.Read(buf)
		if err != nil {
			return nil, err
		}
		if nn == 0 {
			continue
		}
		b := buf[0]

		switch state {
		case stateSlaveID:
			if b != slaveID {
				continue
			}
			state = stateFunctionCode
		case stateFunctionCode:
			switch b {
			case functionCode:
				if state, toRead, err = payloadState(functionCode); err != nil {
					return nil, err
				}
			case functionCode | 0x80:
				state, toRead = stateReadPayload, 1
			default:
				continue
			}
		case stateReadLength:
			if b == 0 || int(b) > MaxSize-5 {
				return nil, &InvalidLengthError{Length: b}
			}
			state, toRead = stateReadPayload, b
		case stateReadPayload:
			toRead--
			if toRead == 0 {
				state = stateCRC
			}
		case stateCRC:
			crcCount++
			if crcCount == 2 {
				return append(data, b), nil
			}
		}
		data = append(data, b)
	}
}
