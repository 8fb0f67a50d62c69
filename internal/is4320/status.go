// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package is4320

import (
	"errors"
	"fmt"
)

// Status register values.
const (
	StatusSuccess             = 2
	StatusTimeout             = 3
	StatusBroadcastSent       = 4
	StatusBadSlave            = 5
	StatusBadFunction         = 6
	StatusBadQuantity         = 7
	StatusFrameError          = 8
	StatusIllegalFunction     = 201
	StatusIllegalDataAddress  = 202
	StatusIllegalDataValue    = 203
	StatusServerDeviceFailure = 204
)

// Kind classifies the outcome of a request.
type Kind int

const (
	KindUnknown Kind = iota
	KindSuccess
	KindRemoteTimeout
	KindBroadcastSent
	KindBadSlave
	KindBadFunction
	KindBadQuantity
	KindFrameError
	KindIllegalFunction
	KindIllegalDataAddress
	KindIllegalDataValue
	KindServerDeviceFailure
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown error",
	KindSuccess:             "success",
	KindRemoteTimeout:       "modbus timeout",
	KindBroadcastSent:       "broadcast sent",
	KindBadSlave:            "misconfigured slave register",
	KindBadFunction:         "misconfigured function code register",
	KindBadQuantity:         "misconfigured quantity register",
	KindFrameError:          "frame error",
	KindIllegalFunction:     "exception 1: illegal function",
	KindIllegalDataAddress:  "exception 2: illegal data address",
	KindIllegalDataValue:    "exception 3: illegal data value",
	KindServerDeviceFailure: "exception 4: server device failure",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var statusKinds = map[uint16]Kind{
	StatusSuccess:             KindSuccess,
	StatusTimeout:             KindRemoteTimeout,
	StatusBroadcastSent:       KindBroadcastSent,
	StatusBadSlave:            KindBadSlave,
	StatusBadFunction:         KindBadFunction,
	StatusBadQuantity:         KindBadQuantity,
	StatusFrameError:          KindFrameError,
	StatusIllegalFunction:     KindIllegalFunction,
	StatusIllegalDataAddress:  KindIllegalDataAddress,
	StatusIllegalDataValue:    KindIllegalDataValue,
	StatusServerDeviceFailure: KindServerDeviceFailure,
}

// Decode maps a status register value to its outcome kind.
// Values outside the table map to KindUnknown.
func Decode(status uint16) Kind {
	if k, ok := statusKinds[status]; ok {
		return k
	}
	return KindUnknown
}

// ExceptionCode returns the Modbus exception code carried by k, or 0.
func (k Kind) ExceptionCode() byte {
	switch k {
	case KindIllegalFunction:
		return 1
	case KindIllegalDataAddress:
		return 2
	case KindIllegalDataValue:
		return 3
	case KindServerDeviceFailure:
		return 4
	}
	return 0
}

// Outcome is the result of one request cycle.
type Outcome struct {
	Cycle    uint64
	Status   uint16
	Kind     Kind
	Value    uint16 // first holding register, valid when HasValue
	HasValue bool
}

// ErrRemoteTimeout reports that the Modbus slave did not answer in time.
var ErrRemoteTimeout = errors.New("is4320: modbus slave did not answer")

// ProtocolStatusError is a gateway-side failure: bad request registers,
// a frame error or a broadcast that yields no data.
type ProtocolStatusError struct {
	Status uint16
	Kind   Kind
}

func (e *ProtocolStatusError) Error() string {
	return fmt.Sprintf("is4320: status %d: %s", e.Status, e.Kind)
}

// ExceptionError is a Modbus exception returned by the slave.
type ExceptionError struct {
	Status uint16
	Code   byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("is4320: modbus exception %d (status %d)", e.Code, e.Status)
}

// UnknownStatusError carries a status value outside the known table.
type UnknownStatusError struct {
	Status uint16
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("is4320: unknown status %d", e.Status)
}

// Err returns the outcome as an error, or nil on success.
func (o Outcome) Err() error {
	switch o.Kind {
	case KindSuccess:
		return nil
	case KindRemoteTimeout:
		return ErrRemoteTimeout
	case KindBroadcastSent, KindBadSlave, KindBadFunction, KindBadQuantity, KindFrameError:
		return &ProtocolStatusError{Status: o.Status, Kind: o.Kind}
	case KindIllegalFunction, KindIllegalDataAddress, KindIllegalDataValue, KindServerDeviceFailure:
		return &ExceptionError{Status: o.Status, Code: o.Kind.ExceptionCode()}
	default:
		return &UnknownStatusError{Status: o.Status}
	}
}
