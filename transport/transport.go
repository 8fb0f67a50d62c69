// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"errors"
	"net"
	"os"

	"github.com/ffutop/is4320-bridge/modbus"
)

// ErrNoResponse is returned when the addressed slave does not answer.
var ErrNoResponse = errors.New("transport: no response from slave")

// Downstream represents a destination for requests (A Modbus Slave we connect to).
// It acts as a Client.
type Downstream interface {
	// Send sends a PDU to a specific SlaveID and returns the response PDU.
	// Exception responses are returned as PDUs, not as errors.
	Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)
	Connect(ctx context.Context) error
	Close() error
}

// IsTimeout reports whether err means the slave did not answer in time.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrNoResponse) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
