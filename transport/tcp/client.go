// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	mb "github.com/ffutop/is4320-bridge/modbus"
)

const (
	tcpTimeout     = 10 * time.Second
	tcpIdleTimeout = 60 * time.Second
)

// Client implements Downstream interface (Modbus TCP Client).
// Framing and transaction matching are delegated to the goburrow TCP handler.
type Client struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
}

// NewClient allocates a new TCP Client for the given address.
func NewClient(address string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = tcpTimeout
	}
	handler := modbus.NewTCPClientHandler(address)
	handler.Timeout = timeout
	handler.IdleTimeout = tcpIdleTimeout
	handler.Logger = slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug)
	return &Client{handler: handler}
}

// Connect establishes the connection to the slave.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.Connect()
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.Close()
}

// Send sends a PDU to the given unit and returns the response PDU.
// Exception responses are returned as is.
func (c *Client) Send(ctx context.Context, slaveID byte, pdu mb.ProtocolDataUnit) (mb.ProtocolDataUnit, error) {
	if err := ctx.Err(); err != nil {
		return mb.ProtocolDataUnit{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.SlaveId = slaveID
	req := &modbus.ProtocolDataUnit{FunctionCode: pdu.FunctionCode, Data: pdu.Data}
	aduRequest, err := c.handler.Encode(req)
	if err != nil {
		return mb.ProtocolDataUnit{}, fmt.Errorf("failed to encode ADU: %w", err)
	}

	aduResponse, err := c.handler.Send(aduRequest)
	if err != nil {
		// Drop the connection so a late answer cannot be matched to the next request.
		c.handler.Close()
		return mb.ProtocolDataUnit{}, err
	}
	if err = c.handler.Verify(aduRequest, aduResponse); err != nil {
		c.handler.Close()
		return mb.ProtocolDataUnit{}, fmt.Errorf("verification failed: %w", err)
	}
	resp, err := c.handler.Decode(aduResponse)
	if err != nil {
		return mb.ProtocolDataUnit{}, fmt.Errorf("failed to decode response ADU: %w", err)
	}
	if resp.FunctionCode&0x7F != pdu.FunctionCode {
		return mb.ProtocolDataUnit{}, fmt.Errorf("modbus: response function code '%v' does not match request '%v'", resp.FunctionCode, pdu.FunctionCode)
	}
	return mb.ProtocolDataUnit{FunctionCode: resp.FunctionCode, Data: resp.Data}, nil
}
