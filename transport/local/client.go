// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package local

import (
	"context"
	"log/slog"

	"github.com/ffutop/is4320-bridge/internal/config"
	localslave "github.com/ffutop/is4320-bridge/internal/local-slave"
	"github.com/ffutop/is4320-bridge/internal/local-slave/model"
	"github.com/ffutop/is4320-bridge/modbus"
	"github.com/ffutop/is4320-bridge/transport"
)

// Client implements Downstream interface for a local in-memory slave.
type Client struct {
	slaveID byte
	slave   *localslave.LocalSlave
}

// NewClient creates a new Local Client answering as cfg.SlaveID.
func NewClient(cfg config.LocalConfig) *Client {
	m := model.NewDataModel()
	for addr, v := range cfg.HoldingRegisters {
		m.WriteSingleRegister(addr, v)
	}
	slog.Info("Initializing local slave", "slaveID", cfg.SlaveID, "seeded", len(cfg.HoldingRegisters))

	return &Client{
		slaveID: byte(cfg.SlaveID),
		slave:   localslave.NewLocalSlave(m),
	}
}

// Model returns the data model behind the local slave.
func (c *Client) Model() *model.DataModel {
	return c.slave.Model()
}

// Send processes the PDU locally. Requests for other slaves go unanswered;
// broadcasts are processed without an answer.
func (c *Client) Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if err := ctx.Err(); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	switch slaveID {
	case c.slaveID:
		return c.slave.Process(pdu), nil
	case 0:
		c.slave.Process(pdu)
		return modbus.ProtocolDataUnit{}, transport.ErrNoResponse
	default:
		return modbus.ProtocolDataUnit{}, transport.ErrNoResponse
	}
}

// Connect is a no-op for local slave.
func (c *Client) Connect(ctx context.Context) error {
	return nil
}

// Close is a no-op for local slave.
func (c *Client) Close() error {
	return nil
}
