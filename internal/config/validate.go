// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"

	"github.com/ffutop/is4320-bridge/internal/is4320"
)

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg.I2C.Address > 0x7F {
		return fmt.Errorf("i2c.address 0x%X is not a 7-bit address", cfg.I2C.Address)
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Log.Level)
	}

	if cfg.Request.Quantity < 1 {
		return fmt.Errorf("request.quantity must be at least 1")
	}
	if cfg.Request.SlaveID > 255 {
		return fmt.Errorf("request.slave_id %d out of range", cfg.Request.SlaveID)
	}
	if cfg.Request.FunctionCode > 255 {
		return fmt.Errorf("request.function_code %d out of range", cfg.Request.FunctionCode)
	}

	if cfg.Timing.DetectRetry < 0 || cfg.Timing.CycleDelay < 0 || cfg.Timing.PollInterval < 0 {
		return fmt.Errorf("timing values must not be negative")
	}

	switch cfg.Snapshot.Type {
	case "memory":
	case "file", "mmap":
		if cfg.Snapshot.Path == "" {
			return fmt.Errorf("snapshot.path is required for %q snapshots", cfg.Snapshot.Type)
		}
	default:
		return fmt.Errorf("unknown snapshot type %q", cfg.Snapshot.Type)
	}

	if !cfg.Simulator.Enabled {
		return nil
	}

	// The emulated gateway has a fixed size register file.
	if err := cfg.Registers.Map().CheckBounds(is4320.RegisterFileSize); err != nil {
		return fmt.Errorf("registers: %w", err)
	}

	ds := cfg.Simulator.Downstream
	switch ds.Type {
	case "local":
	case "rtu":
		if ds.Serial.Device == "" {
			return fmt.Errorf("simulator.downstream.serial.device is required for rtu")
		}
		switch ds.Serial.Parity {
		case "N", "E", "O":
		default:
			return fmt.Errorf("simulator.downstream.serial.parity %q is not one of N, E, O", ds.Serial.Parity)
		}
	case "tcp":
		if ds.Tcp.Address == "" {
			return fmt.Errorf("simulator.downstream.tcp.address is required for tcp")
		}
	default:
		return fmt.Errorf("unknown simulator downstream type %q", ds.Type)
	}

	return nil
}
