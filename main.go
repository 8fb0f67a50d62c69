// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ffutop/is4320-bridge/internal/config"
	"github.com/ffutop/is4320-bridge/internal/is4320"
	"github.com/ffutop/is4320-bridge/internal/simulator"
	"github.com/ffutop/is4320-bridge/internal/snapshot"
	"github.com/ffutop/is4320-bridge/transport"
	"github.com/ffutop/is4320-bridge/transport/i2c"
	"github.com/ffutop/is4320-bridge/transport/local"
	"github.com/ffutop/is4320-bridge/transport/rtu"
	"github.com/ffutop/is4320-bridge/transport/tcp"
	"github.com/spf13/pflag"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "Path to config file")
	pflag.Parse()

	// Load Configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("Starting IS4320 bridge...", "bus", cfg.I2C.Bus, "address", cfg.I2C.Address, "simulator", cfg.Simulator.Enabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create Transport
	var tr *i2c.Transport
	if cfg.Simulator.Enabled {
		ds, err := newDownstream(cfg.Simulator.Downstream)
		if err != nil {
			slog.Error("Failed to create downstream", "err", err)
			os.Exit(1)
		}
		if err := ds.Connect(ctx); err != nil {
			slog.Warn("Failed to connect downstream, will retry on demand", "type", cfg.Simulator.Downstream.Type, "err", err)
		}
		defer ds.Close()

		chip, err := simulator.New(ds, simulator.Options{
			Address:   cfg.I2C.Address,
			ChipRev:   cfg.Simulator.ChipRev,
			Registers: cfg.Registers.Map(),
			Timeout:   cfg.Simulator.Downstream.Timeout,
		})
		if err != nil {
			slog.Error("Failed to create simulator", "err", err)
			os.Exit(1)
		}
		defer chip.Shutdown()
		tr = i2c.NewTransportWithOpener(chip.Open, cfg.I2C.Address)
	} else {
		tr = i2c.NewTransport(cfg.I2C.Bus, cfg.I2C.Address)
	}

	// Create Reporters
	storage, err := snapshot.NewStorage(cfg.Snapshot.Type, cfg.Snapshot.Path)
	if err != nil {
		slog.Error("Failed to open snapshot storage", "type", cfg.Snapshot.Type, "path", cfg.Snapshot.Path, "err", err)
		os.Exit(1)
	}
	recorder, err := snapshot.NewRecorder(storage)
	if err != nil {
		slog.Error("Failed to initialize snapshot", "err", err)
		os.Exit(1)
	}
	defer recorder.Close()

	reporter := is4320.Reporters{is4320.LogReporter{}, recorder}
	engine := is4320.NewEngine(engineConfig(cfg), tr, reporter)

	// Start Engine
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Engine stopped with error", "err", err)
		}
	}()

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()
	<-done
	slog.Info("Goodbye.")
}

// newDownstream creates the Modbus client the simulated gateway forwards to.
func newDownstream(cfg config.DownstreamConfig) (transport.Downstream, error) {
	switch cfg.Type {
	case "local":
		return local.NewClient(cfg.Local), nil
	case "rtu":
		return rtu.NewClient(cfg.Serial), nil
	case "tcp":
		return tcp.NewClient(cfg.Tcp.Address, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown downstream type %q", cfg.Type)
	}
}

func engineConfig(cfg *config.Config) is4320.Config {
	return is4320.Config{
		Registers: cfg.Registers.Map(),
		ChipID:    cfg.Chip.ID,
		Link: is4320.LinkParams{
			BaudRate: cfg.Link.BaudCode,
			Parity:   cfg.Link.ParityCode,
			StopBits: cfg.Link.StopBitsCode,
		},
		Request: is4320.Request{
			SlaveID:      cfg.Request.SlaveID,
			FunctionCode: cfg.Request.FunctionCode,
			Starting:     cfg.Request.StartingAddress,
			Quantity:     cfg.Request.Quantity,
		},
		RetryInterval: cfg.Timing.DetectRetry,
		CycleDelay:    cfg.Timing.CycleDelay,
		PollInterval:  cfg.Timing.PollInterval,
	}
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
