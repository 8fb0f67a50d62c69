// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package simulator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ffutop/is4320-bridge/internal/config"
	"github.com/ffutop/is4320-bridge/internal/is4320"
	"github.com/ffutop/is4320-bridge/modbus"
	"github.com/ffutop/is4320-bridge/transport"
	"github.com/ffutop/is4320-bridge/transport/i2c"
	"github.com/ffutop/is4320-bridge/transport/local"
)

// funcDownstream adapts a function to transport.Downstream.
type funcDownstream func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

func (f funcDownstream) Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	return f(ctx, slaveID, pdu)
}
func (f funcDownstream) Connect(ctx context.Context) error { return nil }
func (f funcDownstream) Close() error                      { return nil }

func testOptions() Options {
	return Options{
		Address:   is4320.DefaultAddress,
		ChipRev:   3,
		Registers: is4320.DefaultRegisterMap(),
		Timeout:   time.Second,
	}
}

func newLocalChip(t *testing.T) *Chip {
	t.Helper()
	ds := local.NewClient(config.LocalConfig{
		SlaveID:          1,
		HoldingRegisters: map[uint16]uint16{0: 1234, 1: 5678},
	})
	return newChip(t, ds, testOptions())
}

func newChip(t *testing.T, ds transport.Downstream, opts Options) *Chip {
	t.Helper()
	chip, err := New(ds, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(chip.Shutdown)
	return chip
}

func newEngine(chip *Chip) *is4320.Engine {
	cfg := is4320.DefaultConfig()
	cfg.RetryInterval = time.Millisecond
	cfg.CycleDelay = time.Millisecond
	tr := i2c.NewTransportWithOpener(chip.Open, is4320.DefaultAddress)
	return is4320.NewEngine(cfg, tr, is4320.Reporters{})
}

func TestChip_EndToEnd(t *testing.T) {
	chip := newLocalChip(t)
	e := newEngine(chip)
	ctx := context.Background()

	info, err := e.Detect(ctx)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if info.ID != is4320.ChipID || info.Rev != 3 {
		t.Errorf("Detect() = %+v", info)
	}

	if err := e.Configure(); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	m := is4320.DefaultRegisterMap()
	for reg, want := range map[uint16]uint16{m.BaudRate: 113, m.Parity: 122, m.StopBits: 131} {
		if got := chip.Register(reg); got != want {
			t.Errorf("register %d = %d, want %d", reg, got, want)
		}
	}

	o, err := e.Execute(ctx, is4320.Request{SlaveID: 1, FunctionCode: 3, Starting: 0, Quantity: 2})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if o.Kind != is4320.KindSuccess || !o.HasValue || o.Value != 1234 {
		t.Errorf("Execute() = %+v, want success with 1234", o)
	}
	if got := chip.Register(m.Data1 + 1); got != 5678 {
		t.Errorf("DATA2 = %d, want 5678", got)
	}
}

func TestChip_Status(t *testing.T) {
	tests := []struct {
		name string
		req  is4320.Request
		want uint16
	}{
		{"Success", is4320.Request{SlaveID: 1, FunctionCode: 3, Quantity: 1}, is4320.StatusSuccess},
		{"InputRegisters", is4320.Request{SlaveID: 1, FunctionCode: 4, Quantity: 1}, is4320.StatusSuccess},
		{"Broadcast", is4320.Request{SlaveID: 0, FunctionCode: 3, Quantity: 1}, is4320.StatusBroadcastSent},
		{"BadSlave", is4320.Request{SlaveID: 248, FunctionCode: 3, Quantity: 1}, is4320.StatusBadSlave},
		{"BadFunction", is4320.Request{SlaveID: 1, FunctionCode: 16, Quantity: 1}, is4320.StatusBadFunction},
		{"ZeroQuantity", is4320.Request{SlaveID: 1, FunctionCode: 3, Quantity: 0}, is4320.StatusBadQuantity},
		{"LargeQuantity", is4320.Request{SlaveID: 1, FunctionCode: 3, Quantity: 126}, is4320.StatusBadQuantity},
		{"NoAnswer", is4320.Request{SlaveID: 9, FunctionCode: 3, Quantity: 1}, is4320.StatusTimeout},
		{"IllegalDataAddress", is4320.Request{SlaveID: 1, FunctionCode: 3, Starting: 0xFFFF, Quantity: 2}, is4320.StatusIllegalDataAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(newLocalChip(t))
			o, err := e.Execute(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if o.Status != tt.want {
				t.Errorf("Execute() status = %d, want %d", o.Status, tt.want)
			}
		})
	}
}

func TestChip_DownstreamErrors(t *testing.T) {
	tests := []struct {
		name string
		resp modbus.ProtocolDataUnit
		err  error
		want uint16
	}{
		{"Timeout", modbus.ProtocolDataUnit{}, transport.ErrNoResponse, is4320.StatusTimeout},
		{"DeadlineExceeded", modbus.ProtocolDataUnit{}, context.DeadlineExceeded, is4320.StatusTimeout},
		{"CRC", modbus.ProtocolDataUnit{}, errors.New("crc mismatch"), is4320.StatusFrameError},
		{"ServerDeviceFailure", modbus.ProtocolDataUnit{FunctionCode: 0x83, Data: []byte{0x04}}, nil, is4320.StatusServerDeviceFailure},
		{"Exception", modbus.ProtocolDataUnit{FunctionCode: 0x83, Data: []byte{0x01}}, nil, is4320.StatusIllegalFunction},
		{"WrongFunction", modbus.ProtocolDataUnit{FunctionCode: 0x04, Data: []byte{0x02, 0x00, 0x01}}, nil, is4320.StatusFrameError},
		{"ShortData", modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x02, 0x00}}, nil, is4320.StatusFrameError},
		{"WrongByteCount", modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x04, 0x00, 0x01, 0x00, 0x02}}, nil, is4320.StatusFrameError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := funcDownstream(func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
				return tt.resp, tt.err
			})
			chip := newChip(t, ds, testOptions())

			o, err := newEngine(chip).Execute(context.Background(), is4320.Request{SlaveID: 1, FunctionCode: 3, Quantity: 1})
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if o.Status != tt.want {
				t.Errorf("Execute() status = %d, want %d", o.Status, tt.want)
			}
			if o.HasValue {
				t.Errorf("Execute() HasValue = true for status %d", o.Status)
			}
		})
	}
}

func TestChip_BusyStatusNACK(t *testing.T) {
	release := make(chan struct{})
	ds := funcDownstream(func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		<-release
		return modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x02, 0x00, 0x2A}}, nil
	})
	chip := newChip(t, ds, testOptions())
	tr := i2c.NewTransportWithOpener(chip.Open, is4320.DefaultAddress)
	m := is4320.DefaultRegisterMap()

	for reg, v := range map[uint16]uint16{m.Slave: 1, m.Function: 3, m.Quantity: 1} {
		if err := tr.WriteRegister(reg, v); err != nil {
			t.Fatalf("WriteRegister(%d) error = %v", reg, err)
		}
	}
	if err := tr.WriteRegister(m.Execute, 1); err != nil {
		t.Fatalf("WriteRegister(EXECUTE) error = %v", err)
	}

	if _, err := tr.ReadRegister(m.Status); !errors.Is(err, ErrNACK) {
		t.Errorf("ReadRegister(STATUS) while busy error = %v, want ErrNACK", err)
	}
	if err := tr.WriteRegister(m.Execute, 1); !errors.Is(err, ErrNACK) {
		t.Errorf("second EXECUTE while busy error = %v, want ErrNACK", err)
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for chip.Busy() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	status, err := tr.ReadRegister(m.Status)
	if err != nil || status != is4320.StatusSuccess {
		t.Fatalf("ReadRegister(STATUS) = %d, %v", status, err)
	}
	if v, _ := tr.ReadRegister(m.Data1); v != 42 {
		t.Errorf("DATA1 = %d, want 42", v)
	}
}

func TestChip_WrongAddress(t *testing.T) {
	chip := newLocalChip(t)
	tr := i2c.NewTransportWithOpener(chip.Open, 0x15)

	if _, err := tr.ReadRegister(is4320.DefaultRegisterMap().ChipID); !errors.Is(err, ErrNACK) {
		t.Errorf("ReadRegister() error = %v, want ErrNACK", err)
	}
}

func TestChip_ReadOnlyRegisters(t *testing.T) {
	chip := newLocalChip(t)
	tr := i2c.NewTransportWithOpener(chip.Open, is4320.DefaultAddress)
	m := is4320.DefaultRegisterMap()

	for _, reg := range []uint16{m.ChipID, m.ChipRev, m.Status, m.Data1, registerCount} {
		if err := tr.WriteRegister(reg, 7); !errors.Is(err, ErrNACK) {
			t.Errorf("WriteRegister(%d) error = %v, want ErrNACK", reg, err)
		}
	}
	if got := chip.Register(m.ChipID); got != is4320.ChipID {
		t.Errorf("CHIP_ID = %d, want %d", got, is4320.ChipID)
	}
}

func TestChip_ShutdownAbortsRequest(t *testing.T) {
	ds := funcDownstream(func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		<-ctx.Done()
		return modbus.ProtocolDataUnit{}, ctx.Err()
	})
	opts := testOptions()
	opts.Timeout = time.Minute
	chip := newChip(t, ds, opts)
	tr := i2c.NewTransportWithOpener(chip.Open, is4320.DefaultAddress)
	m := is4320.DefaultRegisterMap()
	tr.WriteRegister(m.Slave, 1)
	tr.WriteRegister(m.Function, 3)
	tr.WriteRegister(m.Quantity, 1)
	tr.WriteRegister(m.Execute, 1)

	chip.Shutdown()
	if chip.Busy() {
		t.Fatal("chip still busy after Shutdown")
	}
	if got := chip.Register(m.Status); got != is4320.StatusFrameError {
		t.Errorf("STATUS = %d, want %d", got, is4320.StatusFrameError)
	}
}

func TestNew_RegisterOutOfRange(t *testing.T) {
	ds := local.NewClient(config.LocalConfig{SlaveID: 1})
	tests := []struct {
		name   string
		mutate func(m *is4320.RegisterMap)
	}{
		{"ChipID", func(m *is4320.RegisterMap) { m.ChipID = 2000 }},
		{"Status", func(m *is4320.RegisterMap) { m.Status = registerCount }},
		{"ResultArea", func(m *is4320.RegisterMap) { m.Data1 = registerCount - maxQuantity + 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mutate(&opts.Registers)
			if chip, err := New(ds, opts); err == nil {
				chip.Shutdown()
				t.Fatal("New() succeeded with an out of range register")
			}
		})
	}

	opts := testOptions()
	opts.Registers.Data1 = registerCount - maxQuantity
	chip, err := New(ds, opts)
	if err != nil {
		t.Fatalf("New() with the result area at the end error = %v", err)
	}
	chip.Shutdown()
}
