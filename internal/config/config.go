// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ffutop/is4320-bridge/internal/is4320"
	"github.com/spf13/viper"
)

// Config defines the global configuration structure
type Config struct {
	I2C       I2CConfig       `mapstructure:"i2c"`
	Chip      ChipConfig      `mapstructure:"chip"`
	Registers RegistersConfig `mapstructure:"registers"`
	Link      LinkConfig      `mapstructure:"link"`
	Request   RequestConfig   `mapstructure:"request"`
	Timing    TimingConfig    `mapstructure:"timing"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Log       LogConfig       `mapstructure:"log"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// I2CConfig selects the bus and the gateway address on it
type I2CConfig struct {
	Bus     string `mapstructure:"bus"`     // e.g. "1" or "/dev/i2c-1", empty for the first bus
	Address uint16 `mapstructure:"address"` // 7-bit device address
}

// ChipConfig defines the identity expected during detection
type ChipConfig struct {
	ID uint16 `mapstructure:"id"`
}

// RegistersConfig is the gateway register map
type RegistersConfig struct {
	BaudRate uint16 `mapstructure:"baud_rate"`
	Parity   uint16 `mapstructure:"parity"`
	StopBits uint16 `mapstructure:"stop_bits"`
	ChipID   uint16 `mapstructure:"chip_id"`
	ChipRev  uint16 `mapstructure:"chip_rev"`
	Execute  uint16 `mapstructure:"execute"`
	Slave    uint16 `mapstructure:"slave"`
	Function uint16 `mapstructure:"function"`
	Starting uint16 `mapstructure:"starting"`
	Quantity uint16 `mapstructure:"quantity"`
	Status   uint16 `mapstructure:"status"`
	Data1    uint16 `mapstructure:"data1"`
}

// Map converts the configured addresses to an is4320.RegisterMap.
func (r RegistersConfig) Map() is4320.RegisterMap {
	return is4320.RegisterMap{
		BaudRate: r.BaudRate,
		Parity:   r.Parity,
		StopBits: r.StopBits,
		ChipID:   r.ChipID,
		ChipRev:  r.ChipRev,
		Execute:  r.Execute,
		Slave:    r.Slave,
		Function: r.Function,
		Starting: r.Starting,
		Quantity: r.Quantity,
		Status:   r.Status,
		Data1:    r.Data1,
	}
}

// LinkConfig holds the gateway codes for the Modbus RTU serial parameters
type LinkConfig struct {
	BaudCode     uint16 `mapstructure:"baud_code"`
	ParityCode   uint16 `mapstructure:"parity_code"`
	StopBitsCode uint16 `mapstructure:"stop_bits_code"`
}

// RequestConfig is the Modbus transaction executed every cycle
type RequestConfig struct {
	SlaveID         uint16 `mapstructure:"slave_id"`
	FunctionCode    uint16 `mapstructure:"function_code"`
	StartingAddress uint16 `mapstructure:"starting_address"`
	Quantity        uint16 `mapstructure:"quantity"`
}

// TimingConfig defines the fixed delays of the engine
type TimingConfig struct {
	DetectRetry  time.Duration `mapstructure:"detect_retry"`
	CycleDelay   time.Duration `mapstructure:"cycle_delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// SnapshotConfig defines where the outcome mirror is kept
type SnapshotConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// SimulatorConfig replaces the I2C bus with a software gateway
type SimulatorConfig struct {
	Enabled    bool             `mapstructure:"enabled"`
	ChipRev    uint16           `mapstructure:"chip_rev"`
	Downstream DownstreamConfig `mapstructure:"downstream"`
}

// DownstreamConfig defines the slave the simulated gateway talks to
type DownstreamConfig struct {
	Type    string        `mapstructure:"type"` // "local", "rtu", "tcp"
	Timeout time.Duration `mapstructure:"timeout"`
	Tcp     TcpConfig     `mapstructure:"tcp"`    // Used if Type is "tcp"
	Serial  SerialConfig  `mapstructure:"serial"` // Used if Type is "rtu"
	Local   LocalConfig   `mapstructure:"local"`  // Used if Type is "local"
}

// TcpConfig defines TCP settings
type TcpConfig struct {
	Address string `mapstructure:"address"` // e.g. "192.168.1.100:502"
}

// LocalConfig defines settings for the in-memory slave
type LocalConfig struct {
	SlaveID          uint16            `mapstructure:"slave_id"`
	HoldingRegisters map[uint16]uint16 `mapstructure:"holding_registers"` // address -> initial value
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("i2c.bus", "1")
	v.SetDefault("i2c.address", 0x14)
	v.SetDefault("chip.id", 20)

	v.SetDefault("registers.baud_rate", 0)
	v.SetDefault("registers.parity", 1)
	v.SetDefault("registers.stop_bits", 2)
	v.SetDefault("registers.chip_id", 4)
	v.SetDefault("registers.chip_rev", 5)
	v.SetDefault("registers.execute", 6)
	v.SetDefault("registers.slave", 7)
	v.SetDefault("registers.function", 8)
	v.SetDefault("registers.starting", 9)
	v.SetDefault("registers.quantity", 10)
	v.SetDefault("registers.status", 138)
	v.SetDefault("registers.data1", 139)

	v.SetDefault("link.baud_code", 113)
	v.SetDefault("link.parity_code", 122)
	v.SetDefault("link.stop_bits_code", 131)

	v.SetDefault("request.slave_id", 1)
	v.SetDefault("request.function_code", 3)
	v.SetDefault("request.starting_address", 0)
	v.SetDefault("request.quantity", 1)

	v.SetDefault("timing.detect_retry", time.Second)
	v.SetDefault("timing.cycle_delay", time.Second)
	v.SetDefault("timing.poll_interval", 0)

	v.SetDefault("snapshot.type", "memory")

	v.SetDefault("simulator.chip_rev", 1)
	v.SetDefault("simulator.downstream.type", "local")
	v.SetDefault("simulator.downstream.timeout", 500*time.Millisecond)
	v.SetDefault("simulator.downstream.local.slave_id", 1)
}

// LoadConfig loads configuration from file
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/is4320bridge/")
		v.AddConfigPath("$HOME/.is4320bridge")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Every setting has a default, so a missing file is fine when none was given.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixup(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func fixup(c *Config) {
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Snapshot.Type = strings.ToLower(c.Snapshot.Type)
	c.Simulator.Downstream.Type = strings.ToLower(c.Simulator.Downstream.Type)
	fixupSerial(&c.Simulator.Downstream.Serial)
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "" {
		s.Parity = "E"
	}
	if s.BaudRate == 0 {
		s.BaudRate = 19200
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
}
