// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ffutop/mbverify/modbus"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// Config defines the global configuration structure
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Link      LinkConfig      `mapstructure:"link"`
	Slave     int             `mapstructure:"slave"`
	Registers RegistersConfig `mapstructure:"registers"`
	Upgrade   UpgradeConfig   `mapstructure:"upgrade"`
	Verify    VerifyConfig    `mapstructure:"verify"`
	Simulate  SimulateConfig  `mapstructure:"simulate"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// LinkConfig defines the connection to the device under test
type LinkConfig struct {
	Type   string       `mapstructure:"type"`   // "rtu", "tcp", "rtu-over-tcp", "local"
	Tcp    TcpConfig    `mapstructure:"tcp"`    // Used if Type is "tcp" or "rtu-over-tcp"
	Serial SerialConfig `mapstructure:"serial"` // Used if Type is "rtu"
	Local  DeviceConfig `mapstructure:"local"`  // Used if Type is "local"
}

// SimulateConfig defines the server side of the simulated device
type SimulateConfig struct {
	Type   string       `mapstructure:"type"` // "tcp", "rtu", "rtu-over-tcp"
	Tcp    TcpConfig    `mapstructure:"tcp"`
	Serial SerialConfig `mapstructure:"serial"`
	Device DeviceConfig `mapstructure:"device"`
}

// DeviceConfig defines the simulated device
type DeviceConfig struct {
	Persistence    PersistenceConfig `mapstructure:"persistence"`
	AddressLimit   int               `mapstructure:"address_limit"`   // 0 keeps the full address space
	RegistersOnly  bool              `mapstructure:"registers_only"`  // reject coil and single write functions
	EmulateUpgrade bool              `mapstructure:"emulate_upgrade"` // acknowledge upgrade pages
	Seed           bool              `mapstructure:"seed"`            // load register map values into the image
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// TcpConfig defines TCP settings
type TcpConfig struct {
	Address string `mapstructure:"address"` // e.g. "0.0.0.0:502" or "192.168.1.100:502"
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device    string        `mapstructure:"device"`
	BaudRate  int           `mapstructure:"baud_rate"`
	DataBits  int           `mapstructure:"data_bits"`
	Parity    string        `mapstructure:"parity"`
	StopBits  int           `mapstructure:"stop_bits"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RqstPause time.Duration `mapstructure:"rqst_pause"` // Pause between requests

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// RegistersConfig defines the register map and its retry policy
type RegistersConfig struct {
	File     string        `mapstructure:"file"`
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
}

// UpgradeConfig defines the firmware upgrade handshake. Delays are given in
// seconds in the file.
type UpgradeConfig struct {
	Align            int           `mapstructure:"align"`
	PageBytes        int           `mapstructure:"page_bytes"`
	Address          int           `mapstructure:"address"`
	TypeBinary       int           `mapstructure:"type_binary"`
	ModeOperation    int           `mapstructure:"mode_operation"`
	InitDelay        time.Duration `mapstructure:"-"`
	BlockDelay       time.Duration `mapstructure:"-"`
	SkipApplyOnAbort bool          `mapstructure:"skip_apply_on_abort"`
}

// VerifyConfig defines the read/write soak test
type VerifyConfig struct {
	Iterations int           `mapstructure:"iterations"`
	Delay      time.Duration `mapstructure:"delay"`
	Register   string        `mapstructure:"register"`
	Slaves     []int         `mapstructure:"slaves"`
	Report     string        `mapstructure:"report"`
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level": "log.level",
	"log-file":  "log.file",
	"slave":     "slave",
	"link":      "link.type",
	"address":   "link.tcp.address",
	"device":    "link.serial.device",
	"registers": "registers.file",
}

// LoadConfig loads configuration from file. Without a file the defaults are
// returned.
func LoadConfig(configFile string) (*Config, error) {
	return Load(configFile, nil)
}

// Load loads configuration from file and lets the flags of fs that were set
// override it. fs may be nil.
func Load(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("mbverify")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/mbverify/")
		v.AddConfigPath("$HOME/.mbverify")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var err error
	if config.Upgrade.InitDelay, err = seconds(v.Get("upgrade.init_delay")); err != nil {
		return nil, fmt.Errorf("upgrade.init_delay: %w", err)
	}
	if config.Upgrade.BlockDelay, err = seconds(v.Get("upgrade.block_delay")); err != nil {
		return nil, fmt.Errorf("upgrade.block_delay: %w", err)
	}

	fixupSerial(&config.Link.Serial)
	fixupSerial(&config.Simulate.Serial)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("link.type", "rtu")
	v.SetDefault("link.serial.baud_rate", 19200)
	v.SetDefault("link.serial.data_bits", 8)
	v.SetDefault("link.serial.stop_bits", 1)
	v.SetDefault("link.serial.parity", "E")
	v.SetDefault("slave", 1)
	v.SetDefault("registers.file", "registers.json")
	v.SetDefault("registers.attempts", 2)
	v.SetDefault("registers.delay", 500*time.Millisecond)
	v.SetDefault("upgrade.align", 256)
	v.SetDefault("upgrade.page_bytes", 128)
	v.SetDefault("upgrade.init_delay", 0)
	v.SetDefault("upgrade.block_delay", 0)
	v.SetDefault("verify.iterations", 2)
	v.SetDefault("verify.delay", time.Second)
	v.SetDefault("verify.register", "SYS_TEST")
	v.SetDefault("simulate.type", "tcp")
	v.SetDefault("simulate.tcp.address", "127.0.0.1:5020")
	v.SetDefault("simulate.serial.baud_rate", 19200)
	v.SetDefault("simulate.serial.data_bits", 8)
	v.SetDefault("simulate.serial.stop_bits", 1)
	v.SetDefault("simulate.serial.parity", "E")
}

// seconds converts a number of seconds, or a duration string such as "150ms",
// into a duration.
func seconds(raw interface{}) (time.Duration, error) {
	if raw == nil {
		return 0, nil
	}
	if s, ok := raw.(string); ok && strings.ContainsAny(s, "hmsuµn") {
		return cast.ToDurationE(s)
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fmt.Errorf("negative delay %v", f)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	switch c.Link.Type {
	case "rtu", "tcp", "rtu-over-tcp", "local":
	default:
		err = multierr.Append(err, fmt.Errorf("link.type: unknown link type %q", c.Link.Type))
	}
	switch c.Simulate.Type {
	case "rtu", "tcp", "rtu-over-tcp":
	default:
		err = multierr.Append(err, fmt.Errorf("simulate.type: unknown server type %q", c.Simulate.Type))
	}
	if c.Slave < 0 || c.Slave > 247 {
		err = multierr.Append(err, fmt.Errorf("slave: %d is not a unit address", c.Slave))
	}
	for _, s := range c.Verify.Slaves {
		if s < 0 || s > 247 {
			err = multierr.Append(err, fmt.Errorf("verify.slaves: %d is not a unit address", s))
		}
	}
	if c.Registers.Attempts < 1 {
		err = multierr.Append(err, fmt.Errorf("registers.attempts: must be at least 1, got %d", c.Registers.Attempts))
	}
	if c.Registers.Delay < 0 {
		err = multierr.Append(err, fmt.Errorf("registers.delay: negative delay %v", c.Registers.Delay))
	}
	if c.Upgrade.Align <= 0 {
		err = multierr.Append(err, fmt.Errorf("upgrade.align: must be positive, got %d", c.Upgrade.Align))
	}
	if c.Upgrade.PageBytes <= 0 || c.Upgrade.PageBytes%2 != 0 {
		err = multierr.Append(err, fmt.Errorf("upgrade.page_bytes: must be a positive even number, got %d", c.Upgrade.PageBytes))
	} else if words := c.Upgrade.PageBytes/2 + 5; words > modbus.WriteRegistersQuantityMax {
		err = multierr.Append(err, fmt.Errorf("upgrade.page_bytes: %d bytes need %d words per write, at most %d fit",
			c.Upgrade.PageBytes, words, modbus.WriteRegistersQuantityMax))
	}
	if c.Upgrade.Address < 0 || c.Upgrade.Address > 0xFFFF {
		err = multierr.Append(err, fmt.Errorf("upgrade.address: %d out of register space", c.Upgrade.Address))
	}
	if c.Verify.Iterations < 0 {
		err = multierr.Append(err, fmt.Errorf("verify.iterations: negative count %d", c.Verify.Iterations))
	}
	return err
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
	if s.RqstPause == 0 {
		s.RqstPause = 100 * time.Millisecond
	}
}
