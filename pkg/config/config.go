// Package config holds link and application settings. Values come from
// defaults, then environment, then an optional TOML file, then flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration decoded from strings like "1.5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Device types accepted by NetworkConfig.DeviceType.
const (
	Coordinator = "coordinator"
	Router      = "router"
	EndDevice   = "end-device"
)

// NetworkConfig controls network start/join.
type NetworkConfig struct {
	// NewNetwork clears state and config before starting.
	NewNetwork bool   `toml:"new_network"`
	DeviceType string `toml:"device_type"`
	// PanID 0xffff picks a random PAN for coordinators, any PAN otherwise.
	PanID        uint16   `toml:"pan_id"`
	Channel      int      `toml:"channel"`
	Endpoint     uint8    `toml:"endpoint"`
	StartTimeout Duration `toml:"start_timeout"`
}

// MQTTConfig controls the event bridge.
type MQTTConfig struct {
	// URL is mqtt://[user:pass@]host:port/topic-prefix, empty disables the bridge.
	URL string `toml:"url"`
	// HostID names this link in topics, defaults to the machine id.
	HostID string `toml:"host_id"`
}

// AdminConfig controls the admin HTTP server.
type AdminConfig struct {
	// Addr to listen on, empty disables the server.
	Addr string `toml:"addr"`
}

// StressConfig controls the stress test.
type StressConfig struct {
	Interval Duration `toml:"interval"`
	MaxNodes int      `toml:"max_nodes"`
}

// Config is the complete configuration.
type Config struct {
	Device      string        `toml:"device"`
	Baud        int           `toml:"baud"`
	CallTimeout Duration      `toml:"call_timeout"`
	Network     NetworkConfig `toml:"network"`
	MQTT        MQTTConfig    `toml:"mqtt"`
	Admin       AdminConfig   `toml:"admin"`
	Stress      StressConfig  `toml:"stress"`
}

var defaultConfig = Config{
	Device:      "/dev/ttyACM0",
	Baud:        115200,
	CallTimeout: Duration{time.Second},
	Network: NetworkConfig{
		DeviceType:   Coordinator,
		PanID:        0xffff,
		Channel:      11,
		Endpoint:     1,
		StartTimeout: Duration{30 * time.Second},
	},
	Admin: AdminConfig{Addr: ":9180"},
	Stress: StressConfig{
		Interval: Duration{500 * time.Millisecond},
		MaxNodes: 10,
	},
}

func init() {
	applyEnv(&defaultConfig, os.Getenv)
}

func applyEnv(conf *Config, getenv func(string) string) {
	if val := getenv("ZNP_DEVICE"); val != "" {
		conf.Device = val
	}
	if val := getenv("ZNP_BAUD"); val != "" {
		if baud, err := strconv.Atoi(val); err == nil {
			conf.Baud = baud
		}
	}
	if val := getenv("ZNP_MQTT_URL"); val != "" {
		conf.MQTT.URL = val
	}
	if val := getenv("ZNP_ADMIN_ADDR"); val != "" {
		conf.Admin.Addr = val
	}
}

// Default gets the default config, flags may be bound to it.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Load decodes a TOML file over the defaults.
func Load(path string) (*Config, error) {
	conf := NewConfig()
	if err := conf.LoadFile(path); err != nil {
		return nil, err
	}
	return conf, nil
}

// LoadFile decodes a TOML file over c. Keys absent from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	return c.Validate()
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device) == "" {
		return errors.New("config: device is required")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("config: invalid baud %d", c.Baud)
	}
	switch c.Network.DeviceType {
	case Coordinator, Router, EndDevice:
	default:
		return fmt.Errorf("config: unknown device_type %q", c.Network.DeviceType)
	}
	if c.Network.Channel < 11 || c.Network.Channel > 26 {
		return fmt.Errorf("config: channel %d out of 11-26", c.Network.Channel)
	}
	if c.Network.Endpoint == 0 || c.Network.Endpoint > 240 {
		return fmt.Errorf("config: endpoint %d out of 1-240", c.Network.Endpoint)
	}
	return nil
}

// ChanMask is the channel bit mask of Network.Channel.
func (c *NetworkConfig) ChanMask() uint32 {
	return 1 << uint(c.Channel)
}
