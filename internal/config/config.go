// Package config loads the daemon configuration from a TOML file and
// command-line flags. Flags explicitly set on the command line win over the
// file, which wins over defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/sweeney/amp-switch/internal/gpio"
)

// DefaultPath is used when --config is not given.
const DefaultPath = "/etc/amp-switch.toml"

// Config is the full daemon configuration.
type Config struct {
	Chip     string        `toml:"chip"`
	Consumer string        `toml:"consumer"`
	Switch   SwitchConfig  `toml:"switch"`
	Outputs  OutputsConfig `toml:"outputs"`
	MQTT     MQTTConfig    `toml:"mqtt"`
	HTTP     HTTPConfig    `toml:"http"`
	Log      LogConfig     `toml:"log"`
}

// SwitchConfig describes the input line.
type SwitchConfig struct {
	Offset    int    `toml:"offset"`
	ActiveLow bool   `toml:"active_low"`
	Bias      string `toml:"bias"`
}

// OutputsConfig describes the mirrored output lines.
type OutputsConfig struct {
	Offsets   []int `toml:"offsets"`
	ActiveLow bool  `toml:"active_low"`
}

// MQTTConfig controls event publishing. An empty Broker disables it.
type MQTTConfig struct {
	Broker    string `toml:"broker"`
	ClientID  string `toml:"client_id"`
	Topic     string `toml:"topic"`
	Heartbeat string `toml:"heartbeat"` // Go duration, "0" disables
}

// HTTPConfig controls the status server. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

// Default returns the built-in configuration. It does not validate: no
// switch or output offsets are set.
func Default() Config {
	return Config{
		Chip:     "gpiochip0",
		Consumer: "amp-switch",
		Switch:   SwitchConfig{Offset: -1},
		MQTT: MQTTConfig{
			ClientID:  "amp-switch",
			Topic:     "amp-switch",
			Heartbeat: "15m",
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is
// only an error when required is set (the path was given explicitly).
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Decode(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode applies TOML data over cfg. Keys absent from data keep their
// current values; unknown keys are an error.
func Decode(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.Chip == "" {
		return errors.New("chip: required")
	}
	if c.Switch.Offset < 0 {
		return errors.New("switch.offset: required")
	}
	if !gpio.ValidBias(c.Switch.Bias) {
		return fmt.Errorf("switch.bias: unknown value %q", c.Switch.Bias)
	}
	if len(c.Outputs.Offsets) == 0 {
		return errors.New("outputs.offsets: at least one output required")
	}
	seen := make(map[int]bool, len(c.Outputs.Offsets))
	for _, o := range c.Outputs.Offsets {
		if o < 0 {
			return fmt.Errorf("outputs.offsets: negative offset %d", o)
		}
		if o == c.Switch.Offset {
			return fmt.Errorf("outputs.offsets: %d is the switch line", o)
		}
		if seen[o] {
			return fmt.Errorf("outputs.offsets: duplicate offset %d", o)
		}
		seen[o] = true
	}
	if _, err := c.HeartbeatInterval(); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// HeartbeatInterval parses MQTT.Heartbeat. Zero disables heartbeats.
func (c Config) HeartbeatInterval() (time.Duration, error) {
	if c.MQTT.Heartbeat == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.MQTT.Heartbeat)
	if err != nil {
		return 0, fmt.Errorf("mqtt.heartbeat: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("mqtt.heartbeat: negative duration %v", d)
	}
	return d, nil
}

// ChipConfig returns the line layout for the gpio package.
func (c Config) ChipConfig() gpio.ChipConfig {
	return gpio.ChipConfig{
		Chip:             c.Chip,
		Consumer:         c.Consumer,
		Switch:           c.Switch.Offset,
		SwitchActiveLow:  c.Switch.ActiveLow,
		SwitchBias:       c.Switch.Bias,
		Outputs:          c.Outputs.Offsets,
		OutputsActiveLow: c.Outputs.ActiveLow,
	}
}

// Flag names shared by RegisterFlags and Override.
const (
	FlagConfig           = "config"
	FlagChip             = "chip"
	FlagSwitch           = "switch"
	FlagSwitchActiveLow  = "switch-active-low"
	FlagBias             = "bias"
	FlagOutputs          = "outputs"
	FlagOutputsActiveLow = "outputs-active-low"
	FlagBroker           = "broker"
	FlagHeartbeat        = "heartbeat"
	FlagHTTP             = "http"
	FlagLogLevel         = "log-level"
	FlagLogFormat        = "log-format"
)

// RegisterFlags adds the configuration flags to flags, defaulting to Default().
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.StringP(FlagConfig, "c", DefaultPath, "Path to TOML configuration file")
	flags.String(FlagChip, d.Chip, "GPIO chip name")
	flags.Int(FlagSwitch, d.Switch.Offset, "Line offset of the switch input")
	flags.Bool(FlagSwitchActiveLow, d.Switch.ActiveLow, "Treat the switch as active low")
	flags.String(FlagBias, d.Switch.Bias, `Switch bias ("pull-up", "pull-down", "disable", or empty to leave as-is)`)
	flags.IntSlice(FlagOutputs, nil, "Line offsets of the mirrored outputs (comma separated)")
	flags.Bool(FlagOutputsActiveLow, d.Outputs.ActiveLow, "Treat the outputs as active low")
	flags.String(FlagBroker, d.MQTT.Broker, "MQTT broker address (empty to disable)")
	flags.String(FlagHeartbeat, d.MQTT.Heartbeat, "Heartbeat interval (0 to disable)")
	flags.String(FlagHTTP, d.HTTP.Addr, "HTTP status address (empty to disable)")
	flags.String(FlagLogLevel, d.Log.Level, "Log level (debug, info, warn, error)")
	flags.String(FlagLogFormat, d.Log.Format, "Log format (text, json)")
}

// Override copies every flag explicitly set on the command line into cfg.
func Override(flags *pflag.FlagSet, cfg *Config) error {
	var err error
	set := func(name string, apply func() error) {
		if err != nil || !flags.Changed(name) {
			return
		}
		if e := apply(); e != nil {
			err = fmt.Errorf("--%s: %w", name, e)
		}
	}

	set(FlagChip, func() (e error) { cfg.Chip, e = flags.GetString(FlagChip); return })
	set(FlagSwitch, func() (e error) { cfg.Switch.Offset, e = flags.GetInt(FlagSwitch); return })
	set(FlagSwitchActiveLow, func() (e error) { cfg.Switch.ActiveLow, e = flags.GetBool(FlagSwitchActiveLow); return })
	set(FlagBias, func() (e error) { cfg.Switch.Bias, e = flags.GetString(FlagBias); return })
	set(FlagOutputs, func() (e error) { cfg.Outputs.Offsets, e = flags.GetIntSlice(FlagOutputs); return })
	set(FlagOutputsActiveLow, func() (e error) { cfg.Outputs.ActiveLow, e = flags.GetBool(FlagOutputsActiveLow); return })
	set(FlagBroker, func() (e error) { cfg.MQTT.Broker, e = flags.GetString(FlagBroker); return })
	set(FlagHeartbeat, func() (e error) { cfg.MQTT.Heartbeat, e = flags.GetString(FlagHeartbeat); return })
	set(FlagHTTP, func() (e error) { cfg.HTTP.Addr, e = flags.GetString(FlagHTTP); return })
	set(FlagLogLevel, func() (e error) { cfg.Log.Level, e = flags.GetString(FlagLogLevel); return })
	set(FlagLogFormat, func() (e error) { cfg.Log.Format, e = flags.GetString(FlagLogFormat); return })
	return err
}

// FromFlags loads the file named by --config and applies flag overrides.
func FromFlags(flags *pflag.FlagSet) (Config, error) {
	path, err := flags.GetString(FlagConfig)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Load(path, flags.Changed(FlagConfig))
	if err != nil {
		return cfg, err
	}
	if err := Override(flags, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
