// Package config loads the daemon's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/line-oee/internal/gpio"
	"github.com/sweeney/line-oee/internal/logger"
	"github.com/sweeney/line-oee/internal/logic"
)

var (
	ErrInvalidInterval = errors.New("interval must be positive")
	ErrInvalidShift    = errors.New("invalid shift definition")
	ErrMissingBroker   = errors.New("mqtt broker is required")
)

// MQTTConfig describes the broker connection.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	BufferSize  int    `yaml:"buffer_size"`
}

// NATSConfig enables the NATS mirror when URL is set.
type NATSConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DatabaseConfig selects Postgres when URL is set; otherwise an in-memory
// store is used.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// CounterConfig enables the GPIO shot counter when Machine is set.
type CounterConfig struct {
	Machine   string        `yaml:"machine"`
	Chip      string        `yaml:"chip"`
	Pin       int           `yaml:"pin"`
	ActiveLow bool          `yaml:"active_low"`
	Poll      time.Duration `yaml:"poll"`
	Debounce  time.Duration `yaml:"debounce"`
}

// Enabled reports whether a counter line is configured.
func (c CounterConfig) Enabled() bool {
	return strings.TrimSpace(c.Machine) != ""
}

// Config is the daemon configuration.
type Config struct {
	NodeID                   string        `yaml:"node_id"`
	Timezone                 string        `yaml:"timezone"`
	HTTPAddr                 string        `yaml:"http_addr"`
	VisionThreshold          int           `yaml:"vision_threshold"`
	LiveInterval             time.Duration `yaml:"live_interval"`
	ShiftInterval            time.Duration `yaml:"shift_interval"`
	HeartbeatInterval        time.Duration `yaml:"heartbeat_interval"` // 0 disables
	DefaultDowntimeThreshold time.Duration `yaml:"default_downtime_threshold"`
	QueueSize                int           `yaml:"queue_size"`

	MQTT     MQTTConfig       `yaml:"mqtt"`
	NATS     NATSConfig       `yaml:"nats"`
	Database DatabaseConfig   `yaml:"database"`
	Counter  CounterConfig    `yaml:"counter"`
	Logging  logger.Config    `yaml:"logging"`
	Master   logic.MasterData `yaml:"master"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		NodeID:                   "AIOT_001",
		Timezone:                 "Local",
		HTTPAddr:                 ":8080",
		VisionThreshold:          12,
		LiveInterval:             30 * time.Second,
		ShiftInterval:            60 * time.Second,
		HeartbeatInterval:        15 * time.Minute,
		DefaultDowntimeThreshold: logic.DefaultDowntimeThreshold,
		QueueSize:                64,
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "line-oee",
		},
		Counter: CounterConfig{
			Chip:     gpio.DefaultChip,
			Pin:      gpio.DefaultPin,
			Poll:     10 * time.Millisecond,
			Debounce: 50 * time.Millisecond,
		},
		Logging: logger.Config{Level: "info", Output: "stdout"},
	}
}

// Load reads the file at path over the defaults and validates the result.
// An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.NodeID = strings.TrimSpace(cfg.NodeID)
	cfg.MQTT.Broker = strings.TrimSpace(cfg.MQTT.Broker)
	cfg.Counter.Machine = strings.TrimSpace(cfg.Counter.Machine)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Location resolves the configured time zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

type interval struct {
	name string
	d    time.Duration
}

// Validate checks intervals, the time zone and the shift calendar.
func (c Config) Validate() error {
	if c.MQTT.Broker == "" {
		return ErrMissingBroker
	}
	intervals := []interval{
		{"live_interval", c.LiveInterval},
		{"shift_interval", c.ShiftInterval},
		{"default_downtime_threshold", c.DefaultDowntimeThreshold},
	}
	if c.Counter.Enabled() {
		intervals = append(intervals, interval{"counter.poll", c.Counter.Poll})
	}
	for _, iv := range intervals {
		if iv.d <= 0 {
			return fmt.Errorf("%s: %w", iv.name, ErrInvalidInterval)
		}
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("heartbeat_interval: %w", ErrInvalidInterval)
	}
	if c.Counter.Debounce < 0 {
		return fmt.Errorf("counter.debounce: %w", ErrInvalidInterval)
	}
	if c.VisionThreshold < 0 {
		return fmt.Errorf("vision_threshold must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for _, s := range c.Master.Shifts {
		if err := validateShift(s); err != nil {
			return err
		}
	}
	return nil
}

func validateShift(s logic.ShiftDef) error {
	if strings.TrimSpace(s.Code) == "" {
		return fmt.Errorf("%w: missing code", ErrInvalidShift)
	}
	offsets := []*int{&s.StartSec, &s.EndSec, s.BreakStart, s.BreakEnd}
	for _, o := range offsets {
		if o != nil && (*o < 0 || *o >= 24*60*60) {
			return fmt.Errorf("%w: %s offset %d outside the day", ErrInvalidShift, s.Code, *o)
		}
	}
	return nil
}
