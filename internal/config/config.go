// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	applog "csi/internal/log"
	"csi/internal/radio"
	"csi/internal/sink"

	"gopkg.in/yaml.v3"
)

// Defaults for every configurable value.
const (
	DefaultLogLevel          = "info"
	DefaultQueueCapacity     = 150  // Frames buffered between capture and delivery
	DefaultMaxSamples        = 1024 // Largest accepted CSI payload
	DefaultSinkKind          = sink.KindText
	DefaultTextOutput        = "stdout"
	DefaultUDPTargetAddress  = "192.168.4.2:8000"
	DefaultDialRetry         = 2 * time.Second
	DefaultRadioSource       = radio.SourceSimulator
	DefaultMonitorAddress    = "127.0.0.1:9100"
	DefaultMonitorInterval   = time.Second
	DefaultVerbosity         = false
	MaxQueueCapacity         = 1 << 16
	MaxSamplesPerFrame       = 1 << 16
	MaxDatagramSamples       = 65507 // Largest UDP payload over IPv4
	MinAllocBudgetFrames     = 2
	defaultConfigFileName    = "config.yaml"
	allocBudgetFromQueueSize = 0
)

// Config represents the application configuration, loaded from YAML and
// refined by environment variables and command line flags.
type Config struct {
	Debug    bool   `yaml:"debug"`     // Verbose logging
	LogLevel string `yaml:"log_level"` // debug, info, warn or error
	TUIMode  bool   `yaml:"tui"`       // Show the live dashboard

	Command string `yaml:"-"` // One-off command ("list") instead of capturing

	Capture CaptureConfig `yaml:"capture"`
	Sink    SinkConfig    `yaml:"sink"`
	Radio   RadioConfig   `yaml:"radio"`
	Monitor MonitorConfig `yaml:"monitor"`
}

// CaptureConfig sizes the frame pipeline.
type CaptureConfig struct {
	QueueCapacity int `yaml:"queue_capacity"`      // Hand-off queue slots
	MaxSamples    int `yaml:"max_samples"`         // Largest payload accepted per frame
	AllocBudget   int `yaml:"alloc_budget_frames"` // Outstanding frame limit, 0 for queue_capacity + 2 (one producer)
}

// SinkConfig selects where delivered frames go.
type SinkConfig struct {
	Kind              string        `yaml:"kind"`                // text or udp
	TextOutput        string        `yaml:"text_output"`         // stdout or stderr
	UDPTargetAddress  string        `yaml:"udp_target_address"`  // host:port of the datagram peer
	DialRetryInterval time.Duration `yaml:"dial_retry_interval"` // Delay between UDP dial attempts
}

// RadioConfig selects the CSI source.
type RadioConfig struct {
	Source    string          `yaml:"source"` // simulator, replay or udp
	Simulator SimulatorConfig `yaml:"simulator"`
	Replay    ReplayConfig    `yaml:"replay"`
	UDP       UDPSourceConfig `yaml:"udp"`
}

// SimulatorConfig configures the synthetic source.
type SimulatorConfig struct {
	Rate    float64 `yaml:"rate"`    // Frames per second, 0 for unlimited
	Samples int     `yaml:"samples"` // Samples per frame
	RSSI    int     `yaml:"rssi"`    // Mean RSSI in dBm
	Jitter  float64 `yaml:"rssi_jitter"`
	Noise   float64 `yaml:"noise"`
	Count   int     `yaml:"count"` // Frames before the source stops, 0 for unlimited
	Seed    uint64  `yaml:"seed"`
}

// ReplayConfig configures the capture file source.
type ReplayConfig struct {
	Path string  `yaml:"path"`
	Loop bool    `yaml:"loop"`
	Rate float64 `yaml:"rate"` // Frames per second, 0 for unlimited
}

// UDPSourceConfig configures the datagram receiver source.
type UDPSourceConfig struct {
	Listen string `yaml:"listen"` // host:port to bind
}

// MonitorConfig configures the telemetry HTTP server.
type MonitorConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	PublishInterval time.Duration `yaml:"publish_interval"` // WebSocket push period
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Debug:    DefaultVerbosity,
		LogLevel: DefaultLogLevel,
		Capture: CaptureConfig{
			QueueCapacity: DefaultQueueCapacity,
			MaxSamples:    DefaultMaxSamples,
			AllocBudget:   allocBudgetFromQueueSize,
		},
		Sink: SinkConfig{
			Kind:              DefaultSinkKind,
			TextOutput:        DefaultTextOutput,
			UDPTargetAddress:  DefaultUDPTargetAddress,
			DialRetryInterval: DefaultDialRetry,
		},
		Radio: RadioConfig{
			Source: DefaultRadioSource,
			Simulator: SimulatorConfig{
				Rate:    radio.DefaultSimulatorRate,
				Samples: radio.DefaultSimulatorSamples,
				RSSI:    radio.DefaultSimulatorRSSI,
				Jitter:  radio.DefaultSimulatorJitter,
				Noise:   radio.DefaultSimulatorNoise,
			},
			UDP: UDPSourceConfig{
				Listen: radio.DefaultDatagramListen,
			},
		},
		Monitor: MonitorConfig{
			Address:         DefaultMonitorAddress,
			PublishInterval: DefaultMonitorInterval,
		},
	}
}

// LoadConfig loads configuration from the YAML file at path (see ReadConfig)
// and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ReadConfig loads configuration from the YAML file at path without
// validating it, so callers can layer command line flags on top first. If
// path is empty, config.yaml in the working directory is used when present
// and the built-in defaults otherwise. Environment overrides are applied last.
func ReadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		if _, err := os.Stat(defaultConfigFileName); err == nil {
			path = defaultConfigFileName
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		applog.Debugf("Config: loaded %s", path)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration and normalizes the sink kind and radio
// source names.
func (c *Config) Validate() error {
	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}

	// Capture
	if c.Capture.QueueCapacity < 1 || c.Capture.QueueCapacity > MaxQueueCapacity {
		return fmt.Errorf("capture.queue_capacity must be between 1 and %d, got %d", MaxQueueCapacity, c.Capture.QueueCapacity)
	}
	if c.Capture.MaxSamples < 1 || c.Capture.MaxSamples > MaxSamplesPerFrame {
		return fmt.Errorf("capture.max_samples must be between 1 and %d, got %d", MaxSamplesPerFrame, c.Capture.MaxSamples)
	}
	if c.Capture.AllocBudget != allocBudgetFromQueueSize && c.Capture.AllocBudget < MinAllocBudgetFrames {
		return fmt.Errorf("capture.alloc_budget_frames must be 0 or at least %d, got %d", MinAllocBudgetFrames, c.Capture.AllocBudget)
	}

	// Sink
	kind, err := sink.ParseKind(c.Sink.Kind)
	if err != nil {
		return fmt.Errorf("sink.kind: %w", err)
	}
	c.Sink.Kind = kind
	switch kind {
	case sink.KindText:
		switch c.Sink.TextOutput {
		case "stdout", "stderr":
		default:
			return fmt.Errorf("sink.text_output must be stdout or stderr, got %q", c.Sink.TextOutput)
		}
		if c.TUIMode && c.Sink.TextOutput == "stdout" {
			return fmt.Errorf("the dashboard needs the terminal; use the udp sink or text_output: stderr")
		}
	case sink.KindDatagram:
		if _, _, err := net.SplitHostPort(c.Sink.UDPTargetAddress); err != nil {
			return fmt.Errorf("sink.udp_target_address %q is invalid: %w", c.Sink.UDPTargetAddress, err)
		}
		if c.Sink.DialRetryInterval <= 0 {
			return fmt.Errorf("sink.dial_retry_interval must be positive")
		}
		if c.Capture.MaxSamples > MaxDatagramSamples {
			return fmt.Errorf("capture.max_samples %d exceeds the UDP payload limit of %d bytes", c.Capture.MaxSamples, MaxDatagramSamples)
		}
	}

	// Radio
	c.Radio.Source = strings.ToLower(strings.TrimSpace(c.Radio.Source))
	switch c.Radio.Source {
	case radio.SourceSimulator:
		if c.Radio.Simulator.Samples < 0 || c.Radio.Simulator.Samples > c.Capture.MaxSamples {
			return fmt.Errorf("radio.simulator.samples must be between 0 and capture.max_samples (%d)", c.Capture.MaxSamples)
		}
		if c.Radio.Simulator.Count < 0 {
			return fmt.Errorf("radio.simulator.count cannot be negative")
		}
	case radio.SourceReplay:
		if c.Radio.Replay.Path == "" {
			return fmt.Errorf("radio.replay.path must be set for the replay source")
		}
	case radio.SourceUDP:
		if _, _, err := net.SplitHostPort(c.Radio.UDP.Listen); err != nil {
			return fmt.Errorf("radio.udp.listen %q is invalid: %w", c.Radio.UDP.Listen, err)
		}
	default:
		return fmt.Errorf("radio.source %q is not one of %s, %s, %s", c.Radio.Source, radio.SourceSimulator, radio.SourceReplay, radio.SourceUDP)
	}

	// Monitor
	if c.Monitor.Enabled {
		if _, _, err := net.SplitHostPort(c.Monitor.Address); err != nil {
			return fmt.Errorf("monitor.address %q is invalid: %w", c.Monitor.Address, err)
		}
		if c.Monitor.PublishInterval <= 0 {
			return fmt.Errorf("monitor.publish_interval must be positive")
		}
	}

	return nil
}

// Level returns the effective log level: debug when Debug is set, the
// configured level otherwise.
func (c *Config) Level() applog.LogLevel {
	if c.Debug {
		return applog.LevelDebug
	}
	level, _ := applog.ParseLevel(c.LogLevel)
	return level
}

// applyEnvOverrides applies ENV_* variables on top of the file values.
// Unparseable values are ignored with a warning.
func (c *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Debug = bVal
			applog.Infof("Config: overriding debug from env: %v", bVal)
		} else {
			applog.Warnf("Config: ignoring ENV_DEBUG=%q: %v", val, err)
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		c.LogLevel = val
		applog.Infof("Config: overriding log_level from env: %s", val)
	}
	// ENV_SINK
	if val, ok := os.LookupEnv("ENV_SINK"); ok {
		c.Sink.Kind = val
		applog.Infof("Config: overriding sink.kind from env: %s", val)
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		c.Sink.UDPTargetAddress = val
		applog.Infof("Config: overriding sink.udp_target_address from env: %s", val)
	}
	// ENV_QUEUE_CAPACITY
	if val, ok := os.LookupEnv("ENV_QUEUE_CAPACITY"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			c.Capture.QueueCapacity = n
			applog.Infof("Config: overriding capture.queue_capacity from env: %d", n)
		} else {
			applog.Warnf("Config: ignoring ENV_QUEUE_CAPACITY=%q: %v", val, err)
		}
	}
	// ENV_MONITOR_ADDRESS enables the monitor as well
	if val, ok := os.LookupEnv("ENV_MONITOR_ADDRESS"); ok {
		c.Monitor.Address = val
		c.Monitor.Enabled = true
		applog.Infof("Config: overriding monitor.address from env: %s", val)
	}
}
