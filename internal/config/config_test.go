// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	applog "csi/internal/log"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected default config, got nil")
	}
	if cfg.Capture.QueueCapacity != DefaultQueueCapacity || cfg.Sink.Kind != DefaultSinkKind {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Errorf("expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, ":\n:bad")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Error("expected unmarshal error, got nil or wrong error")
	}
}

func TestLoadConfig_File(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, `
log_level: warn
capture:
  queue_capacity: 32
  alloc_budget_frames: 40
sink:
  kind: datagram
  udp_target_address: 10.0.0.7:8000
  dial_retry_interval: 500ms
radio:
  source: Replay
  replay:
    path: capture.csv
    loop: true
monitor:
  enabled: true
  address: 127.0.0.1:9200
  publish_interval: 250ms
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Capture.QueueCapacity != 32 || cfg.Capture.AllocBudget != 40 {
		t.Errorf("capture = %+v", cfg.Capture)
	}
	if cfg.Capture.MaxSamples != DefaultMaxSamples {
		t.Errorf("unset max_samples = %d, want default %d", cfg.Capture.MaxSamples, DefaultMaxSamples)
	}
	if cfg.Sink.Kind != "udp" || cfg.Sink.UDPTargetAddress != "10.0.0.7:8000" || cfg.Sink.DialRetryInterval != 500*time.Millisecond {
		t.Errorf("sink = %+v", cfg.Sink)
	}
	if cfg.Radio.Source != "replay" || !cfg.Radio.Replay.Loop {
		t.Errorf("radio = %+v", cfg.Radio)
	}
	if !cfg.Monitor.Enabled || cfg.Monitor.PublishInterval != 250*time.Millisecond {
		t.Errorf("monitor = %+v", cfg.Monitor)
	}
	if cfg.Level() != applog.LevelWarn {
		t.Errorf("Level() = %v, want WARN", cfg.Level())
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ENV_DEBUG", "true")
	t.Setenv("ENV_SINK", "udp")
	t.Setenv("ENV_UDP_TARGET_ADDRESS", "127.0.0.1:7000")
	t.Setenv("ENV_QUEUE_CAPACITY", "64")
	t.Setenv("ENV_MONITOR_ADDRESS", "127.0.0.1:9300")

	path := writeTempConfig(t, "sink:\n  kind: text\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if !cfg.Debug || cfg.Level() != applog.LevelDebug {
		t.Error("ENV_DEBUG not applied")
	}
	if cfg.Sink.Kind != "udp" || cfg.Sink.UDPTargetAddress != "127.0.0.1:7000" {
		t.Errorf("sink = %+v, want env values", cfg.Sink)
	}
	if cfg.Capture.QueueCapacity != 64 {
		t.Errorf("queue_capacity = %d, want 64", cfg.Capture.QueueCapacity)
	}
	if !cfg.Monitor.Enabled || cfg.Monitor.Address != "127.0.0.1:9300" {
		t.Errorf("monitor = %+v, want enabled on env address", cfg.Monitor)
	}
}

func TestLoadConfig_EnvIgnoresGarbage(t *testing.T) {
	t.Setenv("ENV_QUEUE_CAPACITY", "lots")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Capture.QueueCapacity != DefaultQueueCapacity {
		t.Errorf("queue_capacity = %d, want default", cfg.Capture.QueueCapacity)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"Defaults", func(c *Config) {}, ""},
		{"Bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"Zero queue", func(c *Config) { c.Capture.QueueCapacity = 0 }, "queue_capacity"},
		{"Queue capacity one", func(c *Config) { c.Capture.QueueCapacity = 1 }, ""},
		{"Zero max samples", func(c *Config) { c.Capture.MaxSamples = 0 }, "max_samples"},
		{"Budget of one", func(c *Config) { c.Capture.AllocBudget = 1 }, "alloc_budget_frames"},
		{"Unknown sink", func(c *Config) { c.Sink.Kind = "carrier-pigeon" }, "sink.kind"},
		{"Text to file", func(c *Config) { c.Sink.TextOutput = "out.txt" }, "text_output"},
		{"UDP without port", func(c *Config) {
			c.Sink.Kind = "udp"
			c.Sink.UDPTargetAddress = "10.0.0.1"
		}, "udp_target_address"},
		{"UDP frames beyond datagram limit", func(c *Config) {
			c.Sink.Kind = "udp"
			c.Capture.MaxSamples = MaxDatagramSamples + 1
		}, "UDP payload limit"},
		{"UDP frames at datagram limit", func(c *Config) {
			c.Sink.Kind = "udp"
			c.Capture.MaxSamples = MaxDatagramSamples
		}, ""},
		{"Text frames beyond datagram limit", func(c *Config) { c.Capture.MaxSamples = MaxSamplesPerFrame }, ""},
		{"TUI over stdout", func(c *Config) { c.TUIMode = true }, "dashboard"},
		{"TUI with text on stderr", func(c *Config) {
			c.TUIMode = true
			c.Sink.TextOutput = "stderr"
		}, ""},
		{"TUI with udp", func(c *Config) {
			c.TUIMode = true
			c.Sink.Kind = "udp"
		}, ""},
		{"Unknown source", func(c *Config) { c.Radio.Source = "esp32" }, "radio.source"},
		{"Replay without path", func(c *Config) { c.Radio.Source = "replay" }, "radio.replay.path"},
		{"UDP source", func(c *Config) { c.Radio.Source = "UDP" }, ""},
		{"UDP source without port", func(c *Config) {
			c.Radio.Source = "udp"
			c.Radio.UDP.Listen = "0.0.0.0"
		}, "radio.udp.listen"},
		{"Simulator too large", func(c *Config) { c.Radio.Simulator.Samples = DefaultMaxSamples + 1 }, "radio.simulator.samples"},
		{"Monitor bad address", func(c *Config) {
			c.Monitor.Enabled = true
			c.Monitor.Address = "nowhere"
		}, "monitor.address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
