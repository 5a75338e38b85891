// Package config loads the rtmpsess YAML configuration with strict decoding
// and explicit defaults.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the complete server configuration.
// All fields must have explicit defaults or be required.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	RTMP    RTMPConfig    `yaml:"rtmp"`
	Log     LogConfig     `yaml:"log"`
	Relays  []RelayConfig `yaml:"relays,omitempty"`
}

// ServerConfig defines listener ports.
type ServerConfig struct {
	HealthPort int `yaml:"health_port"` // Port for health, metrics, the JSON API and FLV playback
	RTMPPort   int `yaml:"rtmp_port"`
	// WSAllowedOrigins restricts WebSocket-FLV viewers. Empty allows every origin.
	WSAllowedOrigins []string `yaml:"ws_allowed_origins,omitempty"`
}

// SessionConfig tunes the RTMP session layer.
type SessionConfig struct {
	ChunkSize         uint32 `yaml:"chunk_size"`
	WindowAckSize     uint32 `yaml:"window_ack_size"`
	PeerBandwidth     uint32 `yaml:"peer_bandwidth"`      // 0 disables Set Peer Bandwidth
	PeerBandwidthType string `yaml:"peer_bandwidth_type"` // hard, soft or dynamic
	PlayBufferLength  uint32 `yaml:"play_buffer_length"`  // Milliseconds, used by the probe
}

// RTMPConfig controls the RTMP listener.
type RTMPConfig struct {
	AcceptRate      float64  `yaml:"accept_rate"` // Connections per second
	AcceptBurst     int      `yaml:"accept_burst"`
	AllowedApps     []string `yaml:"allowed_apps,omitempty"` // Empty allows every app
	MaxMessageSize  uint32   `yaml:"max_message_size"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	SubscriberQueue int      `yaml:"subscriber_queue"`
}

// RelayConfig defines one pull or push relay.
// Pull plays RemoteURL and publishes it locally as App/Name.
// Push publishes the local App/Name to RemoteURL.
type RelayConfig struct {
	App        string   `yaml:"app"`
	Name       string   `yaml:"name"`
	Mode       string   `yaml:"mode"`       // pull or push
	RemoteURL  string   `yaml:"remote_url"` // rtmp://host[:port]/app/stream
	Reconnect  bool     `yaml:"reconnect"`
	RetryDelay Duration `yaml:"retry_delay,omitempty"`
}

// LogConfig selects the zap logger flavor.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development,omitempty"`
}

// Load reads configuration from a YAML file.
// Returns an error if the file cannot be read or decoded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration from YAML bytes and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields

	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// setDefaults applies explicit default values to unset fields.
func (c *Config) setDefaults() {
	if c.Server.HealthPort == 0 {
		c.Server.HealthPort = 8080
	}
	if c.Server.RTMPPort == 0 {
		c.Server.RTMPPort = 1935
	}

	if c.Session.ChunkSize == 0 {
		c.Session.ChunkSize = 4096
	}
	if c.Session.WindowAckSize == 0 {
		c.Session.WindowAckSize = 5000000
	}
	if c.Session.PeerBandwidthType == "" {
		c.Session.PeerBandwidthType = "dynamic"
	}
	if c.Session.PlayBufferLength == 0 {
		c.Session.PlayBufferLength = 3000
	}

	if c.RTMP.AcceptRate == 0 {
		c.RTMP.AcceptRate = 50
	}
	if c.RTMP.AcceptBurst == 0 {
		c.RTMP.AcceptBurst = 100
	}
	if c.RTMP.MaxMessageSize == 0 {
		c.RTMP.MaxMessageSize = 8 << 20
	}
	if c.RTMP.IdleTimeout == 0 {
		c.RTMP.IdleTimeout = Duration(defaultIdleTimeout)
	}
	if c.RTMP.SubscriberQueue == 0 {
		c.RTMP.SubscriberQueue = 256
	}

	for i := range c.Relays {
		if c.Relays[i].RetryDelay == 0 {
			c.Relays[i].RetryDelay = Duration(defaultRetryDelay)
		}
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
