package config

import (
	"fmt"
	"net/url"

	"go.uber.org/zap/zapcore"
)

const maxChunkSize = 0x7FFFFFFF

// Validate checks that all configuration values are within acceptable ranges.
// Returns an error describing the first validation failure found.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.RTMP.Validate(); err != nil {
		return fmt.Errorf("rtmp config: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	for i := range c.Relays {
		if err := c.Relays[i].Validate(); err != nil {
			return fmt.Errorf("relay %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks server configuration values.
func (s *ServerConfig) Validate() error {
	if s.HealthPort <= 0 || s.HealthPort > 65535 {
		return fmt.Errorf("health_port must be between 1 and 65535, got %d", s.HealthPort)
	}
	if s.RTMPPort <= 0 || s.RTMPPort > 65535 {
		return fmt.Errorf("rtmp_port must be between 1 and 65535, got %d", s.RTMPPort)
	}
	if s.HealthPort == s.RTMPPort {
		return fmt.Errorf("health_port and rtmp_port must be different, both are %d", s.HealthPort)
	}
	for _, origin := range s.WSAllowedOrigins {
		if _, err := url.Parse(origin); err != nil || origin == "" {
			return fmt.Errorf("ws_allowed_origins: invalid origin %q", origin)
		}
	}
	return nil
}

// Validate checks session tuning values.
func (s *SessionConfig) Validate() error {
	if s.ChunkSize < 1 || s.ChunkSize > maxChunkSize {
		return fmt.Errorf("chunk_size must be between 1 and %d, got %d", maxChunkSize, s.ChunkSize)
	}
	if s.WindowAckSize == 0 {
		return fmt.Errorf("window_ack_size must be positive")
	}
	switch s.PeerBandwidthType {
	case "hard", "soft", "dynamic":
	default:
		return fmt.Errorf("peer_bandwidth_type must be hard, soft or dynamic, got %q", s.PeerBandwidthType)
	}
	return nil
}

// Validate checks RTMP listener values.
func (r *RTMPConfig) Validate() error {
	if r.AcceptRate < 0 {
		return fmt.Errorf("accept_rate must not be negative, got %v", r.AcceptRate)
	}
	if r.AcceptBurst < 1 {
		return fmt.Errorf("accept_burst must be positive, got %d", r.AcceptBurst)
	}
	if r.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout must not be negative, got %s", r.IdleTimeout.Std())
	}
	if r.SubscriberQueue < 1 {
		return fmt.Errorf("subscriber_queue must be positive, got %d", r.SubscriberQueue)
	}
	for _, app := range r.AllowedApps {
		if app == "" {
			return fmt.Errorf("allowed_apps must not contain empty names")
		}
	}
	return nil
}

// Validate checks that the level is one zap understands.
func (l *LogConfig) Validate() error {
	if _, err := zapcore.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("level: %w", err)
	}
	return nil
}

// Validate checks a relay definition.
func (r *RelayConfig) Validate() error {
	if r.App == "" || r.Name == "" {
		return fmt.Errorf("app and name are required")
	}
	if r.Mode != "pull" && r.Mode != "push" {
		return fmt.Errorf("invalid mode %q (must be pull or push)", r.Mode)
	}
	if r.RemoteURL == "" {
		return fmt.Errorf("remote_url is required")
	}
	u, err := url.Parse(r.RemoteURL)
	if err != nil {
		return fmt.Errorf("remote_url: %w", err)
	}
	if u.Scheme != "rtmp" {
		return fmt.Errorf("remote_url must use rtmp://, got %q", u.Scheme)
	}
	if r.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must not be negative, got %s", r.RetryDelay.Std())
	}
	return nil
}
