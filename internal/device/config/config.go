// Package config handles configuration for the device agent, including
// defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the devlink device agent.
//
// Fields:
//   - RelayAddr: base URL of the relay's HTTP endpoint.
//   - RelayWSURL: URL of the relay's provisioning websocket.
//   - DataDir: directory for the registration file and backup artifacts.
//   - DeviceName: name announced when linking as a secondary.
//   - PollTimeout: long-poll window requested from the relay.
type Config struct {
	RelayAddr   string
	RelayWSURL  string
	DataDir     string
	DeviceName  string
	PollTimeout time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.RelayAddr = "http://127.0.0.1:8080"
	c.RelayWSURL = "ws://127.0.0.1:8080/v1/websocket/provisioning"
	c.DataDir = "."
	c.DeviceName = "devlink device"
	c.PollTimeout = 30 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
