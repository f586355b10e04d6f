// SPDX-License-Identifier: AGPL-3.0-only

// Package config provides the server configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	defaultAddress           = "tcp://127.0.0.1:2971"
	defaultLogLevel          = "NOTICE"
	defaultConnectionTimeout = 40 // seconds
	defaultSendQueueSize     = 64
)

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	switch lCfg.Level {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	return nil
}

// Debug is the debug configuration.
type Debug struct {
	// ConnectionTimeout specifies the idle timeout in seconds after
	// which a client connection is closed.
	ConnectionTimeout int

	// SendQueueSize specifies the per connection outbound envelope
	// queue depth.  Push notifications are dropped when the queue is
	// full.
	SendQueueSize int
}

func (dCfg *Debug) applyDefaults() {
	if dCfg.ConnectionTimeout <= 0 {
		dCfg.ConnectionTimeout = defaultConnectionTimeout
	}
	if dCfg.SendQueueSize <= 0 {
		dCfg.SendQueueSize = defaultSendQueueSize
	}
}

// Config is the top level server configuration.
type Config struct {
	// DataDir is the absolute path to the server's state files.
	DataDir string

	// Addresses are the transport URLs to listen on, with scheme
	// tcp:// or quic://.
	Addresses []string

	// MetricsAddress is the host:port to expose Prometheus metrics on,
	// empty disables the endpoint.
	MetricsAddress string

	Logging *Logging
	Debug   *Debug
}

// FixupAndValidate applies defaults to unset fields and validates the
// configuration.
func (cfg *Config) FixupAndValidate() error {
	if cfg.DataDir == "" {
		return fmt.Errorf("config: no DataDir was present")
	}
	if !filepath.IsAbs(cfg.DataDir) {
		return fmt.Errorf("config: DataDir '%v' is not an absolute path", cfg.DataDir)
	}
	if len(cfg.Addresses) == 0 {
		cfg.Addresses = []string{defaultAddress}
	}
	for _, v := range cfg.Addresses {
		u, err := url.Parse(v)
		if err != nil {
			return fmt.Errorf("config: address '%v' is invalid: %v", v, err)
		}
		switch u.Scheme {
		case "tcp", "quic":
		default:
			return fmt.Errorf("config: address '%v' has unsupported scheme '%v'", v, u.Scheme)
		}
		if u.Port() == "" {
			return fmt.Errorf("config: address '%v' is missing a port", v)
		}
	}
	if cfg.Logging == nil {
		cfg.Logging = &Logging{Level: defaultLogLevel}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	if cfg.Debug == nil {
		cfg.Debug = &Debug{}
	}
	cfg.Debug.applyDefaults()
	return nil
}

// Load parses and validates the provided buffer as a config and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns
// the Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
