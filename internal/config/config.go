package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/profpipe/internal/pipe"
	"github.com/danmuck/profpipe/internal/protocol/session"
	"github.com/mitchellh/go-homedir"
)

// Config is the pipectl runtime configuration.
type Config struct {
	Network           string
	Address           string
	EchoPackets       bool
	CapturePeriodUS   uint32
	PollTimeout       time.Duration
	HandshakeTimeout  time.Duration
	DispatchTimeout   time.Duration
	VersionConstraint string
	CapturePath       string
	StatusAddr        string
	Quiet             bool
}

type fileConfig struct {
	Network           string `toml:"network"`
	Address           string `toml:"address"`
	EchoPackets       bool   `toml:"echo_packets"`
	CapturePeriodUS   int64  `toml:"capture_period_us"`
	PollTimeout       string `toml:"poll_timeout"`
	HandshakeTimeout  string `toml:"handshake_timeout"`
	DispatchTimeout   string `toml:"dispatch_timeout"`
	VersionConstraint string `toml:"version_constraint"`
	CapturePath       string `toml:"capture_path"`
	StatusAddr        string `toml:"status_addr"`
	Quiet             bool   `toml:"quiet"`
}

func Default() Config {
	srv := pipe.DefaultServerConfig()
	return Config{
		Network:          srv.Network,
		Address:          srv.Address,
		CapturePeriodUS:  srv.Session.CapturePeriod,
		PollTimeout:      srv.Session.PollTimeout,
		HandshakeTimeout: srv.Session.HandshakeTimeout,
		DispatchTimeout:  srv.Session.DispatchTimeout,
	}
}

// Load overlays the keys defined in the TOML file at path onto Default.
func Load(path string) (Config, error) {
	cfg := Default()
	path, err := homedir.Expand(path)
	if err != nil {
		return Config{}, fmt.Errorf("config path %q: %w", path, err)
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config (%s): unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("network") {
		cfg.Network = strings.TrimSpace(raw.Network)
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("echo_packets") {
		cfg.EchoPackets = raw.EchoPackets
	}
	if meta.IsDefined("capture_period_us") {
		if raw.CapturePeriodUS < 0 || raw.CapturePeriodUS > int64(^uint32(0)) {
			return Config{}, fmt.Errorf("capture_period_us out of range: %d", raw.CapturePeriodUS)
		}
		cfg.CapturePeriodUS = uint32(raw.CapturePeriodUS)
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"poll_timeout", raw.PollTimeout, &cfg.PollTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"dispatch_timeout", raw.DispatchTimeout, &cfg.DispatchTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := parseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("version_constraint") {
		cfg.VersionConstraint = strings.TrimSpace(raw.VersionConstraint)
	}
	if meta.IsDefined("capture_path") {
		p, err := homedir.Expand(strings.TrimSpace(raw.CapturePath))
		if err != nil {
			return Config{}, fmt.Errorf("capture_path: %w", err)
		}
		cfg.CapturePath = p
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("quiet") {
		cfg.Quiet = raw.Quiet
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseDuration reads a Go duration. An empty value means "wait
// indefinitely" and maps to -1.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return -1, nil
	}
	return time.ParseDuration(raw)
}

func Validate(cfg Config) error {
	switch cfg.Network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return fmt.Errorf("config network %q not supported", cfg.Network)
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("config missing address")
	}
	if cfg.PollTimeout <= 0 {
		return fmt.Errorf("config poll_timeout must be positive")
	}
	if cfg.HandshakeTimeout <= 0 {
		return fmt.Errorf("config handshake_timeout must be positive")
	}
	return nil
}

// Session projects the timing fields onto a session config.
func (c Config) Session() session.Config {
	s := session.DefaultConfig()
	s.PollTimeout = c.PollTimeout
	s.HandshakeTimeout = c.HandshakeTimeout
	s.DispatchTimeout = c.DispatchTimeout
	s.CapturePeriod = c.CapturePeriodUS
	s.VersionConstraint = c.VersionConstraint
	return s
}

// Server builds the pipe listener config.
func (c Config) Server() pipe.ServerConfig {
	return pipe.ServerConfig{
		Network: c.Network,
		Address: c.Address,
		Session: c.Session(),
	}
}
