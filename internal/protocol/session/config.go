package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines pipe session timing and negotiation defaults.
type Config struct {
	HandshakeTimeout time.Duration
	PollTimeout      time.Duration
	WriteTimeout     time.Duration
	// DispatchTimeout bounds the dispatch worker's wait. Negative waits
	// indefinitely.
	DispatchTimeout time.Duration
	// CapturePeriod is sent in every counter selection, in microseconds.
	CapturePeriod uint32
	// VersionConstraint is a semver constraint on the stream version.
	// Empty accepts any version.
	VersionConstraint string
	Backoff           BackoffConfig
}

// DefaultConfig returns the pipe defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 5 * time.Second,
		PollTimeout:      time.Second,
		WriteTimeout:     5 * time.Second,
		DispatchTimeout:  -1,
		CapturePeriod:    10000,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero durations from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	return c
}
