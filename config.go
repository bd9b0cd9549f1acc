package mindsync

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries the engine's tunables. Zero values are replaced with
// defaults in New, so the zero Config is usable.
type Config struct {
	// SettleDelay is how long to wait after a reconnect before the first
	// request, letting the network stack settle.
	SettleDelay time.Duration `split_words:"true" default:"1s"`

	// MaxAttempts is the per-record delivery attempt budget. A record that
	// keeps failing recoverably is dead-lettered once the budget is spent.
	MaxAttempts int `split_words:"true" default:"8"`

	// MaxRunRetries bounds how many times a run with leftover pending
	// records is rescheduled while the device stays online.
	MaxRunRetries int `split_words:"true" default:"3"`

	// BaseBackoff and MaxInterval shape the exponential backoff between
	// rescheduled runs.
	BaseBackoff time.Duration `split_words:"true" default:"500ms"`
	MaxInterval time.Duration `split_words:"true" default:"30s"`

	// CacheTTL applies to read-through cached API responses (dashboard,
	// insights).
	CacheTTL time.Duration `split_words:"true" default:"1h"`
}

// LoadConfig reads Config from MINDSYNC_* environment variables, falling
// back to the struct-tag defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("mindsync", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// withDefaults fills zero values. Mirrors the defaults in the struct tags.
func (c Config) withDefaults() Config {
	if c.SettleDelay <= 0 {
		c.SettleDelay = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.MaxRunRetries <= 0 {
		c.MaxRunRetries = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	return c
}
