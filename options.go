package mindsync

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Option configures an Engine during construction in New. Options must be
// deterministic and side-effect free.
type Option func(*Engine) error

// WithConfig replaces the engine's tunables. Zero fields fall back to the
// defaults documented on Config.
func WithConfig(cfg Config) Option {
	return func(e *Engine) error {
		e.cfg = cfg.withDefaults()
		return nil
	}
}

// WithLogger installs a zerolog logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) error {
		e.log = log
		return nil
	}
}

// WithClock overrides the time source used for enqueue timestamps.
// Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		if now == nil {
			return fmt.Errorf("clock must not be nil")
		}
		e.clock = now
		return nil
	}
}

// WithIDGenerator overrides record id generation. Ids must be unique for
// the store's lifetime; they double as idempotency keys. Intended for tests.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) error {
		if gen == nil {
			return fmt.Errorf("id generator must not be nil")
		}
		e.newID = gen
		return nil
	}
}
