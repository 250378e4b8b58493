package mysql

import (
	"github.com/cfrenzel/eventfully"
)

const (
	defaultOutboxTable = "outbox_messages"
	defaultSagaTable   = "outbox_saga_states"
	defaultMaxErrorLen = 1024
)

// Config defines MySQL store behavior.
type Config struct {
	Table     string
	SagaTable string
	Clock     eventfully.Clock
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultOutboxTable
	}
	if c.SagaTable == "" {
		c.SagaTable = defaultSagaTable
	}
	if c.Clock == nil {
		c.Clock = eventfully.SystemClock{}
	}

	return c
}

// Option configures the MySQL store.
type Option func(*Config)

// WithTable sets the outbox table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithSagaTable sets the saga state table name.
func WithSagaTable(name string) Option {
	return func(c *Config) {
		c.SagaTable = name
	}
}

// WithClock sets the time source used by the store.
func WithClock(clock eventfully.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}
