package redisstream

import (
	"fmt"
	"os"
	"time"

	"github.com/cfrenzel/eventfully"
)

const (
	defaultGroup     = "eventfully"
	defaultBatchSize = 64
	defaultBlock     = 5 * time.Second
)

// Config defines transport behavior.
type Config struct {
	// Group is the consumer group name shared by the fleet.
	Group string
	// Consumer identifies this process within the group.
	Consumer string
	// BatchSize caps entries read per XREADGROUP call.
	BatchSize int
	// Block bounds how long a read blocks waiting for entries.
	Block time.Duration
	// MaxLenApprox trims streams approximately on write when > 0.
	MaxLenApprox int64
	// DeadLetter, when set, receives nacked entries; the original entry is
	// acked so it cannot poison the group.
	DeadLetter string
	// Logger reports subscription read errors.
	Logger eventfully.Logger
}

func (c Config) withDefaults() Config {
	if c.Group == "" {
		c.Group = defaultGroup
	}
	if c.Consumer == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = defaultGroup
		}
		c.Consumer = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Block <= 0 {
		c.Block = defaultBlock
	}
	if c.Logger == nil {
		c.Logger = eventfully.NopLogger{}
	}

	return c
}

// Option configures the transport.
type Option func(*Config)

// WithGroup sets the consumer group name.
func WithGroup(group string) Option {
	return func(c *Config) {
		c.Group = group
	}
}

// WithConsumer sets the consumer name within the group.
func WithConsumer(consumer string) Option {
	return func(c *Config) {
		c.Consumer = consumer
	}
}

// WithBatchSize caps entries read per call.
func WithBatchSize(size int) Option {
	return func(c *Config) {
		c.BatchSize = size
	}
}

// WithBlock sets the read blocking duration.
func WithBlock(block time.Duration) Option {
	return func(c *Config) {
		c.Block = block
	}
}

// WithMaxLenApprox enables approximate stream trimming on write.
func WithMaxLenApprox(maxLen int64) Option {
	return func(c *Config) {
		c.MaxLenApprox = maxLen
	}
}

// WithDeadLetter routes nacked entries to the given stream.
func WithDeadLetter(stream string) Option {
	return func(c *Config) {
		c.DeadLetter = stream
	}
}

// WithLogger sets the logger for read errors.
func WithLogger(logger eventfully.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
