package audit

import (
	"fmt"
	"time"
)

// Defaults for [Config].
const (
	DefaultBufferSize    = 1024
	DefaultBatchSize     = 256
	DefaultFlushInterval = 5 * time.Second
	DefaultObjectPrefix  = "security-events/"
)

// Config controls buffering and flushing of security events.
type Config struct {
	// BufferSize is the number of events held before Emit starts dropping.
	BufferSize int `json:"buffer_size" yaml:"buffer_size" env:"BUFFER_SIZE" envDefault:"1024"`

	// BatchSize is the largest batch handed to a sink in one write.
	BatchSize int `json:"batch_size" yaml:"batch_size" env:"BATCH_SIZE" envDefault:"256"`

	// FlushInterval is the longest an event waits in the buffer.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval" env:"FLUSH_INTERVAL" envDefault:"5s"`

	// ObjectPrefix is prepended to archived batch object names.
	ObjectPrefix string `json:"object_prefix" yaml:"object_prefix" env:"OBJECT_PREFIX" envDefault:"security-events/"`
}

// Validate rejects negative sizes and intervals.
func (c *Config) Validate() error {
	if c.BufferSize < 0 {
		return fmt.Errorf("audit: buffer_size must not be negative, got %d", c.BufferSize)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("audit: batch_size must not be negative, got %d", c.BatchSize)
	}
	if c.FlushInterval < 0 {
		return fmt.Errorf("audit: flush_interval must not be negative, got %s", c.FlushInterval)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.ObjectPrefix == "" {
		c.ObjectPrefix = DefaultObjectPrefix
	}
}
