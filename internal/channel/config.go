package channel

import (
	"math"

	"github.com/FerroO2000/falconudp/internal/config"
	"github.com/FerroO2000/falconudp/internal/wire"
)

// seqSpan is the number of distinct datagram sequence numbers.
const seqSpan = 1 << 16

// Default configuration values for the channels.
const (
	DefaultOutOfOrderTolerance    = 100
	DefaultMaxNecessaryOrdinalSeq = seqSpan + DefaultOutOfOrderTolerance
	DefaultMaxDatagramSize        = 1474

	// MaxOutOfOrderTolerance is the widest tolerance that still
	// tells apart a late datagram from a wrapped one.
	MaxOutOfOrderTolerance = seqSpan/2 - 1
)

// Config is the configuration shared by the send and the receive channels.
type Config struct {
	// OutOfOrderTolerance is the maximum circular distance from the last received
	// datagram sequence number within which a new datagram is accepted.
	OutOfOrderTolerance uint16

	// MaxNecessaryOrdinalSeq is the unfolded sequence number above which
	// no future datagram can belong to the previous sequence cycle,
	// so the ordinal sequences can be moved back by a full cycle.
	// It must be at least 65536 + OutOfOrderTolerance.
	MaxNecessaryOrdinalSeq int64

	// MaxDatagramSize is the size of the datagrams built by the send channels,
	// headers included.
	MaxDatagramSize int
}

// NewConfig returns the default configuration for the channels.
func NewConfig() *Config {
	return &Config{
		OutOfOrderTolerance:    DefaultOutOfOrderTolerance,
		MaxNecessaryOrdinalSeq: DefaultMaxNecessaryOrdinalSeq,
		MaxDatagramSize:        DefaultMaxDatagramSize,
	}
}

// Validate checks the configuration.
func (c *Config) Validate(ac *config.AnomalyCollector) {
	config.CheckNotZero(ac, "OutOfOrderTolerance", &c.OutOfOrderTolerance, DefaultOutOfOrderTolerance)
	config.CheckNotGreater(ac, "OutOfOrderTolerance", &c.OutOfOrderTolerance, MaxOutOfOrderTolerance)

	config.CheckNotLowerThan(ac,
		"MaxNecessaryOrdinalSeq", "65536 + OutOfOrderTolerance",
		&c.MaxNecessaryOrdinalSeq, seqSpan+int64(c.OutOfOrderTolerance),
	)

	config.CheckNotLower(ac, "MaxDatagramSize", &c.MaxDatagramSize, wire.PrimaryHeaderSize+1)
	config.CheckNotGreater(ac, "MaxDatagramSize", &c.MaxDatagramSize, wire.PrimaryHeaderSize+math.MaxUint16)
}

// MaxPayloadSize returns the maximum size of a single message payload.
func (c *Config) MaxPayloadSize() int {
	return c.MaxDatagramSize - wire.PrimaryHeaderSize
}
