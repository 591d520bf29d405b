package falconudp

import (
	"time"

	"github.com/FerroO2000/falconudp/internal/channel"
	"github.com/FerroO2000/falconudp/internal/config"
)

////////////
//  PEER  //
////////////

// Default values for the peer configuration.
const (
	DefaultPeerConfigAckQueueSize = 1024
	DefaultPeerConfigLatencyAlpha = 0.3
	DefaultPeerConfigLatencyBeta  = 0.1
)

// PeerConfig contains the configuration of a peer.
type PeerConfig struct {
	// Channel is the configuration shared by all the channels of the peer.
	Channel *channel.Config

	// AckQueueSize is the number of acknowledgements (both the ones to send
	// and the ones received) that can wait for the next flush/read.
	// It is rounded up to the next power of 2.
	AckQueueSize uint32

	// LatencyAlpha and LatencyBeta are the smoothing factors of the latency
	// estimated from the ping round trips. Both must be in (0, 1].
	LatencyAlpha float64
	LatencyBeta  float64
}

// NewPeerConfig returns the default configuration of a peer.
func NewPeerConfig() *PeerConfig {
	return &PeerConfig{
		Channel:      channel.NewConfig(),
		AckQueueSize: DefaultPeerConfigAckQueueSize,
		LatencyAlpha: DefaultPeerConfigLatencyAlpha,
		LatencyBeta:  DefaultPeerConfigLatencyBeta,
	}
}

// Validate checks the configuration.
func (c *PeerConfig) Validate(ac *config.AnomalyCollector) {
	if c.Channel == nil {
		c.Channel = channel.NewConfig()
	}
	c.Channel.Validate(ac)

	config.CheckNotZero(ac, "AckQueueSize", &c.AckQueueSize, DefaultPeerConfigAckQueueSize)

	config.CheckNotNegative(ac, "LatencyAlpha", &c.LatencyAlpha, DefaultPeerConfigLatencyAlpha)
	config.CheckNotZero(ac, "LatencyAlpha", &c.LatencyAlpha, DefaultPeerConfigLatencyAlpha)
	config.CheckNotGreater(ac, "LatencyAlpha", &c.LatencyAlpha, 1)

	config.CheckNotNegative(ac, "LatencyBeta", &c.LatencyBeta, DefaultPeerConfigLatencyBeta)
	config.CheckNotZero(ac, "LatencyBeta", &c.LatencyBeta, DefaultPeerConfigLatencyBeta)
	config.CheckNotGreater(ac, "LatencyBeta", &c.LatencyBeta, 1)
}

////////////////
//  ENDPOINT  //
////////////////

// Default values for the endpoint configuration.
const (
	DefaultEndpointConfigLocalAddr     = "0.0.0.0"
	DefaultEndpointConfigLocalPort     = 20_000
	DefaultEndpointConfigRemoteAddr    = "127.0.0.1"
	DefaultEndpointConfigRemotePort    = 20_000
	DefaultEndpointConfigFlushInterval = 10 * time.Millisecond
)

// EndpointConfig contains the configuration of an endpoint.
type EndpointConfig struct {
	// LocalAddr is the IP address to listen on.
	LocalAddr string

	// LocalPort is the port to listen on. Zero picks a random port.
	LocalPort uint16

	// RemoteAddr is the IP address of the peer.
	RemoteAddr string

	// RemotePort is the port of the peer.
	RemotePort uint16

	// FlushInterval is the duration between two flushes of the peer.
	FlushInterval time.Duration
}

// NewEndpointConfig returns the default configuration of an endpoint.
func NewEndpointConfig() *EndpointConfig {
	return &EndpointConfig{
		LocalAddr:     DefaultEndpointConfigLocalAddr,
		LocalPort:     DefaultEndpointConfigLocalPort,
		RemoteAddr:    DefaultEndpointConfigRemoteAddr,
		RemotePort:    DefaultEndpointConfigRemotePort,
		FlushInterval: DefaultEndpointConfigFlushInterval,
	}
}

// Validate checks the configuration.
func (c *EndpointConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotEmpty(ac, "LocalAddr", &c.LocalAddr, DefaultEndpointConfigLocalAddr)
	config.CheckNotEmpty(ac, "RemoteAddr", &c.RemoteAddr, DefaultEndpointConfigRemoteAddr)
	config.CheckNotZero(ac, "RemotePort", &c.RemotePort, DefaultEndpointConfigRemotePort)

	config.CheckNotNegative(ac, "FlushInterval", &c.FlushInterval, DefaultEndpointConfigFlushInterval)
	config.CheckNotZero(ac, "FlushInterval", &c.FlushInterval, DefaultEndpointConfigFlushInterval)
}
