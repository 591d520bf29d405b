package channel

import (
	"time"

	"github.com/FerroO2000/falconudp/internal/wire"
)

// Remote is the peer a receive channel receives from.
type Remote interface {
	// Name identifies the peer in the logs.
	Name() string

	// Latency is the current estimate of the one-way latency from the peer.
	Latency() time.Duration

	// IsKeepAliveMaster states whether the peer is the one in charge of
	// sending the keep-alive messages.
	IsKeepAliveMaster() bool

	// ACK requests an acknowledgement (ACK or AntiACK) of a datagram.
	// It is called while the channel lock is held, so it must not block.
	ACK(seq uint16, kind wire.PacketKind, opts wire.SendOptions)
}

// AckRequest is an acknowledgement that has to be sent to the peer.
type AckRequest struct {
	Seq     uint16
	Kind    wire.PacketKind
	Options wire.SendOptions
}
