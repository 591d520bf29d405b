package channel

import (
	"time"

	"github.com/FerroO2000/falconudp/internal/bufpool"
	"github.com/FerroO2000/falconudp/internal/wire"
)

// Packet is an application message received on a channel.
// Once returned by [ReceiveChannel.Drain] it belongs to the caller,
// who should call Destroy when done with the payload.
type Packet struct {
	ordinal ordinal

	buf     *bufpool.Buffer
	payload []byte

	datagramSeq uint16
	peer        string
	opts        wire.SendOptions

	receivedAt time.Time
	latency    time.Duration
}

func lessPacket(a, b *Packet) bool {
	return a.ordinal.less(b.ordinal)
}

// Payload returns the application bytes.
func (p *Packet) Payload() []byte {
	return p.payload
}

// DatagramSeq returns the sequence number of the datagram that carried the packet.
func (p *Packet) DatagramSeq() uint16 {
	return p.datagramSeq
}

// Peer returns the name of the peer that sent the packet.
func (p *Packet) Peer() string {
	return p.peer
}

// Options returns the send options of the channel the packet was received on.
func (p *Packet) Options() wire.SendOptions {
	return p.opts
}

// ReceivedAt returns the time the packet was received.
func (p *Packet) ReceivedAt() time.Time {
	return p.receivedAt
}

// Latency returns the estimated time elapsed since the packet was sent.
// It includes the time the packet spent waiting to be read.
func (p *Packet) Latency() time.Duration {
	return p.latency
}

// Destroy gives back the payload buffer. The payload must not be used afterwards.
func (p *Packet) Destroy() {
	if p.buf != nil {
		p.buf.Release()
		p.buf = nil
	}

	p.payload = nil
}

// Datagram is a sealed datagram ready to be transmitted.
// Once returned by [SendChannel.Drain] it belongs to the caller,
// who should call Destroy when it is no longer needed (e.g. acknowledged).
type Datagram struct {
	buf *bufpool.Buffer

	seq  uint16
	opts wire.SendOptions
}

// Seq returns the sequence number of the datagram.
func (d *Datagram) Seq() uint16 {
	return d.seq
}

// Options returns the send options of the datagram.
func (d *Datagram) Options() wire.SendOptions {
	return d.opts
}

// Bytes returns the encoded datagram.
func (d *Datagram) Bytes() []byte {
	return d.buf.Bytes()
}

// Len returns the size of the encoded datagram.
func (d *Datagram) Len() int {
	return d.buf.Size()
}

// Destroy gives back the datagram buffer.
func (d *Datagram) Destroy() {
	if d.buf != nil {
		d.buf.Release()
		d.buf = nil
	}
}
