package falconudp

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/falconudp/internal"
	"github.com/FerroO2000/falconudp/internal/bufpool"
	"github.com/FerroO2000/falconudp/internal/channel"
	"github.com/FerroO2000/falconudp/internal/config"
	"github.com/FerroO2000/falconudp/internal/latency"
	"github.com/FerroO2000/falconudp/internal/rb"
	"github.com/FerroO2000/falconudp/internal/wire"
	"github.com/benbjohnson/clock"
)

var (
	// ErrInvalidOptions is returned when the send options are not one of the known combinations.
	ErrInvalidOptions = errors.New("invalid send options")
	// ErrInvalidKind is returned when a control message is sent with a non control kind.
	ErrInvalidKind = errors.New("invalid packet kind")
)

var _ channel.Remote = (*Peer)(nil)

// Ack is an acknowledgement received from the peer.
type Ack struct {
	// Seq is the sequence number of the acknowledged datagram.
	Seq uint16
	// Options are the send options of the acknowledged datagram.
	Options SendOptions
	// Kind is either [PacketKindACK] or [PacketKindAntiACK].
	// An AntiACK means that the datagram arrived too late to be read,
	// so it must not be retransmitted.
	Kind PacketKind
	// ReceivedAt is the time the acknowledgement was received.
	ReceivedAt time.Time
}

// IsAnti states whether the peer has refused the datagram.
func (a Ack) IsAnti() bool {
	return a.Kind == PacketKindAntiACK
}

// Peer is a remote peer.
// It owns a receive and a send channel for every combination of send options
// and it routes the received messages to them.
// It is safe for concurrent use.
type Peer struct {
	tel *internal.Telemetry

	name  string
	clock clock.Clock
	pool  *bufpool.Pool

	receiveChannels [wire.ChannelCount]*channel.ReceiveChannel
	sendChannels    [wire.ChannelCount]*channel.SendChannel

	// Both ring buffers allow a single reader at a time
	readMux     sync.Mutex
	ackRequests *rb.RingBuffer[channel.AckRequest]
	acks        *rb.RingBuffer[Ack]

	latency           atomic.Int64
	latencyEstimator  *latency.Estimator
	pingSentAt        atomic.Int64
	isKeepAliveMaster atomic.Bool
	lastHeard         atomic.Int64

	// Metrics
	handledDatagrams   atomic.Int64
	malformedDatagrams atomic.Int64
	rejectedDatagrams  atomic.Int64
	droppedAckRequests atomic.Int64
	sentAcks           atomic.Int64
	receivedAcks       atomic.Int64
	droppedAcks        atomic.Int64
	receivedPings      atomic.Int64
	receivedPongs      atomic.Int64
}

// NewPeer returns the peer with the given name.
// The name identifies the peer in the logs and in the metrics.
func NewPeer(name string, cfg *PeerConfig) *Peer {
	return newPeer(name, cfg, clock.New())
}

func newPeer(name string, cfg *PeerConfig, clk clock.Clock) *Peer {
	tel := internal.NewTelemetry("peer", name)

	config.NewValidator(tel).Validate(cfg)

	p := &Peer{
		tel: tel,

		name:  name,
		clock: clk,
		pool:  bufpool.New(cfg.Channel.MaxDatagramSize),

		ackRequests: rb.NewRingBuffer[channel.AckRequest](cfg.AckQueueSize),
		acks:        rb.NewRingBuffer[Ack](cfg.AckQueueSize),

		latencyEstimator: latency.NewEstimator(cfg.LatencyAlpha, cfg.LatencyBeta),
	}

	for opts := range SendOptions(wire.ChannelCount) {
		p.receiveChannels[opts] = channel.NewReceiveChannel(opts, p, p.pool, clk, cfg.Channel)
		p.sendChannels[opts] = channel.NewSendChannel(name, opts, p.pool, cfg.Channel)
	}

	p.initMetrics()

	return p
}

func (p *Peer) initMetrics() {
	p.tel.NewCounter("handled_datagrams", func() int64 { return p.handledDatagrams.Load() })
	p.tel.NewCounter("malformed_datagrams", func() int64 { return p.malformedDatagrams.Load() })
	p.tel.NewCounter("rejected_datagrams", func() int64 { return p.rejectedDatagrams.Load() })
	p.tel.NewCounter("dropped_ack_requests", func() int64 { return p.droppedAckRequests.Load() })
	p.tel.NewCounter("sent_acks", func() int64 { return p.sentAcks.Load() })
	p.tel.NewCounter("received_acks", func() int64 { return p.receivedAcks.Load() })
	p.tel.NewCounter("dropped_acks", func() int64 { return p.droppedAcks.Load() })
	p.tel.NewCounter("received_pings", func() int64 { return p.receivedPings.Load() })
	p.tel.NewCounter("received_pongs", func() int64 { return p.receivedPongs.Load() })

	p.tel.NewUpDownCounter("pending_ack_requests", func() int64 { return int64(p.ackRequests.Len()) })
	p.tel.NewUpDownCounter("pending_acks", func() int64 { return int64(p.acks.Len()) })
	p.tel.NewUpDownCounter("borrowed_buffers", p.pool.Outstanding)
}

// Name returns the name of the peer.
func (p *Peer) Name() string {
	return p.name
}

// Latency returns the estimated one-way latency from the peer.
func (p *Peer) Latency() time.Duration {
	return time.Duration(p.latency.Load())
}

// SetLatency sets the estimated one-way latency from the peer.
// It is added to the latency of the packets received afterwards.
// The estimate is overwritten by the next pong, see [Peer.Ping].
func (p *Peer) SetLatency(latency time.Duration) {
	p.latency.Store(int64(latency))
}

// Ping queues a ping. When the pong arrives, half of the round trip time
// is added to the latency estimate.
// Only the last ping is tracked, so a pong answering an older one gives a shorter sample.
func (p *Peer) Ping() error {
	if err := p.SendControl(PacketKindPing, SendOptionsNone); err != nil {
		return err
	}

	p.pingSentAt.Store(p.clock.Now().UnixNano())

	return nil
}

func (p *Peer) handlePong() {
	sentAt := p.pingSentAt.Swap(0)
	if sentAt == 0 {
		// Not asked for, or already answered
		return
	}

	rtt := p.clock.Now().Sub(time.Unix(0, sentAt))
	estimate := p.latencyEstimator.Add(rtt / 2)
	p.SetLatency(estimate)

	p.tel.LogDebug("latency updated", "rtt", rtt, "latency", estimate)
}

// IsKeepAliveMaster states whether the peer is in charge of sending the keep-alive messages.
func (p *Peer) IsKeepAliveMaster() bool {
	return p.isKeepAliveMaster.Load()
}

// SetKeepAliveMaster sets whether the peer is in charge of sending the keep-alive messages.
func (p *Peer) SetKeepAliveMaster(isMaster bool) {
	p.isKeepAliveMaster.Store(isMaster)
}

// LastHeard returns the time of the last datagram accepted from the peer.
// It is the zero time if nothing has been accepted yet.
func (p *Peer) LastHeard() time.Time {
	lastHeard := p.lastHeard.Load()
	if lastHeard == 0 {
		return time.Time{}
	}

	return time.Unix(0, lastHeard)
}

// ACK queues an acknowledgement to be sent to the peer on the next flush.
// It never blocks: when the queue is full the acknowledgement is dropped
// and the peer will retransmit the datagram.
func (p *Peer) ACK(seq uint16, kind PacketKind, opts SendOptions) {
	err := p.ackRequests.TryWrite(channel.AckRequest{Seq: seq, Kind: kind, Options: opts})
	if err != nil {
		p.droppedAckRequests.Add(1)
		p.tel.LogWarn("acknowledgement dropped", "reason", err, "datagram_seq", seq, "kind", kind)
	}
}

// HandleDatagram processes a datagram received from the peer.
// The messages are submitted in order to the receive channel of the datagram
// send options, and the processing stops at the first dropped message.
// The returned error is either a decoding error or the reason why the message was dropped.
// The buffer can be reused as soon as the method returns.
func (p *Peer) HandleDatagram(buf []byte) error {
	d, err := wire.DecodeDatagram(buf)
	if err != nil {
		p.malformedDatagrams.Add(1)
		p.tel.LogWarn("malformed datagram dropped", "reason", err, "size", len(buf))
		return fmt.Errorf("failed to decode datagram: %w", err)
	}

	rc := p.receiveChannels[d.Options]

	for idx, msg := range d.Messages {
		isFirst := idx == 0

		buffered, err := rc.Submit(d.Seq, msg.Kind, msg.Payload, isFirst)
		if err != nil {
			p.rejectedDatagrams.Add(1)
			return err
		}

		if isFirst {
			p.lastHeard.Store(p.clock.Now().UnixNano())
		}

		if !buffered {
			p.handleControl(msg)
		}
	}

	p.handledDatagrams.Add(1)

	return nil
}

func (p *Peer) handleControl(msg wire.Message) {
	switch msg.Kind {
	case PacketKindACK, PacketKindAntiACK:
		seq, opts, err := wire.DecodeAck(msg.Payload)
		if err != nil {
			p.tel.LogWarn("malformed acknowledgement dropped", "reason", err)
			return
		}

		p.receivedAcks.Add(1)

		ack := Ack{Seq: seq, Options: opts, Kind: msg.Kind, ReceivedAt: p.clock.Now()}
		if err := p.acks.TryWrite(ack); err != nil {
			p.droppedAcks.Add(1)
			p.tel.LogWarn("received acknowledgement dropped", "reason", err, "datagram_seq", seq)
		}

	case PacketKindPing:
		p.receivedPings.Add(1)

		if err := p.SendControl(PacketKindPong, SendOptionsNone); err != nil {
			p.tel.LogError("failed to answer ping", err)
		}

	case PacketKindPong:
		p.receivedPongs.Add(1)
		p.handlePong()

	case PacketKindKeepAlive:
		// Only refreshes the last heard time

	default:
		p.tel.LogDebug("control message ignored", "kind", msg.Kind)
	}
}

// Send queues an application message on the channel with the given options.
// It is transmitted on the next flush.
func (p *Peer) Send(opts SendOptions, payload []byte) error {
	if !opts.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidOptions, opts)
	}

	return p.sendChannels[opts].Enqueue(PacketKindApplication, payload)
}

// SendControl queues a control message without payload on the channel with the given options.
// Acknowledgements are sent by the peer itself and cannot be queued here.
func (p *Peer) SendControl(kind PacketKind, opts SendOptions) error {
	if !opts.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidOptions, opts)
	}

	if !kind.IsControl() || kind == PacketKindACK || kind == PacketKindAntiACK {
		return fmt.Errorf("%w: %s", ErrInvalidKind, kind)
	}

	return p.sendChannels[opts].Enqueue(kind, nil)
}

// Read returns the packets ready to be read from all the channels.
// The packets of each channel are in order. The caller should destroy
// every packet when done with it.
func (p *Peer) Read() []*Packet {
	packets := []*Packet{}

	for _, rc := range p.receiveChannels {
		packets = append(packets, rc.Drain()...)
	}

	return packets
}

// Flush turns the pending acknowledgements into messages and returns
// the datagrams ready to be transmitted.
// The caller should destroy every datagram after it has been transmitted
// or, for the reliable ones, acknowledged.
func (p *Peer) Flush() []*Datagram {
	p.readMux.Lock()
	requests := p.ackRequests.Drain()
	p.readMux.Unlock()

	ackChannel := p.sendChannels[SendOptionsNone]

	payload := make([]byte, wire.AckPayloadSize)
	for _, req := range requests {
		n := wire.EncodeAck(payload, req.Seq, req.Options)

		if err := ackChannel.Enqueue(req.Kind, payload[:n]); err != nil {
			p.tel.LogError("failed to queue acknowledgement", err, "datagram_seq", req.Seq)
			continue
		}

		p.sentAcks.Add(1)
	}

	datagrams := []*Datagram{}
	for _, sc := range p.sendChannels {
		datagrams = append(datagrams, sc.Drain()...)
	}

	return datagrams
}

// Resend queues a datagram returned by [Peer.Flush] to be transmitted again
// on the next flush.
func (p *Peer) Resend(d *Datagram) {
	p.sendChannels[d.Options()].Requeue(d)
}

// Acks returns the acknowledgements received since the last call.
func (p *Peer) Acks() []Ack {
	p.readMux.Lock()
	defer p.readMux.Unlock()

	return p.acks.Drain()
}

// Close destroys everything that has not been read or flushed.
func (p *Peer) Close() {
	p.tel.LogInfo("closing")

	p.ackRequests.Close()
	p.acks.Close()

	for opts := range p.receiveChannels {
		p.receiveChannels[opts].Close()
		p.sendChannels[opts].Close()
	}

	if err := p.tel.Close(); err != nil {
		p.tel.LogError("failed to unregister metrics", err)
	}
}
