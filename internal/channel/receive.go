// Package channel implements the per-channel send and receive engines.
//
// A receive channel validates, deduplicates and reorders the messages
// received from a peer, according to the send options of the channel.
// A send channel packs the outgoing messages into datagrams.
package channel

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/FerroO2000/falconudp/internal"
	"github.com/FerroO2000/falconudp/internal/bufpool"
	"github.com/FerroO2000/falconudp/internal/wire"
	"github.com/benbjohnson/clock"
	"github.com/google/btree"
)

const btreeDegree = 16

var (
	// ErrSeqOutOfRange is returned when the datagram sequence number is too far
	// from the last received one.
	ErrSeqOutOfRange = errors.New("datagram sequence number out of range")
	// ErrSeqDuplicated is returned when the message has already been received.
	ErrSeqDuplicated = errors.New("duplicated message")
	// ErrSeqStale is returned by in-order channels when the datagram precedes
	// data already read.
	ErrSeqStale = errors.New("datagram older than the last read one")
	// ErrUnexpectedKind is returned when the packet kind is unknown.
	ErrUnexpectedKind = errors.New("unexpected packet kind")
)

// ReceiveChannel is the receive engine of a channel.
// It is safe for concurrent use.
type ReceiveChannel struct {
	tel *internal.Telemetry

	opts       wire.SendOptions
	isReliable bool
	isInOrder  bool

	tolerance       uint16
	maxNecessarySeq int64

	remote Remote
	pool   *bufpool.Pool
	clock  clock.Clock

	mux sync.Mutex

	packets *btree.BTreeG[*Packet]
	probe   *Packet

	lastReceived ordinal
	maxReadSeq   int64
	wrapped      bool
	count        int

	// Metrics
	admittedPackets       atomic.Int64
	acknowledgedDatagrams atomic.Int64
	outOfRangeDatagrams   atomic.Int64
	duplicatedPackets     atomic.Int64
	staleDatagrams        atomic.Int64
	unexpectedPackets     atomic.Int64
	deliveredPackets      atomic.Int64
	compactions           atomic.Int64
}

// NewReceiveChannel returns the receive channel with the given options for the remote peer.
// The payloads of the received packets are copied into buffers borrowed from pool.
func NewReceiveChannel(opts wire.SendOptions, remote Remote, pool *bufpool.Pool, clk clock.Clock, cfg *Config) *ReceiveChannel {
	rc := &ReceiveChannel{
		tel: internal.NewTelemetry("receive_channel", remote.Name()+"/"+opts.String()),

		opts:       opts,
		isReliable: opts.IsReliable(),
		isInOrder:  opts.IsInOrder(),

		tolerance:       cfg.OutOfOrderTolerance,
		maxNecessarySeq: cfg.MaxNecessaryOrdinalSeq,

		remote: remote,
		pool:   pool,
		clock:  clk,

		packets: btree.NewG[*Packet](btreeDegree, lessPacket),
		probe:   &Packet{},
	}

	rc.initMetrics()

	return rc
}

func (rc *ReceiveChannel) initMetrics() {
	rc.tel.NewCounter("admitted_packets", func() int64 { return rc.admittedPackets.Load() })
	rc.tel.NewCounter("acknowledged_datagrams", func() int64 { return rc.acknowledgedDatagrams.Load() })
	rc.tel.NewCounter("out_of_range_datagrams", func() int64 { return rc.outOfRangeDatagrams.Load() })
	rc.tel.NewCounter("duplicated_packets", func() int64 { return rc.duplicatedPackets.Load() })
	rc.tel.NewCounter("stale_datagrams", func() int64 { return rc.staleDatagrams.Load() })
	rc.tel.NewCounter("unexpected_packets", func() int64 { return rc.unexpectedPackets.Load() })
	rc.tel.NewCounter("delivered_packets", func() int64 { return rc.deliveredPackets.Load() })
	rc.tel.NewCounter("compactions", func() int64 { return rc.compactions.Load() })
}

// Options returns the send options of the channel.
func (rc *ReceiveChannel) Options() wire.SendOptions {
	return rc.opts
}

// Submit hands a received message to the channel.
// isFirst must be true for the first message of a datagram: only in that case
// the datagram sequence number is validated and, on reliable channels, acknowledged.
// The payload is copied, so the caller keeps the ownership of it.
//
// It returns true if an application packet has been buffered. Control messages are
// accepted without being buffered. A non-nil error means the message has been dropped,
// and so must be the rest of its datagram:
//   - [ErrSeqOutOfRange] if the sequence number is outside the tolerance window
//   - [ErrSeqDuplicated] if the message has already been received
//   - [ErrSeqStale] if the channel is in-order and newer data has already been read
//   - [ErrUnexpectedKind] if the packet kind is unknown
func (rc *ReceiveChannel) Submit(datagramSeq uint16, kind wire.PacketKind, payload []byte, isFirst bool) (bool, error) {
	rc.mux.Lock()
	defer rc.mux.Unlock()

	var ord ordinal
	if isFirst {
		if !isInWindow(datagramSeq, rc.lastReceived.seq, rc.tolerance) {
			rc.outOfRangeDatagrams.Add(1)
			rc.tel.LogWarn("out-of-order datagram dropped",
				"peer", rc.remote.Name(), "datagram_seq", datagramSeq,
				"distance", int(datagramSeq)-int(uint16(rc.lastReceived.seq)))
			return false, ErrSeqOutOfRange
		}

		ord = ordinal{seq: unfold(datagramSeq, rc.lastReceived.seq, rc.tolerance, rc.wrapped)}
	} else {
		// The last received ordinal belongs to the previous message of the same datagram
		ord = rc.lastReceived.next()
	}

	// This assumes that less than 65534 datagrams are waiting to be read
	rc.probe.ordinal = ord
	if rc.packets.Has(rc.probe) {
		rc.duplicatedPackets.Add(1)
		rc.tel.LogWarn("duplicated packet dropped", "peer", rc.remote.Name(), "datagram_seq", datagramSeq)
		return false, ErrSeqDuplicated
	}

	if isFirst && rc.isInOrder && ord.seq < rc.maxReadSeq {
		if rc.isReliable {
			rc.remote.ACK(datagramSeq, wire.PacketKindAntiACK, rc.opts)
		}

		rc.staleDatagrams.Add(1)
		rc.tel.LogWarn("stale datagram dropped", "peer", rc.remote.Name(), "datagram_seq", datagramSeq)
		return false, ErrSeqStale
	}

	rc.lastReceived = ord
	if ord.seq >= seqSpan {
		rc.wrapped = true
	}

	// Control messages need the acknowledgement too
	if isFirst && rc.isReliable {
		rc.remote.ACK(datagramSeq, wire.PacketKindACK, rc.opts)
		rc.acknowledgedDatagrams.Add(1)
	}

	switch kind {
	case wire.PacketKindApplication:
		rc.insert(ord, datagramSeq, payload)
		rc.admittedPackets.Add(1)
		return true, nil

	case wire.PacketKindKeepAlive:
		if !rc.remote.IsKeepAliveMaster() {
			// Valid only when the peer has not heard from us for a while
			// and has taken over the keep-alive duty
			rc.tel.LogWarn("keep-alive received from a peer that is not the keep-alive master",
				"peer", rc.remote.Name())
		}
		return false, nil

	default:
		if kind.IsControl() {
			return false, nil
		}

		rc.unexpectedPackets.Add(1)
		rc.tel.LogWarn("packet with unexpected kind dropped",
			"peer", rc.remote.Name(), "kind", kind, "datagram_seq", datagramSeq)
		return false, ErrUnexpectedKind
	}
}

func (rc *ReceiveChannel) insert(ord ordinal, datagramSeq uint16, payload []byte) {
	p := &Packet{
		ordinal: ord,

		datagramSeq: datagramSeq,
		peer:        rc.remote.Name(),
		opts:        rc.opts,

		receivedAt: rc.clock.Now(),
		latency:    rc.remote.Latency(),
	}

	if len(payload) <= rc.pool.Capacity() {
		p.buf = rc.pool.Borrow()
		p.buf.SetSize(copy(p.buf.Full(), payload))
		p.payload = p.buf.Bytes()
	} else {
		p.payload = append([]byte(nil), payload...)
	}

	rc.packets.ReplaceOrInsert(p)
	rc.count = rc.unreadCount()
}

// unreadCount returns the number of packets ready to be read.
// On reliable channels it is the length of the run of contiguous datagram
// sequence numbers starting from the lowest buffered packet.
func (rc *ReceiveChannel) unreadCount() int {
	if !rc.isReliable {
		return rc.packets.Len()
	}

	count := 0
	var prevSeq int64
	rc.packets.Ascend(func(p *Packet) bool {
		seq := p.ordinal.seq
		if count > 0 && seq != prevSeq && seq != prevSeq+1 {
			return false
		}

		prevSeq = seq
		count++
		return true
	})

	return count
}

// Count returns the number of packets ready to be read.
func (rc *ReceiveChannel) Count() int {
	rc.mux.Lock()
	defer rc.mux.Unlock()

	return rc.count
}

// Drain returns the packets ready to be read, in order.
// The ownership of the packets passes to the caller.
func (rc *ReceiveChannel) Drain() []*Packet {
	rc.mux.Lock()
	defer rc.mux.Unlock()

	if rc.count == 0 {
		return nil
	}

	packets := make([]*Packet, 0, rc.count)

	// Packets behind a gap count too
	highest, _ := rc.packets.Max()
	rc.maxReadSeq = max(rc.maxReadSeq, highest.ordinal.seq)

	if rc.isReliable {
		for rc.count > 0 {
			p, _ := rc.packets.DeleteMin()
			packets = append(packets, p)
			rc.count--
		}

		rc.count = rc.unreadCount()
	} else {
		rc.packets.Ascend(func(p *Packet) bool {
			packets = append(packets, p)
			return true
		})

		rc.packets.Clear(false)
		rc.count = 0
	}

	// No future datagram can belong to the old cycle without being dropped,
	// so move everything back by a full cycle
	if rc.maxReadSeq > rc.maxNecessarySeq {
		rc.compact()
	}

	now := rc.clock.Now()
	for _, p := range packets {
		p.latency += now.Sub(p.receivedAt)
	}

	rc.deliveredPackets.Add(int64(len(packets)))

	return packets
}

func (rc *ReceiveChannel) compact() {
	rc.maxReadSeq -= seqSpan
	rc.lastReceived.seq -= seqSpan

	if rc.packets.Len() > 0 {
		live := make([]*Packet, 0, rc.packets.Len())
		rc.packets.Ascend(func(p *Packet) bool {
			live = append(live, p)
			return true
		})

		rc.packets.Clear(false)
		for _, p := range live {
			p.ordinal.seq -= seqSpan
			rc.packets.ReplaceOrInsert(p)
		}
	}

	rc.compactions.Add(1)
	rc.tel.LogDebug("ordinal sequences moved back by a cycle",
		"peer", rc.remote.Name(), "max_read_seq", rc.maxReadSeq)
}

// Close destroys the packets that have not been read
// and stops the observation of the channel metrics.
func (rc *ReceiveChannel) Close() {
	rc.mux.Lock()
	defer rc.mux.Unlock()

	if err := rc.tel.Close(); err != nil {
		rc.tel.LogError("failed to unregister metrics", err)
	}

	rc.packets.Ascend(func(p *Packet) bool {
		p.Destroy()
		return true
	})

	rc.packets.Clear(false)
	rc.count = 0
}
