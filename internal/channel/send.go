package channel

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/FerroO2000/falconudp/internal"
	"github.com/FerroO2000/falconudp/internal/bufpool"
	"github.com/FerroO2000/falconudp/internal/wire"
)

var (
	// ErrPayloadTooLarge is returned when a payload does not fit in a single datagram.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrClosed is returned when the channel is closed.
	ErrClosed = errors.New("channel closed")
)

// SendChannel is the send engine of a channel.
// It packs the enqueued messages into datagrams sharing the same sequence number.
// It is safe for concurrent use.
type SendChannel struct {
	tel *internal.Telemetry

	opts wire.SendOptions
	pool *bufpool.Pool

	datagramSize   int
	maxPayloadSize int

	mux sync.Mutex

	current *bufpool.Buffer
	cursor  int
	seq     uint16

	queue []*Datagram

	// Metrics
	enqueuedMessages  atomic.Int64
	sealedDatagrams   atomic.Int64
	requeuedDatagrams atomic.Int64
}

// NewSendChannel returns the send channel with the given options.
// The datagrams are built into buffers borrowed from pool, so their size
// is capped by the pool capacity.
func NewSendChannel(name string, opts wire.SendOptions, pool *bufpool.Pool, cfg *Config) *SendChannel {
	datagramSize := min(cfg.MaxDatagramSize, pool.Capacity())

	sc := &SendChannel{
		tel: internal.NewTelemetry("send_channel", name+"/"+opts.String()),

		opts: opts,
		pool: pool,

		datagramSize:   datagramSize,
		maxPayloadSize: datagramSize - wire.PrimaryHeaderSize,

		current: pool.Borrow(),
	}

	sc.initMetrics()

	return sc
}

func (sc *SendChannel) initMetrics() {
	sc.tel.NewCounter("enqueued_messages", func() int64 { return sc.enqueuedMessages.Load() })
	sc.tel.NewCounter("sealed_datagrams", func() int64 { return sc.sealedDatagrams.Load() })
	sc.tel.NewCounter("requeued_datagrams", func() int64 { return sc.requeuedDatagrams.Load() })
}

// Options returns the send options of the channel.
func (sc *SendChannel) Options() wire.SendOptions {
	return sc.opts
}

// MaxPayloadSize returns the maximum size of a message payload.
func (sc *SendChannel) MaxPayloadSize() int {
	return sc.maxPayloadSize
}

// Enqueue appends a message to the datagram being built.
// When the message does not fit, the datagram is sealed and
// the message starts a new one with the next sequence number.
// The payload may be empty (control messages) and it is copied.
//
// It returns [ErrPayloadTooLarge] if the payload can never fit in a datagram
// and [ErrClosed] after [SendChannel.Close].
func (sc *SendChannel) Enqueue(kind wire.PacketKind, payload []byte) error {
	payloadLen := len(payload)
	if payloadLen > sc.maxPayloadSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, payloadLen, sc.maxPayloadSize)
	}

	sc.mux.Lock()
	defer sc.mux.Unlock()

	if sc.current == nil {
		return ErrClosed
	}

	isHeaderWritten := sc.cursor > 0

	if isHeaderWritten && payloadLen+wire.AdditionalHeaderSize > sc.datagramSize-sc.cursor {
		sc.seal()
		isHeaderWritten = false
	}

	buf := sc.current.Full()

	if !isHeaderWritten {
		sc.cursor += wire.WriteHeader(buf[sc.cursor:], kind, sc.opts, sc.seq, uint16(payloadLen))
	} else {
		sc.cursor += wire.WriteAdditionalHeader(buf[sc.cursor:], kind, sc.opts, uint16(payloadLen))
	}

	sc.cursor += copy(buf[sc.cursor:], payload)

	sc.enqueuedMessages.Add(1)

	return nil
}

// seal moves the current datagram into the queue and starts a new one.
func (sc *SendChannel) seal() {
	sc.current.SetSize(sc.cursor)

	sc.queue = append(sc.queue, &Datagram{
		buf:  sc.current,
		seq:  sc.seq,
		opts: sc.opts,
	})

	sc.current = sc.pool.Borrow()
	sc.cursor = 0
	sc.seq++

	sc.sealedDatagrams.Add(1)
}

// Requeue puts an already sealed datagram back into the queue,
// e.g. for retransmitting it.
func (sc *SendChannel) Requeue(d *Datagram) {
	sc.mux.Lock()
	defer sc.mux.Unlock()

	sc.queue = append(sc.queue, d)
	sc.requeuedDatagrams.Add(1)
}

// Drain seals the datagram being built, if anything has been written to it,
// and returns all the queued datagrams.
// The ownership of the datagrams passes to the caller.
func (sc *SendChannel) Drain() []*Datagram {
	sc.mux.Lock()
	defer sc.mux.Unlock()

	if sc.current != nil && sc.cursor > 0 {
		sc.seal()
	}

	queue := sc.queue
	sc.queue = nil

	return queue
}

// Seq returns the sequence number of the datagram being built.
func (sc *SendChannel) Seq() uint16 {
	sc.mux.Lock()
	defer sc.mux.Unlock()

	return sc.seq
}

// Close destroys the queued datagrams and the one being built.
func (sc *SendChannel) Close() {
	sc.mux.Lock()
	defer sc.mux.Unlock()

	if err := sc.tel.Close(); err != nil {
		sc.tel.LogError("failed to unregister metrics", err)
	}

	for _, d := range sc.queue {
		d.Destroy()
	}
	sc.queue = nil

	if sc.current != nil {
		sc.current.Release()
		sc.current = nil
	}
}
