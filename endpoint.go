package falconudp

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/FerroO2000/falconudp/internal"
	"github.com/FerroO2000/falconudp/internal/config"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
)

// Endpoint drives a [Peer] over a UDP connection.
// It reads the datagrams coming from the peer and periodically
// transmits the ones the peer has ready.
// Retransmissions are up to the caller, see [Endpoint.SetSentHandler].
type Endpoint struct {
	tel *internal.Telemetry
	cfg *EndpointConfig

	peer *Peer

	conn   *net.UDPConn
	remote netip.AddrPort

	sentHandler func(*Datagram)

	closed    chan struct{}
	closeOnce sync.Once

	// Metrics
	receivedDatagrams atomic.Int64
	receivedBytes     atomic.Int64
	sentDatagrams     atomic.Int64
	sentBytes         atomic.Int64
	rejectedDatagrams atomic.Int64
	foreignDatagrams  atomic.Int64
}

// NewEndpoint returns a new endpoint for the given peer.
func NewEndpoint(peer *Peer, cfg *EndpointConfig) *Endpoint {
	return &Endpoint{
		tel: internal.NewTelemetry("endpoint", peer.Name()),
		cfg: cfg,

		peer: peer,

		sentHandler: func(d *Datagram) { d.Destroy() },

		closed: make(chan struct{}),
	}
}

// SetSentHandler sets the function called with every transmitted datagram.
// The handler owns the datagram: it can keep the reliable ones around for
// retransmission (see [Peer.Resend]) and it must eventually destroy them.
// By default the datagrams are destroyed right away.
// It must be called before [Endpoint.Run].
func (e *Endpoint) SetSentHandler(handler func(*Datagram)) {
	e.sentHandler = handler
}

// Init validates the configuration and opens the UDP connection.
func (e *Endpoint) Init(_ context.Context) error {
	e.tel.LogInfo("initializing")

	config.NewValidator(e.tel).Validate(e.cfg)

	localAddr, err := netip.ParseAddr(e.cfg.LocalAddr)
	if err != nil {
		return err
	}

	remoteAddr, err := netip.ParseAddr(e.cfg.RemoteAddr)
	if err != nil {
		return err
	}
	e.remote = netip.AddrPortFrom(remoteAddr.Unmap(), e.cfg.RemotePort)

	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(netip.AddrPortFrom(localAddr, e.cfg.LocalPort)))
	if err != nil {
		return err
	}
	e.conn = conn

	e.initMetrics()

	return nil
}

func (e *Endpoint) initMetrics() {
	e.tel.NewCounter("received_datagrams", func() int64 { return e.receivedDatagrams.Load() })
	e.tel.NewCounter("received_bytes", func() int64 { return e.receivedBytes.Load() })
	e.tel.NewCounter("sent_datagrams", func() int64 { return e.sentDatagrams.Load() })
	e.tel.NewCounter("sent_bytes", func() int64 { return e.sentBytes.Load() })
	e.tel.NewCounter("rejected_datagrams", func() int64 { return e.rejectedDatagrams.Load() })
	e.tel.NewCounter("foreign_datagrams", func() int64 { return e.foreignDatagrams.Load() })
}

// LocalAddr returns the address the endpoint is listening on.
// It is valid only after [Endpoint.Init].
func (e *Endpoint) LocalAddr() netip.AddrPort {
	return e.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Run reads and flushes the peer datagrams until the context is done
// or the endpoint is closed. It blocks.
func (e *Endpoint) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblocks the read loop
	go func() {
		select {
		case <-ctx.Done():
		case <-e.closed:
			cancel()
		}

		e.conn.Close()
	}()

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runFlush(ctx)
	}()

	e.runRead(ctx)

	// Stops the flush loop if the read one has failed
	cancel()
	wg.Wait()
}

func (e *Endpoint) runRead(ctx context.Context) {
	buf := make([]byte, e.peer.pool.Capacity())

	for {
		n, addr, err := e.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			// Closed either by Run or by Close
			if errors.Is(err, net.ErrClosed) {
				return
			}

			e.tel.LogError("failed to read connection", err)
			return
		}

		e.handleDatagram(ctx, buf[:n], addr)
	}
}

func (e *Endpoint) handleDatagram(ctx context.Context, buf []byte, addr netip.AddrPort) {
	_, span := e.tel.NewTrace(ctx, "handle datagram")
	defer span.End()

	size := len(buf)
	span.SetAttributes(attribute.Int("size", size))

	e.receivedDatagrams.Add(1)
	e.receivedBytes.Add(int64(size))

	if netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()) != e.remote {
		e.foreignDatagrams.Add(1)
		e.tel.LogDebug("datagram from unknown address dropped", "addr", addr)
		return
	}

	if err := e.peer.HandleDatagram(buf); err != nil {
		e.rejectedDatagrams.Add(1)
		span.RecordError(err)
	}
}

func (e *Endpoint) runFlush(ctx context.Context) {
	ticker := e.peer.clock.Ticker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.flush(ctx); err != nil {
				e.tel.LogError("failed to flush", err)
			}
		}
	}
}

// flush transmits the datagrams ready on the peer.
// A failed transmission does not stop the others.
func (e *Endpoint) flush(ctx context.Context) error {
	var errs error

	for _, d := range e.peer.Flush() {
		errs = multierr.Append(errs, e.send(ctx, d))
		e.sentHandler(d)
	}

	return errs
}

func (e *Endpoint) send(ctx context.Context, d *Datagram) error {
	_, span := e.tel.NewTrace(ctx, "send datagram")
	defer span.End()

	span.SetAttributes(
		attribute.Int("seq", int(d.Seq())),
		attribute.String("options", d.Options().String()),
		attribute.Int("size", d.Len()),
	)

	n, err := e.conn.WriteToUDPAddrPort(d.Bytes(), e.remote)
	if err != nil {
		span.RecordError(err)
		return err
	}

	e.sentDatagrams.Add(1)
	e.sentBytes.Add(int64(n))

	return nil
}

// Close transmits the datagrams still pending on the peer and closes the connection.
// The peer is not closed.
func (e *Endpoint) Close() error {
	var errs error

	e.closeOnce.Do(func() {
		e.tel.LogInfo("closing")

		if err := e.tel.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}

		if e.conn == nil {
			return
		}

		// The connection may have already been closed by Run
		for _, err := range multierr.Errors(e.flush(context.Background())) {
			if !errors.Is(err, net.ErrClosed) {
				errs = multierr.Append(errs, err)
			}
		}

		close(e.closed)

		if err := e.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, err)
		}
	})

	return errs
}
