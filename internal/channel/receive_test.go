package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/FerroO2000/falconudp/internal/bufpool"
	"github.com/FerroO2000/falconudp/internal/wire"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRemote struct {
	mux  sync.Mutex
	acks []AckRequest

	latency         time.Duration
	keepAliveMaster bool
}

func (r *testRemote) Name() string { return "test_peer" }

func (r *testRemote) Latency() time.Duration { return r.latency }

func (r *testRemote) IsKeepAliveMaster() bool { return r.keepAliveMaster }

func (r *testRemote) ACK(seq uint16, kind wire.PacketKind, opts wire.SendOptions) {
	r.mux.Lock()
	defer r.mux.Unlock()

	r.acks = append(r.acks, AckRequest{Seq: seq, Kind: kind, Options: opts})
}

func (r *testRemote) requests() []AckRequest {
	r.mux.Lock()
	defer r.mux.Unlock()

	return append([]AckRequest(nil), r.acks...)
}

type receiveEnv struct {
	rc     *ReceiveChannel
	remote *testRemote
	pool   *bufpool.Pool
	clock  *clock.Mock
}

func newReceiveEnv(opts wire.SendOptions, cfg *Config) *receiveEnv {
	if cfg == nil {
		cfg = NewConfig()
	}

	env := &receiveEnv{
		remote: &testRemote{},
		pool:   bufpool.New(DefaultMaxDatagramSize),
		clock:  clock.NewMock(),
	}

	env.rc = NewReceiveChannel(opts, env.remote, env.pool, env.clock, cfg)

	return env
}

func (env *receiveEnv) submit(t *testing.T, seq uint16) {
	t.Helper()

	ok, err := env.rc.Submit(seq, wire.PacketKindApplication, []byte{byte(seq), byte(seq >> 8)}, true)
	require.NoError(t, err, "seq %d", seq)
	require.True(t, ok, "seq %d", seq)
}

func datagramSeqs(packets []*Packet) []uint16 {
	seqs := make([]uint16, 0, len(packets))
	for _, p := range packets {
		seqs = append(seqs, p.DatagramSeq())
	}
	return seqs
}

func Test_ReceiveChannel_reliableInOrder(t *testing.T) {
	assert := assert.New(t)

	env := newReceiveEnv(wire.SendOptionsReliableInOrder, nil)
	rc := env.rc

	env.submit(t, 0)
	env.submit(t, 1)
	env.submit(t, 3)
	assert.Equal(2, rc.Count())

	assert.Equal([]uint16{0, 1}, datagramSeqs(rc.Drain()))

	// 3 was buffered when 0 and 1 were read, so 2 comes too late
	assert.Equal(int64(3), rc.maxReadSeq)
	assert.Equal(1, rc.Count())

	ok, err := rc.Submit(2, wire.PacketKindApplication, []byte{2}, true)
	assert.ErrorIs(err, ErrSeqStale)
	assert.False(ok)

	assert.Equal([]uint16{3}, datagramSeqs(rc.Drain()))
	assert.Equal(0, rc.Count())
	assert.Nil(rc.Drain())

	opts := wire.SendOptionsReliableInOrder
	assert.Equal([]AckRequest{
		{Seq: 0, Kind: wire.PacketKindACK, Options: opts},
		{Seq: 1, Kind: wire.PacketKindACK, Options: opts},
		{Seq: 3, Kind: wire.PacketKindACK, Options: opts},
		{Seq: 2, Kind: wire.PacketKindAntiACK, Options: opts},
	}, env.remote.requests())
}

func Test_ReceiveChannel_gapBehindDrain(t *testing.T) {
	suite := []struct {
		name         string
		opts         wire.SendOptions
		expectedErr  error
		expectedKind wire.PacketKind
		expectedSeqs []uint16
	}{
		{
			name:         "reliable in-order",
			opts:         wire.SendOptionsReliableInOrder,
			expectedErr:  ErrSeqStale,
			expectedKind: wire.PacketKindAntiACK,
			expectedSeqs: []uint16{4},
		},
		{
			name:         "reliable",
			opts:         wire.SendOptionsReliable,
			expectedKind: wire.PacketKindACK,
			expectedSeqs: []uint16{3, 4},
		},
	}

	for _, tCase := range suite {
		t.Run(tCase.name, func(t *testing.T) {
			assert := assert.New(t)

			env := newReceiveEnv(tCase.opts, nil)
			rc := env.rc

			env.submit(t, 1)
			env.submit(t, 2)
			env.submit(t, 4)

			assert.Equal([]uint16{1, 2}, datagramSeqs(rc.Drain()))
			assert.Equal(int64(4), rc.maxReadSeq)

			_, err := rc.Submit(3, wire.PacketKindApplication, []byte{3}, true)
			if tCase.expectedErr != nil {
				assert.ErrorIs(err, tCase.expectedErr)
				assert.Equal(int64(1), rc.staleDatagrams.Load())
			} else {
				assert.NoError(err)
			}

			acks := env.remote.requests()
			require.Len(t, acks, 4)
			assert.Equal(AckRequest{Seq: 3, Kind: tCase.expectedKind, Options: tCase.opts}, acks[3])

			assert.Equal(tCase.expectedSeqs, datagramSeqs(rc.Drain()))
			assert.Equal(0, rc.Count())
		})
	}
}

func Test_ReceiveChannel_multipleMessages(t *testing.T) {
	assert := assert.New(t)

	env := newReceiveEnv(wire.SendOptionsReliableInOrder, nil)
	rc := env.rc

	for idx, payload := range []string{"a", "b", "c"} {
		ok, err := rc.Submit(7, wire.PacketKindApplication, []byte(payload), idx == 0)
		assert.NoError(err)
		assert.True(ok)
	}

	assert.Equal(3, rc.Count())
	assert.Len(env.remote.requests(), 1)

	// Retransmission of the same datagram
	_, err := rc.Submit(7, wire.PacketKindApplication, []byte("a"), true)
	assert.ErrorIs(err, ErrSeqDuplicated)

	packets := rc.Drain()
	require.Len(t, packets, 3)
	assert.Equal("a", string(packets[0].Payload()))
	assert.Equal("b", string(packets[1].Payload()))
	assert.Equal("c", string(packets[2].Payload()))
}

func Test_ReceiveChannel_duplicated(t *testing.T) {
	assert := assert.New(t)

	env := newReceiveEnv(wire.SendOptionsReliableInOrder, nil)
	rc := env.rc

	env.submit(t, 5)

	ok, err := rc.Submit(5, wire.PacketKindApplication, nil, true)
	assert.ErrorIs(err, ErrSeqDuplicated)
	assert.False(ok)

	assert.Equal(1, rc.Count())
	assert.Equal(int64(1), rc.duplicatedPackets.Load())
	assert.Len(env.remote.requests(), 1)
}

func Test_ReceiveChannel_outOfRange(t *testing.T) {
	suite := []struct {
		name     string
		seq      uint16
		expected error
	}{
		{"upper bound", 100, nil},
		{"above upper bound", 101, ErrSeqOutOfRange},
		{"lower bound", 65436, nil},
		{"below lower bound", 65435, ErrSeqOutOfRange},
		{"far away", 32768, ErrSeqOutOfRange},
	}

	for _, tCase := range suite {
		t.Run(tCase.name, func(t *testing.T) {
			env := newReceiveEnv(wire.SendOptionsReliableInOrder, nil)

			_, err := env.rc.Submit(tCase.seq, wire.PacketKindApplication, []byte{1}, true)
			if tCase.expected == nil {
				assert.NoError(t, err)
				assert.Len(t, env.remote.requests(), 1)
				return
			}

			assert.ErrorIs(t, err, tCase.expected)
			assert.Empty(t, env.remote.requests())
			assert.Equal(t, 0, env.rc.Count())
		})
	}
}

func Test_ReceiveChannel_wraparound(t *testing.T) {
	assert := assert.New(t)

	env := newReceiveEnv(wire.SendOptionsReliableInOrder, nil)
	rc := env.rc

	seqs := []uint16{65533, 65534, 65535, 0, 1}
	for idx, seq := range seqs {
		env.submit(t, seq)
		assert.Equal(idx+1, rc.Count())
	}

	packets := rc.Drain()
	assert.Equal(seqs, datagramSeqs(packets))
	assert.Equal(int64(65537), packets[len(packets)-1].ordinal.seq)

	assert.Len(env.remote.requests(), len(seqs))
}

func Test_ReceiveChannel_lateAcrossWraparound(t *testing.T) {
	assert := assert.New(t)

	env := newReceiveEnv(wire.SendOptionsNone, nil)
	rc := env.rc

	env.submit(t, 65534)
	env.submit(t, 0)
	env.submit(t, 65530)

	assert.Equal([]uint16{65530, 65534, 0}, datagramSeqs(rc.Drain()))
}

func Test_ReceiveChannel_manyCycles(t *testing.T) {
	assert := assert.New(t)

	env := newReceiveEnv(wire.SendOptionsReliableInOrder, nil)
	rc := env.rc

	// Every pair arrives swapped
	n := 3*seqSpan + 500
	for i := 0; i < n; i += 2 {
		first := uint16(i)
		second := uint16(i + 1)

		env.submit(t, second)
		env.submit(t, first)

		packets := rc.Drain()
		require.Equal(t, []uint16{first, second}, datagramSeqs(packets), "iteration %d", i)

		for _, p := range packets {
			p.Destroy()
		}
	}

	assert.Equal(int64(3), rc.compactions.Load())
	assert.Zero(rc.duplicatedPackets.Load())
	assert.LessOrEqual(rc.maxReadSeq, int64(DefaultMaxNecessaryOrdinalSeq))
	assert.LessOrEqual(rc.lastReceived.seq, int64(DefaultMaxNecessaryOrdinalSeq))
	assert.Zero(env.pool.Outstanding())
}

func Test_ReceiveChannel_compactionWithBufferedPackets(t *testing.T) {
	assert := assert.New(t)

	env := newReceiveEnv(wire.SendOptionsReliableInOrder, nil)
	rc := env.rc

	for i := 0; i <= 65600; i++ {
		env.submit(t, uint16(i))

		if i%50 == 0 {
			rc.Drain()
		}
	}
	assert.Zero(rc.compactions.Load())

	// 65640 and 65642 once unfolded, 65641 is missing
	env.submit(t, 104)
	env.submit(t, 106)
	assert.Equal(1, rc.Count())

	assert.Equal([]uint16{104}, datagramSeqs(rc.Drain()))
	assert.Equal(int64(1), rc.compactions.Load())
	assert.Equal(int64(106), rc.maxReadSeq)
	assert.Equal(int64(106), rc.lastReceived.seq)

	// The buffered packet has been moved back too
	_, err := rc.Submit(106, wire.PacketKindApplication, nil, true)
	assert.ErrorIs(err, ErrSeqDuplicated)

	_, err = rc.Submit(105, wire.PacketKindApplication, nil, true)
	assert.ErrorIs(err, ErrSeqStale)

	assert.Equal(1, rc.Count())
	assert.Equal([]uint16{106}, datagramSeqs(rc.Drain()))
}

func Test_ReceiveChannel_stale(t *testing.T) {
	suite := []struct {
		name         string
		opts         wire.SendOptions
		expectedErr  error
		expectedAcks []AckRequest
	}{
		{
			name:        "reliable in-order",
			opts:        wire.SendOptionsReliableInOrder,
			expectedErr: ErrSeqStale,
			expectedAcks: []AckRequest{
				{Seq: 5, Kind: wire.PacketKindACK, Options: wire.SendOptionsReliableInOrder},
				{Seq: 3, Kind: wire.PacketKindAntiACK, Options: wire.SendOptionsReliableInOrder},
			},
		},
		{
			name:        "in-order",
			opts:        wire.SendOptionsInOrder,
			expectedErr: ErrSeqStale,
		},
		{
			name: "reliable",
			opts: wire.SendOptionsReliable,
			expectedAcks: []AckRequest{
				{Seq: 5, Kind: wire.PacketKindACK, Options: wire.SendOptionsReliable},
				{Seq: 3, Kind: wire.PacketKindACK, Options: wire.SendOptionsReliable},
			},
		},
		{
			name: "none",
			opts: wire.SendOptionsNone,
		},
	}

	for _, tCase := range suite {
		t.Run(tCase.name, func(t *testing.T) {
			assert := assert.New(t)

			env := newReceiveEnv(tCase.opts, nil)
			rc := env.rc

			env.submit(t, 5)
			assert.Len(rc.Drain(), 1)

			ok, err := rc.Submit(3, wire.PacketKindApplication, []byte{3}, true)
			if tCase.expectedErr != nil {
				assert.ErrorIs(err, tCase.expectedErr)
				assert.False(ok)
				assert.Equal(0, rc.Count())
			} else {
				assert.NoError(err)
				assert.True(ok)
				assert.Equal(1, rc.Count())
			}

			assert.Equal(tCase.expectedAcks, env.remote.requests())
		})
	}
}

func Test_ReceiveChannel_unreliableCount(t *testing.T) {
	assert := assert.New(t)

	env := newReceiveEnv(wire.SendOptionsNone, nil)
	rc := env.rc

	for _, seq := range []uint16{5, 3, 9, 4} {
		env.submit(t, seq)
		assert.Equal(rc.packets.Len(), rc.Count())
	}

	assert.Equal([]uint16{3, 4, 5, 9}, datagramSeqs(rc.Drain()))
	assert.Equal(0, rc.Count())

	env.submit(t, 2)
	assert.Equal(1, rc.Count())

	assert.Empty(env.remote.requests())
}

func Test_ReceiveChannel_controlMessages(t *testing.T) {
	assert := assert.New(t)

	env := newReceiveEnv(wire.SendOptionsReliable, nil)
	rc := env.rc

	ok, err := rc.Submit(1, wire.PacketKindKeepAlive, nil, true)
	assert.NoError(err)
	assert.False(ok)

	env.remote.keepAliveMaster = true
	ok, err = rc.Submit(2, wire.PacketKindPing, nil, true)
	assert.NoError(err)
	assert.False(ok)

	assert.Equal(0, rc.Count())
	assert.Len(env.remote.requests(), 2)

	// Control messages take their place in the sequence
	_, err = rc.Submit(1, wire.PacketKindKeepAlive, nil, true)
	assert.NoError(err)
	assert.Equal(int64(1), rc.lastReceived.seq)
}

func Test_ReceiveChannel_unexpectedKind(t *testing.T) {
	assert := assert.New(t)

	env := newReceiveEnv(wire.SendOptionsNone, nil)
	rc := env.rc

	ok, err := rc.Submit(1, wire.PacketKind(14), []byte{1}, true)
	assert.ErrorIs(err, ErrUnexpectedKind)
	assert.False(ok)
	assert.Equal(0, rc.Count())
	assert.Equal(int64(1), rc.unexpectedPackets.Load())
}

func Test_ReceiveChannel_latency(t *testing.T) {
	assert := assert.New(t)

	env := newReceiveEnv(wire.SendOptionsReliableInOrder, nil)
	env.remote.latency = 20 * time.Millisecond

	receivedAt := env.clock.Now()
	env.submit(t, 0)

	env.clock.Add(30 * time.Millisecond)

	packets := env.rc.Drain()
	require.Len(t, packets, 1)

	assert.Equal(receivedAt, packets[0].ReceivedAt())
	assert.Equal(50*time.Millisecond, packets[0].Latency())
	assert.Equal("test_peer", packets[0].Peer())
	assert.Equal(wire.SendOptionsReliableInOrder, packets[0].Options())
}

func Test_ReceiveChannel_buffers(t *testing.T) {
	assert := assert.New(t)

	env := newReceiveEnv(wire.SendOptionsNone, nil)
	rc := env.rc

	payload := []byte("payload")
	_, err := rc.Submit(1, wire.PacketKindApplication, payload, true)
	require.NoError(t, err)

	// The channel keeps its own copy
	payload[0] = 'X'

	env.submit(t, 2)
	env.submit(t, 3)
	assert.Equal(int64(3), env.pool.Outstanding())

	packets := rc.Drain()
	require.Len(t, packets, 3)
	assert.Equal("payload", string(packets[0].Payload()))

	for _, p := range packets {
		p.Destroy()
	}
	assert.Zero(env.pool.Outstanding())

	env.submit(t, 4)
	env.submit(t, 5)
	rc.Close()
	assert.Zero(env.pool.Outstanding())
	assert.Equal(0, rc.Count())
}

func Test_ReceiveChannel_oversizePayload(t *testing.T) {
	assert := assert.New(t)

	pool := bufpool.New(4)
	rc := NewReceiveChannel(wire.SendOptionsNone, &testRemote{}, pool, clock.NewMock(), NewConfig())

	ok, err := rc.Submit(1, wire.PacketKindApplication, []byte("larger than the pool"), true)
	assert.NoError(err)
	assert.True(ok)
	assert.Zero(pool.Outstanding())

	packets := rc.Drain()
	require.Len(t, packets, 1)
	assert.Equal("larger than the pool", string(packets[0].Payload()))
}

func Test_ReceiveChannel_concurrentSubmit(t *testing.T) {
	assert := assert.New(t)

	cfg := NewConfig()
	cfg.OutOfOrderTolerance = 1000
	cfg.MaxNecessaryOrdinalSeq = seqSpan + 1000

	env := newReceiveEnv(wire.SendOptionsReliableInOrder, cfg)
	rc := env.rc

	workers := 4
	n := 1000

	wg := &sync.WaitGroup{}
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for seq := w; seq < n; seq += workers {
				_, err := rc.Submit(uint16(seq), wire.PacketKindApplication, []byte{byte(seq)}, true)
				assert.NoError(err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(n, rc.Count())

	packets := rc.Drain()
	require.Len(t, packets, n)
	for idx, p := range packets {
		assert.Equal(uint16(idx), p.DatagramSeq())
	}

	assert.Len(env.remote.requests(), n)
}
