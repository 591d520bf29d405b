// Package wire contains the datagram header codec.
//
// A datagram carries one or more messages. The first message is preceded
// by a primary header, the following ones by an additional header
// that omits the sequence number shared by the whole datagram.
// All the multi-byte fields are little-endian.
//
//	primary header (5 bytes)      additional header (3 bytes)
//	0     detail                  0     detail
//	1..2  sequence number         1..2  payload length
//	3..4  payload length
//
// The detail byte holds the packet kind in the low nibble
// and the send options in bits 4 and 5.
package wire

// SendOptions are the delivery guarantees of a channel.
type SendOptions uint8

const (
	// SendOptionsNone is the best-effort channel.
	SendOptionsNone SendOptions = 0
	// SendOptionsInOrder drops the datagrams older than the ones already read.
	SendOptionsInOrder SendOptions = 1 << 0
	// SendOptionsReliable acknowledges every datagram.
	SendOptionsReliable SendOptions = 1 << 1
	// SendOptionsReliableInOrder is the combination of reliable and in-order.
	SendOptionsReliableInOrder = SendOptionsReliable | SendOptionsInOrder
)

// ChannelCount is the number of valid send options combinations.
const ChannelCount = 4

// IsReliable states whether the options require acknowledgements.
func (so SendOptions) IsReliable() bool {
	return so&SendOptionsReliable == SendOptionsReliable
}

// IsInOrder states whether the options require ordered delivery.
func (so SendOptions) IsInOrder() bool {
	return so&SendOptionsInOrder == SendOptionsInOrder
}

// IsValid states whether the options are one of the known combinations.
func (so SendOptions) IsValid() bool {
	return so <= SendOptionsReliableInOrder
}

func (so SendOptions) String() string {
	switch so {
	case SendOptionsNone:
		return "none"
	case SendOptionsInOrder:
		return "in-order"
	case SendOptionsReliable:
		return "reliable"
	case SendOptionsReliableInOrder:
		return "reliable-in-order"
	default:
		return "unknown"
	}
}

// PacketKind is the kind of a message.
type PacketKind uint8

const (
	// PacketKindACK acknowledges a reliable datagram.
	PacketKindACK PacketKind = iota
	// PacketKindAntiACK tells the sender to stop retransmitting an obsolete datagram.
	PacketKindAntiACK
	// PacketKindApplication carries application data.
	PacketKindApplication
	// PacketKindKeepAlive keeps the connection alive.
	PacketKindKeepAlive
	// PacketKindAcceptJoin accepts a join request.
	PacketKindAcceptJoin
	// PacketKindJoinRequest asks to join.
	PacketKindJoinRequest
	// PacketKindRejectJoin rejects a join request.
	PacketKindRejectJoin
	// PacketKindBye announces that the peer is leaving.
	PacketKindBye
	// PacketKindPing asks for a pong.
	PacketKindPing
	// PacketKindPong answers a ping.
	PacketKindPong

	packetKindCount
)

// IsValid states whether the kind is known.
func (pk PacketKind) IsValid() bool {
	return pk < packetKindCount
}

// IsControl states whether the kind is a control (non application) one.
func (pk PacketKind) IsControl() bool {
	return pk.IsValid() && pk != PacketKindApplication
}

func (pk PacketKind) String() string {
	switch pk {
	case PacketKindACK:
		return "ack"
	case PacketKindAntiACK:
		return "anti-ack"
	case PacketKindApplication:
		return "application"
	case PacketKindKeepAlive:
		return "keep-alive"
	case PacketKindAcceptJoin:
		return "accept-join"
	case PacketKindJoinRequest:
		return "join-request"
	case PacketKindRejectJoin:
		return "reject-join"
	case PacketKindBye:
		return "bye"
	case PacketKindPing:
		return "ping"
	case PacketKindPong:
		return "pong"
	default:
		return "unknown"
	}
}
