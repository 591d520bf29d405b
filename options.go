package falconudp

import (
	"log/slog"

	"github.com/FerroO2000/falconudp/internal"
	"github.com/FerroO2000/falconudp/internal/channel"
	"github.com/FerroO2000/falconudp/internal/wire"
)

// SendOptions are the delivery guarantees of a channel.
type SendOptions = wire.SendOptions

const (
	// SendOptionsNone is the best-effort channel.
	SendOptionsNone = wire.SendOptionsNone
	// SendOptionsInOrder drops the datagrams older than the ones already read.
	SendOptionsInOrder = wire.SendOptionsInOrder
	// SendOptionsReliable acknowledges every datagram.
	SendOptionsReliable = wire.SendOptionsReliable
	// SendOptionsReliableInOrder is the combination of reliable and in-order.
	SendOptionsReliableInOrder = wire.SendOptionsReliableInOrder
)

// PacketKind is the kind of a message.
type PacketKind = wire.PacketKind

// Packet kinds.
const (
	PacketKindACK         = wire.PacketKindACK
	PacketKindAntiACK     = wire.PacketKindAntiACK
	PacketKindApplication = wire.PacketKindApplication
	PacketKindKeepAlive   = wire.PacketKindKeepAlive
	PacketKindAcceptJoin  = wire.PacketKindAcceptJoin
	PacketKindJoinRequest = wire.PacketKindJoinRequest
	PacketKindRejectJoin  = wire.PacketKindRejectJoin
	PacketKindBye         = wire.PacketKindBye
	PacketKindPing        = wire.PacketKindPing
	PacketKindPong        = wire.PacketKindPong
)

// Packet is an application message received from a peer.
type Packet = channel.Packet

// Datagram is an encoded datagram ready to be transmitted.
type Datagram = channel.Datagram

// Errors returned when a received message is dropped.
var (
	ErrSeqOutOfRange  = channel.ErrSeqOutOfRange
	ErrSeqDuplicated  = channel.ErrSeqDuplicated
	ErrSeqStale       = channel.ErrSeqStale
	ErrUnexpectedKind = channel.ErrUnexpectedKind
)

// ErrPayloadTooLarge is returned when a payload does not fit in a single datagram.
var ErrPayloadTooLarge = channel.ErrPayloadTooLarge

// SetLogHandler sets the handler of the logs.
// It affects only the components created afterwards.
func SetLogHandler(handler slog.Handler) {
	internal.SetLogHandler(handler)
}

// EnableOTelLogs routes the logs to the global OpenTelemetry logger provider.
// It affects only the components created afterwards.
func EnableOTelLogs() {
	internal.EnableOTelLogs()
}
