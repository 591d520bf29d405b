package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Sizes of the headers and of the acknowledgement payload.
const (
	PrimaryHeaderSize    = 5
	AdditionalHeaderSize = 3
	AckPayloadSize       = 3
)

var (
	// ErrShortBuffer is returned when the buffer is too small to contain
	// the header or the payload it announces.
	ErrShortBuffer = errors.New("wire: not enough data")
	// ErrInvalidOptions is returned when the detail byte carries unknown send options.
	ErrInvalidOptions = errors.New("wire: invalid send options")
	// ErrMixedOptions is returned when the messages of a datagram have different send options.
	ErrMixedOptions = errors.New("wire: mixed send options in datagram")
)

// Header is a decoded message header.
// Seq is always zero for additional headers.
type Header struct {
	Kind       PacketKind
	Options    SendOptions
	Seq        uint16
	PayloadLen uint16
}

func encodeDetail(kind PacketKind, opts SendOptions) byte {
	return byte(kind)&0x0f | byte(opts)<<4
}

func decodeDetail(detail byte) (PacketKind, SendOptions, error) {
	opts := SendOptions(detail >> 4)
	if !opts.IsValid() {
		return 0, 0, fmt.Errorf("%w: %#x", ErrInvalidOptions, detail)
	}

	return PacketKind(detail & 0x0f), opts, nil
}

// WriteHeader writes a primary header at the beginning of buf
// and returns the number of bytes written.
// The buffer must be at least [PrimaryHeaderSize] bytes long.
func WriteHeader(buf []byte, kind PacketKind, opts SendOptions, seq, payloadLen uint16) int {
	_ = buf[PrimaryHeaderSize-1]

	buf[0] = encodeDetail(kind, opts)
	binary.LittleEndian.PutUint16(buf[1:3], seq)
	binary.LittleEndian.PutUint16(buf[3:5], payloadLen)

	return PrimaryHeaderSize
}

// WriteAdditionalHeader writes an additional header at the beginning of buf
// and returns the number of bytes written.
// The buffer must be at least [AdditionalHeaderSize] bytes long.
func WriteAdditionalHeader(buf []byte, kind PacketKind, opts SendOptions, payloadLen uint16) int {
	_ = buf[AdditionalHeaderSize-1]

	buf[0] = encodeDetail(kind, opts)
	binary.LittleEndian.PutUint16(buf[1:3], payloadLen)

	return AdditionalHeaderSize
}

// ReadHeader decodes the primary header at the beginning of buf.
func ReadHeader(buf []byte) (Header, error) {
	if len(buf) < PrimaryHeaderSize {
		return Header{}, ErrShortBuffer
	}

	kind, opts, err := decodeDetail(buf[0])
	if err != nil {
		return Header{}, err
	}

	return Header{
		Kind:       kind,
		Options:    opts,
		Seq:        binary.LittleEndian.Uint16(buf[1:3]),
		PayloadLen: binary.LittleEndian.Uint16(buf[3:5]),
	}, nil
}

// ReadAdditionalHeader decodes the additional header at the beginning of buf.
func ReadAdditionalHeader(buf []byte) (Header, error) {
	if len(buf) < AdditionalHeaderSize {
		return Header{}, ErrShortBuffer
	}

	kind, opts, err := decodeDetail(buf[0])
	if err != nil {
		return Header{}, err
	}

	return Header{
		Kind:       kind,
		Options:    opts,
		PayloadLen: binary.LittleEndian.Uint16(buf[1:3]),
	}, nil
}

// EncodeAck writes the payload of an ACK/AntiACK message into buf,
// i.e. the acknowledged sequence number and the options of its channel.
func EncodeAck(buf []byte, seq uint16, opts SendOptions) int {
	_ = buf[AckPayloadSize-1]

	binary.LittleEndian.PutUint16(buf[0:2], seq)
	buf[2] = byte(opts)

	return AckPayloadSize
}

// DecodeAck decodes the payload of an ACK/AntiACK message.
func DecodeAck(payload []byte) (uint16, SendOptions, error) {
	if len(payload) < AckPayloadSize {
		return 0, 0, ErrShortBuffer
	}

	opts := SendOptions(payload[2])
	if !opts.IsValid() {
		return 0, 0, fmt.Errorf("%w: %#x", ErrInvalidOptions, payload[2])
	}

	return binary.LittleEndian.Uint16(payload[0:2]), opts, nil
}
