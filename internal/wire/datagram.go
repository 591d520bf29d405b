package wire

import "fmt"

// Message is a message decoded from a datagram.
type Message struct {
	Kind    PacketKind
	Payload []byte
}

// Datagram is a decoded datagram.
type Datagram struct {
	Seq      uint16
	Options  SendOptions
	Messages []Message
}

// DecodeDatagram splits buf into its messages.
// The payloads are sub-slices of buf, they are not copied.
// The packet kinds are not checked: unknown kinds are left
// to the receiving channel.
func DecodeDatagram(buf []byte) (*Datagram, error) {
	hdr, err := ReadHeader(buf)
	if err != nil {
		return nil, err
	}

	d := &Datagram{
		Seq:      hdr.Seq,
		Options:  hdr.Options,
		Messages: make([]Message, 0, 1),
	}

	pos := PrimaryHeaderSize
	for {
		end := pos + int(hdr.PayloadLen)
		if end > len(buf) {
			return nil, fmt.Errorf("%w: payload of message %d", ErrShortBuffer, len(d.Messages))
		}

		d.Messages = append(d.Messages, Message{
			Kind:    hdr.Kind,
			Payload: buf[pos:end],
		})

		pos = end
		if pos == len(buf) {
			return d, nil
		}

		hdr, err = ReadAdditionalHeader(buf[pos:])
		if err != nil {
			return nil, err
		}

		if hdr.Options != d.Options {
			return nil, ErrMixedOptions
		}

		pos += AdditionalHeaderSize
	}
}
